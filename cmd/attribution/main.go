package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kerim-dauren/attribution-core"
)

type CLI struct {
	Config string `short:"c" type:"path" help:"Configuration file (YAML, JSON or TOML)."`

	Check   CheckCmd   `cmd:"" help:"Report whether URLs are blacklisted."`
	Refresh RefreshCmd `cmd:"" help:"Fetch the server blacklist now."`
	Open    OpenCmd    `cmd:"" help:"Report an app open for a URL."`
	Post    PostCmd    `cmd:"" help:"Post a JSON object to an API service."`
	Stats   StatsCmd   `cmd:"" help:"Print the active blacklist and session."`
	Run     RunCmd     `cmd:"" help:"Keep the blacklist refreshed until interrupted."`
}

type CheckCmd struct {
	URLs []string `arg:"" name:"url" help:"URLs to check."`
}

func (c *CheckCmd) Run(sdk *attribution.SDK) error {
	for _, u := range c.URLs {
		if pattern, ok := sdk.MatchingPattern(u); ok {
			fmt.Printf("%s\tblacklisted\t%s\n", u, pattern)
		} else {
			fmt.Printf("%s\tallowed\n", u)
		}
	}
	return nil
}

type RefreshCmd struct{}

func (c *RefreshCmd) Run(ctx context.Context, sdk *attribution.SDK) error {
	result, err := sdk.RefreshBlacklist(ctx)
	if err != nil {
		return err
	}

	if result.Replaced {
		fmt.Printf("blacklist replaced: version %d, %d patterns\n", result.Snapshot.Version(), result.Snapshot.Len())
	} else {
		fmt.Printf("blacklist unchanged: version %d\n", result.Snapshot.Version())
	}
	return nil
}

type OpenCmd struct {
	URL string `arg:"" help:"URL the app was opened with."`
}

func (c *OpenCmd) Run(sdk *attribution.SDK) error {
	if sdk.IsBlacklisted(c.URL) {
		fmt.Println("open suppressed")
		return nil
	}

	sdk.OpenURL(context.Background(), c.URL)
	sdk.Wait()
	fmt.Println("open reported")
	return nil
}

type PostCmd struct {
	Service string `arg:"" help:"Service name, e.g. v1/install."`
	Body    string `arg:"" optional:"" default:"{}" help:"JSON object to send."`
}

func (c *PostCmd) Run(ctx context.Context, sdk *attribution.SDK) error {
	params := map[string]any{}
	if err := json.Unmarshal([]byte(c.Body), &params); err != nil {
		return fmt.Errorf("body must be a JSON object: %w", err)
	}

	done := make(chan *attribution.APIOperation, 1)
	sdk.PostOperation(ctx, c.Service, params, func(op *attribution.APIOperation) {
		done <- op
	})
	op := <-done

	if op.Err != nil {
		return op.Err
	}

	if op.Session == nil {
		return printJSON(map[string]any{})
	}
	return printJSON(op.Session.Raw)
}

type StatsCmd struct{}

func (c *StatsCmd) Run(sdk *attribution.SDK) error {
	out := map[string]any{"blacklist": sdk.BlacklistStats()}
	if session := sdk.Session(); session != nil {
		out["session"] = map[string]string{
			"session_id":  session.SessionID,
			"identity_id": session.IdentityID,
		}
	}
	return printJSON(out)
}

type RunCmd struct {
	StatusEvery time.Duration `default:"1m" help:"How often to log scheduler status."`
}

func (c *RunCmd) Run(ctx context.Context, sdk *attribution.SDK, logger *slog.Logger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(c.StatusEvery)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("Refresh requested")
				sdk.TriggerRefresh()
				continue
			}
			logger.Info("Shutdown signal received")
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status, _ := sdk.SchedulerStatus()
			logger.Info("Scheduler status",
				"running", status.Running,
				"version", status.ActiveVersion,
				"success_rate", status.SuccessRate(),
				"consecutive_failures", status.ConsecutiveFailures,
			)
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("attribution"),
		kong.Description("Attribution SDK core: URL blacklist, API operations and local state."),
		kong.UsageOnError(),
	)

	cfg, err := attribution.LoadConfig(cli.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg.Blacklist.AutoRefresh = kctx.Command() == "run"

	logger := attribution.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	sdk, err := attribution.New(cfg, attribution.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to start SDK", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	kctx.BindTo(ctx, (*context.Context)(nil))

	runErr := kctx.Run(sdk, logger)

	cancel()
	if err := sdk.Close(); err != nil {
		logger.Warn("Closing SDK", "error", err)
	}

	kctx.FatalIfErrorf(runErr)
}
