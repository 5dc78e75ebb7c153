package normalizer

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

var schemeRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)

// URLNormalizer reduces URLs to the folded host/path/query/fragment string
// that blacklist patterns are matched against.
type URLNormalizer struct {
	idnProfile *idna.Profile
}

func NewURLNormalizer() *URLNormalizer {
	return &URLNormalizer{
		idnProfile: idna.New(
			idna.ValidateLabels(true),
			idna.VerifyDNSLength(true),
			idna.StrictDomainName(false),
		),
	}
}

// Normalize returns the match target for rawURL. Anything non-empty yields a
// target: URLs that do not parse fall back to their raw text so a malformed
// URL is still checked.
func (n *URLNormalizer) Normalize(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", domain.ErrEmptyURL
	}

	parsed, err := n.parse(rawURL)
	if err != nil {
		return n.fallback(rawURL), nil
	}

	var b strings.Builder
	if parsed.Opaque != "" {
		b.WriteString(unescape(parsed.Opaque))
	} else {
		b.WriteString(n.normalizeHost(parsed.Hostname()))
		b.WriteString(parsed.Path)
	}

	if parsed.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(unescape(parsed.RawQuery))
	}

	if parsed.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(parsed.Fragment)
	}

	target := domain.FoldCase(b.String())
	if target == "" {
		return n.fallback(rawURL), nil
	}

	return target, nil
}

func (n *URLNormalizer) NormalizeURL(domainURL *domain.URL) error {
	if domainURL == nil {
		return domain.ErrInvalidURL
	}

	target, err := n.Normalize(domainURL.Original())
	if err != nil {
		return err
	}

	domainURL.SetMatchTarget(target)
	return nil
}

func (n *URLNormalizer) parse(rawURL string) (*url.URL, error) {
	if !schemeRegex.MatchString(rawURL) || isHostPort(rawURL) {
		rawURL = "http://" + rawURL
	}

	return url.Parse(rawURL)
}

func (n *URLNormalizer) normalizeHost(host string) string {
	host = strings.ToLower(host)

	if ip := net.ParseIP(host); ip != nil {
		if ipv4 := ip.To4(); ipv4 != nil {
			return ipv4.String()
		}
		return ip.String()
	}

	if !domain.IsValidDomain(host) {
		return host
	}

	ascii, err := n.idnProfile.ToASCII(host)
	if err != nil {
		return host
	}

	return strings.ToLower(ascii)
}

func (n *URLNormalizer) fallback(rawURL string) string {
	if loc := schemeRegex.FindStringIndex(rawURL); loc != nil && !isHostPort(rawURL) {
		rawURL = strings.TrimPrefix(rawURL[loc[1]:], "//")
	}
	return domain.FoldCase(unescape(rawURL))
}

// isHostPort catches "example.com:8080/path", which looks like a scheme to
// the parser.
func isHostPort(rawURL string) bool {
	idx := strings.Index(rawURL, ":")
	if idx < 0 || idx+1 >= len(rawURL) {
		return false
	}
	rest := rawURL[idx+1:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	port := rest[:end]
	if port == "" {
		return false
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
	}
	return strings.Contains(rawURL[:idx], ".")
}

// unescape decodes percent escapes only. A literal '+' stays '+' so
// patterns written against the raw query still match.
func unescape(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}
