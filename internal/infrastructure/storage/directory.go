package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	dataDirectoryName = "attribution"
	defaultNamespace  = "default"
)

var dataDirectories sync.Map

// ComputeStorageDirectory returns the directory that holds records for
// appGroup. It only reads the environment and creates nothing, so it is safe
// to call before anything else is set up.
func ComputeStorageDirectory(appGroup string) string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}

	return filepath.Join(base, dataDirectoryName, namespaceSegment(appGroup))
}

// DataDirectory is ComputeStorageDirectory cached per app group.
func DataDirectory(appGroup string) string {
	if dir, ok := dataDirectories.Load(appGroup); ok {
		return dir.(string)
	}

	dir, _ := dataDirectories.LoadOrStore(appGroup, ComputeStorageDirectory(appGroup))
	return dir.(string)
}

func namespaceSegment(appGroup string) string {
	appGroup = strings.TrimSpace(appGroup)
	if appGroup == "" || appGroup == "." || appGroup == ".." {
		return defaultNamespace
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, appGroup)
}
