package storage

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "group"), nil)
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestFileStore(t)

	binary := make([]byte, 4096)
	_, err := rand.Read(binary)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"text", []byte("hello")},
		{"zero bytes", []byte{0, 0, 0, 0}},
		{"random binary", binary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, store.Save(tt.name, tt.data))

			got, err := store.Load(tt.name)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.data, got), "loaded bytes differ from saved bytes")
		})
	}
}

func TestFileStore_CreatesDirectoryLazily(t *testing.T) {
	store := newTestFileStore(t)

	_, err := os.Stat(store.Dir())
	assert.True(t, os.IsNotExist(err), "directory created before the first write")

	_, err = store.Load("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Save("first", []byte("x")))

	info, err := os.Stat(store.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileStore_Overwrite(t *testing.T) {
	store := newTestFileStore(t)

	require.NoError(t, store.Save("record", []byte("old")))
	require.NoError(t, store.Save("record", []byte("new")))

	got, err := store.Load("record")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestFileStore_Remove(t *testing.T) {
	store := newTestFileStore(t)

	assert.NoError(t, store.Remove("never-written"), "removing a missing record must not fail")

	require.NoError(t, store.Save("record", []byte("data")))
	require.NoError(t, store.Remove("record"))

	_, err := store.Load("record")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileStore_InvalidNames(t *testing.T) {
	store := newTestFileStore(t)

	for _, name := range []string{"", ".", ".."} {
		assert.ErrorIs(t, store.Save(name, []byte("x")), domain.ErrInvalidName, "Save(%q)", name)
		_, err := store.Load(name)
		assert.ErrorIs(t, err, domain.ErrInvalidName, "Load(%q)", name)
		assert.ErrorIs(t, store.Remove(name), domain.ErrInvalidName, "Remove(%q)", name)
	}
}

func TestFileStore_NamesAreEscaped(t *testing.T) {
	store := newTestFileStore(t)

	require.NoError(t, store.Save("../escape/attempt", []byte("contained")))

	got, err := store.Load("../escape/attempt")
	require.NoError(t, err)
	assert.Equal(t, []byte("contained"), got)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsDir())
}

func TestFileStore_DotNames(t *testing.T) {
	store := newTestFileStore(t)

	require.NoError(t, store.Save(".hidden", []byte("dot")))

	got, err := store.Load(".hidden")
	require.NoError(t, err)
	assert.Equal(t, []byte("dot"), got)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasPrefix(entries[0].Name(), tempPrefix))
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	store := newTestFileStore(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Save("record", bytes.Repeat([]byte{byte(i)}, 128)))
	}

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)

	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), tempPrefix), "temp file left behind: %s", e.Name())
	}
	assert.Len(t, entries, 1)
}

func TestFileStore_ConcurrentReadersSeeWholeBlobs(t *testing.T) {
	store := newTestFileStore(t)

	a := bytes.Repeat([]byte{'a'}, 64*1024)
	b := bytes.Repeat([]byte{'b'}, 96*1024)
	require.NoError(t, store.Save("blob", a))

	const (
		writes  = 50
		readers = 8
	)

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < writes; i++ {
			payload := a
			if i%2 == 0 {
				payload = b
			}
			if err := store.Save("blob", payload); err != nil {
				t.Errorf("Save() error: %v", err)
				return
			}
		}
	}()

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				got, err := store.Load("blob")
				if err != nil {
					t.Errorf("Load() error: %v", err)
					return
				}
				if !bytes.Equal(got, a) && !bytes.Equal(got, b) {
					t.Errorf("reader observed a partial blob of %d bytes", len(got))
					return
				}
			}
		}()
	}

	wg.Wait()
}
