package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

func createBenchmarkSnapshot(size int) *domain.BlacklistSnapshot {
	patterns := make([]string, size)
	for i := range patterns {
		patterns[i] = fmt.Sprintf("*host%d.example.com/*/login*", i)
	}
	return domain.NewBlacklistSnapshot(1, patterns)
}

func BenchmarkSnapshotStore_Match_Hit(b *testing.B) {
	store := NewSnapshotStore(createBenchmarkSnapshot(1000))
	target := "host0.example.com/app/login?next=home"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Current().Match(target)
	}
}

func BenchmarkSnapshotStore_Match_Miss(b *testing.B) {
	store := NewSnapshotStore(createBenchmarkSnapshot(1000))
	target := "shop.example.org/products/42?ref=campaign"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Current().Match(target)
	}
}

func BenchmarkSnapshotStore_Match_Parallel(b *testing.B) {
	store := NewSnapshotStore(createBenchmarkSnapshot(1000))
	target := "shop.example.org/products/42?ref=campaign"

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			store.Current().Match(target)
		}
	})
}

func BenchmarkSnapshotStore_Replace(b *testing.B) {
	store := NewSnapshotStore(nil)
	snapshots := make([]*domain.BlacklistSnapshot, b.N)
	for i := range snapshots {
		snapshots[i] = domain.NewBlacklistSnapshot(int64(i+1), []string{"*/login*"})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Replace(snapshots[i])
	}
}

func BenchmarkFileStore_Save(b *testing.B) {
	store := NewFileStore(filepath.Join(b.TempDir(), "group"), nil)
	data := make([]byte, 4096)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Save("blob", data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSQLStore_Save(b *testing.B) {
	store, err := OpenSQLStore(filepath.Join(b.TempDir(), "records.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	data := make([]byte, 4096)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Save("blob", data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRecordArchive_LoadSnapshot(b *testing.B) {
	records := NewRecordArchive(NewArchiver(NewFileStore(b.TempDir(), nil)))
	if err := records.SaveSnapshot(createBenchmarkSnapshot(1000)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := records.LoadSnapshot(); err != nil {
			b.Fatal(err)
		}
	}
}
