package treeindex

import (
	"fmt"
	"sync/atomic"
	"testing"
)

func BenchmarkInsert(b *testing.B) {
	ix, err := New[string, int]()
	if err != nil {
		b.Fatalf("Failed to create index: %v", err)
	}
	defer ix.Close()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key%08d", i)
		if err := ix.Insert(key, i); err != nil {
			b.Errorf("insert failed: %v", err)
		}
	}
}

func BenchmarkInsertParallel(b *testing.B) {
	ix, err := New[int64, int64]()
	if err != nil {
		b.Fatalf("Failed to create index: %v", err)
	}
	defer ix.Close()

	var next atomic.Int64
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k := next.Add(1)
			// Keys wrap after a million inserts, duplicates are expected then
			_ = ix.Insert(k*7919%1_000_003, k)
		}
	})
}

func BenchmarkGet(b *testing.B) {
	for _, size := range []int{0, 4096} {
		b.Run(fmt.Sprintf("cache=%d", size), func(b *testing.B) {
			ix, err := New[string, int](WithCacheSize(size))
			if err != nil {
				b.Fatalf("Failed to create index: %v", err)
			}
			defer ix.Close()

			// Pre-populate with 10k keys
			numKeys := 10000
			for i := 0; i < numKeys; i++ {
				if err := ix.Insert(fmt.Sprintf("key%08d", i), i); err != nil {
					b.Fatalf("Failed to populate index: %v", err)
				}
			}

			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				keyNum := (i * 7) % numKeys
				if _, ok, err := ix.Get(fmt.Sprintf("key%08d", keyNum)); err != nil || !ok {
					b.Errorf("get failed: %v", err)
				}
			}
		})
	}
}
