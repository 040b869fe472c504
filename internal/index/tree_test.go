package index

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(capacity int) *Tree[int, int] {
	return New[int, int](cmp.Compare[int], Config{Capacity: capacity, MaxGuards: 64})
}

func collect(t *testing.T, tr *Tree[int, int]) []int {
	t.Helper()
	var keys []int
	require.NoError(t, tr.All(func(k, _ int) bool {
		keys = append(keys, k)
		return true
	}))
	return keys
}

func TestInsertGet(t *testing.T) {
	t.Parallel()

	tr := newTestTree(4)
	r := rand.New(rand.NewPCG(1, 2))
	keys := r.Perm(2000)
	for _, k := range keys {
		require.NoError(t, tr.Insert(k, k*10), "insert %d", k)
	}

	for _, k := range keys {
		v, ok, err := tr.Get(k)
		require.NoError(t, err)
		require.True(t, ok, "key %d", k)
		assert.Equal(t, k*10, v)
	}
	_, ok, err := tr.Get(-1)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := tr.Validate()
	require.NoError(t, err, tr.Dump())
	assert.Equal(t, len(keys), n)
	assert.Equal(t, len(keys), tr.Len())
	assert.Greater(t, tr.Height(), 1)
}

func TestInsertDuplicate(t *testing.T) {
	t.Parallel()

	tr := newTestTree(4)
	for k := range 100 {
		require.NoError(t, tr.Insert(k, k))
	}

	err := tr.Insert(42, -1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicated))
	var dup *DuplicateError[int, int]
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, 42, dup.Existing)

	v, ok, err := tr.Get(42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, v, "original value kept")
	assert.Equal(t, 100, tr.Len())
}

func TestAscend(t *testing.T) {
	t.Parallel()

	tr := newTestTree(3)
	r := rand.New(rand.NewPCG(3, 4))
	for _, k := range r.Perm(500) {
		require.NoError(t, tr.Insert(k*2, k))
	}

	keys := collect(t, tr)
	require.Len(t, keys, 500)
	for i, k := range keys {
		assert.Equal(t, i*2, k)
	}

	// Ascend starts at the first key >= from
	var got []int
	require.NoError(t, tr.Ascend(101, func(k, v int) bool {
		assert.Equal(t, k/2, v)
		got = append(got, k)
		return len(got) < 5
	}))
	assert.Equal(t, []int{102, 104, 106, 108, 110}, got)

	got = got[:0]
	require.NoError(t, tr.Ascend(998, func(k, _ int) bool {
		got = append(got, k)
		return true
	}))
	assert.Equal(t, []int{998}, got)
}

func TestMatchesBTree(t *testing.T) {
	t.Parallel()

	tr := newTestTree(5)
	model := btree.NewOrderedG[int](8)
	r := rand.New(rand.NewPCG(5, 6))

	for range 5000 {
		k := r.IntN(3000)
		_, replaced := model.ReplaceOrInsert(k)
		err := tr.Insert(k, k)
		if replaced {
			assert.True(t, errors.Is(err, ErrDuplicated), "key %d", k)
		} else {
			assert.NoError(t, err, "key %d", k)
		}
	}
	require.Equal(t, model.Len(), tr.Len())

	for _, from := range []int{0, 1, 1500, 2999, 3000} {
		var want, got []int
		model.AscendGreaterOrEqual(from, func(k int) bool {
			want = append(want, k)
			return true
		})
		require.NoError(t, tr.Ascend(from, func(k, _ int) bool {
			got = append(got, k)
			return true
		}))
		assert.Equal(t, want, got, "from %d", from)
	}

	n, err := tr.Validate()
	require.NoError(t, err)
	assert.Equal(t, model.Len(), n)
}

func TestGrowth(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		keys func(n int) []int
	}{
		{"ascending", func(n int) []int {
			keys := make([]int, n)
			for i := range keys {
				keys[i] = i
			}
			return keys
		}},
		{"descending", func(n int) []int {
			keys := make([]int, n)
			for i := range keys {
				keys[i] = n - i
			}
			return keys
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tr := newTestTree(MinCapacity)
			keys := tc.keys(300)
			for _, k := range keys {
				require.NoError(t, tr.Insert(k, k))
			}

			n, err := tr.Validate()
			require.NoError(t, err, tr.Dump())
			assert.Equal(t, len(keys), n)
			assert.Greater(t, tr.Height(), 2)
			t.Logf("\n%s", tr.Dump())

			stats := tr.Stats()
			assert.Equal(t, uint64(tr.Height()-1), stats.Growths)
			assert.NotZero(t, stats.LeafSplits)
			assert.NotZero(t, stats.Rebuilds)
			assert.Len(t, collect(t, tr), len(keys))
		})
	}
}

func TestConcurrentDisjointInserts(t *testing.T) {
	t.Parallel()

	const (
		writers = 8
		perW    = 2000
	)
	tr := newTestTree(4)

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(w), 7))
			for _, i := range r.Perm(perW) {
				assert.NoError(t, tr.Insert(i*writers+w, w))
			}
		}()
	}
	wg.Wait()

	keys := collect(t, tr)
	require.Len(t, keys, writers*perW)
	for i, k := range keys {
		require.Equal(t, i, k)
	}

	n, err := tr.Validate()
	require.NoError(t, err)
	assert.Equal(t, writers*perW, n)
	assert.Equal(t, writers*perW, tr.Len())
}

func TestConcurrentSameKeys(t *testing.T) {
	t.Parallel()

	const (
		writers = 6
		nkeys   = 1000
	)
	tr := newTestTree(3)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins = make(map[int]int)
	)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(w), 11))
			for _, k := range r.Perm(nkeys) {
				err := tr.Insert(k, w)
				if err == nil {
					mu.Lock()
					wins[k] = w
					mu.Unlock()
					continue
				}
				var dup *DuplicateError[int, int]
				if assert.True(t, errors.As(err, &dup), "key %d: %v", k, err) {
					assert.Equal(t, k, dup.Key)
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, wins, nkeys, "exactly one insert per key succeeds")
	for k, w := range wins {
		v, ok, err := tr.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, w, v, "key %d holds the winner's value", k)
	}
	n, err := tr.Validate()
	require.NoError(t, err)
	assert.Equal(t, nkeys, n)
}

func TestReadersDuringInserts(t *testing.T) {
	t.Parallel()

	tr := newTestTree(4)
	for k := 0; k < 2000; k += 2 {
		require.NoError(t, tr.Insert(k, k))
	}

	var (
		wg   sync.WaitGroup
		done = make(chan struct{})
	)
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 1 + 2*w; k < 2000; k += 8 {
				assert.NoError(t, tr.Insert(k, k))
			}
		}()
	}

	var readers sync.WaitGroup
	for r := range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			rnd := rand.New(rand.NewPCG(uint64(r), 13))
			for {
				select {
				case <-done:
					return
				default:
				}
				k := rnd.IntN(1000) * 2
				v, ok, err := tr.Get(k)
				if !assert.NoError(t, err) || !assert.True(t, ok, "key %d", k) {
					return
				}
				assert.Equal(t, k, v)
			}
		}()
	}

	wg.Wait()
	close(done)
	readers.Wait()

	n, err := tr.Validate()
	require.NoError(t, err)
	assert.Equal(t, 2000, n)
}

func TestCloseWithPinnedReader(t *testing.T) {
	t.Parallel()

	tr := newTestTree(4)
	for k := range 200 {
		require.NoError(t, tr.Insert(k, k+1000))
	}

	g := tr.Pin()
	sc, err := tr.Search(50, g)
	require.NoError(t, err)
	require.NotNil(t, sc)

	require.NoError(t, tr.Close())
	stats := tr.Stats()
	assert.Less(t, stats.Reclaimed, stats.Retired, "pinned reader holds back reclamation")

	// The reader's view survives until it releases the guard
	for want := 50; want < 60; want++ {
		k, v, ok := sc.Get()
		require.True(t, ok)
		assert.Equal(t, want, k)
		assert.Equal(t, want+1000, v)
		sc.Next()
	}
	g.Release()
	tr.collector.Collect()

	stats = tr.Stats()
	assert.Equal(t, stats.Retired, stats.Reclaimed)
	assert.Zero(t, stats.Epoch.Pending)

	assert.ErrorIs(t, tr.Insert(1, 1), ErrClosed)
	_, _, err = tr.Get(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tr.All(func(int, int) bool { return true }), ErrClosed)
	assert.ErrorIs(t, tr.Close(), ErrClosed)
	assert.Zero(t, tr.Height())
}

func TestDumpShowsStructure(t *testing.T) {
	t.Parallel()

	tr := newTestTree(2)
	for k := range 10 {
		require.NoError(t, tr.Insert(k, k))
	}
	out := tr.Dump()
	assert.Contains(t, out, fmt.Sprintf("tree(height=%d len=10)", tr.Height()))
	assert.Contains(t, out, "floor=0")
	assert.Contains(t, out, "fence=")
}

func TestScannerAcrossLaterSplit(t *testing.T) {
	t.Parallel()

	tr := newTestTree(4)
	for _, k := range []int{10, 100, 20, 30, 40} {
		require.NoError(t, tr.Insert(k, k))
	}

	g := tr.Pin()
	defer g.Release()
	sc, err := tr.Search(10, g)
	require.NoError(t, err)
	require.NotNil(t, sc)

	require.NoError(t, tr.Insert(50, 50))

	var keys []int
	for k, v, ok := sc.Get(); ok; k, v, ok = sc.Next() {
		assert.Equal(t, k, v)
		keys = append(keys, k)
	}
	assert.Equal(t, []int{10, 20, 30, 40, 50, 100}, keys)
}

func TestScannerDuringConcurrentSplits(t *testing.T) {
	t.Parallel()

	const n = 4000
	tr := newTestTree(4)
	for k := 0; k < n; k += 2 {
		require.NoError(t, tr.Insert(k, k))
	}

	var (
		wg   sync.WaitGroup
		done = make(chan struct{})
	)
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 1 + 2*w; k < n; k += 8 {
				assert.NoError(t, tr.Insert(k, k))
			}
		}()
	}

	var readers sync.WaitGroup
	for r := range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			rnd := rand.New(rand.NewPCG(uint64(r), 17))
			for {
				select {
				case <-done:
					return
				default:
				}

				from := rnd.IntN(n/2) * 2
				g := tr.Pin()
				sc, err := tr.Search(from, g)
				if !assert.NoError(t, err) || !assert.NotNil(t, sc, "key %d", from) {
					g.Release()
					return
				}

				// Every key present before the scan started and not above
				// the last key yielded must be yielded
				prev := from - 1
				for k, v, ok := sc.Get(); ok; k, v, ok = sc.Next() {
					assert.Equal(t, k, v)
					assert.Greater(t, k, prev)
					for even := prev + 1 + (prev+1)%2; even < k; even += 2 {
						assert.Fail(t, "scanner skipped a key", "key %d between %d and %d", even, prev, k)
					}
					prev = k
				}
				g.Release()
			}
		}()
	}

	wg.Wait()
	close(done)
	readers.Wait()

	n2, err := tr.Validate()
	require.NoError(t, err)
	assert.Equal(t, n, n2)
}

func TestCloseDuringReadsAndWrites(t *testing.T) {
	t.Parallel()

	tr := newTestTree(4)
	for k := 0; k < 2000; k += 2 {
		require.NoError(t, tr.Insert(k, k*3))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 1; ; k += 2 {
			err := tr.Insert(k, k*3)
			if errors.Is(err, ErrClosed) {
				return
			}
			assert.NoError(t, err)
		}
	}()

	for r := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rnd := rand.New(rand.NewPCG(uint64(r), 19))
			for {
				g := tr.Pin()
				k := rnd.IntN(1000) * 2
				sc, err := tr.Search(k, g)
				if errors.Is(err, ErrClosed) {
					g.Release()
					return
				}
				if assert.NoError(t, err) && assert.NotNil(t, sc, "key %d", k) {
					for i := 0; i < 32; i++ {
						k, v, ok := sc.Get()
						if !ok {
							break
						}
						assert.Equal(t, k*3, v)
						sc.Next()
					}
				}
				g.Release()

				err = tr.All(func(k, v int) bool {
					assert.Equal(t, k*3, v)
					return true
				})
				if errors.Is(err, ErrClosed) {
					return
				}
				assert.NoError(t, err)
			}
		}()
	}

	require.Eventually(t, func() bool { return tr.Len() >= 1500 }, 10*time.Second, time.Millisecond)
	require.NoError(t, tr.Close())
	wg.Wait()

	tr.collector.Collect()
	stats := tr.Stats()
	assert.Equal(t, stats.Retired, stats.Reclaimed)
	assert.Zero(t, stats.Epoch.Pinned)
}
