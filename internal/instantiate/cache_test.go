package instantiate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

func TestCacheComputesOnce(t *testing.T) {
	c := NewCache()
	var mu sync.Mutex
	calls := 0
	fn := func() *result {
		mu.Lock()
		calls++
		mu.Unlock()
		return &result{decl: &ir.Decl{Kind: ir.KindClass, Name: "Box<int>"}}
	}

	var wg sync.WaitGroup
	got := make([]*result, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = c.do("Box<int>", fn)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	for _, r := range got {
		assert.Same(t, got[0], r)
	}
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(15), hits)

	d, ok := c.Decl("Box<int>")
	require.True(t, ok)
	assert.Equal(t, "Box<int>", d.Name)
}

func TestCacheStoresFailures(t *testing.T) {
	c := NewCache()
	f := failf(diag.AmbiguousSpecialization, diag.CodeAmbiguous, "ambiguous")
	c.do("Pair<int,int>", func() *result { return &result{err: f} })

	r := c.do("Pair<int,int>", func() *result {
		t.Fatal("failure was recomputed")
		return nil
	})
	assert.Same(t, f, r.err)
	_, ok := c.Decl("Pair<int,int>")
	assert.False(t, ok)
}

func TestCacheDoesNotStoreRetries(t *testing.T) {
	c := NewCache()
	c.do("Buf<char,sizeof(Box<int>)>", func() *result { return &result{retry: true} })
	assert.Equal(t, 0, c.Len())

	r := c.do("Buf<char,sizeof(Box<int>)>", func() *result { return &result{decl: &ir.Decl{}} })
	assert.False(t, r.retry)
	assert.Equal(t, 1, c.Len())
	_, misses := c.Stats()
	assert.Equal(t, int64(2), misses)
}
