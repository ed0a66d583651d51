package engine

import (
	"sync"
	"testing"
)

func TestRunRegistry(t *testing.T) {
	r := newRunRegistry()
	r.add("sub", "a")
	r.add("sub", "b")
	r.add("other", "c")

	if got := r.snapshot("sub"); len(got) != 2 {
		t.Fatalf("expected two handles, got %v", got)
	}
	r.remove("sub", "a")
	if got := r.snapshot("sub"); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected handles %v", got)
	}
	r.remove("sub", "b")
	if r.snapshot("sub") != nil {
		t.Fatalf("empty submissions must be dropped")
	}
	if r.size() != 1 {
		t.Fatalf("expected one submission left, got %d", r.size())
	}
}

func TestRunRegistryConcurrent(t *testing.T) {
	r := newRunRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle := string(rune('a' + i%26))
			r.add("sub", handle)
			r.remove("sub", handle)
		}(i)
	}
	wg.Wait()
	if r.size() != 0 {
		t.Fatalf("expected empty registry, got %d", r.size())
	}
}
