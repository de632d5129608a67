package session

import (
	"sync"
	"testing"
)

func TestLoopRunsInPostingOrder(t *testing.T) {
	l := newLoop()
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Do(func() {})
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d ran %d", i, v)
		}
	}
	if len(got) != 100 {
		t.Fatalf("ran %d functions, want 100", len(got))
	}
}

func TestLoopSerializesConcurrentPosters(t *testing.T) {
	l := newLoop()
	defer l.Close()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Do(func() { counter++ })
		}()
	}
	wg.Wait()
	l.Do(func() {})
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestLoopCloseDrainsAndRejects(t *testing.T) {
	l := newLoop()
	ran := false
	l.Post(func() { ran = true })
	l.Close()
	if !ran {
		t.Fatalf("queued function dropped on close")
	}
	if l.Post(func() {}) {
		t.Fatalf("post accepted after close")
	}
	if l.Do(func() {}) {
		t.Fatalf("do ran after close")
	}
	l.Close()
}
