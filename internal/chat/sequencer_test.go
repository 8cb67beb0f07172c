package chat

import (
	"sync"
	"testing"
)

func TestSequencerFIFOPerKey(t *testing.T) {
	seq := NewSequencer()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		seq.Enqueue("c1", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	seq.Wait()

	if len(order) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d, tasks ran out of submission order", i, got)
		}
	}
}

func TestSequencerKeysRunInParallel(t *testing.T) {
	seq := NewSequencer()

	aStarted := make(chan struct{})
	release := make(chan struct{})

	seq.Enqueue("a", func() {
		close(aStarted)
		<-release
	})

	bDone := make(chan struct{})
	seq.Enqueue("b", func() {
		close(bDone)
	})

	<-aStarted
	// Key "b" must complete while "a" is still blocked.
	<-bDone
	close(release)
	seq.Wait()
}

func TestSequencerReusesKeyAfterDrain(t *testing.T) {
	seq := NewSequencer()

	ran := 0
	seq.Enqueue("c1", func() { ran++ })
	seq.Wait()
	seq.Enqueue("c1", func() { ran++ })
	seq.Wait()

	if ran != 2 {
		t.Fatalf("ran = %d, want 2", ran)
	}
}
