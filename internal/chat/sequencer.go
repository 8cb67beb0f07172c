package chat

import "sync"

// Sequencer runs tasks strictly in submission order per key while keys
// proceed fully in parallel. A conversation's context assembly must never
// observe a half-applied view of an earlier message, so each conversation
// maps to one key.
type Sequencer struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func NewSequencer() *Sequencer {
	return &Sequencer{queues: make(map[string][]func())}
}

// Enqueue schedules task after every previously enqueued task for key.
// It never blocks the caller.
func (s *Sequencer) Enqueue(key string, task func()) {
	s.wg.Add(1)
	s.mu.Lock()
	if q, running := s.queues[key]; running {
		s.queues[key] = append(q, task)
		s.mu.Unlock()
		return
	}
	// Presence in the map marks a live drain goroutine for the key.
	s.queues[key] = nil
	s.mu.Unlock()

	go s.drain(key, task)
}

func (s *Sequencer) drain(key string, task func()) {
	for {
		s.run(task)

		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		task = q[0]
		s.queues[key] = q[1:]
		s.mu.Unlock()
	}
}

func (s *Sequencer) run(task func()) {
	defer s.wg.Done()
	task()
}

// Wait blocks until every enqueued task has finished.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}
