// Package latch provides the write/dispose coordination primitive used by the
// stream store. It is not a mutex: any number of holders may be inside at the
// same time. A waiter blocks only until the holders that were inside when it
// started waiting have left.
package latch

import "sync"

// Latch counts in-flight sections and lets a waiter drain them.
//
// Enter never blocks, so writers proceed in parallel. Wait snapshots the
// current generation of holders; sections entered after Wait begins join a
// fresh generation and do not extend that wait.
type Latch struct {
	mu sync.Mutex
	wg *sync.WaitGroup
}

// New constructs an empty Latch.
func New() *Latch {
	return &Latch{wg: &sync.WaitGroup{}}
}

// Enter marks a section as in flight and returns its exit func.
// The exit func is idempotent and must be called when the section leaves.
func (l *Latch) Enter() (exit func()) {
	l.mu.Lock()
	wg := l.wg
	wg.Add(1)
	l.mu.Unlock()

	var once sync.Once
	return func() { once.Do(wg.Done) }
}

// Wait blocks until every section entered before this call has exited.
func (l *Latch) Wait() {
	l.mu.Lock()
	wg := l.wg
	l.wg = &sync.WaitGroup{}
	l.mu.Unlock()

	wg.Wait()
}
