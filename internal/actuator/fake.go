package actuator

import (
	"context"
	"sync"
)

// Fake is a scripted Backend for tests.
type Fake struct {
	mu sync.Mutex

	// Calls records every ApplyState target in order.
	Calls []bool

	// ApplyErr, if set, is returned by ApplyState.
	ApplyErr error

	// Closed tracks whether Close was called.
	Closed bool
}

// ApplyState records the call or returns the scripted error.
func (f *Fake) ApplyState(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ApplyErr != nil {
		return f.ApplyErr
	}
	f.Calls = append(f.Calls, on)
	return nil
}

// Close marks the backend as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// CallCount returns the number of successful ApplyState calls.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// LastCall returns the most recent target state and whether any call was made.
func (f *Fake) LastCall() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return false, false
	}
	return f.Calls[len(f.Calls)-1], true
}
