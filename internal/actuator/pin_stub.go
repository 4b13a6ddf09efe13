//go:build !linux

package actuator

import (
	"context"
	"fmt"
)

// Pin is not available on non-Linux platforms.
type Pin struct{}

// NewPin returns an error on non-Linux platforms.
func NewPin(int, string) (*Pin, error) {
	return nil, fmt.Errorf("%w: gpio requires linux", ErrNotInitialized)
}

// ApplyState is not implemented on non-Linux platforms.
func (p *Pin) ApplyState(context.Context, bool) error {
	return fmt.Errorf("%w: gpio requires linux", ErrNotInitialized)
}

// Close is a no-op on non-Linux platforms.
func (p *Pin) Close() error {
	return nil
}
