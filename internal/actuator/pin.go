//go:build linux

package actuator

import (
	"context"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// defaultChip is the GPIO character device for the relay board.
const defaultChip = "gpiochip0"

// Pin drives a relay through a GPIO output line.
//
// The line is requested as an output at construction and held for the
// lifetime of the backend. Close releases the line and chip and is
// idempotent.
type Pin struct {
	pin      int
	consumer string

	mu    sync.Mutex
	chip  *gpiocdev.Chip
	line  *gpiocdev.Line
	freed bool
}

// NewPin acquires a GPIO output line for a relay.
//
// The line starts low (relay off) so construction never energises a
// device.
//
// Parameters:
//   - pin: BCM line offset connected to the relay
//   - consumer: Consumer label visible in gpioinfo (e.g., "mister_control")
//
// Returns:
//   - *Pin: Backend holding the requested line
//   - error: If the chip cannot be opened or the line request fails
func NewPin(pin int, consumer string) (*Pin, error) {
	chip, err := gpiocdev.NewChip(defaultChip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrIO, defaultChip, err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("%w: requesting line %d: %w", ErrIO, pin, err)
	}

	return &Pin{
		pin:      pin,
		consumer: consumer,
		chip:     chip,
		line:     line,
	}, nil
}

// ApplyState sets the output level: high for on, low for off.
func (p *Pin) ApplyState(_ context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.line == nil {
		return fmt.Errorf("%w: line %d (%s)", ErrNotInitialized, p.pin, p.consumer)
	}

	value := 0
	if on {
		value = 1
	}

	if err := p.line.SetValue(value); err != nil {
		return fmt.Errorf("%w: setting line %d to %d: %w", ErrIO, p.pin, value, err)
	}

	return nil
}

// Close releases the line and chip. Safe to call more than once.
//
// The line is driven low before release so a shutdown never leaves a
// relay energised.
func (p *Pin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freed {
		return nil
	}
	p.freed = true

	var errs []error

	if p.line != nil {
		if err := p.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("lowering line %d: %w", p.pin, err))
		}
		if err := p.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing line %d: %w", p.pin, err))
		}
		p.line = nil
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing chip: %w", err))
		}
		p.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrIO, errs)
	}
	return nil
}
