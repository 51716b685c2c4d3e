//go:build linux

package gpio

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads GPIO from actual hardware using Linux GPIO character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	raw   []int
}

// NewRealReader requests pins (BCM numbering) on chip as inputs.
func NewRealReader(chip string, pins []int) (*RealReader, error) {
	if len(pins) == 0 {
		return nil, errors.New("gpio: no pins configured")
	}
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", chip)
	}

	// Request lines as input with pull-down to match Pi boot defaults.
	// This ensures consistent behavior with external optocoupler modules.
	lines, err := c.RequestLines(pins, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		c.Close()
		return nil, errors.Wrapf(err, "request pins %v", pins)
	}

	return &RealReader{
		chip:  c,
		lines: lines,
		raw:   make([]int, len(pins)),
	}, nil
}

// Read returns the logical state of every line.
// Inverts raw GPIO: raw active (1) = logical OFF, raw inactive (0) = logical ON.
func (r *RealReader) Read() ([]bool, error) {
	if err := r.lines.Values(r.raw); err != nil {
		return nil, errors.Wrap(err, "read pins")
	}
	on := make([]bool, len(r.raw))
	for i, v := range r.raw {
		on[i] = v == 0
	}
	return on, nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, errors.Wrap(err, "reconfigure pins"))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close pins"))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close chip"))
		}
	}

	if len(errs) > 0 {
		return errors.Errorf("close errors: %v", errs)
	}
	return nil
}
