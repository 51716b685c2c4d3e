// Package gpio provides GPIO input reading with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads binary GPIO inputs.
type Reader interface {
	// Read returns the logical state of every configured line, in
	// configuration order. The raw GPIO values are inverted: raw active =
	// logical OFF.
	Read() ([]bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO character device of the Raspberry Pi header.
const DefaultChip = "gpiochip0"
