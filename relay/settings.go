package relay

import (
	"fmt"
	"math"
	"time"

	"github.com/c360/reliabus/errors"
)

// Default relay parameters
const (
	DefaultGroupSize      = 100
	DefaultResendInterval = 5 * time.Second
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultMaxOperand     = 255
	DefaultTombstones     = 65536

	// MaxOperandLimit keeps the product of two operands within int64
	MaxOperandLimit = math.MaxInt32
)

// Settings holds the loop parameters. They do not change after start.
type Settings struct {
	// GroupSize is the batch size and the progress log period
	GroupSize int
	// ResendInterval is both the scan period and the age at which a
	// pending request is sent again
	ResendInterval time.Duration
	// RetryDelay is the pause before retrying a failed encode or send
	RetryDelay time.Duration
	// MaxOperand bounds generated operands, inclusive
	MaxOperand int64
	// Tombstones is how many resolved ids are remembered to classify late
	// duplicates. Zero disables the classification.
	Tombstones int
}

// DefaultSettings returns the standard parameters
func DefaultSettings() Settings {
	return Settings{
		GroupSize:      DefaultGroupSize,
		ResendInterval: DefaultResendInterval,
		RetryDelay:     DefaultRetryDelay,
		MaxOperand:     DefaultMaxOperand,
		Tombstones:     DefaultTombstones,
	}
}

// Validate checks the settings are usable
func (s Settings) Validate() error {
	switch {
	case s.GroupSize < 1:
		return invalidSetting("group size %d must be positive", s.GroupSize)
	case s.ResendInterval <= 0:
		return invalidSetting("resend interval %v must be positive", s.ResendInterval)
	case s.RetryDelay < 0:
		return invalidSetting("retry delay %v must not be negative", s.RetryDelay)
	case s.MaxOperand < 0 || s.MaxOperand > MaxOperandLimit:
		return invalidSetting("max operand %d must be within [0, %d]", s.MaxOperand, MaxOperandLimit)
	case s.Tombstones < 0:
		return invalidSetting("tombstones %d must not be negative", s.Tombstones)
	}
	return nil
}

func invalidSetting(format string, args ...any) error {
	return errors.WrapFatal(
		fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Settings", "Validate", "check relay settings")
}
