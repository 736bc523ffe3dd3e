package relay

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LevelTrace is below slog.LevelDebug and used for per-message lines
const LevelTrace = slog.LevelDebug - 4

// Request is a dispatched multiply request awaiting its response
type Request struct {
	Value           int64
	Multiplier      int64
	ExpectedResult  int64
	LastSendAttempt time.Time
}

// NewRequest creates a request with its expected result precomputed
func NewRequest(value, multiplier int64) Request {
	return Request{
		Value:          value,
		Multiplier:     multiplier,
		ExpectedResult: value * multiplier,
	}
}

// Staged is a request claimed for resending
type Staged struct {
	ID      uuid.UUID
	Request Request
}
