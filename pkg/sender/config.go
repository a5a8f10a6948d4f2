package sender

import (
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/rft/pkg/datagram"
)

// Default sender parameters.
const (
	DefaultWindowSize       = 10
	DefaultTimeout          = 20 * time.Millisecond // loopback; raise for real links
	DefaultPayloadSize      = datagram.MaxPayloadLength
	DefaultEndMarkerRepeats = 1
)

// Config configures a Sender.
type Config struct {
	// WindowSize is the maximum number of unacknowledged datagrams.
	WindowSize int

	// Timeout is the retransmission timeout of the oldest unacknowledged datagram.
	Timeout time.Duration

	// PayloadSize is the number of source bytes carried per datagram.
	PayloadSize int

	// EndMarkerRepeats is how many times the unacknowledged end-of-stream
	// marker is sent.
	EndMarkerRepeats int

	// IdleWait is how long the loop sleeps after a cycle in which nothing was
	// sent or received. Zero busy-polls.
	IdleWait time.Duration
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		WindowSize:       DefaultWindowSize,
		Timeout:          DefaultTimeout,
		PayloadSize:      DefaultPayloadSize,
		EndMarkerRepeats: DefaultEndMarkerRepeats,
	}
}

// Validate checks that the Config describes a runnable sender.
func (c Config) Validate() error {
	switch {
	case c.WindowSize < 1:
		return errors.Errorf("window size must be positive, got %d", c.WindowSize)
	case c.Timeout <= 0:
		return errors.Errorf("timeout must be positive, got %s", c.Timeout)
	case c.PayloadSize < 1 || c.PayloadSize > datagram.MaxPayloadLength:
		return errors.Errorf("payload size must be within [1, %d], got %d", datagram.MaxPayloadLength, c.PayloadSize)
	case c.EndMarkerRepeats < 1:
		return errors.Errorf("end marker repeats must be positive, got %d", c.EndMarkerRepeats)
	case c.IdleWait < 0:
		return errors.Errorf("idle wait must not be negative, got %s", c.IdleWait)
	}
	return nil
}
