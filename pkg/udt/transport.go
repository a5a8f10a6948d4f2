// Package udt implements the unreliable datagram transport the sender runs on.
// Datagrams handed to a Transport may be dropped, duplicated, corrupted or
// reordered; reliability is the caller's concern.
package udt

import (
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/rft/pkg/datagram"
)

var log = logging.MustGetLogger("udt")

// Transport is a non-blocking datagram channel.
type Transport interface {
	// Send transmits d without waiting for delivery. A nil error does not
	// mean d arrived.
	Send(d *datagram.Datagram) error

	// Receive returns the next queued datagram, or ok == false immediately
	// when nothing is queued. It never blocks. A non-nil error is fatal.
	Receive() (d *datagram.Datagram, ok bool, err error)

	// Close releases the underlying resources.
	Close() error
}
