// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

const timeout = 5 * time.Second

// ErrTimeout is returned by WithinTimeout when the channel stays silent.
var ErrTimeout = errors.New("timed out waiting for result")

// WithinTimeout tries to read an error from error channel within timeout and returns it.
// If timeout exceeds, ErrTimeout is returned.
func WithinTimeout(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return ErrTimeout
	}
}

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}

// LocalPeer opens a loopback UDP socket standing in for a remote receiver
// and returns it along with its host and port.
func LocalPeer(t *testing.T) (net.PacketConn, string, uint16) {
	t.Helper()

	peer, err := nettest.NewLocalPacketListener("udp")
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(peer.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	require.NoError(t, peer.SetDeadline(time.Now().Add(timeout)))
	return peer, host, uint16(port)
}
