package udt

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"

	"github.com/skycoin/rft/pkg/datagram"
)

// DefaultInboxSize is the number of decoded datagrams a Conn buffers before
// dropping inbound traffic.
const DefaultInboxSize = 256

// Conn is a Transport over a connected UDP socket. A background goroutine
// decodes inbound datagrams into a bounded inbox that Receive polls.
type Conn struct {
	conn  net.Conn
	inbox chan *datagram.Datagram

	closed    atomic.Bool
	closeOnce sync.Once
	readDone  chan struct{}

	mu  sync.Mutex
	err error

	malformed uint64
}

// Dial connects a UDP socket to host:port.
func Dial(host string, port uint16) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", host)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	log.Debugf("dialed %s from %s", conn.RemoteAddr(), conn.LocalAddr())
	return NewConn(conn, DefaultInboxSize), nil
}

// NewConn wraps an already connected datagram socket.
func NewConn(conn net.Conn, inboxSize int) *Conn {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	c := &Conn{
		conn:     conn,
		inbox:    make(chan *datagram.Datagram, inboxSize),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send implements Transport.
func (c *Conn) Send(d *datagram.Datagram) error {
	b, err := d.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	if _, err := c.conn.Write(b); err != nil {
		if isRefused(err) {
			log.WithError(err).Debug("peer not reachable, datagram lost")
			return nil
		}
		return errors.Wrap(err, "udp write")
	}
	return nil
}

// Receive implements Transport.
func (c *Conn) Receive() (*datagram.Datagram, bool, error) {
	select {
	case d := <-c.inbox:
		return d, true, nil
	default:
		return nil, false, c.readErr()
	}
}

// Malformed returns the number of inbound buffers that could not be decoded.
func (c *Conn) Malformed() uint64 {
	return atomic.LoadUint64(&c.malformed)
}

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close implements Transport.
func (c *Conn) Close() error {
	err := errors.New("already closed")
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		<-c.readDone
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.readDone)

	// One extra byte so oversized buffers are detected instead of truncated.
	buf := make([]byte, datagram.Size+1)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if c.closed.Load() {
				return
			}
			if isRefused(err) {
				log.WithError(err).Debug("peer not reachable")
				continue
			}
			c.setReadErr(errors.Wrap(err, "udp read"))
			return
		}

		d := new(datagram.Datagram)
		if err := d.UnmarshalBinary(buf[:n]); err != nil {
			atomic.AddUint64(&c.malformed, 1)
			log.WithError(err).Debug("dropping malformed datagram")
			continue
		}

		select {
		case c.inbox <- d:
		default:
			log.Debugf("inbox full, dropping %s", d)
		}
	}
}

func (c *Conn) setReadErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Conn) readErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
