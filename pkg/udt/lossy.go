package udt

import (
	"math/rand"

	"github.com/skycoin/rft/pkg/datagram"
)

// LossConfig sets the probabilities, each in [0, 1], with which a Lossy
// transport mistreats traffic in both directions.
type LossConfig struct {
	Drop      float64 `json:"drop"`
	Corrupt   float64 `json:"corrupt"`
	Duplicate float64 `json:"duplicate"`
	Reorder   float64 `json:"reorder"`
	Seed      int64   `json:"seed"`
}

// Enabled reports whether any impairment is configured.
func (c LossConfig) Enabled() bool {
	return c.Drop > 0 || c.Corrupt > 0 || c.Duplicate > 0 || c.Reorder > 0
}

// Lossy wraps a Transport and simulates an unreliable channel on top of it.
// It is meant for exercising the sender over loopback.
type Lossy struct {
	tp   Transport
	conf LossConfig
	rnd  *rand.Rand
	held *datagram.Datagram
}

// NewLossy wraps tp.
func NewLossy(tp Transport, conf LossConfig) *Lossy {
	return &Lossy{
		tp:   tp,
		conf: conf,
		rnd:  rand.New(rand.NewSource(conf.Seed)), //nolint:gosec
	}
}

// Send implements Transport. A reordered datagram is held back and released
// after the next datagram that makes it onto the wire.
func (l *Lossy) Send(d *datagram.Datagram) error {
	if l.roll(l.conf.Drop) {
		log.Debugf("lossy: dropped outbound %s", d)
		return nil
	}

	out := *d
	if l.roll(l.conf.Corrupt) {
		l.corrupt(&out)
	}

	if l.held == nil && l.roll(l.conf.Reorder) {
		l.held = &out
		return nil
	}

	if err := l.tp.Send(&out); err != nil {
		return err
	}
	if l.roll(l.conf.Duplicate) {
		if err := l.tp.Send(&out); err != nil {
			return err
		}
	}

	if held := l.held; held != nil {
		l.held = nil
		return l.tp.Send(held)
	}
	return nil
}

// Receive implements Transport.
func (l *Lossy) Receive() (*datagram.Datagram, bool, error) {
	for {
		d, ok, err := l.tp.Receive()
		if !ok || err != nil {
			return d, ok, err
		}
		if l.roll(l.conf.Drop) {
			log.Debugf("lossy: dropped inbound %s", d)
			continue
		}
		if l.roll(l.conf.Corrupt) {
			l.corrupt(d)
		}
		return d, true, nil
	}
}

// Close implements Transport. A held datagram is lost.
func (l *Lossy) Close() error {
	l.held = nil
	return l.tp.Close()
}

func (l *Lossy) roll(p float64) bool {
	return p > 0 && l.rnd.Float64() < p
}

// corrupt flips one bit of the region covered by the checksum, or of the
// checksum itself.
func (l *Lossy) corrupt(d *datagram.Datagram) {
	n := datagram.HeaderSize + int(d.PayloadLength) + datagram.ChecksumSize
	i := l.rnd.Intn(n)
	bit := byte(1) << uint(l.rnd.Intn(8))

	b, err := d.MarshalBinary()
	if err != nil {
		d.Checksum ^= uint16(bit)
		return
	}
	if i >= datagram.HeaderSize+int(d.PayloadLength) {
		i = datagram.HeaderSize + datagram.MaxPayloadLength + (i - datagram.HeaderSize - int(d.PayloadLength))
	}
	b[i] ^= bit

	var c datagram.Datagram
	if err := c.UnmarshalBinary(b); err != nil {
		d.Checksum ^= uint16(bit)
		return
	}
	*d = c
	log.Debugf("lossy: corrupted %s", d)
}
