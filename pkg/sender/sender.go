// Package sender implements the sending side of a Go-Back-N reliable transfer
// over an unreliable datagram transport.
//
// A Sender reads its source in fixed-size chunks and keeps at most
// Config.WindowSize of them in flight. Acknowledgements are cumulative: an ACK
// for n confirms every sequence number up to n. A single retransmission timer
// tracks the oldest unacknowledged datagram; when it expires, the whole
// outstanding window is sent again.
package sender

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/rft/pkg/datagram"
	"github.com/skycoin/rft/pkg/metrics"
	"github.com/skycoin/rft/pkg/rto"
	"github.com/skycoin/rft/pkg/udt"
)

// FirstSeqNum is the sequence number of the first data datagram of a transfer.
const FirstSeqNum = 1

// Timer is the single retransmission timer of a transfer.
type Timer interface {
	Start()
	Stop()
	// Expired reports an elapsed countdown once and disarms the timer.
	Expired() bool
}

// Stats summarizes the activity of a Sender.
type Stats struct {
	BytesRead       int64  `json:"bytes_read"`
	DatagramsSent   uint64 `json:"datagrams_sent"`
	Retransmissions uint64 `json:"retransmissions"`
	Timeouts        uint64 `json:"timeouts"`
	AcksReceived    uint64 `json:"acks_received"`
	AcksAdvanced    uint64 `json:"acks_advanced"`
	CorruptDropped  uint64 `json:"corrupt_dropped"`
	EndMarkersSent  int    `json:"end_markers_sent"`
}

// Sender drives one transfer. It is single-threaded: Run owns the window,
// the counters and the timer for its whole lifetime.
type Sender struct {
	Logger  *logging.Logger
	Metrics metrics.Recorder

	conf  Config
	src   *chunker
	tp    udt.Transport
	timer Timer
	win   *Window
	eof   bool
	stats Stats
}

// New creates a Sender that transfers src over tp. A nil timer is replaced
// by an rto.Timer of conf.Timeout.
func New(conf Config, src io.Reader, tp udt.Transport, timer Timer) (*Sender, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sender config")
	}
	if timer == nil {
		timer = rto.New(conf.Timeout)
	}
	return &Sender{
		Logger:  logging.MustGetLogger("sender"),
		Metrics: metrics.NewDummy(),
		conf:    conf,
		src:     newChunker(src, conf.PayloadSize),
		tp:      tp,
		timer:   timer,
		win:     NewWindow(conf.WindowSize, FirstSeqNum),
	}, nil
}

// Stats returns a snapshot of the transfer statistics.
func (s *Sender) Stats() Stats {
	st := s.stats
	st.BytesRead = s.src.bytes
	return st
}

// Run transfers the whole source and then sends the end-of-stream marker.
// Each cycle fills the window, drains every queued acknowledgement and checks
// the retransmission timer, in that order. Run retries indefinitely while
// datagrams stay unacknowledged; cancel ctx to abort.
func (s *Sender) Run(ctx context.Context) error {
	s.Logger.Infof("Starting transfer: window %d, timeout %s, payload %d bytes",
		s.conf.WindowSize, s.conf.Timeout, s.conf.PayloadSize)

	for !s.done() {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "transfer aborted at base %d", s.win.Base())
		}

		sent, err := s.fill()
		if err != nil {
			return err
		}
		received, err := s.drain()
		if err != nil {
			return err
		}
		resent, err := s.checkTimeout()
		if err != nil {
			return err
		}

		if sent+received+resent == 0 {
			s.idle(ctx)
		}
	}

	return s.finish()
}

func (s *Sender) done() bool {
	return s.eof && s.win.Empty()
}

// fill sends new datagrams while the window has room and the source has data.
func (s *Sender) fill() (int, error) {
	n := 0
	for !s.eof && !s.win.Full() {
		chunk, err := s.src.next()
		if err != nil {
			return n, errors.Wrap(err, "failed to read source")
		}
		if len(chunk) == 0 {
			s.eof = true
			s.Logger.Debugf("Source exhausted after %d bytes", s.src.bytes)
			break
		}

		d, err := datagram.NewData(s.win.Next(), chunk)
		if err != nil {
			return n, err
		}
		wasEmpty := s.win.Empty()
		if err := s.win.Push(d); err != nil {
			return n, errors.Wrapf(err, "failed to buffer datagram %d", d.SeqNum)
		}
		if err := s.send(d, false); err != nil {
			return n, err
		}
		if wasEmpty {
			s.timer.Start()
		}
		n++
	}
	s.Metrics.InFlight(s.win.Len())
	return n, nil
}

// drain processes every datagram the transport has queued.
func (s *Sender) drain() (int, error) {
	n := 0
	for {
		d, ok, err := s.tp.Receive()
		if err != nil {
			return n, errors.Wrap(err, "failed to receive")
		}
		if !ok {
			return n, nil
		}
		n++
		s.handleAck(d)
	}
}

func (s *Sender) handleAck(d *datagram.Datagram) {
	if !d.Valid() {
		s.stats.CorruptDropped++
		s.Metrics.CorruptDropped()
		s.Logger.Debugf("Dropping corrupt %s", d)
		return
	}
	s.stats.AcksReceived++

	newBase := uint64(d.AckNum) + 1
	if newBase > uint64(s.win.Next()) {
		s.Logger.Warnf("Ignoring ack %d for unsent data, next sequence number is %d", d.AckNum, s.win.Next())
		s.Metrics.AckReceived(false)
		return
	}
	if s.win.Advance(uint32(newBase)) == 0 {
		s.Logger.Debugf("Ignoring stale ack %d, base is %d", d.AckNum, s.win.Base())
		s.Metrics.AckReceived(false)
		return
	}

	s.stats.AcksAdvanced++
	s.Metrics.AckReceived(true)
	s.Metrics.InFlight(s.win.Len())
	s.Logger.Debugf("Ack %d: window is now [%d, %d)", d.AckNum, s.win.Base(), s.win.Next())

	if s.win.Empty() {
		s.timer.Stop()
	} else {
		s.timer.Start()
	}
}

// checkTimeout resends the whole outstanding window if the timer expired.
func (s *Sender) checkTimeout() (int, error) {
	if !s.timer.Expired() {
		return 0, nil
	}
	s.stats.Timeouts++
	s.Metrics.Timeout()
	s.Logger.Warnf("Retransmission timeout: resending window [%d, %d)", s.win.Base(), s.win.Next())

	n := 0
	err := s.win.Range(func(d *datagram.Datagram) error {
		n++
		return s.send(d, true)
	})
	if err != nil {
		return n, err
	}
	s.timer.Start()
	return n, nil
}

func (s *Sender) send(d *datagram.Datagram, retransmission bool) error {
	d.Seal()
	if err := s.tp.Send(d); err != nil {
		return errors.Wrapf(err, "failed to send datagram %d", d.SeqNum)
	}
	if retransmission {
		s.stats.Retransmissions++
	} else {
		s.stats.DatagramsSent++
	}
	s.Metrics.DatagramSent(retransmission)
	return nil
}

// finish sends the end-of-stream marker. The receiver never acknowledges
// it, so it is only repeated EndMarkerRepeats times.
func (s *Sender) finish() error {
	s.timer.Stop()
	end := datagram.NewEndMarker(s.win.Next())
	s.Logger.Infof("All %d datagrams acknowledged, sending end marker %d", s.stats.DatagramsSent, end.SeqNum)

	for i := 0; i < s.conf.EndMarkerRepeats; i++ {
		if err := s.tp.Send(end); err != nil {
			return errors.Wrap(err, "failed to send end marker")
		}
		s.stats.EndMarkersSent++
	}
	return nil
}

func (s *Sender) idle(ctx context.Context) {
	if s.conf.IdleWait <= 0 {
		return
	}
	t := time.NewTimer(s.conf.IdleWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
