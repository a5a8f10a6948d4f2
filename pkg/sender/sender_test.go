package sender

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/rft/pkg/datagram"
	"github.com/skycoin/rft/pkg/udt"
)

// channel is an in-memory Transport with a Go-Back-N receiver on the far end.
// The receiver accepts only the next in-order datagram and answers every data
// datagram with a cumulative ACK.
type channel struct {
	sent  []*datagram.Datagram
	inbox []*datagram.Datagram
	held  []*datagram.Datagram

	expected uint32
	received bytes.Buffer
	ends     []*datagram.Datagram

	// lag is the number of ACKs kept back while the sender keeps sending.
	// Held ACKs are released after two consecutive empty polls.
	lag        int
	holdAcks   bool
	emptyPolls int

	dropAck func(ack uint32) bool
	onSend  func(d *datagram.Datagram)

	sendErr error
	recvErr error
}

func newChannel() *channel {
	return &channel{expected: FirstSeqNum}
}

func (c *channel) Send(d *datagram.Datagram) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	cp := *d
	c.sent = append(c.sent, &cp)
	if c.onSend != nil {
		c.onSend(&cp)
	}
	c.emptyPolls = 0

	if !cp.Valid() {
		return nil
	}
	if cp.IsEndMarker() {
		c.ends = append(c.ends, &cp)
		return nil
	}
	if cp.SeqNum == c.expected {
		c.received.Write(cp.Data())
		c.expected++
	}

	ack := datagram.NewAck(c.expected - 1)
	if c.dropAck != nil && c.dropAck(ack.AckNum) {
		return nil
	}
	c.held = append(c.held, ack)
	if !c.holdAcks {
		for len(c.held) > c.lag {
			c.inbox = append(c.inbox, c.held[0])
			c.held = c.held[1:]
		}
	}
	return nil
}

func (c *channel) Receive() (*datagram.Datagram, bool, error) {
	if c.recvErr != nil {
		return nil, false, c.recvErr
	}
	if len(c.inbox) == 0 {
		c.emptyPolls++
		if !c.holdAcks && c.emptyPolls >= 2 {
			c.inbox, c.held = c.held, nil
		}
	}
	if len(c.inbox) == 0 {
		return nil, false, nil
	}
	d := c.inbox[0]
	c.inbox = c.inbox[1:]
	return d, true, nil
}

func (c *channel) Close() error { return nil }

func (c *channel) dataSeqs() []uint32 {
	var seqs []uint32
	for _, d := range c.sent {
		if !d.IsEndMarker() {
			seqs = append(seqs, d.SeqNum)
		}
	}
	return seqs
}

// fakeTimer fires when told to, or after expireAfter polls when set.
type fakeTimer struct {
	running  bool
	fire     bool
	onExpire func()

	expireAfter int
	polls       int

	starts   int // from stopped
	restarts int // while running
	stops    int
	expiries int
}

func (t *fakeTimer) Start() {
	if t.running {
		t.restarts++
	} else {
		t.starts++
	}
	t.running = true
	t.polls = 0
}

func (t *fakeTimer) Stop() {
	if t.running {
		t.stops++
	}
	t.running = false
}

func (t *fakeTimer) Expired() bool {
	if !t.running {
		return false
	}
	t.polls++
	if !t.fire && (t.expireAfter == 0 || t.polls < t.expireAfter) {
		return false
	}
	t.fire = false
	t.running = false
	t.expiries++
	if t.onExpire != nil {
		t.onExpire()
	}
	return true
}

func testConfig(window, payload int) Config {
	conf := DefaultConfig()
	conf.WindowSize = window
	conf.PayloadSize = payload
	return conf
}

func randomInput(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.New(rand.NewSource(int64(n))).Read(b)
	require.NoError(t, err)
	return b
}

func runSender(t *testing.T, s *Sender) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))
}

func seqRange(from, to uint32) []uint32 {
	var seqs []uint32
	for seq := from; seq <= to; seq++ {
		seqs = append(seqs, seq)
	}
	return seqs
}

func TestSender_NoLoss(t *testing.T) {
	const payload = 16
	input := randomInput(t, 24*payload+5) // 25 chunks

	ch := newChannel()
	ch.lag = 5
	timer := new(fakeTimer)
	s, err := New(testConfig(10, payload), bytes.NewReader(input), ch, timer)
	require.NoError(t, err)

	var maxInFlight int
	ch.onSend = func(*datagram.Datagram) {
		if s.win.Len() > maxInFlight {
			maxInFlight = s.win.Len()
		}
	}

	runSender(t, s)

	assert.Equal(t, seqRange(1, 25), ch.dataSeqs(), "every chunk sent exactly once")
	assert.Equal(t, input, ch.received.Bytes())
	require.Len(t, ch.ends, 1)
	assert.Equal(t, uint32(26), ch.ends[0].SeqNum)
	assert.Equal(t, uint16(0), ch.ends[0].PayloadLength)
	assert.Equal(t, ch.ends[0], ch.sent[len(ch.sent)-1])

	assert.Equal(t, 1, timer.starts, "timer started once, at seq 1")
	assert.Equal(t, 1, timer.stops, "timer stopped once, at ack 25")
	assert.Equal(t, 0, timer.expiries)
	assert.LessOrEqual(t, maxInFlight, 10)

	st := s.Stats()
	assert.Equal(t, int64(len(input)), st.BytesRead)
	assert.Equal(t, uint64(25), st.DatagramsSent)
	assert.Equal(t, uint64(0), st.Retransmissions)
	assert.Equal(t, 1, st.EndMarkersSent)
	assert.Equal(t, uint32(26), s.win.Base())
	assert.Equal(t, uint32(26), s.win.Next())
}

func TestSender_TimeoutBeforeLateAck(t *testing.T) {
	const payload = 8
	input := randomInput(t, 25*payload)

	ch := newChannel()
	ch.holdAcks = true
	ch.dropAck = func(ack uint32) bool { return ack <= 4 }

	timer := &fakeTimer{fire: true}
	s, err := New(testConfig(10, payload), bytes.NewReader(input), ch, timer)
	require.NoError(t, err)

	var basesAtSend []uint32
	ch.onSend = func(*datagram.Datagram) { basesAtSend = append(basesAtSend, s.win.Base()) }

	// The timer fires before anything is acknowledged. Ack 5 then arrives
	// late and the rest of the first window's ACKs are lost.
	timer.onExpire = func() {
		require.NotEmpty(t, ch.held)
		require.Equal(t, uint32(5), ch.held[0].AckNum)
		ch.inbox = append(ch.inbox, ch.held[0])
		ch.held = nil
		ch.holdAcks = false
	}

	runSender(t, s)

	seqs := ch.dataSeqs()
	require.True(t, len(seqs) >= 20)
	assert.Equal(t, seqRange(1, 10), seqs[:10])
	assert.Equal(t, seqRange(1, 10), seqs[10:20], "full window retransmitted")
	for i := 0; i < 20; i++ {
		assert.Equal(t, uint32(1), basesAtSend[i], "sent before base advanced")
	}
	assert.Equal(t, uint32(11), seqs[20], "new data after the window moved")

	assert.Equal(t, input, ch.received.Bytes())
	assert.Equal(t, 1, timer.expiries)
	assert.Equal(t, uint64(1), s.Stats().Timeouts)
	assert.Equal(t, uint64(10), s.Stats().Retransmissions)
	require.Len(t, ch.ends, 1)
	assert.Equal(t, uint32(26), ch.ends[0].SeqNum)
}

func TestSender_Drain(t *testing.T) {
	ch := newChannel()
	ch.holdAcks = true
	timer := new(fakeTimer)
	s, err := New(testConfig(10, 1), bytes.NewReader([]byte("abcde")), ch, timer)
	require.NoError(t, err)

	n, err := s.fill()
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 1, timer.starts)

	drain := func(t *testing.T, acks ...*datagram.Datagram) {
		ch.inbox = append(ch.inbox, acks...)
		_, err := s.drain()
		require.NoError(t, err)
	}

	t.Run("corrupt ack never advances base", func(t *testing.T) {
		ack := datagram.NewAck(4)
		ack.Checksum ^= 0x0001
		drain(t, ack)
		assert.Equal(t, uint32(1), s.win.Base())
		assert.Equal(t, uint64(1), s.Stats().CorruptDropped)
		assert.Equal(t, 0, timer.restarts)
	})

	t.Run("ack for unsent data is ignored", func(t *testing.T) {
		drain(t, datagram.NewAck(9))
		assert.Equal(t, uint32(1), s.win.Base())
	})

	t.Run("advancing ack restarts the timer", func(t *testing.T) {
		drain(t, datagram.NewAck(2))
		assert.Equal(t, uint32(3), s.win.Base())
		assert.Equal(t, 1, timer.restarts)
		assert.True(t, timer.running)
	})

	t.Run("stale and duplicate acks are ignored", func(t *testing.T) {
		drain(t, datagram.NewAck(1), datagram.NewAck(2), datagram.NewAck(0))
		assert.Equal(t, uint32(3), s.win.Base())
		assert.Equal(t, 1, timer.restarts)
	})

	t.Run("emptying ack stops the timer", func(t *testing.T) {
		drain(t, datagram.NewAck(5))
		assert.True(t, s.win.Empty())
		assert.Equal(t, 1, timer.stops)
		assert.False(t, timer.running)
	})

	st := s.Stats()
	assert.Equal(t, uint64(6), st.AcksReceived)
	assert.Equal(t, uint64(2), st.AcksAdvanced)
}

func TestSender_CheckTimeout(t *testing.T) {
	ch := newChannel()
	ch.holdAcks = true
	timer := new(fakeTimer)
	s, err := New(testConfig(4, 1), bytes.NewReader([]byte("abcdefgh")), ch, timer)
	require.NoError(t, err)

	_, err = s.fill()
	require.NoError(t, err)
	ch.inbox = append(ch.inbox, datagram.NewAck(2))
	_, err = s.drain()
	require.NoError(t, err)

	n, err := s.checkTimeout()
	require.NoError(t, err)
	assert.Zero(t, n, "timer has not fired")

	ch.sent = nil
	timer.fire = true
	n, err = s.checkTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint32{3, 4}, ch.dataSeqs(), "each outstanding seq resent once")
	assert.True(t, timer.running, "timer re-armed after retransmission")
	for _, d := range ch.sent {
		assert.True(t, d.Valid())
	}
}

func TestSender_EmptySource(t *testing.T) {
	ch := newChannel()
	timer := new(fakeTimer)
	s, err := New(DefaultConfig(), bytes.NewReader(nil), ch, timer)
	require.NoError(t, err)

	runSender(t, s)

	require.Len(t, ch.sent, 1)
	assert.True(t, ch.sent[0].IsEndMarker())
	assert.Equal(t, uint32(FirstSeqNum), ch.sent[0].SeqNum)
	assert.Zero(t, timer.starts)
}

func TestSender_EndMarkerRepeats(t *testing.T) {
	ch := newChannel()
	conf := testConfig(3, 4)
	conf.EndMarkerRepeats = 3
	s, err := New(conf, bytes.NewReader([]byte("0123456789")), ch, new(fakeTimer))
	require.NoError(t, err)

	runSender(t, s)

	require.Len(t, ch.ends, 3)
	for _, end := range ch.ends {
		assert.Equal(t, uint32(4), end.SeqNum)
	}
	assert.Equal(t, 3, s.Stats().EndMarkersSent)
}

// Random loss, duplication, corruption and reordering in both directions.
func TestSender_LossyChannel(t *testing.T) {
	const (
		window  = 8
		payload = 32
	)
	input := randomInput(t, 100*payload+17)

	for seed := int64(1); seed <= 5; seed++ {
		ch := newChannel()
		lossy := udt.NewLossy(ch, udt.LossConfig{
			Drop:      0.2,
			Corrupt:   0.1,
			Duplicate: 0.1,
			Reorder:   0.1,
			Seed:      seed,
		})
		spy := &spyTransport{Transport: lossy}
		timer := &fakeTimer{expireAfter: 4}

		s, err := New(testConfig(window, payload), bytes.NewReader(input), spy, timer)
		require.NoError(t, err)

		lastBase := s.win.Base()
		spy.onSend = func(d *datagram.Datagram) {
			assert.LessOrEqual(t, s.win.Len(), window)
			assert.GreaterOrEqual(t, s.win.Base(), lastBase)
			lastBase = s.win.Base()
			if !d.IsEndMarker() {
				assert.True(t, d.SeqNum >= s.win.Base() && d.SeqNum < s.win.Next())
			}
		}

		runSender(t, s)

		assert.Equal(t, input, ch.received.Bytes(), "seed %d", seed)
		assert.True(t, s.win.Empty())
		require.Len(t, spy.ends, 1)
		assert.Equal(t, s.win.Next(), spy.ends[0].SeqNum)
		assert.Equal(t, uint32(102), s.win.Next())
	}
}

type spyTransport struct {
	udt.Transport
	ends   []*datagram.Datagram
	onSend func(d *datagram.Datagram)
}

func (s *spyTransport) Send(d *datagram.Datagram) error {
	if s.onSend != nil {
		s.onSend(d)
	}
	if d.IsEndMarker() {
		s.ends = append(s.ends, d)
	}
	return s.Transport.Send(d)
}

func TestSender_Errors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("source", func(t *testing.T) {
		s, err := New(DefaultConfig(), failingReader{boom}, newChannel(), new(fakeTimer))
		require.NoError(t, err)
		assert.Equal(t, boom, errors.Cause(s.Run(context.Background())))
	})

	t.Run("send", func(t *testing.T) {
		ch := newChannel()
		ch.sendErr = boom
		s, err := New(DefaultConfig(), bytes.NewReader([]byte("x")), ch, new(fakeTimer))
		require.NoError(t, err)
		assert.Equal(t, boom, errors.Cause(s.Run(context.Background())))
	})

	t.Run("receive", func(t *testing.T) {
		ch := newChannel()
		ch.recvErr = boom
		s, err := New(DefaultConfig(), bytes.NewReader([]byte("x")), ch, new(fakeTimer))
		require.NoError(t, err)
		assert.Equal(t, boom, errors.Cause(s.Run(context.Background())))
	})

	t.Run("cancelled", func(t *testing.T) {
		ch := newChannel()
		ch.holdAcks = true
		conf := DefaultConfig()
		conf.IdleWait = time.Millisecond
		s, err := New(conf, bytes.NewReader([]byte("x")), ch, new(fakeTimer))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.Equal(t, context.DeadlineExceeded, errors.Cause(s.Run(ctx)))
		assert.Empty(t, ch.ends, "no end marker after an abort")
	})

	t.Run("config", func(t *testing.T) {
		_, err := New(Config{}, bytes.NewReader(nil), newChannel(), nil)
		assert.Error(t, err)
	})
}
