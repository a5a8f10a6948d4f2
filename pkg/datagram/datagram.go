// Package datagram defines the fixed-layout packet exchanged by the file
// transfer client and its receiver.
package datagram

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	// MaxPayloadLength is the capacity of the payload buffer of every Datagram.
	MaxPayloadLength = 1024

	// HeaderSize is the size of seqNum(4):ackNum(4):payloadLength(2).
	HeaderSize = 10

	// ChecksumSize is the size of the trailing checksum.
	ChecksumSize = 2

	// Size is the size of an encoded Datagram. The payload buffer is always
	// transmitted in full, only the first PayloadLength bytes are meaningful.
	Size = HeaderSize + MaxPayloadLength + ChecksumSize
)

var (
	// ErrInvalidLength is returned when decoding a buffer that is not exactly Size bytes.
	ErrInvalidLength = errors.New("invalid datagram length")

	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadLength.
	ErrPayloadTooLarge = errors.New("payload exceeds datagram capacity")
)

// Datagram is a single packet of the transfer protocol.
// An end-of-stream marker is a Datagram with PayloadLength 0.
type Datagram struct {
	SeqNum        uint32
	AckNum        uint32
	PayloadLength uint16
	Payload       [MaxPayloadLength]byte
	Checksum      uint16
}

// NewData constructs a sealed data Datagram carrying a copy of payload.
func NewData(seq uint32, payload []byte) (*Datagram, error) {
	if len(payload) > MaxPayloadLength {
		return nil, ErrPayloadTooLarge
	}
	d := &Datagram{SeqNum: seq, PayloadLength: uint16(len(payload))}
	copy(d.Payload[:], payload)
	d.Seal()
	return d, nil
}

// NewAck constructs a sealed cumulative acknowledgement for ack.
func NewAck(ack uint32) *Datagram {
	d := &Datagram{AckNum: ack}
	d.Seal()
	return d
}

// NewEndMarker constructs a sealed end-of-stream marker.
func NewEndMarker(seq uint32) *Datagram {
	d := &Datagram{SeqNum: seq}
	d.Seal()
	return d
}

// Data returns the meaningful prefix of the payload buffer.
func (d *Datagram) Data() []byte {
	n := int(d.PayloadLength)
	if n > MaxPayloadLength {
		n = MaxPayloadLength
	}
	return d.Payload[:n]
}

// IsEndMarker reports whether d marks the end of the stream.
func (d *Datagram) IsEndMarker() bool {
	return d.PayloadLength == 0
}

// Seal recomputes and stores the checksum. It must be called after any
// mutation and immediately before the datagram is sent.
func (d *Datagram) Seal() {
	d.Checksum = Checksum(d)
}

// Valid reports whether the stored checksum matches a fresh computation.
func (d *Datagram) Valid() bool {
	return Validate(d)
}

// String implements fmt.Stringer.
func (d *Datagram) String() string {
	return fmt.Sprintf("datagram{seq: %d, ack: %d, len: %d, checksum: %#04x}",
		d.SeqNum, d.AckNum, d.PayloadLength, d.Checksum)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (d *Datagram) MarshalBinary() ([]byte, error) {
	if d.PayloadLength > MaxPayloadLength {
		return nil, ErrPayloadTooLarge
	}
	b := make([]byte, Size)
	putHeader(b, d)
	copy(b[HeaderSize:], d.Payload[:])
	binary.BigEndian.PutUint16(b[HeaderSize+MaxPayloadLength:], d.Checksum)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. It does not validate
// the checksum; callers decide what to do with corrupt datagrams.
func (d *Datagram) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return errors.Wrapf(ErrInvalidLength, "got %d bytes, want %d", len(b), Size)
	}
	payloadLen := binary.BigEndian.Uint16(b[8:10])
	if payloadLen > MaxPayloadLength {
		return errors.Wrapf(ErrPayloadTooLarge, "payload length %d", payloadLen)
	}
	d.SeqNum = binary.BigEndian.Uint32(b[0:4])
	d.AckNum = binary.BigEndian.Uint32(b[4:8])
	d.PayloadLength = payloadLen
	copy(d.Payload[:], b[HeaderSize:HeaderSize+MaxPayloadLength])
	d.Checksum = binary.BigEndian.Uint16(b[HeaderSize+MaxPayloadLength:])
	return nil
}

func putHeader(b []byte, d *Datagram) {
	binary.BigEndian.PutUint32(b[0:4], d.SeqNum)
	binary.BigEndian.PutUint32(b[4:8], d.AckNum)
	binary.BigEndian.PutUint16(b[8:10], d.PayloadLength)
}
