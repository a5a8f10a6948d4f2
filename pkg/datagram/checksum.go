package datagram

import (
	"github.com/google/netstack/tcpip/header"
)

// Checksum computes the internet checksum (RFC 1071) of the datagram header
// fields and the meaningful prefix of its payload. Bytes of the payload
// buffer beyond PayloadLength do not contribute.
func Checksum(d *Datagram) uint16 {
	var hdr [HeaderSize]byte
	putHeader(hdr[:], d)
	sum := header.Checksum(hdr[:], 0)
	sum = header.Checksum(d.Data(), sum)
	return ^sum
}

// Validate reports whether d carries the checksum Checksum would compute for it.
func Validate(d *Datagram) bool {
	return d != nil && d.Checksum == Checksum(d)
}
