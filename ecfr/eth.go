package ecfr

import (
	"fmt"
)

type ETHAddr [6]byte

func (a ETHAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

const (
	ETHHeaderLen = 14

	// EtherType assigned to EtherCAT.
	EtherTypeECAT = 0x88a4
)

// EtherCAT does not address NICs. The destination is always broadcast and the
// source is one of two fixed addresses whose second word tags the physical
// path a frame traveled. Redundant configurations read that word back from
// received frames to reconstruct the packet flow.
var (
	Broadcast       = ETHAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	PrimarySource   = ETHAddr{0x02, 0x01, 0x01, 0x01, 0x01, 0x01}
	SecondarySource = ETHAddr{0x06, 0x04, 0x04, 0x04, 0x04, 0x04}
)

// Second 16 bit word of the fixed source addresses, used as path identifiers.
const (
	PrimarySourceWord   uint16 = 0x0101
	SecondarySourceWord uint16 = 0x0404
)

// StampHeader writes the fixed Ethernet prefix into the first ETHHeaderLen
// bytes of b. It is written once per transmit buffer at port setup; the
// EtherCAT frame is built in place behind it.
func StampHeader(b []byte, src ETHAddr) {
	_ = b[ETHHeaderLen-1]
	copy(b[0:6], Broadcast[:])
	copy(b[6:12], src[:])
	putUint16BE(b[12:14], EtherTypeECAT)
}

// EtherType reads the ethertype of a full Ethernet frame.
func EtherType(b []byte) uint16 {
	v, _ := getUint16BE(b[12:14])
	return v
}

// SourceWord reads the second word of the source address of a full Ethernet
// frame.
func SourceWord(b []byte) uint16 {
	v, _ := getUint16BE(b[8:10])
	return v
}

// SetSourceWord rewrites the second word of the source address in place.
// Redundant transmit uses this to retag a prepared buffer for the path it is
// about to leave on.
func SetSourceWord(b []byte, w uint16) {
	putUint16BE(b[8:10], w)
}
