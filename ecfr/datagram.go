package ecfr

import (
	"fmt"
)

const (
	datagramHeaderByteLen = 10

	// DatagramOverheadLength is header plus trailing working counter.
	DatagramOverheadLength = datagramHeaderByteLen + 2
)

type Datagram struct {
	DatagramHeader
	WorkingCounter uint16

	data   []byte
	buffer []byte
}

// Overlay points the datagram at the wire representation in d and returns the
// bytes following it.
func (dg *Datagram) Overlay(d []byte) (b []byte, err error) {
	b, err = dg.DatagramHeader.Overlay(d)
	if err != nil {
		return
	}

	if len(b) < int(dg.DataLength()) {
		err = fmt.Errorf("overlaying ecat dgram: need %d bytes of data, have %d", dg.DataLength(), len(b))
		return
	}

	dg.data = b[:dg.DataLength()]
	b = b[dg.DataLength():]

	if len(b) < 2 {
		err = fmt.Errorf("overlaying ecat dgram: need 2 bytes for working counter, got %d", len(b))
		return
	}

	// guarded by condition above
	dg.WorkingCounter, b = getUint16(b)
	dg.buffer = d
	return
}

// PointDatagramTo prepares a zero length datagram over the buffer d. Header
// fields and data are filled in by the caller, then written out by Commit.
func PointDatagramTo(d []byte) (dg Datagram, err error) {
	if len(d) < DatagramOverheadLength {
		err = fmt.Errorf("need %d bytes for empty dgram, have %d", DatagramOverheadLength, len(d))
		return
	}

	dg.buffer = d
	dg.data = d[datagramHeaderByteLen:datagramHeaderByteLen]
	return
}

func (dg *Datagram) Data() []byte {
	return dg.data
}

// SetDataLen resizes the data area within the underlying buffer. The length
// word keeps its flag bits.
func (dg *Datagram) SetDataLen(n int) error {
	if n > int(dataLengthMask) {
		return fmt.Errorf("datagram data length %d exceeds maximum %d", n, dataLengthMask)
	}
	if datagramHeaderByteLen+n+2 > len(dg.buffer) {
		return fmt.Errorf("datagram data length %d does not fit buffer of %d", n, len(dg.buffer))
	}

	dg.LenWord &^= dataLengthMask
	dg.LenWord |= uint16(n) & dataLengthMask
	dg.data = dg.buffer[datagramHeaderByteLen : datagramHeaderByteLen+n]
	return nil
}

// Commit writes header, working counter and length word back into the
// underlying buffer and returns the wire bytes of this datagram.
func (dg *Datagram) Commit() (d []byte, err error) {
	b := dg.buffer
	if len(b) < dg.ByteLen() {
		err = fmt.Errorf("datagram needs %d bytes, buffer has %d", dg.ByteLen(), len(b))
		return
	}

	b = putUint8(b, uint8(dg.Command))
	b = putUint8(b, dg.Index)
	b = putUint32(b, dg.Addr32)
	b = putUint16(b, dg.LenWord)
	b = putUint16(b, dg.Interrupt)
	b = b[len(dg.data):]
	putUint16(b, dg.WorkingCounter)

	d = dg.buffer[:dg.ByteLen()]
	return
}

func (dg *Datagram) ByteLen() int {
	return DatagramOverheadLength + len(dg.data)
}

func (dg *Datagram) Summary() string {
	return fmt.Sprintf("%v idx %d addr %#08x len %d wkc %d",
		dg.Command, dg.Index, dg.Addr32, dg.DataLength(), dg.WorkingCounter)
}

type DatagramHeader struct {
	Command   CommandType
	Index     uint8
	Addr32    uint32
	LenWord   uint16
	Interrupt uint16
}

func (dh *DatagramHeader) Overlay(d []byte) (b []byte, err error) {
	b = d
	if len(b) < datagramHeaderByteLen {
		err = fmt.Errorf("need %d bytes for dgram header, have %d", datagramHeaderByteLen, len(b))
		return
	}

	var c8 uint8
	c8, b = getUint8(b)
	dh.Command = CommandType(c8)
	dh.Index, b = getUint8(b)
	dh.Addr32, b = getUint32(b)
	dh.LenWord, b = getUint16(b)
	dh.Interrupt, b = getUint16(b)

	return
}

func (dh *DatagramHeader) SlaveAddr() uint16 {
	return uint16(dh.Addr32)
}

func (dh *DatagramHeader) OffsetAddr() uint16 {
	return uint16(dh.Addr32 >> 16)
}

func (dh *DatagramHeader) LogicalAddr() uint32 {
	return dh.Addr32
}

func (dh *DatagramHeader) DataLength() uint16 {
	return dh.LenWord & dataLengthMask
}

func (dh *DatagramHeader) Roundtrip() bool {
	return (dh.LenWord & (1 << roundtripBit)) != 0
}

func (dh *DatagramHeader) Last() bool {
	return (dh.LenWord & (1 << lastindicatorBit)) == 0
}

func (dh *DatagramHeader) SetLast(last bool) {
	if last {
		dh.LenWord &^= 1 << lastindicatorBit
	} else {
		dh.LenWord |= 1 << lastindicatorBit
	}
}

const (
	dataLengthMask = (1 << 11) - 1

	roundtripBit     = 14
	lastindicatorBit = 15
)

// DatagramAddress carries the 32 bit address field together with the command
// interpretation it was built for.
type DatagramAddress uint32

func PositionAddr(pos uint16, offset uint16) DatagramAddress {
	return DatagramAddress(uint32(pos) | uint32(offset)<<16)
}

func StationAddr(station uint16, offset uint16) DatagramAddress {
	return DatagramAddress(uint32(station) | uint32(offset)<<16)
}

func LogicalAddr(addr uint32) DatagramAddress {
	return DatagramAddress(addr)
}

func (a DatagramAddress) Addr32() uint32 {
	return uint32(a)
}

func (a *DatagramAddress) SetOffset(offset uint16) {
	*a = DatagramAddress(uint32(*a)&0xffff | uint32(offset)<<16)
}

type CommandType uint8

func (ct CommandType) String() string {
	if cts, ok := commandTypeName[ct]; ok {
		return cts
	}
	return fmt.Sprintf("CommandType(%d)", uint(ct))
}

const (
	NOP  CommandType = 0
	APRD CommandType = 1
	APWR CommandType = 2
	APRW CommandType = 3
	FPRD CommandType = 4
	FPWR CommandType = 5
	FPRW CommandType = 6
	BRD  CommandType = 7
	BWR  CommandType = 8
	BRW  CommandType = 9
	LRD  CommandType = 10
	LWR  CommandType = 11
	LRW  CommandType = 12
	ARMW CommandType = 13
	FRMW CommandType = 14
)

var commandTypeName = map[CommandType]string{
	NOP:  "NOP",
	APRD: "APRD",
	APWR: "APWR",
	APRW: "APRW",
	FPRD: "FPRD",
	FPRW: "FPRW",
	FPWR: "FPWR",
	BRD:  "BRD",
	BWR:  "BWR",
	BRW:  "BRW",
	LRD:  "LRD",
	LWR:  "LWR",
	LRW:  "LRW",
	ARMW: "ARMW",
	FRMW: "FRMW",
}
