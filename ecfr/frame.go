package ecfr

import (
	"errors"
	"fmt"
)

const (
	FrameOverheadLen = 2

	// Offset of the first datagram's index field from the start of the
	// frame header: frame header, command byte, then index.
	frameIndexOffset = FrameOverheadLen + 1
)

type Frame struct {
	Header    Header
	Datagrams []*Datagram
	buffer    []byte
}

func (f *Frame) Overlay(d []byte) (b []byte, err error) {
	b, err = f.Header.Overlay(d)
	if err != nil {
		return
	}

	dgbl := f.Header.FrameLength()
	if int(dgbl) > len(b) {
		err = fmt.Errorf("frame expected %d bytes, only have %d", dgbl, len(b))
		return
	}

	for {
		f.Datagrams = append(f.Datagrams, &Datagram{})
		i := len(f.Datagrams) - 1

		b, err = f.Datagrams[i].Overlay(b)
		if err != nil {
			return
		}

		if f.Datagrams[i].Last() {
			break
		}
	}

	f.buffer = d

	return
}

func PointFrameTo(d []byte) (f Frame, err error) {
	if len(d) < FrameOverheadLen {
		err = errors.New("buffer too small to even contain frame header")
		return
	}

	d[0] = 0
	d[1] = 0
	_, err = f.Header.Overlay(d)
	if err != nil {
		return
	}

	f.buffer = d

	return
}

func (f *Frame) Commit() (d []byte, err error) {
	var incbuf []byte
	totlen := 0

	if len(f.Datagrams) == 0 {
		err = errors.New("ecat frame needs at least one datagram")
		return
	}

	clen := f.ByteLen()
	if clen > len(f.buffer) {
		err = fmt.Errorf("datagrams too long for frame, need %d, have %d", clen, len(f.buffer))
		return
	}

	f.Header.Word &^= frameLengthMask
	f.Header.Word |= uint16(clen-FrameOverheadLen) & frameLengthMask

	incbuf, err = f.Header.Commit()
	if err != nil {
		return
	}
	totlen += len(incbuf)

	for _, dgram := range f.Datagrams {
		incbuf, err = dgram.Commit()
		if err != nil {
			return
		}
		totlen += len(incbuf)
	}

	d = f.buffer[0:totlen]

	return
}

func (f *Frame) ByteLen() int {
	clen := FrameOverheadLen
	for _, dgram := range f.Datagrams {
		clen += dgram.ByteLen()
	}
	return clen
}

func (f *Frame) NewDatagram(datalen int) (*Datagram, error) {
	curlen := f.ByteLen()
	curfree := len(f.buffer) - curlen
	if datalen+DatagramOverheadLength > curfree {
		return nil, fmt.Errorf("datalen %d does not fit %d free frame bytes", datalen, curfree)
	}

	dgram, err := PointDatagramTo(f.buffer[curlen:])
	if err != nil {
		return nil, err
	}

	err = dgram.SetDataLen(datalen)
	if err != nil {
		return nil, err
	}

	f.Datagrams = append(f.Datagrams, &dgram)

	return &dgram, nil
}

// PeekIndex extracts the correlation index of the first datagram without
// overlaying the whole frame. b starts at the frame header.
func PeekIndex(b []byte) (uint8, bool) {
	if len(b) <= frameIndexOffset {
		return 0, false
	}
	return b[frameIndexOffset], true
}

// PokeIndex rewrites the correlation index of the first datagram in place.
func PokeIndex(b []byte, idx uint8) {
	b[frameIndexOffset] = idx
}

// TrailingWorkCounter extracts the working counter trailing the datagram
// area of a committed frame. b starts at the frame header. The frame length
// field counts the datagram area including its working counters, and the
// frame header happens to be as long as a working counter, so the last
// counter sits exactly FrameLength bytes into the buffer.
func TrailingWorkCounter(b []byte) (uint16, bool) {
	if len(b) < FrameOverheadLen {
		return 0, false
	}
	l, _ := getUint16(b)
	l &= frameLengthMask
	if int(l)+2 > len(b) {
		return 0, false
	}
	wkc, _ := getUint16(b[l:])
	return wkc, true
}
