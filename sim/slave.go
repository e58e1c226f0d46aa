package sim

import (
	"github.com/ecatlink/ecatlink/ecfr"
)

// DL-layer register addresses the simulator backs with real memory.
const (
	RegType           = 0x0000
	RegRevision       = 0x0001
	RegBuild          = 0x0002
	RegPortDescriptor = 0x0007

	RegConfiguredStationAddress = 0x0010

	RegDLControl = 0x0100
	RegDLStatus  = 0x0110
)

// Slave models one slave controller's datagram handling: address matching,
// memory access and the working counter increments the master correlates
// against. Higher protocol behavior (mailboxes, CoE) is out of scope.
type Slave struct {
	StationAddr uint16

	Memory [1 << 16]byte
}

func NewSlave() *Slave {
	s := &Slave{}

	// ET1100 style signature
	copy(s.Memory[RegType:], []byte{0x11, 0x00, 0x02, 0x00, 0x08, 0x08, 0x08, 0x0b, 0xfc})

	return s
}

func (s *Slave) ProcessFrame(f *ecfr.Frame) *ecfr.Frame {
	for _, dg := range f.Datagrams {
		s.processDatagram(dg)
	}
	return f
}

func (s *Slave) processDatagram(dg *ecfr.Datagram) {
	data := dg.Data()

	switch dg.Command {
	case ecfr.BRD:
		s.read(dg.OffsetAddr(), data)
		dg.WorkingCounter++

	case ecfr.BWR:
		s.write(dg.OffsetAddr(), data)
		dg.WorkingCounter++

	case ecfr.APRD, ecfr.APWR:
		// position addressing: the slave at position 0 answers, everyone
		// increments the position on the way through
		pos := dg.SlaveAddr()
		if pos == 0 {
			if dg.Command == ecfr.APRD {
				s.read(dg.OffsetAddr(), data)
			} else {
				s.write(dg.OffsetAddr(), data)
			}
			dg.WorkingCounter++
		}
		dg.Addr32 = dg.Addr32&0xffff0000 | uint32(pos+1)

	case ecfr.FPRD, ecfr.FPWR:
		if dg.SlaveAddr() == s.StationAddr && s.StationAddr != 0 {
			if dg.Command == ecfr.FPRD {
				s.read(dg.OffsetAddr(), data)
			} else {
				s.write(dg.OffsetAddr(), data)
			}
			dg.WorkingCounter++
		}
	}
}

func (s *Slave) read(addr uint16, data []byte) {
	for i := range data {
		// broadcast reads OR over all slaves
		data[i] |= s.Memory[addr+uint16(i)]
	}
}

func (s *Slave) write(addr uint16, data []byte) {
	for i := range data {
		s.Memory[addr+uint16(i)] = data[i]
	}

	if addr <= RegConfiguredStationAddress &&
		int(addr)+len(data) >= RegConfiguredStationAddress+2 {
		off := RegConfiguredStationAddress - int(addr)
		s.StationAddr = uint16(data[off]) | uint16(data[off+1])<<8
	}
}
