package sim

import (
	"testing"

	"github.com/ecatlink/ecatlink/ecfr"
)

func buildFrame(t *testing.T, buf []byte, cmd ecfr.CommandType, idx uint8, addr ecfr.DatagramAddress, datalen int) []byte {
	t.Helper()

	f, err := ecfr.PointFrameTo(buf)
	if err != nil {
		t.Fatalf("PointFrameTo failed: %v", err)
	}
	f.Header.SetType(1)

	dg, err := f.NewDatagram(datalen)
	if err != nil {
		t.Fatalf("NewDatagram failed: %v", err)
	}
	dg.Command = cmd
	dg.Index = idx
	dg.Addr32 = addr.Addr32()
	dg.SetLast(true)

	d, err := f.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return d
}

func sendAndReceive(t *testing.T, dev *Device, ecat []byte) *ecfr.Frame {
	t.Helper()

	frame := make([]byte, ecfr.ETHHeaderLen+len(ecat))
	ecfr.StampHeader(frame, ecfr.PrimarySource)
	copy(frame[ecfr.ETHHeaderLen:], ecat)

	if err := dev.Send(frame); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	rbuf := make([]byte, 1518)
	n, err := dev.Recv(rbuf)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if n == 0 {
		t.Fatalf("no frame looped back")
	}

	var fin ecfr.Frame
	if _, err := fin.Overlay(rbuf[ecfr.ETHHeaderLen:n]); err != nil {
		t.Fatalf("Overlay of reply failed: %v", err)
	}
	return &fin
}

func TestLoopbackWorkingCounter(t *testing.T) {
	dev := NewDevice("sim0", NewSlave(), NewSlave(), NewSlave())

	buf := make([]byte, 256)
	ecat := buildFrame(t, buf, ecfr.BRD, 4, ecfr.PositionAddr(0, RegType), 2)

	fin := sendAndReceive(t, dev, ecat)
	dg := fin.Datagrams[0]

	if dg.Index != 4 {
		t.Fatalf("reply index got %d, want 4", dg.Index)
	}
	if dg.WorkingCounter != 3 {
		t.Fatalf("BRD over 3 slaves: wkc got %d, want 3", dg.WorkingCounter)
	}
	if dg.Data()[0] != 0x11 {
		t.Fatalf("type register got %#02x, want 0x11", dg.Data()[0])
	}
}

func TestPositionAddressing(t *testing.T) {
	dev := NewDevice("sim0", NewSlave(), NewSlave())

	buf := make([]byte, 256)
	ecat := buildFrame(t, buf, ecfr.APRD, 1, ecfr.PositionAddr(0, RegRevision), 1)

	fin := sendAndReceive(t, dev, ecat)
	dg := fin.Datagrams[0]

	if dg.WorkingCounter != 1 {
		t.Fatalf("APRD wkc got %d, want 1: only the addressed slave answers", dg.WorkingCounter)
	}
	if dg.SlaveAddr() != 2 {
		t.Fatalf("position after 2 slaves got %d, want 2", dg.SlaveAddr())
	}
}

func TestStationAddressing(t *testing.T) {
	dev := NewDevice("sim0", NewSlave(), NewSlave())

	// assign station address 0x1001 to the slave at position 0
	buf := make([]byte, 256)
	ecat := buildFrame(t, buf, ecfr.APWR, 2, ecfr.PositionAddr(0, RegConfiguredStationAddress), 2)
	copy(ecat[ecfr.FrameOverheadLen+10:], []byte{0x01, 0x10})
	fin := sendAndReceive(t, dev, ecat)
	if fin.Datagrams[0].WorkingCounter != 1 {
		t.Fatalf("APWR wkc got %d, want 1", fin.Datagrams[0].WorkingCounter)
	}

	// the configured slave answers FPRD, the other does not
	buf2 := make([]byte, 256)
	ecat2 := buildFrame(t, buf2, ecfr.FPRD, 3, ecfr.StationAddr(0x1001, RegType), 1)
	fin2 := sendAndReceive(t, dev, ecat2)
	if fin2.Datagrams[0].WorkingCounter != 1 {
		t.Fatalf("FPRD wkc got %d, want 1", fin2.Datagrams[0].WorkingCounter)
	}
	if fin2.Datagrams[0].Data()[0] != 0x11 {
		t.Fatalf("FPRD data got %#02x, want 0x11", fin2.Datagrams[0].Data()[0])
	}
}

func TestDownLinkDropsFrames(t *testing.T) {
	dev := NewDevice("sim0", NewSlave())
	dev.Down = true

	buf := make([]byte, 256)
	ecat := buildFrame(t, buf, ecfr.BRD, 0, ecfr.PositionAddr(0, 0), 2)

	frame := make([]byte, ecfr.ETHHeaderLen+len(ecat))
	ecfr.StampHeader(frame, ecfr.PrimarySource)
	copy(frame[ecfr.ETHHeaderLen:], ecat)

	if err := dev.Send(frame); err != nil {
		t.Fatalf("Send on a down link must lose the frame silently, got %v", err)
	}

	rbuf := make([]byte, 1518)
	n, err := dev.Recv(rbuf)
	if err != nil || n != 0 {
		t.Fatalf("Recv got (%d, %v), want (0, nil)", n, err)
	}
}

func TestSinkRedirection(t *testing.T) {
	devB := NewDevice("simB", NewSlave())
	devA := NewDevice("simA", NewSlave())
	devA.Sink = devB.Deliver

	buf := make([]byte, 256)
	ecat := buildFrame(t, buf, ecfr.BRD, 7, ecfr.PositionAddr(0, RegType), 2)

	frame := make([]byte, ecfr.ETHHeaderLen+len(ecat))
	ecfr.StampHeader(frame, ecfr.PrimarySource)
	copy(frame[ecfr.ETHHeaderLen:], ecat)

	if err := devA.Send(frame); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	rbuf := make([]byte, 1518)
	if n, _ := devA.Recv(rbuf); n != 0 {
		t.Fatalf("reply must not surface on the sending device")
	}
	n, err := devB.Recv(rbuf)
	if err != nil || n == 0 {
		t.Fatalf("redirected reply missing: (%d, %v)", n, err)
	}
	if idx, ok := ecfr.PeekIndex(rbuf[ecfr.ETHHeaderLen:n]); !ok || idx != 7 {
		t.Fatalf("redirected reply index got (%d, %v), want (7, true)", idx, ok)
	}
}
