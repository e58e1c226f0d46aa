package ecmd

import (
	"testing"

	"github.com/ecatlink/ecatlink/ecfr"
	"github.com/ecatlink/ecatlink/ecnic"
	"github.com/ecatlink/ecatlink/sim"
)

func newSimCommander(t *testing.T, nslaves int) (*PortCommander, *sim.Device) {
	t.Helper()

	slaves := make([]sim.FrameProcessor, nslaves)
	for i := range slaves {
		slaves[i] = sim.NewSlave()
	}
	dev := sim.NewDevice("sim0", slaves...)

	p := ecnic.NewPort()
	if err := p.Setup(dev); err != nil {
		t.Fatalf("port setup failed: %v", err)
	}
	return NewPortCommander(p, 0), dev
}

func TestExecuteReadBroadcast(t *testing.T) {
	pc, _ := newSimCommander(t, 3)

	d, err := ExecuteRead(pc, ecfr.BRD, ecfr.PositionAddr(0, sim.RegType), 2, 3)
	if err != nil {
		t.Fatalf("did not expect broadcast read to fail. err is %v", err)
	}

	if d[0] != 0x11 {
		t.Fatalf("expected type register 0x11, got %#02x", d[0])
	}
}

func TestExecuteWriteThenStationRead(t *testing.T) {
	pc, _ := newSimCommander(t, 2)

	addr := ecfr.PositionAddr(0, sim.RegConfiguredStationAddress)
	err := ExecuteWrite(pc, ecfr.APWR, addr, []byte{0x01, 0x10}, 1)
	if err != nil {
		t.Fatalf("did not expect station address write to fail. err is %v", err)
	}

	d, err := ExecuteRead(pc, ecfr.FPRD, ecfr.StationAddr(0x1001, sim.RegType), 1, 1)
	if err != nil {
		t.Fatalf("did not expect configured address read to fail. err is %v", err)
	}
	if d[0] != 0x11 {
		t.Fatalf("expected type register 0x11, got %#02x", d[0])
	}
}

func TestExecuteReadFramelossGivesUp(t *testing.T) {
	pc, dev := newSimCommander(t, 1)
	dev.SetDown(true)

	_, err := ExecuteRead(pc, ecfr.BRD, ecfr.PositionAddr(0, sim.RegType), 2, 1)
	if !IsNoFrame(err) {
		t.Fatalf("expected NoFrame on a dead link, got %v", err)
	}
}

func TestExecuteReadWorkingCounterMismatch(t *testing.T) {
	pc, _ := newSimCommander(t, 2)

	d, err := ExecuteRead(pc, ecfr.BRD, ecfr.PositionAddr(0, sim.RegType), 2, 5)
	if !IsWorkingCounterError(err) {
		t.Fatalf("expected a working counter error, got %v", err)
	}

	wce := err.(WorkingCounterError)
	if wce.Want != 5 || wce.Have != 2 {
		t.Fatalf("unexpected counters in %v", wce)
	}

	// the data still arrived and is handed out alongside the error
	if len(d) != 2 || d[0] != 0x11 {
		t.Fatalf("expected data despite the counter mismatch, got %#v", d)
	}
}

func TestPortCommanderCloseReleasesSlots(t *testing.T) {
	pc, _ := newSimCommander(t, 1)

	for i := 0; i < 2*ecnic.MaxBuf; i++ {
		if _, err := pc.New(2); err != nil {
			t.Fatalf("command %d failed: %v", i, err)
		}
		if err := pc.Close(); err != nil {
			t.Fatalf("close %d failed: %v", i, err)
		}
	}

	// a fresh command still cycles after all those abandoned ones
	d, err := ExecuteRead(pc, ecfr.BRD, ecfr.PositionAddr(0, sim.RegType), 2, 1)
	if err != nil {
		t.Fatalf("did not expect read to fail after releases. err is %v", err)
	}
	if d[0] != 0x11 {
		t.Fatalf("expected type register 0x11, got %#02x", d[0])
	}
}

func TestPortCommanderMultipleCommandsPerCycle(t *testing.T) {
	pc, _ := newSimCommander(t, 2)

	var ecs []*ExecutingCommand
	for i := 0; i < 4; i++ {
		ec, err := pc.New(2)
		if err != nil {
			t.Fatalf("command %d failed: %v", i, err)
		}
		ec.DatagramOut.Command = ecfr.BRD
		ec.DatagramOut.Addr32 = ecfr.PositionAddr(0, sim.RegType).Addr32()
		ecs = append(ecs, ec)
	}

	if err := pc.Cycle(); err != nil {
		t.Fatalf("did not expect Cycle() to fail. err is %v", err)
	}

	for i, ec := range ecs {
		if err := ChooseDefaultError(ec); err != nil {
			t.Fatalf("command %d did not confirm: %v", i, err)
		}
		if ec.DatagramIn.WorkingCounter != 2 {
			t.Fatalf("command %d: expected working counter 2, got %d",
				i, ec.DatagramIn.WorkingCounter)
		}
	}
}
