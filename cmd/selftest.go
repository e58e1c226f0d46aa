package cmd

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ecatlink/ecatlink/ecfr"
	"github.com/ecatlink/ecatlink/ecmd"
	"github.com/ecatlink/ecatlink/ecnic"
	"github.com/ecatlink/ecatlink/sim"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Exercise the driver against the built-in slave simulator",
	Long: `selftest runs the driver's core scenarios against simulated slaves:
a confirmed broadcast round trip, out-of-order reply correlation,
redundant cross-over arbitration and a command-layer read. No network
access is needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios := []struct {
			name string
			run  func() error
		}{
			{"round-trip", selftestRoundTrip},
			{"out-of-order", selftestOutOfOrder},
			{"redundant-cross-over", selftestRedundant},
			{"command-layer", selftestCommand},
		}

		for _, sc := range scenarios {
			if err := sc.run(); err != nil {
				return fmt.Errorf("%s: %w", sc.name, err)
			}
			logrus.WithField("scenario", sc.name).Info("passed")
		}
		return nil
	},
}

func newSimPort(nslaves int) (*ecnic.Port, *sim.Device, error) {
	slaves := make([]sim.FrameProcessor, nslaves)
	for i := range slaves {
		slaves[i] = sim.NewSlave()
	}
	dev := sim.NewDevice("sim0", slaves...)

	p := ecnic.NewPort()
	if err := p.Setup(dev); err != nil {
		return nil, nil, err
	}
	return p, dev, nil
}

// buildBroadcastRead fills the slot's transmit buffer with one BRD datagram
// the way the command layer does.
func buildBroadcastRead(p *ecnic.Port, idx uint8, offset uint16, datalen int) error {
	f, err := ecfr.PointFrameTo(p.TxFrame(idx))
	if err != nil {
		return err
	}
	f.Header.SetType(1)

	dg, err := f.NewDatagram(datalen)
	if err != nil {
		return err
	}
	dg.Command = ecfr.BRD
	dg.Index = idx
	dg.Addr32 = ecfr.PositionAddr(0, offset).Addr32()
	dg.SetLast(true)

	d, err := f.Commit()
	if err != nil {
		return err
	}
	p.SetTxLength(idx, len(d))
	return nil
}

func dumpReply(p *ecnic.Port, idx uint8) {
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		var f ecfr.Frame
		if _, err := f.Overlay(p.RxFrame(idx)); err == nil {
			spew.Dump(f)
		}
	}
}

func selftestRoundTrip() error {
	p, _, err := newSimPort(2)
	if err != nil {
		return err
	}
	defer p.Close()

	idx := p.GetIndex()
	if err := buildBroadcastRead(p, idx, sim.RegType, 2); err != nil {
		return err
	}
	if err := p.OutFrame(idx, ecnic.Primary); err != nil {
		return err
	}

	wkc := p.WaitInFrame(idx, ecmd.DefaultTimeoutUs)
	if wkc != 2 {
		return fmt.Errorf("expected working counter 2, got %d", wkc)
	}
	dumpReply(p, idx)
	return nil
}

func selftestOutOfOrder() error {
	p, dev, err := newSimPort(1)
	if err != nil {
		return err
	}
	defer p.Close()

	// capture replies instead of queuing them, then deliver shuffled
	var replies [][]byte
	dev.Sink = func(b []byte) {
		replies = append(replies, b)
	}

	idxs := make([]uint8, 3)
	for i := range idxs {
		idxs[i] = p.GetIndex()
		if err := buildBroadcastRead(p, idxs[i], sim.RegType, 2+2*i); err != nil {
			return err
		}
		if err := p.OutFrame(idxs[i], ecnic.Primary); err != nil {
			return err
		}
	}

	for _, i := range []int{1, 2, 0} {
		dev.Deliver(replies[i])
	}

	for i, idx := range idxs {
		if wkc := p.WaitInFrame(idx, ecmd.DefaultTimeoutUs); wkc != 1 {
			return fmt.Errorf("frame %d: expected working counter 1, got %d", i, wkc)
		}

		var f ecfr.Frame
		if _, err := f.Overlay(p.RxFrame(idx)); err != nil {
			return err
		}
		if len(f.Datagrams) == 0 || f.Datagrams[0].Index != idx {
			return fmt.Errorf("frame %d: reply filed under the wrong index", i)
		}
		if got := int(f.Datagrams[0].DataLength()); got != 2+2*i {
			return fmt.Errorf("frame %d: expected %d data bytes, got %d", i, 2+2*i, got)
		}
	}
	return nil
}

func selftestRedundant() error {
	pri := sim.NewDevice("pri0", sim.NewSlave())
	sec := sim.NewDevice("sec0")

	// intact ring: each wire's output surfaces on the other side's socket
	pri.Sink = sec.Deliver
	sec.Sink = pri.Deliver

	p := ecnic.NewPort()
	if err := p.Setup(pri); err != nil {
		return err
	}
	if err := p.SetupRedundant(sec); err != nil {
		return err
	}
	defer p.Close()

	idx := p.GetIndex()
	if err := buildBroadcastRead(p, idx, sim.RegType, 2); err != nil {
		return err
	}

	wkc, err := p.SRConfirm(idx, ecmd.DefaultTimeoutUs)
	if err != nil {
		return err
	}
	if wkc != 1 {
		return fmt.Errorf("expected working counter 1, got %d", wkc)
	}
	dumpReply(p, idx)
	return nil
}

func selftestCommand() error {
	p, _, err := newSimPort(3)
	if err != nil {
		return err
	}
	defer p.Close()

	pc := ecmd.NewPortCommander(p, 0)
	defer pc.Close()

	d, err := ecmd.ExecuteRead(pc, ecfr.BRD, ecfr.PositionAddr(0, sim.RegType), 2, 3)
	if err != nil {
		return err
	}
	if len(d) != 2 || d[0] != 0x11 {
		return errors.New("unexpected type register contents")
	}
	return nil
}
