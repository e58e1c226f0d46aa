package ecmd

import (
	"github.com/ecatlink/ecatlink/ecfr"
	"github.com/ecatlink/ecatlink/ecnic"
)

const (
	// DefaultTimeoutUs bounds one command's confirmed round trip,
	// retransmissions included.
	DefaultTimeoutUs = 20000
)

type pendingCommand struct {
	idx   uint8
	frame ecfr.Frame
	cmd   *ExecutingCommand
}

// PortCommander executes commands directly against a port: every command
// gets its own correlation index and frame, and Cycle confirms them one by
// one over the (possibly redundant) wire. Not safe for concurrent use; put
// a Multiplexer in front when sharing.
type PortCommander struct {
	port      *ecnic.Port
	timeoutUs int
	pending   []*pendingCommand
}

func NewPortCommander(port *ecnic.Port, timeoutUs int) *PortCommander {
	if timeoutUs <= 0 {
		timeoutUs = DefaultTimeoutUs
	}
	return &PortCommander{port: port, timeoutUs: timeoutUs}
}

func (pc *PortCommander) New(datalen int) (*ExecutingCommand, error) {
	idx := pc.port.GetIndex()

	f, err := ecfr.PointFrameTo(pc.port.TxFrame(idx))
	if err != nil {
		pc.port.SetBufStat(idx, ecnic.BufEmpty)
		return nil, err
	}
	f.Header.SetType(1)

	dg, err := f.NewDatagram(datalen)
	if err != nil {
		pc.port.SetBufStat(idx, ecnic.BufEmpty)
		return nil, err
	}
	dg.Index = idx
	dg.SetLast(true)

	cmd := &ExecutingCommand{DatagramOut: dg}
	pc.pending = append(pc.pending, &pendingCommand{idx: idx, frame: f, cmd: cmd})
	return cmd, nil
}

func (pc *PortCommander) Cycle() error {
	defer func() {
		pc.pending = nil
	}()

	for _, pd := range pc.pending {
		d, err := pd.frame.Commit()
		if err != nil {
			pd.cmd.Error = err
			pc.port.SetBufStat(pd.idx, ecnic.BufEmpty)
			continue
		}
		pc.port.SetTxLength(pd.idx, len(d))

		wkc, err := pc.port.SRConfirm(pd.idx, pc.timeoutUs)
		if err != nil {
			pd.cmd.Error = err
		}
		if wkc <= ecnic.NoFrame {
			// lost; the command stays un-arrived and the slot recycles
			pc.port.SetBufStat(pd.idx, ecnic.BufEmpty)
			continue
		}
		pd.cmd.Arrived = true

		// copy the reply out of the slot before releasing it
		reply := make([]byte, len(d))
		copy(reply, pc.port.RxFrame(pd.idx))
		pc.port.SetBufStat(pd.idx, ecnic.BufEmpty)

		var fin ecfr.Frame
		if _, err := fin.Overlay(reply); err != nil || len(fin.Datagrams) == 0 {
			continue
		}
		pd.cmd.DatagramIn = fin.Datagrams[0]
		pd.cmd.Overlayed = true
	}

	return nil
}

// Close releases the indices of commands that never cycled.
func (pc *PortCommander) Close() error {
	for _, pd := range pc.pending {
		pc.port.SetBufStat(pd.idx, ecnic.BufEmpty)
	}
	pc.pending = nil
	return nil
}
