package ecnic

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecatlink/ecatlink/ecfr"
)

// buildSlot places one datagram into the slot's transmit buffer and records
// its length, the way the datagram layer above does.
func buildSlot(t *testing.T, p *Port, idx uint8, cmd ecfr.CommandType, addr ecfr.DatagramAddress, datalen int) {
	t.Helper()

	f, err := ecfr.PointFrameTo(p.TxFrame(idx))
	require.NoError(t, err)
	f.Header.SetType(1)

	dg, err := f.NewDatagram(datalen)
	require.NoError(t, err)
	dg.Command = cmd
	dg.Index = idx
	dg.Addr32 = addr.Addr32()
	dg.SetLast(true)

	d, err := f.Commit()
	require.NoError(t, err)
	p.SetTxLength(idx, len(d))
}

func replyDatagram(t *testing.T, p *Port, idx uint8) *ecfr.Datagram {
	t.Helper()

	var f ecfr.Frame
	_, err := f.Overlay(p.RxFrame(idx))
	require.NoError(t, err)
	require.NotEmpty(t, f.Datagrams)
	return f.Datagrams[0]
}

func TestRoundTrip(t *testing.T) {
	p, _ := newTestPort(t, 2)

	idx := p.GetIndex()
	buildSlot(t, p, idx, ecfr.BRD, ecfr.PositionAddr(0, 0), 2)

	require.NoError(t, p.OutFrame(idx, Primary))
	wkc := p.WaitInFrame(idx, 20000)

	assert.Equal(t, 2, wkc, "both slaves must count the broadcast")
	assert.Equal(t, BufComplete, p.BufStat(idx))

	dg := replyDatagram(t, p, idx)
	assert.Equal(t, idx, dg.Index)
	assert.Equal(t, uint8(0x11), dg.Data()[0], "type register of the first slave")
}

func TestOutOfOrderDelivery(t *testing.T) {
	p, dev := newTestPort(t, 1)

	var replies [][]byte
	dev.Sink = func(b []byte) {
		cp := make([]byte, len(b))
		copy(cp, b)
		replies = append(replies, cp)
	}

	var idxs []uint8
	for i := 0; i < 3; i++ {
		idx := p.GetIndex()
		idxs = append(idxs, idx)
		// distinct data lengths to tell the replies apart
		buildSlot(t, p, idx, ecfr.BRD, ecfr.PositionAddr(0, 0), 2+2*i)
		require.NoError(t, p.OutFrame(idx, Primary))
	}
	require.Len(t, replies, 3)

	// the wire reorders: A-B-C out, A-C-B back
	dev.Deliver(replies[0])
	dev.Deliver(replies[2])
	dev.Deliver(replies[1])

	for i, idx := range idxs {
		wkc := p.WaitInFrame(idx, 20000)
		assert.Equal(t, 1, wkc, "index %d", idx)
		assert.Equal(t, BufComplete, p.BufStat(idx))

		dg := replyDatagram(t, p, idx)
		assert.Equal(t, idx, dg.Index)
		assert.Equal(t, 2+2*i, int(dg.DataLength()), "reply %d filed into the wrong slot", i)
	}
}

func TestWireNoiseIgnored(t *testing.T) {
	p, dev := newTestPort(t, 1)

	idx := p.GetIndex()
	buildSlot(t, p, idx, ecfr.BRD, ecfr.PositionAddr(0, 0), 2)
	require.NoError(t, p.OutFrame(idx, Primary))

	before := make([]BufState, MaxBuf)
	for i := uint8(0); i < MaxBuf; i++ {
		before[i] = p.BufStat(i)
	}

	// an ARP-sized stranger on the wire
	noise := make([]byte, 60)
	ecfr.StampHeader(noise, ecfr.PrimarySource)
	noise[12], noise[13] = 0x08, 0x06
	dev.Deliver(noise)

	rval := p.InFrame(idx, Primary)
	assert.Equal(t, OtherFrame, rval)

	for i := uint8(0); i < MaxBuf; i++ {
		assert.Equal(t, before[i], p.BufStat(i), "slot %d changed on noise", i)
	}

	// the real reply is still next on the wire
	wkc := p.WaitInFrame(idx, 20000)
	assert.Equal(t, 1, wkc)
}

func TestWaitTimeoutBoundary(t *testing.T) {
	p, _ := newTestPort(t, 0)

	idx := p.GetIndex()
	buildSlot(t, p, idx, ecfr.BRD, ecfr.PositionAddr(0, 0), 2)
	// never transmitted: no reply can ever arrive

	start := time.Now()
	wkc := p.WaitInFrame(idx, 1000)
	elapsed := time.Since(start)

	assert.Equal(t, NoFrame, wkc)
	assert.GreaterOrEqual(t, elapsed, 1000*time.Microsecond, "returned before the deadline")
	assert.Less(t, elapsed, 500*time.Millisecond, "unbounded overhead past the deadline")
}

func TestOrphanedFrameDropped(t *testing.T) {
	p, dev := newTestPort(t, 1)

	idx := p.GetIndex()
	buildSlot(t, p, idx, ecfr.BRD, ecfr.PositionAddr(0, 0), 2)
	require.NoError(t, p.OutFrame(idx, Primary))

	// a valid EtherCAT frame whose index nobody allocated
	orphidx := (idx + 5) % MaxBuf
	orphan := make([]byte, ecfr.ETHHeaderLen+64)
	ecfr.StampHeader(orphan, ecfr.PrimarySource)
	of, err := ecfr.PointFrameTo(orphan[ecfr.ETHHeaderLen:])
	require.NoError(t, err)
	of.Header.SetType(1)
	odg, err := of.NewDatagram(2)
	require.NoError(t, err)
	odg.Command = ecfr.BRD
	odg.Index = orphidx
	odg.SetLast(true)
	_, err = of.Commit()
	require.NoError(t, err)
	dev.Deliver(orphan)

	assert.Equal(t, OtherFrame, p.InFrame(idx, Primary))
	assert.Equal(t, BufEmpty, p.BufStat(orphidx), "orphan must not resurrect a slot")

	wkc := p.WaitInFrame(idx, 20000)
	assert.Equal(t, 1, wkc)
}

func TestSendFailurePropagates(t *testing.T) {
	p, dev := newTestPort(t, 1)
	bad := errors.New("tx ring full")
	dev.SendErr = bad

	idx := p.GetIndex()
	buildSlot(t, p, idx, ecfr.BRD, ecfr.PositionAddr(0, 0), 2)

	err := p.OutFrame(idx, Primary)
	require.Error(t, err)
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, BufEmpty, p.BufStat(idx), "failed send must roll the slot back")

	wkc, err := p.SRConfirm(idx, 1000)
	assert.Equal(t, NoFrame, wkc)
	require.Error(t, err)
	assert.ErrorIs(t, err, bad)
}

func TestSRConfirmRetriesWithinDeadline(t *testing.T) {
	p, dev := newTestPort(t, 1)

	// early transmissions are lost, later ones get through
	dev.SetDown(true)
	go func() {
		time.Sleep(3 * time.Millisecond)
		dev.SetDown(false)
	}()

	idx := p.GetIndex()
	buildSlot(t, p, idx, ecfr.BRD, ecfr.PositionAddr(0, 0), 2)

	wkc, err := p.SRConfirm(idx, 200000)
	require.NoError(t, err)
	assert.Equal(t, 1, wkc, "retransmission within the deadline must succeed")
}
