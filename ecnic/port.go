// Package ecnic is the indexed buffer layer between the EtherCAT datagram
// level and a raw link device. Frames are only ever sent by the master and
// loop back into its receiver, possibly reordered and possibly over a
// redundant second interface. Every transmit buffer slot carries a
// correlation index that is echoed in the returning frame; this package
// allocates the indices, files returning frames into the slot they belong
// to, and arbitrates between the two physical paths of a redundant pair.
package ecnic

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/ecatlink/ecatlink/ecfr"
	"github.com/ecatlink/ecatlink/ectime"
	"github.com/ecatlink/ecatlink/ll"
)

const (
	// MaxBuf is the number of transmit/receive buffer slots per port and
	// therefore the size of the correlation index space.
	MaxBuf = 16

	maxFrameLen = 1518
)

// Sentinel results of InFrame and the wait operations. Real working
// counters are never negative.
const (
	// NoFrame: no frame with the requested index arrived.
	NoFrame = -1
	// OtherFrame: a frame arrived, but not the requested one. Wire noise
	// and early arrivals for other indices both report this.
	OtherFrame = -2
)

// Per-attempt receive timeout used by SRConfirm between retransmissions,
// in microseconds.
const TimeoutRetUs = 2000

// BufState is the lifecycle tag of one buffer slot.
type BufState uint8

const (
	BufEmpty BufState = iota
	BufAlloc
	BufTx
	BufRcvd
	BufComplete
)

var bufStateName = map[BufState]string{
	BufEmpty:    "Empty",
	BufAlloc:    "Alloc",
	BufTx:       "Tx",
	BufRcvd:     "Rcvd",
	BufComplete: "Complete",
}

func (s BufState) String() string {
	if n, ok := bufStateName[s]; ok {
		return n
	}
	return fmt.Sprintf("BufState(%d)", uint8(s))
}

// Path selects one physical interface of a (possibly redundant) port.
type Path int

const (
	Primary Path = iota
	Secondary
)

type redState uint8

const (
	redNone redState = iota
	redDouble
)

type frameBuf [maxFrameLen]byte

// stack is one physical path's view of the buffer system. The secondary
// stack shares the transmit buffers with the primary but owns its receive
// side, so both paths file frames under the same index space.
type stack struct {
	dev    ll.Device
	txbuf  *[MaxBuf]frameBuf
	txlen  *[MaxBuf]int
	tmpbuf *frameBuf
	tmplen *int
	rxbuf  *[MaxBuf]frameBuf
	rxstat *[MaxBuf]BufState
	rxsa   *[MaxBuf]uint16
}

// RedPort is the receive-side state of the secondary path of a redundant
// pair. It is owned by its primary Port and shares that port's lock and
// index space.
type RedPort struct {
	stack  stack
	rxbuf  [MaxBuf]frameBuf
	rxstat [MaxBuf]BufState
	rxsa   [MaxBuf]uint16
	tmpbuf frameBuf
	tmplen int
}

// Port is the per-NIC (or per redundant pair) context. One logical task
// drives the protocol through it; auxiliary pollers may share it because
// every slot state mutation happens under the port lock.
type Port struct {
	// Clock drives all timeout arithmetic. Set before Setup to substitute
	// a test clock.
	Clock ectime.Clock

	// Log receives setup notices and dropped-frame debug messages.
	Log *logrus.Entry

	mu sync.Mutex // guards slot status, cursor, and the shared dummy buffer

	stack    stack
	lastidx  uint8
	redstate redState
	red      *RedPort

	txbuf  [MaxBuf]frameBuf
	txlen  [MaxBuf]int
	rxbuf  [MaxBuf]frameBuf
	rxstat [MaxBuf]BufState
	rxsa   [MaxBuf]uint16
	tmpbuf frameBuf
	tmplen int

	// dummy frame sent on the secondary wire so that both paths carry
	// every correlation index
	txbuf2 frameBuf
	txlen2 int
}

func NewPort() *Port {
	return &Port{
		Clock: ectime.SystemClock,
		Log:   logrus.NewEntry(logrus.StandardLogger()),
	}
}

// Setup attaches the primary device and prepares all transmit buffers with
// the fixed Ethernet prefix, so datagram construction never has to rewrite
// it.
func (p *Port) Setup(dev ll.Device) error {
	if dev == nil {
		return errors.New("ecnic: nil device")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastidx = 0
	p.redstate = redNone
	p.red = nil
	p.stack = stack{
		dev:    dev,
		txbuf:  &p.txbuf,
		txlen:  &p.txlen,
		tmpbuf: &p.tmpbuf,
		tmplen: &p.tmplen,
		rxbuf:  &p.rxbuf,
		rxstat: &p.rxstat,
		rxsa:   &p.rxsa,
	}

	for i := range p.txbuf {
		ecfr.StampHeader(p.txbuf[i][:], ecfr.PrimarySource)
		p.txlen[i] = ecfr.ETHHeaderLen
		p.rxstat[i] = BufEmpty
	}
	ecfr.StampHeader(p.txbuf2[:], ecfr.PrimarySource)

	p.Log.WithField("device", dev.Name()).Info("primary path ready")
	return nil
}

// SetupRedundant attaches the secondary device of a redundant pair. The
// secondary path reuses the primary transmit buffers and gets its own
// receive side, plus a prepared dummy frame whose only meaningful field is
// the correlation index written in per transmission.
func (p *Port) SetupRedundant(dev ll.Device) error {
	if dev == nil {
		return errors.New("ecnic: nil device")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stack.dev == nil {
		return errors.New("ecnic: primary path not set up")
	}

	red := &RedPort{}
	red.stack = stack{
		dev:    dev,
		txbuf:  &p.txbuf,
		txlen:  &p.txlen,
		tmpbuf: &red.tmpbuf,
		tmplen: &red.tmplen,
		rxbuf:  &red.rxbuf,
		rxstat: &red.rxstat,
		rxsa:   &red.rxsa,
	}
	for i := range red.rxstat {
		red.rxstat[i] = BufEmpty
	}

	ecfr.StampHeader(p.txbuf2[:], ecfr.SecondarySource)
	f, err := ecfr.PointFrameTo(p.txbuf2[ecfr.ETHHeaderLen:])
	if err != nil {
		return err
	}
	f.Header.SetType(1)
	dg, err := f.NewDatagram(2)
	if err != nil {
		return err
	}
	dg.Command = ecfr.BRD
	dg.SetLast(true)
	d, err := f.Commit()
	if err != nil {
		return err
	}
	p.txlen2 = ecfr.ETHHeaderLen + len(d)

	p.red = red
	p.redstate = redDouble

	p.Log.WithField("device", dev.Name()).Info("secondary path ready")
	return nil
}

// Redundant reports whether a secondary path is attached.
func (p *Port) Redundant() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redstate != redNone
}

// Close closes the attached devices.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	if p.stack.dev != nil {
		result = multierror.Append(result, p.stack.dev.Close())
		p.stack.dev = nil
	}
	if p.red != nil && p.red.stack.dev != nil {
		result = multierror.Append(result, p.red.stack.dev.Close())
		p.red.stack.dev = nil
	}
	return result.ErrorOrNil()
}

// stackFor returns the path's view of the buffer system. Asking for the
// secondary of a non-redundant port falls back to the primary.
func (p *Port) stackFor(path Path) *stack {
	if path == Secondary && p.red != nil {
		return &p.red.stack
	}
	return &p.stack
}

// GetIndex hands out a free correlation index and marks its slot Alloc on
// both paths. The scan starts one past the previously allocated index and
// skips busy slots; a full cycle without a free slot degrades to reusing
// the cursor slot rather than failing, so callers must tolerate collisions
// when all MaxBuf indices are outstanding.
func (p *Port) GetIndex() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.lastidx + 1
	if idx >= MaxBuf {
		idx = 0
	}

	for cnt := 0; p.rxstat[idx] != BufEmpty && cnt < MaxBuf; cnt++ {
		idx++
		if idx >= MaxBuf {
			idx = 0
		}
	}
	p.rxstat[idx] = BufAlloc
	if p.redstate != redNone {
		p.red.rxstat[idx] = BufAlloc
	}
	p.lastidx = idx

	return idx
}

// SetBufStat overwrites the slot status on both paths. No transition is
// validated; protocol-correct sequencing is the caller's responsibility.
func (p *Port) SetBufStat(idx uint8, stat BufState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rxstat[idx] = stat
	if p.redstate != redNone {
		p.red.rxstat[idx] = stat
	}
}

// BufStat reads the primary-path status of a slot.
func (p *Port) BufStat(idx uint8) BufState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxstat[idx]
}

// TxFrame returns the EtherCAT area of the slot's transmit buffer. The
// Ethernet prefix before it is stamped at setup and must not be touched.
func (p *Port) TxFrame(idx uint8) []byte {
	return p.txbuf[idx][ecfr.ETHHeaderLen:]
}

// SetTxLength records how many EtherCAT bytes of the slot's transmit buffer
// are valid. Transmit sends exactly the Ethernet prefix plus this length.
func (p *Port) SetTxLength(idx uint8, n int) {
	p.mu.Lock()
	p.txlen[idx] = ecfr.ETHHeaderLen + n
	p.mu.Unlock()
}

// RxFrame returns the slot's receive buffer, which holds the returned
// EtherCAT frame stripped of its Ethernet header once the slot is Rcvd or
// Complete.
func (p *Port) RxFrame(idx uint8) []byte {
	return p.rxbuf[idx][:]
}
