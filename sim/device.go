// Package sim provides a simulated EtherCAT segment: an in-memory wire that
// loops transmitted frames through a chain of simulated slaves and back into
// a receive queue. It stands in for real hardware in tests and in the CLI
// self test.
package sim

import (
	"fmt"
	"sync"

	"github.com/ecatlink/ecatlink/ecfr"
	"github.com/ecatlink/ecatlink/ll"
)

// FrameProcessor handles one EtherCAT frame in place, the way a slave's ESC
// does as the frame passes through. Returning nil swallows the frame.
type FrameProcessor interface {
	ProcessFrame(*ecfr.Frame) *ecfr.Frame
}

// Device is a simulated NIC. A frame given to Send traverses the slave
// chain and the processed result shows up on the receive queue, or wherever
// Sink points, which is how tests wire up redundant pairs and failure
// modes.
type Device struct {
	// Down simulates a dead link: sends are silently lost, exactly like a
	// pulled cable.
	Down bool

	// SendErr, when set, fails every send with this error.
	SendErr error

	// Sink receives every processed reply. Defaults to the device's own
	// Deliver. Redirect it to a partner device's Deliver to emulate a ring
	// that exits through the other interface.
	Sink func(reply []byte)

	mu     sync.Mutex
	name   string
	slaves []FrameProcessor
	queue  [][]byte
	closed bool
}

var _ ll.Device = (*Device)(nil)

func NewDevice(name string, slaves ...FrameProcessor) *Device {
	d := &Device{name: name, slaves: slaves}
	d.Sink = d.Deliver
	return d
}

func (d *Device) Send(b []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("sim: device %s closed", d.name)
	}
	if d.SendErr != nil {
		err := d.SendErr
		d.mu.Unlock()
		return err
	}
	down := d.Down
	sink := d.Sink
	d.mu.Unlock()

	if down {
		return nil
	}
	if len(b) < ecfr.ETHHeaderLen {
		return fmt.Errorf("sim: runt frame of %d bytes", len(b))
	}

	cp := make([]byte, len(b))
	copy(cp, b)

	f := new(ecfr.Frame)
	if _, err := f.Overlay(cp[ecfr.ETHHeaderLen:]); err != nil {
		// a malformed frame goes onto the wire and never comes back
		return nil
	}

	for _, sl := range d.slaves {
		f = sl.ProcessFrame(f)
		if f == nil {
			return nil
		}
	}

	if _, err := f.Commit(); err != nil {
		return err
	}

	sink(cp)
	return nil
}

// SetDown flips the link state safely while traffic is in flight.
func (d *Device) SetDown(down bool) {
	d.mu.Lock()
	d.Down = down
	d.mu.Unlock()
}

// Deliver queues a raw frame for reception. Tests inject noise, reordered
// replies and cross-path traffic through it.
func (d *Device) Deliver(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)

	d.mu.Lock()
	d.queue = append(d.queue, cp)
	d.mu.Unlock()
}

func (d *Device) Recv(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return 0, nil
	}
	fr := d.queue[0]
	d.queue = d.queue[1:]
	return copy(b, fr), nil
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.queue = nil
	d.mu.Unlock()
	return nil
}
