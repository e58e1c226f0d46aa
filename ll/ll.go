// Package ll defines the raw link layer capability the frame driver is
// built on: non-blocking send and receive of single Ethernet frames on an
// opened device, plus adapter enumeration. Implementations live in the
// subpackages; tests use the sim package instead of real hardware.
package ll

import (
	"errors"
	"net"
)

// Device is one opened network interface. Send and Recv must not block:
// Send hands the frame to the hardware or fails, Recv returns 0 when no
// frame is pending.
type Device interface {
	// Send transmits exactly one Ethernet frame.
	Send(b []byte) error

	// Recv copies one pending frame into b and returns its length, or 0
	// if nothing is pending.
	Recv(b []byte) (int, error)

	Name() string

	Close() error
}

// ErrDeviceNotFound is returned when opening a named adapter that does not
// exist. It is fatal to the port being set up, nothing else.
var ErrDeviceNotFound = errors.New("ll: device not found")

// Adapter describes one discovered network interface.
type Adapter struct {
	Name string
	Desc string
}

// Adapters enumerates the host's network interfaces. The list is built once
// per call and is not updated behind the caller's back.
func Adapters() ([]Adapter, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	adapters := make([]Adapter, 0, len(ifs))
	for _, ifc := range ifs {
		adapters = append(adapters, Adapter{
			Name: ifc.Name,
			Desc: ifc.HardwareAddr.String(),
		})
	}
	return adapters, nil
}
