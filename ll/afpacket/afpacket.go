//go:build linux

// Package afpacket opens raw AF_PACKET sockets as ll.Device handles.
package afpacket

import (
	"fmt"
	"net"
	"time"

	afp "github.com/google/gopacket/afpacket"

	"github.com/ecatlink/ecatlink/ll"
)

const (
	frameSize = 2048
	numBlocks = 16

	// Poll granularity of Recv. AF_PACKET has no true zero-timeout read;
	// one millisecond is the shortest poll the kernel interface offers.
	pollTimeout = time.Millisecond
)

type Device struct {
	tp   *afp.TPacket
	name string
}

// Open attaches a raw socket to the named interface.
func Open(ifname string) (*Device, error) {
	ifc, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ll.ErrDeviceNotFound, ifname)
	}

	tp, err := afp.NewTPacket(
		afp.OptInterface(ifc.Name),
		afp.OptFrameSize(frameSize),
		afp.OptBlockSize(frameSize*128),
		afp.OptNumBlocks(numBlocks),
		afp.OptPollTimeout(pollTimeout),
		afp.SocketRaw,
		afp.TPacketVersion2,
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket: open %q: %w", ifname, err)
	}

	return &Device{tp: tp, name: ifc.Name}, nil
}

func (d *Device) Send(b []byte) error {
	return d.tp.WritePacketData(b)
}

func (d *Device) Recv(b []byte) (int, error) {
	data, _, err := d.tp.ZeroCopyReadPacketData()
	if err == afp.ErrTimeout {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Close() error {
	d.tp.Close()
	return nil
}
