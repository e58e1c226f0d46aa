// Package udp tunnels raw frames over UDP multicast. It exists for
// development setups where two hosts emulate a segment without raw socket
// privileges; production ports run on ll/afpacket.
package udp

import (
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	// UDP port registered for EtherCAT.
	EthercatUDPPort = 0x88a4
)

type Device struct {
	sock      *net.UDPConn
	mcsock    *ipv4.PacketConn
	group     net.IP
	iface     *net.Interface
	groupaddr *net.UDPAddr
}

// Open joins the multicast group on the given interface. Frames written with
// Send carry their Ethernet header inside the UDP payload so the correlation
// layer sees the exact bytes it stamped.
func Open(iface *net.Interface, group net.IP) (d *Device, err error) {
	d = &Device{group: group, iface: iface}
	d.groupaddr = &net.UDPAddr{IP: group, Port: EthercatUDPPort}

	d.sock, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: EthercatUDPPort})
	if err != nil {
		return nil, err
	}

	d.mcsock = ipv4.NewPacketConn(d.sock)

	err = d.mcsock.SetMulticastInterface(iface)
	if err != nil {
		d.sock.Close()
		return nil, err
	}

	err = d.mcsock.JoinGroup(iface, &net.UDPAddr{IP: group})
	if err != nil {
		d.sock.Close()
		return nil, err
	}

	err = d.mcsock.SetMulticastLoopback(false)
	if err != nil {
		d.sock.Close()
		return nil, err
	}

	return d, nil
}

func (d *Device) Send(b []byte) error {
	_, err := d.sock.WriteTo(b, d.groupaddr)
	return err
}

func (d *Device) Recv(b []byte) (int, error) {
	// a deadline in the past turns the read into a poll
	err := d.sock.SetReadDeadline(time.Now())
	if err != nil {
		return 0, err
	}

	n, _, err := d.sock.ReadFromUDP(b)
	if isTimeout(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (d *Device) Name() string {
	return d.iface.Name
}

func (d *Device) Close() error {
	if d.mcsock != nil {
		d.mcsock.Close()
	}
	if d.sock != nil {
		return d.sock.Close()
	}
	return nil
}

type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
