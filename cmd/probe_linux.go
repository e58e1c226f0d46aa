package cmd

import (
	"github.com/ecatlink/ecatlink/ll"
	"github.com/ecatlink/ecatlink/ll/afpacket"
)

func openRawDevice(ifname string) (ll.Device, error) {
	return afpacket.Open(ifname)
}
