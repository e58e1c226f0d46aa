//go:build !linux

package cmd

import (
	"errors"

	"github.com/ecatlink/ecatlink/ll"
)

func openRawDevice(ifname string) (ll.Device, error) {
	return nil, errors.New("raw sockets are only available on linux; use --udp")
}
