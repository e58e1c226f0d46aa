package cmd

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ecatlink/ecatlink/ecfr"
	"github.com/ecatlink/ecatlink/ecmd"
	"github.com/ecatlink/ecatlink/ecnic"
	"github.com/ecatlink/ecatlink/ll"
	"github.com/ecatlink/ecatlink/ll/udp"
)

var (
	probeUDP   bool
	probeGroup string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Count responding slaves on the configured interface",
	Long: `probe sends a broadcast read of the slave type register on the
configured interface and reports how many slaves answered. With
redundant_interface set, the frame is confirmed over both paths of the
ring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice(viper.GetString("interface"))
		if err != nil {
			return err
		}

		p := ecnic.NewPort()
		if err := p.Setup(dev); err != nil {
			dev.Close()
			return err
		}
		defer p.Close()

		if ri := viper.GetString("redundant_interface"); ri != "" {
			rdev, err := openDevice(ri)
			if err != nil {
				return err
			}
			if err := p.SetupRedundant(rdev); err != nil {
				rdev.Close()
				return err
			}
		}

		pc := ecmd.NewPortCommander(p, viper.GetInt("timeout_us"))
		defer pc.Close()

		// expect zero so the working counter mismatch carries the count
		d, err := ecmd.ExecuteRead(pc, ecfr.BRD, ecfr.PositionAddr(0, 0), 2, 0)
		n := 0
		switch {
		case ecmd.IsWorkingCounterError(err):
			n = int(err.(ecmd.WorkingCounterError).Have)
		case err != nil:
			return err
		}

		if n == 0 {
			fmt.Printf("no slaves responding on %s\n", dev.Name())
			return nil
		}
		fmt.Printf("%d slaves responding on %s, first type register %#02x\n",
			n, dev.Name(), d[0])
		return nil
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeUDP, "udp", false,
		"tunnel frames over UDP multicast instead of a raw socket")
	probeCmd.Flags().StringVar(&probeGroup, "group", "239.0.136.164",
		"multicast group for the UDP tunnel")
}

func openDevice(ifname string) (ll.Device, error) {
	if !probeUDP {
		return openRawDevice(ifname)
	}

	ifc, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ll.ErrDeviceNotFound, ifname)
	}
	group := net.ParseIP(probeGroup)
	if group == nil {
		return nil, fmt.Errorf("invalid multicast group %q", probeGroup)
	}
	return udp.Open(ifc, group)
}
