package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecatlink/ecatlink/ll"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List network adapters usable as EtherCAT ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		adapters, err := ll.Adapters()
		if err != nil {
			return err
		}

		for _, a := range adapters {
			fmt.Printf("%-16s %s\n", a.Name, a.Desc)
		}
		return nil
	},
}
