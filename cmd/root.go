// Package cmd implements the ecatlink CLI commands using cobra.
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ecatlink/ecatlink/ecmd"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ecatlink",
	Short: "EtherCAT frame correlation driver tools",
	Long: `ecatlink drives EtherCAT frames over a raw network port, correlating
requests with replies by datagram index and arbitrating between the two
paths of a redundant cable ring.

The tools here inspect adapters, exercise the driver against a built-in
slave simulator and probe a live segment.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (default ecatlink.yml in . or /etc/ecatlink)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"debug logging and frame dumps")

	rootCmd.AddCommand(adaptersCmd)
	rootCmd.AddCommand(selftestCmd)
	rootCmd.AddCommand(probeCmd)
}

func initConfig() error {
	viper.SetDefault("interface", "eth0")
	viper.SetDefault("redundant_interface", "")
	viper.SetDefault("timeout_us", ecmd.DefaultTimeoutUs)
	viper.SetDefault("log_level", "info")

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("ecatlink")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/ecatlink")
	}
	viper.SetEnvPrefix("ecatlink")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	return nil
}
