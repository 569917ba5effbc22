// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "shredrelay",
	Short: "shredrelay - relay and sniffed shred deduplicating forwarder",
	Long: `shredrelay speeds up shred propagation to a local validator.

It receives shreds pushed by a low-latency relay (and optionally a reference
feed), forwards the first copy of each to the validator, and sends shreds
sniffed off the local interface back to the nearest relay regions.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (optional, flags and SHREDRELAY_* env override it)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// addPipelineFlags registers the flags that override config keys.
func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("port", 0, "port to receive shreds from the relay")
	f.Int("reference", 0, "reference shred-stream port (0 disables)")
	f.StringSlice("forwards", nil, "validator addresses to forward shreds to, comma-separated")
	f.String("interface", "", "network interface to sniff for the local validator's traffic (lo for a local validator)")
	f.Int("sniffer-port", 0, "the local validator's shred port to sniff")
	f.String("protocol", "udp", "sniffed protocol, udp or tcp")
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
