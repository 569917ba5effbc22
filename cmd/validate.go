package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/shredrelay/internal/capture"
	"firestige.xyz/shredrelay/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the resolved pipeline",
	Long: `Validate the configuration (file, env and flags) without binding any socket.

Examples:
  shredrelay validate -c /etc/shredrelay/config.yml
  shredrelay validate --port 18888 --forwards 127.0.0.1:8001 --interface lo --sniffer-port 8001`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("INVALID: %w", err)
		}
		printPlan(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	addPipelineFlags(validateCmd)
}

func printPlan(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "VALID")
	fmt.Fprintf(w, "  relay receiver:     0.0.0.0:%d\n", cfg.Receiver.Port)
	if cfg.Receiver.ReferencePort > 0 {
		fmt.Fprintf(w, "  reference receiver: 0.0.0.0:%d\n", cfg.Receiver.ReferencePort)
	}
	forwards := make([]string, len(cfg.Processor.ForwardAddrs))
	for i, a := range cfg.Processor.ForwardAddrs {
		forwards[i] = a.String()
	}
	fmt.Fprintf(w, "  forwards:           %s (rotate %s)\n", strings.Join(forwards, ", "), cfg.Processor.RotateInterval)

	if !cfg.Sniffer.Enabled {
		fmt.Fprintln(w, "  sniffer:            disabled")
		return
	}
	opts := cfg.Sniffer.CaptureOptions()
	fmt.Fprintf(w, "  sniffer:            %s %s filter %q\n", opts.Type, sourceName(cfg.Sniffer), opts.Filter())
	if len(cfg.Sniffer.DestinationAddrs) > 0 {
		dests := make([]string, len(cfg.Sniffer.DestinationAddrs))
		for i, a := range cfg.Sniffer.DestinationAddrs {
			dests[i] = a.String()
		}
		fmt.Fprintf(w, "  send back:          %s\n", strings.Join(dests, ", "))
	} else {
		fmt.Fprintf(w, "  send back:          nearest %d of %d regions on port %d\n",
			cfg.Regions.Nearest, len(cfg.Regions.Hosts), cfg.Regions.Port)
	}
}

func sourceName(s config.SnifferConfig) string {
	if s.FilePath != "" && s.CaptureType == capture.TypeFile {
		return s.FilePath
	}
	return s.Interface
}
