package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/shredrelay/internal/config"
	"firestige.xyz/shredrelay/internal/daemon"
	"firestige.xyz/shredrelay/internal/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay in the foreground",
	Long: `Run receivers, processor and sniffer until SIGINT or SIGTERM.

Examples:
  shredrelay run -c /etc/shredrelay/config.yml
  shredrelay run --port 18888 --interface lo --sniffer-port 8001 --forwards 127.0.0.1:8001`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			exitWithError("failed to load config", err)
		}

		d := daemon.New(cfg)
		if err := d.Start(); err != nil {
			d.Stop()
			exitWithError("failed to start", err)
		}
		if err := d.Run(); err != nil {
			log.GetLogger().WithError(err).Fatal("component failed")
		}
	},
}

func init() {
	addPipelineFlags(runCmd)
}
