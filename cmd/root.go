// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mafuba8/iex-parser/internal/config"
	"github.com/mafuba8/iex-parser/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "iex-parser",
	Short: "iex-parser - Decoder for IEX DEEP 1.0 market data captures",
	Long: `iex-parser decodes packet captures of the IEX DEEP 1.0 multicast feed
into one CSV file per message type.

The feed publishes its messages over the IEX transport protocol inside
UDP datagrams; the exchange offers historical captures of it as pcap
downloads. This tool unwraps the capture layer by layer (pcap record,
Ethernet, IPv4, UDP, transport segment, message block) and writes every
decoded message as a CSV row annotated with the packet capture time and
the derived send-time and raw-time offsets.`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and IEX_PARSER_* env vars apply without one)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level override: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log format override: text or json")
}

// initRuntime loads the configuration and wires up logging. Called at
// the top of every subcommand; exits the process when the runtime
// cannot be brought up.
func initRuntime() *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load configuration", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	if err := log.Init(cfg.Log); err != nil {
		exitWithError("failed to initialize logging", err)
	}
	return cfg
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
