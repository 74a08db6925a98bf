package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kikiluvv/reframer/internal/config"
	"github.com/kikiluvv/reframer/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logFile string
	verbose bool

	// logOut is the open --log-file, closed by closeLogFile.
	logOut *os.File
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("command failed")
	}
	closeLogFile()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func consoleWriter() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
}

// closeLogFile flushes and closes --log-file and points the global logger
// back at the console.
func closeLogFile() {
	if logOut == nil {
		return
	}
	log.Logger = logging.NewLogger(consoleWriter())
	logOut.Sync()
	logOut.Close()
	logOut = nil
}

var rootCmd = &cobra.Command{
	Use:           "reframer",
	Short:         "reframer - subject-tracking video retargeting",
	Long:          "Crops wide video to portrait, square or any other aspect while keeping the detected subject in frame.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logging
		logging.Init(verbose)
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			logOut = f
			log.Logger = logging.NewLogger(consoleWriter(), f)
		}

		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./reframer.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(retargetCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(probeCmd)
}
