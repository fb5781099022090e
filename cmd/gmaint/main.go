package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vfbgraph/graphmaint/internal/config"
	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
	logSink *logging.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := finish(os.Stderr, rootCmd.ExecuteContext(ctx))
	stop()
	os.Exit(code)
}

// finish reports err and closes the log file. cobra skips PersistentPostRun
// when a command fails, so this is the one place the sink is always closed.
func finish(w io.Writer, err error) int {
	code := 0
	if err != nil {
		if logger != nil {
			logger.WithError(err).Error("Command failed")
		}

		var appErr *apperrors.Error
		if verbose && apperrors.As(err, &appErr) {
			fmt.Fprintf(w, "Error: %v\n\n%s", err, appErr.DetailedString())
		} else {
			fmt.Fprintf(w, "Error: %v\n", err)
		}
		code = 1
	}

	if logSink != nil {
		logSink.Close()
		logSink = nil
	}
	return code
}

var rootCmd = &cobra.Command{
	Use:   "gmaint",
	Short: "graphmaint - batched, idempotent maintenance runs against a Neo4j graph",
	Long: `graphmaint submits named groups of idempotent Cypher mutations to a graph
store in order, and waits for the background jobs they start (periodic
commits, LOAD CSV, apoc.periodic.iterate) to finish before moving on.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logCfg, err := logging.FromSettings(cfg.Log.Level, cfg.Log.Format, cfg.Log.File,
			cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, verbose)
		if err != nil {
			return err
		}
		logSink, err = logging.NewLogger(logCfg)
		if err != nil {
			return err
		}
		logSink.Install()
		logger = logrus.StandardLogger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .graphmaint/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`graphmaint {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(configureCmd)
}
