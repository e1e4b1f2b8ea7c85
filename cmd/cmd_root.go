// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/jcodagnone/statsimi/config"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "statsimi",
	Short: "station similarity and group repair for public transit maps",
	Long: `
statsimi learns whether two named stations denote the same real-world stop
from their names and positions, and uses the predictions to repair the
station groups of a map: stations that do not fit their group are moved out
and orphan groups that match are merged.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		if err := config.InitLogger(c.Log); err != nil {
			return err
		}

		if err := c.Validate(); err != nil {
			return eris.Wrap(err, "invalid configuration")
		}

		cfg = c

		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "configuration file (default ./statsimi.yaml)")
	pf.String("log-level", "info", "log level")
	pf.String("log-format", "console", "log format: console or json")
}

var Version = "dev"

func Execute(version string) {
	Version = version
	rootCmd.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		stop()
		os.Exit(1)
	}
}
