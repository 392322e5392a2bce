package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	config "github.com/SyneHQ/forge-runner"
)

var (
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           "forge-runner",
	Short:         "Bake feedstock recipes on local and cloud bakeries",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		l, err := newLogger(c.Log)
		if err != nil {
			return err
		}
		cfg, logger = c, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $FORGE_CONFIG)")

	rootCmd.AddCommand(bakeCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(submissionsCmd)
	rootCmd.AddCommand(serveSchedulesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.WithError(err).Error("forge-runner failed")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig) (*logrus.Logger, error) {
	l := logrus.New()
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, &config.ConfigurationError{Setting: "log.level", Reason: err.Error()}
	}
	l.SetLevel(level)

	switch c.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, &config.ConfigurationError{Setting: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Format)}
	}
	return l, nil
}
