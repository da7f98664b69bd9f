package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common"
	"github.com/intellect4all/kvs/config"
	"github.com/intellect4all/kvs/engine"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	engine     string
	dir        string
}

func newRootCmd() *cobra.Command {
	var (
		opts             options
		flagPrintVersion bool
	)

	c := &cobra.Command{
		Use:           "kvs",
		Short:         "A log-structured key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagPrintVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "kvs %s\n", version)
				return nil
			}
			return cmd.Usage()
		},
	}

	c.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the kvs YAML configuration file (default <dir>/"+config.FileName+")")
	c.PersistentFlags().StringVarP(&opts.engine, "engine", "e", "", "storage engine: kvs or leveldb (default: detected, else kvs)")
	c.PersistentFlags().StringVarP(&opts.dir, "dir", "d", "", "data directory (default .)")
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	c.AddCommand(
		newSetCmd(&opts),
		newGetCmd(&opts),
		newRmCmd(&opts),
		newCompactCmd(&opts),
		newStatsCmd(&opts),
		newBenchCmd(&opts),
	)
	return c
}

// load resolves the configuration: defaults, then the config file, then
// flags.
func (o *options) load() (config.Config, error) {
	path, optional := o.configPath, false
	if path == "" {
		dir := o.dir
		if dir == "" {
			dir = "."
		}
		path, optional = filepath.Join(dir, config.FileName), true
	}

	c, err := config.Load(path, optional)
	if err != nil {
		return c, err
	}
	if o.dir != "" {
		c.RootDirectory = o.dir
	}
	if o.engine != "" {
		c.Engine = o.engine
	}
	return c, nil
}

// open loads the configuration and opens the engine it names. Callers
// must Close the engine and Sync the logger.
func (o *options) open() (common.Engine, engine.Kind, *zap.Logger, error) {
	c, err := o.load()
	if err != nil {
		return nil, "", nil, err
	}

	log, err := newLogger(c)
	if err != nil {
		return nil, "", nil, err
	}

	e, kind, err := engine.Open(c, log)
	if err != nil {
		log.Sync()
		return nil, "", nil, err
	}
	return e, kind, log, nil
}

func newLogger(c config.Config) (*zap.Logger, error) {
	lc := zap.NewProductionConfig()
	lc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	lc.Encoding = "console"
	lc.DisableStacktrace = true
	return lc.Build()
}
