package main

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common"
)

// withEngine opens the configured engine, runs fn and closes the engine.
func withEngine(opts *options, fn func(e common.Engine, log *zap.Logger) error) (err error) {
	e, _, log, err := opts.open()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer func() {
		if cerr := e.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(e, log)
}

// written treats a failed compaction after a durable write as success; the
// next write or an explicit compact retries it.
func written(log *zap.Logger, err error) error {
	if errors.Is(err, common.ErrCompaction) {
		log.Warn("write succeeded but compaction failed", zap.Error(err))
		return nil
	}
	return err
}

func newSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set the value of a string key to a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(e common.Engine, log *zap.Logger) error {
				return written(log, e.Set(args[0], args[1]))
			})
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Get the string value of a given string key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(e common.Engine, _ *zap.Logger) error {
				value, found, err := e.Get(args[0])
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(cmd.OutOrStdout(), "Key not found")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
}

func newRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm KEY",
		Aliases: []string{"remove"},
		Short:   "Remove a given key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(e common.Engine, log *zap.Logger) error {
				return written(log, e.Remove(args[0]))
			})
		},
	}
}

func newCompactCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Reclaim the space held by overwritten and removed entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(e common.Engine, _ *zap.Logger) error {
				compacter, ok := e.(common.Compacter)
				if !ok {
					return errors.New("engine does not support compaction")
				}

				before := diskSize(e)
				if err := compacter.Compact(); err != nil {
					return err
				}
				after := diskSize(e)

				fmt.Fprintf(cmd.OutOrStdout(), "compacted: %s -> %s\n",
					bytefmt.ByteSize(uint64(before)), bytefmt.ByteSize(uint64(after)))
				return nil
			})
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print engine statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, kind, log, err := opts.open()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer e.Close()

			reporter, ok := e.(common.StatsReporter)
			if !ok {
				return errors.Errorf("%s engine does not report stats", kind)
			}
			s := reporter.Stats()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "engine:         %s\n", kind)
			fmt.Fprintf(out, "keys:           %d\n", s.NumKeys)
			fmt.Fprintf(out, "segments:       %d\n", s.NumSegments)
			fmt.Fprintf(out, "active segment: %s\n", bytefmt.ByteSize(uint64(s.ActiveSegSize)))
			fmt.Fprintf(out, "disk size:      %s\n", bytefmt.ByteSize(uint64(s.TotalDiskSize)))
			fmt.Fprintf(out, "stale:          %s\n", bytefmt.ByteSize(uint64(s.StaleBytes)))
			fmt.Fprintf(out, "space amp:      %.2fx\n", s.SpaceAmp)
			return nil
		},
	}
}

func diskSize(e common.Engine) int64 {
	if reporter, ok := e.(common.StatsReporter); ok {
		return reporter.Stats().TotalDiskSize
	}
	return 0
}
