package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/comalice/valuechange"
	"github.com/comalice/valuechange/internal/config"
	"github.com/comalice/valuechange/internal/core"
	"github.com/comalice/valuechange/internal/production"
	"github.com/comalice/valuechange/internal/telemetry"
)

type app struct {
	configPath string
	logOut     io.Writer

	cfg      config.Config
	host     *host
	shutdown func() error
}

func newApp(logOut io.Writer) *app {
	return &app{logOut: logOut}
}

// newRootCmd builds the command tree. The caller must call a.close after Execute,
// since cobra skips post-run hooks when a command fails.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "valuechange",
		Short:         "Host a valuechange contract",
		Long:          "Invoke the messages of a persistent valuechange contract: a boolean value and a score counter.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(
		&a.configPath, "config", "",
		`Path to a YAML config file (VALUECHANGE_* variables override it)`,
	)

	rootCmd.AddCommand(
		newInstantiateCmd(a),
		newDefaultCmd(a),
		newFlipCmd(a),
		newGetCmd(a),
		newAddScoreCmd(a),
		newGetScoreCmd(a),
		newEventsCmd(a),
		newSnapshotCmd(a),
	)
	return rootCmd
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, a.logOut)
	if err != nil {
		return err
	}

	otelShutdown, err := telemetry.Setup(cmd.Context(), "valuechange", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	h, err := openHost(cfg, logger)
	if err != nil {
		_ = otelShutdown(cmd.Context())
		return err
	}

	a.cfg = cfg
	a.host = h
	a.shutdown = func() error {
		err := h.Close()
		if serr := otelShutdown(cmd.Context()); serr != nil && err == nil {
			err = serr
		}
		return err
	}
	return nil
}

func (a *app) close() error {
	if a.shutdown == nil {
		return nil
	}
	err := a.shutdown()
	a.shutdown = nil
	return err
}

func newInstantiateCmd(a *app) *cobra.Command {
	var initValue bool
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Instantiate the contract with an explicit initial value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.host.contract.Instantiate(cmd.Context(), initValue)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "instantiated %s value=%t block=%d\n", a.cfg.ContractID, initValue, res.Block)
			return nil
		},
	}
	cmd.Flags().BoolVar(&initValue, "init-value", false, "Initial value")
	return cmd
}

func newDefaultCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Instantiate the contract with value false",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.host.contract.InstantiateDefault(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "instantiated %s value=false block=%d\n", a.cfg.ContractID, res.Block)
			return nil
		},
	}
}

func newFlipCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flip",
		Short: "Invert the stored value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.host.contract.Call(cmd.Context(), core.MsgFlip)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok block=%d\n", res.Block)
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the stored value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.host.contract.Get(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newAddScoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-score",
		Short: "Increment the score and emit ScoreReturn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.host.contract.Call(cmd.Context(), core.MsgAddScore)
			if err != nil {
				return err
			}
			for _, rec := range res.Events {
				printRecord(cmd, rec)
			}
			return nil
		},
	}
}

func newGetScoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get-score",
		Short: "Print the score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			score, err := a.host.contract.GetScore(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), score)
			return nil
		},
	}
}

func newEventsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "List journaled events (sqlite backend)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.host.journal == nil {
				return fmt.Errorf("backend %q keeps no event journal", a.cfg.Backend)
			}
			records, err := a.host.journal.Events(cmd.Context(), a.cfg.ContractID)
			if err != nil {
				return err
			}
			for _, rec := range records {
				printRecord(cmd, rec)
			}
			return nil
		},
	}
}

func newSnapshotCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the committed snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.host.contract.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			v := &production.DefaultVisualizer{}
			switch format {
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), v.ExportDOT(snap))
			case "json":
				data, err := v.ExportJSON(snap)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			default:
				return fmt.Errorf("unknown format %q (want json or dot)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or dot")
	return cmd
}

func printRecord(cmd *cobra.Command, rec core.Record) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s block=%d", rec.Topic(), rec.Message, rec.Block)
	if sr, ok := rec.Event.(valuechange.ScoreReturn); ok {
		fmt.Fprintf(cmd.OutOrStdout(), " score=%d", sr.Score)
	}
	fmt.Fprintln(cmd.OutOrStdout())
}
