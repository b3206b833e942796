package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/tuning"
)

type options struct {
	dataDir    string
	configDir  string
	tuningPath string
}

func (o *options) journalDir() string { return filepath.Join(o.dataDir, "journal") }

func (o *options) load() (*catalogs.Catalogs, tuning.Tuning, error) {
	cats, err := catalogs.Load(o.configDir)
	if err != nil {
		return nil, tuning.Tuning{}, err
	}
	tp := strings.TrimSpace(o.tuningPath)
	if tp == "" {
		tp = filepath.Join(o.configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if strings.TrimSpace(o.tuningPath) != "" {
			return nil, tune, err
		}
		tune = tuning.Defaults()
	}
	return cats, tune, nil
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "replay",
		Short:         "Replay and inspect ground tracker session journals",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data", "./data", "server data directory")
	root.PersistentFlags().StringVar(&opts.configDir, "configs", "./configs", "config directory")
	root.PersistentFlags().StringVar(&opts.tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")

	root.AddCommand(newVerifyCommand(opts))
	root.AddCommand(newDumpCommand(opts))
	root.AddCommand(newExportCommand(opts))
	root.AddCommand(newSessionsCommand(opts))
	return root
}
