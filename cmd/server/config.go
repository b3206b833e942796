package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// serverConfig is read from CT_* environment variables first; command line
// flags override what the environment set.
type serverConfig struct {
	Addr       string `env:"CT_ADDR" envDefault:":8080"`
	DataDir    string `env:"CT_DATA" envDefault:"./data"`
	ConfigDir  string `env:"CT_CONFIGS" envDefault:"./configs"`
	TuningPath string `env:"CT_TUNING"`
	DisableDB  bool   `env:"CT_DISABLE_DB"`

	EnablePprof    bool `env:"CT_ENABLE_PPROF"`
	EnableObserver bool `env:"CT_ENABLE_OBSERVER" envDefault:"true"`
}

func loadConfig(args []string, environ map[string]string) (serverConfig, error) {
	var cfg serverConfig
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "runtime data directory")
	fs.StringVar(&cfg.ConfigDir, "configs", cfg.ConfigDir, "config directory")
	fs.StringVar(&cfg.TuningPath, "tuning", cfg.TuningPath, "path to tuning.yaml (default: <configs>/tuning.yaml)")
	fs.BoolVar(&cfg.DisableDB, "disable_db", cfg.DisableDB, "disable the sqlite store (ground state is not persisted)")
	fs.BoolVar(&cfg.EnablePprof, "pprof", cfg.EnablePprof, "serve /debug/pprof on loopback")
	fs.BoolVar(&cfg.EnableObserver, "observer", cfg.EnableObserver, "serve the observer API")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if strings.TrimSpace(cfg.TuningPath) == "" {
		cfg.TuningPath = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return cfg, fmt.Errorf("empty data dir")
	}
	return cfg, nil
}
