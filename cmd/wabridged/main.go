package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bayup/wabridge/internal/config"
	"github.com/bayup/wabridge/internal/daemon"
	"github.com/bayup/wabridge/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	portFlag := flag.Int("port", 0, "HTTP port (overrides PORT and config)")
	configFlag := flag.String("config", "", "config file (default <base>/config.toml)")
	flag.Parse()

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fatal(err)
	}
	if *portFlag != 0 {
		cfg.Port = *portFlag
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	sessionName := session.Resolve(*sessionFlag, cfg)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)

	app.Run()
}

// loadConfig applies defaults, then the config file, then .env and the
// environment.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
