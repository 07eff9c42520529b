package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	unichat "github.com/unichat-dev/unichat-go"
)

// newLogger builds a console logger at the configured level.
func newLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Default.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// getSession loads the stored session, exiting if none is stored.
func getSession(cfg *Config) *unichat.Session {
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'unichat login <user-id> <token>' first.")
		os.Exit(1)
	}
	return unichat.NewSession(cfg.Auth.UserID, cfg.Auth.DisplayName, cfg.Auth.Token)
}

// getClient creates an authenticated UniChat client from the stored config.
func getClient() (*unichat.Client, *unichat.Session) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	session := getSession(cfg)

	var opts []unichat.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, unichat.WithBaseURL(cfg.Default.BaseURL))
	}
	opts = append(opts, unichat.WithLogger(newLogger(cfg)))

	return unichat.NewClient(session, opts...), session
}
