package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	wordimpact "github.com/yoursandeshshrestha/word-impact-network-sub003"
)

// defaultCookieName is the LMS session cookie used when the stored cookie
// has no name=value form.
const defaultCookieName = "token"

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", s)
	}
	return l, nil
}

// newLogger builds the CLI logger. The --log-level flag wins over config.
func newLogger(cfg *Config) *slog.Logger {
	level := cfg.Default.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	l, err := parseLevel(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// sessionCookie parses the stored cookie, either "name=value" or a bare
// value for the default cookie name.
func sessionCookie(raw string) *http.Cookie {
	name, value, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return &http.Cookie{Name: defaultCookieName, Value: name}
	}
	return &http.Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
}

// credentialMode resolves the configured mode, inferring it from the stored
// credentials when unset.
func credentialMode(cfg *Config) wordimpact.CredentialMode {
	switch cfg.Default.CredentialMode {
	case string(wordimpact.CredentialToken):
		return wordimpact.CredentialToken
	case string(wordimpact.CredentialCookie):
		return wordimpact.CredentialCookie
	}
	if cfg.Auth.Token != "" && cfg.Auth.Cookie == "" {
		return wordimpact.CredentialToken
	}
	return wordimpact.CredentialCookie
}

// newClient creates an API client from cfg.
func newClient(cfg *Config, logger *slog.Logger) (*wordimpact.Client, error) {
	if cfg.Default.BaseURL == "" {
		return nil, fmt.Errorf("no base URL configured; run 'win init <base-url>' first")
	}

	opts := []wordimpact.ClientOption{wordimpact.WithLogger(logger)}
	mode := credentialMode(cfg)
	if mode == wordimpact.CredentialToken {
		opts = append(opts, wordimpact.WithToken(cfg.Auth.Token))
	}
	client := wordimpact.NewClient(cfg.Default.BaseURL, opts...)

	if mode == wordimpact.CredentialCookie && cfg.Auth.Cookie != "" {
		if err := client.SetSessionCookie(sessionCookie(cfg.Auth.Cookie)); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// getClient loads the config and creates a client, exiting on failure.
func getClient() (*wordimpact.Client, *Config, *slog.Logger) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" && cfg.Auth.Cookie == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'win login --token <jwt>' or 'win login --cookie <value>' first.")
		os.Exit(1)
	}
	logger := newLogger(cfg)
	client, err := newClient(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return client, cfg, logger
}

// maskSecret shows the first 6 and last 4 characters of a credential.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return "****"
	}
	return s[:6] + "..." + s[len(s)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
