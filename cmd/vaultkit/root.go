package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vaultkit/vaultkit/biometric"
	"github.com/vaultkit/vaultkit/config"
	"github.com/vaultkit/vaultkit/gateway"
	"github.com/vaultkit/vaultkit/securestore"
	"github.com/vaultkit/vaultkit/session"
	"github.com/vaultkit/vaultkit/stepup"
	"github.com/vaultkit/vaultkit/vault"
)

var (
	configPath string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "vaultkit",
		Short: "Personal data vault client",
		Long:  `Command-line client for the vaultkit personal data vault.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).
				With().Timestamp().Logger()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(changePinCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(shareCmd)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vaultkit.yaml"
	}
	return filepath.Join(home, ".vaultkit", "config.yaml")
}

// app is the wired-up client, built once per command invocation.
type app struct {
	cfg     *config.Config
	store   securestore.Store
	session *session.Client
	gw      *gateway.Client
	coord   *stepup.Coordinator
	vault   *vault.Service
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	sess := session.New(session.Config{
		BaseURL:    cfg.Server.BaseURL,
		AppVersion: cfg.Server.AppVersion,
		Timeout:    cfg.SessionTimeout(),
		MaxRetries: cfg.Session.MaxRetries,
		RetryBase:  cfg.RetryBase(),
	}, store)

	gw := gateway.New(sess)
	bundles := stepup.StoreBundleSource{Store: store}

	coord := stepup.New(gw, gw, biometric.UnsupportedGate{}, bundles, stepup.Config{
		OtpTTL:          time.Duration(cfg.StepUp.OtpTTLSeconds) * time.Second,
		ResendCooldown:  time.Duration(cfg.StepUp.ResendCooldownSeconds) * time.Second,
		TicketTTL:       time.Duration(cfg.StepUp.TicketTTLSeconds) * time.Second,
		BackgroundGrace: time.Duration(cfg.StepUp.BackgroundGraceSeconds) * time.Second,
		MaxPinFailures:  cfg.StepUp.MaxPinFailures,
		PinLockout:      time.Duration(cfg.StepUp.PinLockoutSeconds) * time.Second,
	})

	return &app{
		cfg:     cfg,
		store:   store,
		session: sess,
		gw:      gw,
		coord:   coord,
		vault:   vault.NewService(gw, gw, bundles),
	}, nil
}

// openStore opens the sealed SQLite store. The sealing key lives next to
// the database with owner-only permissions; on a phone it would come from
// the OS keystore instead.
func openStore(path string) (securestore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	keyPath := path + ".key"
	key, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate store key: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("persist store key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read store key: %w", err)
	}

	return securestore.NewSQLiteStore(path, key)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
