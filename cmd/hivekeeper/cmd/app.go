package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/hivekeeper/auth"
	"github.com/jmcleod/hivekeeper/biometric"
	"github.com/jmcleod/hivekeeper/crypto"
	"github.com/jmcleod/hivekeeper/hive"
	"github.com/jmcleod/hivekeeper/internal/config"
	"github.com/jmcleod/hivekeeper/internal/logging"
	"github.com/jmcleod/hivekeeper/internal/util"
	"github.com/jmcleod/hivekeeper/keystore"
	"github.com/jmcleod/hivekeeper/storage"
	bboltstorage "github.com/jmcleod/hivekeeper/storage/bbolt"
	"github.com/jmcleod/hivekeeper/storage/memory"
	sqlitestorage "github.com/jmcleod/hivekeeper/storage/sqlite"
)

// app is the composition root shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  storage.Backend
	store    *keystore.Store
	gate     *biometric.PasscodeGate
	prompter biometric.Prompter
	registry *prometheus.Registry
	manager  *auth.Manager
}

// accountLookup is overridden in tests.
var accountLookup = func(c *config.Config, logger *slog.Logger) (hive.AccountLookup, error) {
	return hive.NewClient(c.Hive.Nodes,
		hive.WithTimeout(c.Hive.Timeout),
		hive.WithRetryMax(c.Hive.RetryMax),
		hive.WithLogger(logger),
	)
}

// prompterFor is overridden in tests.
var prompterFor = func(in io.Reader, out io.Writer) biometric.Prompter {
	if f, ok := in.(*os.File); ok {
		tp := &biometric.TerminalPrompter{In: f, Out: out}
		if tp.Available() {
			return tp
		}
	}
	return newLinePrompter(in, out)
}

func openBackend(ctx context.Context, c *config.Config) (storage.Backend, error) {
	switch c.Storage.Backend {
	case "memory":
		return memory.NewBackend(), nil
	case "bbolt":
		if err := os.MkdirAll(c.Storage.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return bboltstorage.NewBackendFromFile(c.StoragePath(), &bbolt.Options{Timeout: time.Second})
	case "sqlite":
		if err := os.MkdirAll(c.Storage.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlitestorage.Open(ctx, c.StoragePath())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
}

// openStorage opens the configured backend wrapped in the sealed layer.
func openStorage(ctx context.Context, c *config.Config) (storage.Backend, error) {
	inner, err := openBackend(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to open key storage: %w", err)
	}
	var wrappingKey []byte
	if c.Storage.Backend == "memory" {
		wrappingKey, err = util.NewAESKey()
	} else {
		wrappingKey, err = storage.LoadOrCreateWrappingKey(c.KeyFilePath())
	}
	if err != nil {
		inner.Close()
		return nil, err
	}
	sealed, err := storage.NewSealed(inner, wrappingKey)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return sealed, nil
}

func newApp(ctx context.Context, c *config.Config, in io.Reader, out, errOut io.Writer) (*app, error) {
	logger, err := logging.New(c.Logging.Level, c.Logging.Format, errOut)
	if err != nil {
		return nil, err
	}
	backend, err := openStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      c,
		logger:   logger,
		backend:  backend,
		store:    keystore.NewStore(backend),
		registry: prometheus.NewRegistry(),
		prompter: prompterFor(in, out),
	}
	a.gate = biometric.NewPasscodeGate(backend, a.prompter,
		biometric.WithPBKDF2Params(c.KDFParams()),
		biometric.WithMaxAttempts(c.Device.MaxAttempts),
		biometric.WithLogger(logger),
	)

	accounts, err := accountLookup(c, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	cipherOpts := []crypto.CipherOption{}
	saltOpts := []crypto.SaltOption{}
	if c.Security.DevFallback {
		cipherOpts = append(cipherOpts, crypto.WithInsecureCipherFallback(logger))
		saltOpts = append(saltOpts, crypto.WithInsecureSaltFallback(logger))
	}
	cipher := crypto.NewCipher(cipherOpts...)
	if c.Security.DevFallback && !cipher.FallbackEnabled() {
		logger.Warn("dev_fallback ignored: binary was built without the devfallback tag")
	}

	a.manager, err = auth.New(a.store, accounts,
		auth.WithBiometric(a.gate, keystore.NewDeviceSecret(backend)),
		auth.WithBroadcaster(hive.DryRunBroadcaster{Logger: logger}),
		auth.WithCipher(cipher),
		auth.WithSaltGenerator(crypto.NewSaltGenerator(saltOpts...)),
		auth.WithKDFParams(c.KDFParams()),
		auth.WithPINLength(c.Session.PINLength),
		auth.WithInactivityTimeout(c.Session.InactivityTimeout),
		auth.WithLogger(logger),
		auth.WithRegisterer(a.registry),
		auth.WithAlertFunc(func(e auth.AlertEvent) {
			logger.Warn("security alert",
				slog.String("type", string(e.Type)),
				slog.Int("count", e.Count),
				slog.Int("threshold", e.Threshold),
			)
		}),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := a.manager.Init(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	return errors.Join(errs...)
}

// withApp opens the app for cmd, runs fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// userError renders auth failures with their display message.
func userError(err error) error {
	if err == nil {
		return nil
	}
	if auth.KindOf(err) == 0 {
		return err
	}
	return errors.New(auth.UserMessage(err))
}
