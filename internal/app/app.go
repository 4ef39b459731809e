package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"branchdb/internal/janitor"
	"branchdb/pkg/access"
	"branchdb/pkg/branch"
	"branchdb/pkg/config"
	"branchdb/pkg/store"
	"branchdb/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	st  *store.Store
	svc *branch.Service

	srv *http.Server
}

// New initializes resources that do not require a running context
// (store, validation rules, runtime keys). It does not start the
// janitor or the HTTP server; call Run to start those and block until
// shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	// runtime keys
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	// validation rules
	validation.SetRules(validation.Rules{
		MaxContentLen: eff.Config.Validation.MaxContentLen,
		MaxParts:      eff.Config.Validation.MaxParts,
		MaxTitleLen:   eff.Config.Validation.MaxTitleLen,
	})

	st, err := store.Open(eff.DBPath, eff.Config.Storage.CacheSize.Int64())
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		st:        st,
		svc:       branch.NewService(st, access.OwnerOrShared{}),
	}
	return a, nil
}

// Store exposes the underlying store for admin triggers and tests.
func (a *App) Store() *store.Store { return a.st }

// Run starts the janitor and the HTTP server, and blocks until ctx is
// canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	stopJanitor, err := janitor.Start(ctx, a.eff.Config.Janitor, a.st)
	if err != nil {
		return err
	}
	defer stopJanitor()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return a.Close()
	case err := <-errCh:
		_ = a.Close()
		return err
	}
}

// Close shuts the HTTP server down and closes the store.
func (a *App) Close() error {
	if a.srv != nil {
		_ = a.srv.Close()
	}
	return a.st.Close()
}

func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if eff.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert == "") != (key == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	return nil
}
