package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"fints-bot/internal/config"
	"fints-bot/internal/fints"
	"fints-bot/internal/fints/bridge"
	"fints-bot/internal/ioadapter"
	"fints-bot/internal/prefs"
	"fints-bot/internal/session"
	"fints-bot/internal/storage"
	"fints-bot/internal/tan"
)

// account holds what every mode resolves before it starts.
type account struct {
	acc    config.Account
	cfg    *config.Config
	states *storage.FileStore
}

// resolveAccount discovers the account files and picks one, prompting
// through io when several exist and pick is nil.
func resolveAccount(out io.Writer, o *options, pick func([]config.Account) (config.Account, error)) (*account, error) {
	accounts, err := config.Discover(o.dir)
	if err != nil {
		return nil, fmt.Errorf("discover accounts: %w", err)
	}
	acc, err := pick(accounts)
	if err != nil {
		return nil, err
	}
	if len(accounts) > 1 || acc.Name != config.DefaultAccount {
		fmt.Fprintf(out, "Using account: %s\n", acc.Name)
	}
	cfg, err := config.Load(acc)
	if err != nil {
		return nil, err
	}
	states, err := storage.NewFileStore(o.dir)
	if err != nil {
		return nil, err
	}
	return &account{acc: acc, cfg: cfg, states: states}, nil
}

func interactivePick(o *options, io ioadapter.Adapter) func([]config.Account) (config.Account, error) {
	return func(accounts []config.Account) (config.Account, error) {
		if len(accounts) == 0 && o.account == "" {
			return config.EnvOnly(), nil
		}
		return config.SelectAccount(accounts, o.account, io)
	}
}

func unattendedPick(o *options) func([]config.Account) (config.Account, error) {
	return func(accounts []config.Account) (config.Account, error) {
		return config.Unattended(accounts, o.account)
	}
}

func (a *account) prefsPath(dir string) string {
	if a.acc.Path != "" {
		return a.acc.Path
	}
	return filepath.Join(dir, ".env")
}

// deps builds the session dependencies for one conversation.
func (a *account) deps(o *options, io ioadapter.Adapter) session.Deps {
	f := a.cfg.FinTS
	return session.Deps{
		IO:   io,
		Dial: bridge.Dialer(a.cfg.Runtime.BridgeCmd),
		Params: fints.Params{
			BankID:    f.BLZ,
			UserID:    f.Username,
			PIN:       f.Password,
			URL:       f.HBCIURL,
			ProductID: f.ProductID,
		},
		Account:  a.acc.Name,
		IBAN:     f.IBAN,
		Prefs:    prefs.NewEnvFile(a.prefsPath(o.dir)),
		States:   a.states,
		ForceTAN: o.forceTAN,
	}
}

func (a *account) inputTimeout() time.Duration {
	if d := a.cfg.Runtime.InputTimeout.Duration(); d > 0 {
		return d
	}
	return ioadapter.DefaultTimeout
}

func isConfigError(err error) bool {
	return errors.Is(err, tan.ErrNoMechanisms) || errors.Is(err, tan.ErrNoMedia) || config.IsConfigError(err)
}
