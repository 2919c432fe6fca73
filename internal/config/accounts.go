package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"fints-bot/internal/ioadapter"
)

// DefaultAccount names the plain .env file.
const DefaultAccount = "default"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAmbiguous       = errors.New("multiple accounts found, use --account <name> to specify which one")
)

// Account is one discovered .env file.
type Account struct {
	Name string
	Path string
	// IBAN is only shown in the picker.
	IBAN string
}

// Discover lists the .env.<name> files in dir, sorted, and falls back to a
// plain .env as "default" when there are none.
func Discover(dir string) ([]Account, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ".env.*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var accounts []Account
	for _, path := range matches {
		base := filepath.Base(path)
		if base == ".env.example" || skipSuffix(base) {
			continue
		}
		if st, err := os.Stat(path); err != nil || st.IsDir() {
			continue
		}
		acc, err := loadAccount(strings.TrimPrefix(base, ".env."), path)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if len(accounts) > 0 {
		return accounts, nil
	}

	plain := filepath.Join(dir, ".env")
	if _, err := os.Stat(plain); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	acc, err := loadAccount(DefaultAccount, plain)
	if err != nil {
		return nil, err
	}
	return []Account{acc}, nil
}

func skipSuffix(name string) bool {
	switch filepath.Ext(name) {
	case ".bak", ".backup", ".old":
		return true
	}
	return false
}

func loadAccount(name, path string) (Account, error) {
	vals, err := godotenv.Read(path)
	if err != nil {
		return Account{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Account{Name: name, Path: path, IBAN: vals["IBAN"]}, nil
}

func names(accounts []Account) string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Name
	}
	return strings.Join(out, ", ")
}

// SelectAccount picks by name when one is given, takes a lone account as is,
// and otherwise asks through io, accepting an index or a name.
func SelectAccount(accounts []Account, name string, io ioadapter.Adapter) (Account, error) {
	if len(accounts) == 0 {
		return Account{}, &Error{Problems: []string{
			"No account configurations found. Create a .env file or .env.<name> files in the project root.",
		}}
	}
	if name != "" {
		for _, a := range accounts {
			if a.Name == name {
				return a, nil
			}
		}
		return Account{}, fmt.Errorf("%w: '%s'. Available accounts: %s", ErrAccountNotFound, name, names(accounts))
	}
	if len(accounts) == 1 {
		return accounts[0], nil
	}

	io.Output("Multiple accounts found:")
	for i, a := range accounts {
		io.Output(fmt.Sprintf("  %d) %s (IBAN: %s)", i, a.Name, a.IBAN))
	}
	raw, err := io.Input("Select account: ")
	if err != nil {
		return Account{}, err
	}
	choice := strings.TrimSpace(raw)
	if i, err := strconv.Atoi(choice); err == nil && i >= 0 && i < len(accounts) {
		return accounts[i], nil
	}
	for _, a := range accounts {
		if a.Name == choice {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("invalid selection: %s", choice)
}

// EnvOnly is the account used when no .env file exists; everything comes
// from the process environment.
func EnvOnly() Account {
	return Account{Name: DefaultAccount}
}

// Unattended resolves the account without prompting.
func Unattended(accounts []Account, name string) (Account, error) {
	if len(accounts) == 0 && name == "" {
		return EnvOnly(), nil
	}
	if len(accounts) > 1 && name == "" {
		return Account{}, fmt.Errorf("%w. Available accounts: %s", ErrAmbiguous, names(accounts))
	}
	return SelectAccount(accounts, name, nil)
}
