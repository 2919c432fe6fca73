// Package prefs caches the chosen TAN mechanism and medium in the account's env file.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	KeyMechanism     = "FINTS_TAN_MECHANISM"
	KeyMechanismName = "FINTS_TAN_MECHANISM_NAME"
	KeyMedium        = "FINTS_TAN_MEDIUM"
)

// Preference is the cached TAN selection. Medium may be empty.
type Preference struct {
	MechanismID   string
	MechanismName string
	Medium        string
}

// Complete reports whether the preference can be replayed.
func (p Preference) Complete() bool {
	return p.MechanismID != "" && p.MechanismName != ""
}

type Store interface {
	Load() (Preference, error)
	Save(p Preference) error
}

// EnvFile reads and rewrites KEY=value lines in place. Other lines, comments
// included, are left alone.
type EnvFile struct {
	Path string
}

func NewEnvFile(path string) *EnvFile {
	return &EnvFile{Path: path}
}

func (e *EnvFile) Load() (Preference, error) {
	vals, err := godotenv.Read(e.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Preference{}, nil
		}
		return Preference{}, fmt.Errorf("read %s: %w", e.Path, err)
	}
	return Preference{
		MechanismID:   vals[KeyMechanism],
		MechanismName: vals[KeyMechanismName],
		Medium:        vals[KeyMedium],
	}, nil
}

// Save overwrites all three keys. An empty medium removes its line.
func (e *EnvFile) Save(p Preference) error {
	var lines []string
	perm := fs.FileMode(0o600)
	raw, err := os.ReadFile(e.Path)
	switch {
	case err == nil:
		content := strings.TrimRight(string(raw), "\n")
		if content != "" {
			lines = strings.Split(content, "\n")
		}
		if st, serr := os.Stat(e.Path); serr == nil {
			perm = st.Mode().Perm()
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("read %s: %w", e.Path, err)
	}

	updates := []struct {
		key, value string
	}{
		{KeyMechanism, p.MechanismID},
		{KeyMechanismName, p.MechanismName},
		{KeyMedium, p.Medium},
	}
	written := make(map[string]bool, len(updates))
	out := make([]string, 0, len(lines)+len(updates))
	for _, line := range lines {
		key := lineKey(line)
		replaced := false
		for _, u := range updates {
			if key != u.key {
				continue
			}
			replaced = true
			if u.value != "" && !written[u.key] {
				out = append(out, u.key+"="+quote(u.value))
			}
			written[u.key] = true
			break
		}
		if !replaced {
			out = append(out, line)
		}
	}
	for _, u := range updates {
		if !written[u.key] && u.value != "" {
			out = append(out, u.key+"="+quote(u.value))
		}
	}

	if err := os.WriteFile(e.Path, []byte(strings.Join(out, "\n")+"\n"), perm); err != nil {
		return fmt.Errorf("write %s: %w", e.Path, err)
	}
	return nil
}

func lineKey(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, "export ")
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return ""
	}
	return strings.TrimSpace(s[:i])
}

func quote(v string) string {
	if !strings.ContainsAny(v, " #\"'\\\t") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
