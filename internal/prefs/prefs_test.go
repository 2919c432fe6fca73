package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewEnvFile(filepath.Join(t.TempDir(), ".env"))
	p, err := s.Load()
	require.NoError(t, err)
	assert.False(t, p.Complete())
}

func TestSaveRewritesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.work")
	orig := "# bank login\nFINTS_USERNAME=alice\nFINTS_TAN_MECHANISM=900\nFINTS_TAN_MEDIUM=Old Phone\nIBAN=DE02100100100006820101\n"
	require.NoError(t, os.WriteFile(path, []byte(orig), 0o600))

	s := NewEnvFile(path)
	require.NoError(t, s.Save(Preference{MechanismID: "920", MechanismName: "Best Sign", Medium: "New Phone"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"# bank login\nFINTS_USERNAME=alice\nFINTS_TAN_MECHANISM=920\nFINTS_TAN_MEDIUM=\"New Phone\"\nIBAN=DE02100100100006820101\nFINTS_TAN_MECHANISM_NAME=\"Best Sign\"\n",
		string(raw))

	p, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Preference{MechanismID: "920", MechanismName: "Best Sign", Medium: "New Phone"}, p)
}

func TestSaveWithoutMediumDropsStaleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FINTS_TAN_MECHANISM=920\nFINTS_TAN_MECHANISM_NAME=BestSign\nFINTS_TAN_MEDIUM=Phone\n"), 0o600))

	s := NewEnvFile(path)
	require.NoError(t, s.Save(Preference{MechanismID: "942", MechanismName: "mobileTAN"}))

	p, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Preference{MechanismID: "942", MechanismName: "mobileTAN"}, p)
}

func TestSaveCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	s := NewEnvFile(path)
	require.NoError(t, s.Save(Preference{MechanismID: "920", MechanismName: "BestSign"}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "FINTS_TAN_MECHANISM=920\nFINTS_TAN_MECHANISM_NAME=BestSign\n", string(raw))
}
