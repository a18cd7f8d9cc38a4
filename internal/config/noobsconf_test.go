package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	conf, err := Load(filepath.Join(t.TempDir(), "noobs.conf"))
	require.NoError(t, err)
	assert.Equal(t, DisplayHDMIPreferred, conf.DisplayMode)
	assert.Equal(t, "en", conf.Language)
	assert.Equal(t, "gb", conf.Keyboard)
}

func TestLoad_ReadsDeclaredKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noobs.conf")
	content := "display_mode = 2\nlanguage = fr\nkeyboard_layout = fr\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DisplayPAL, conf.DisplayMode)
	assert.Equal(t, "fr", conf.Language)
	assert.Equal(t, "fr", conf.Keyboard)
}
