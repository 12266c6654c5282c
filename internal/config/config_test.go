package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	cfg = nil
	configPathOverride = ""
	t.Cleanup(func() {
		viper.Reset()
		cfg = nil
		configPathOverride = ""
	})
}

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		resetConfig(t)
		SetConfigPath(filepath.Join(t.TempDir(), "missing", "wayime.toml"))

		require.NoError(t, Init())
		assert.Equal(t, DefaultConfig, *Get())
		assert.False(t, Exists())
	})

	t.Run("reads values from file", func(t *testing.T) {
		resetConfig(t)
		path := filepath.Join(t.TempDir(), "wayime.toml")
		content := `[seat]
name = "seat1"

[keyboard]
repeat_rate = 40
repeat_delay = 200
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		SetConfigPath(path)

		require.NoError(t, Init())
		c := Get()
		assert.Equal(t, "seat1", c.Seat.Name)
		assert.Equal(t, int32(40), c.Keyboard.RepeatRate)
		assert.Equal(t, int32(200), c.Keyboard.RepeatDelay)
		assert.Equal(t, "", c.Keyboard.KeymapFile)
	})

	t.Run("handles invalid TOML", func(t *testing.T) {
		resetConfig(t)
		path := filepath.Join(t.TempDir(), "wayime.toml")
		require.NoError(t, os.WriteFile(path, []byte("[seat\nname = 1"), 0644))
		SetConfigPath(path)

		assert.Error(t, Init())
	})

	t.Run("rejects negative repeat rate", func(t *testing.T) {
		resetConfig(t)
		path := filepath.Join(t.TempDir(), "wayime.toml")
		require.NoError(t, os.WriteFile(path, []byte("[keyboard]\nrepeat_rate = -1\n"), 0644))
		SetConfigPath(path)

		assert.ErrorContains(t, Init(), "repeat_rate")
	})
}

func TestGet_ReturnsDefaultsBeforeInit(t *testing.T) {
	resetConfig(t)
	assert.Equal(t, &DefaultConfig, Get())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty seat", mutate: func(c *Config) { c.Seat.Name = "" }, wantErr: true},
		{name: "negative delay", mutate: func(c *Config) { c.Keyboard.RepeatDelay = -5 }, wantErr: true},
		{name: "repeat disabled", mutate: func(c *Config) { c.Keyboard.RepeatRate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadKeymap(t *testing.T) {
	c := DefaultConfig
	keymap, err := c.LoadKeymap()
	require.NoError(t, err)
	assert.Empty(t, keymap)

	path := filepath.Join(t.TempDir(), "custom.xkb")
	require.NoError(t, os.WriteFile(path, []byte("xkb_keymap { };"), 0644))
	c.Keyboard.KeymapFile = path
	keymap, err = c.LoadKeymap()
	require.NoError(t, err)
	assert.Equal(t, "xkb_keymap { };", keymap)

	c.Keyboard.KeymapFile = filepath.Join(t.TempDir(), "missing.xkb")
	_, err = c.LoadKeymap()
	assert.Error(t, err)
}

func TestSaveAndGetConfigPath(t *testing.T) {
	resetConfig(t)
	path := filepath.Join(t.TempDir(), "nested", "wayime.toml")
	SetConfigPath(path)
	assert.Equal(t, path, GetConfigPath())

	c := DefaultConfig
	c.Keyboard.RepeatRate = 12
	Set(&c)
	require.NoError(t, Save())
	assert.True(t, Exists())

	viper.Reset()
	cfg = nil
	require.NoError(t, Init())
	assert.Equal(t, int32(12), Get().Keyboard.RepeatRate)
}
