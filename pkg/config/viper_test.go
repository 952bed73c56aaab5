package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutConfigFile(t *testing.T) {
	v, err := Load(t.TempDir(), "missing")
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestDuration(t *testing.T) {
	v := viper.New()
	v.Set("ok", "15m")
	v.Set("bad", "fifteen")
	v.Set("negative", "-1s")

	assert.Equal(t, 15*time.Minute, Duration(v, "ok", time.Second))
	assert.Equal(t, time.Second, Duration(v, "bad", time.Second))
	assert.Equal(t, time.Second, Duration(v, "negative", time.Second))
	assert.Equal(t, 2*time.Second, Duration(v, "absent", 2*time.Second))
}

func TestStringSlice(t *testing.T) {
	v := viper.New()
	v.Set("list", []string{" a ", "b", ""})
	v.Set("csv", "x, y ,z")

	assert.Equal(t, []string{"a", "b"}, StringSlice(v, "list"))
	assert.Equal(t, []string{"x", "y", "z"}, StringSlice(v, "csv"))
	assert.Empty(t, StringSlice(v, "absent"))
}
