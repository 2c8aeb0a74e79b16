package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvProvider, "work")
	t.Setenv(EnvTokenDir, "/secrets")

	o := ReadEnvOverrides(testLogger(t))
	assert.Equal(t, "/custom/config.toml", o.ConfigPath)
	assert.Equal(t, "work", o.Provider)
	assert.Equal(t, "/secrets", o.TokenDir)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvProvider, "")
	t.Setenv(EnvTokenDir, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides(nil))
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "CLOUDTREE_CONFIG", EnvConfig)
	assert.Equal(t, "CLOUDTREE_PROVIDER", EnvProvider)
	assert.Equal(t, "CLOUDTREE_TOKEN_DIR", EnvTokenDir)
}
