package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Logging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_Durations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"poll too fast", func(c *Config) { c.Transfers.PollInterval = "1ms" }, "at least"},
		{"poll too slow", func(c *Config) { c.Transfers.PollInterval = "2h" }, "at most"},
		{"poll garbage", func(c *Config) { c.Transfers.PollInterval = "soon" }, "invalid duration"},
		{"auth timeout", func(c *Config) { c.Auth.Timeout = "1s" }, "auth.timeout"},
		{"connect timeout", func(c *Config) { c.Network.ConnectTimeout = "0s" }, "network.connect_timeout"},
		{"data timeout", func(c *Config) { c.Network.DataTimeout = "1s" }, "network.data_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CallbackPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.CallbackPort = 70000

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.callback_port")
}

func TestValidate_Providers(t *testing.T) {
	tests := []struct {
		name string
		p    Provider
		want string
	}{
		{"unknown kind", Provider{Kind: "dropbox"}, "provider.x.kind"},
		{"onedrive needs client id", Provider{Kind: KindOneDrive}, "client_id: required"},
		{"onedrive rejects uri", Provider{Kind: KindOneDrive, ClientID: "c", URI: "mem://x/"}, "uri: not used"},
		{"onedrive bad base url", Provider{Kind: KindOneDrive, ClientID: "c", BaseURL: "graph"}, "base_url"},
		{"objstore needs uri", Provider{Kind: KindObjStore}, "provider.x.uri"},
		{"objstore rejects oauth", Provider{Kind: KindObjStore, URI: "mem://x/", ClientID: "c"}, "not used"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Providers["x"] = tt.p

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ProviderName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["bad name"] = Provider{Kind: KindObjStore, URI: "mem://x/"}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid provider name")
}

func TestValidate_DefaultProviderMustExist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultProvider = "ghost"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[provider.ghost]")
}
