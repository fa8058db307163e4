package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        defaultAddr,
		Storage:     StoragePostgres,
		DatabaseURL: "postgres://shop@localhost/shop",
		Auth:        AuthConfig{JWTSecret: "secret"},
		Stock:       StockConfig{LowThreshold: 40},
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "MemoryNeedsNoDatabase", mutate: func(c *Config) { c.Storage = StorageMemory; c.DatabaseURL = "" }},
		{name: "MissingDatabase", mutate: func(c *Config) { c.DatabaseURL = "" }, errMsg: "database URL is required"},
		{name: "UnknownStorage", mutate: func(c *Config) { c.Storage = "sqlite" }, errMsg: `unknown storage "sqlite"`},
		{name: "MissingSecret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, errMsg: "jwt secret is required"},
		{name: "ZeroThreshold", mutate: func(c *Config) { c.Stock.LowThreshold = 0 }, errMsg: "must be positive"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	c := Config{Addr: defaultAddr}
	c.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", c.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", c.Addr)

	// Explicit settings win.
	c = Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	c.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", c.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", c.Addr)
}
