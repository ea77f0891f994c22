package main

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parley/internal/config"
	"parley/internal/redisconn"
	"parley/internal/store"
)

// commandContext lazily loads configuration and shared connections for CLI
// commands.
type commandContext struct {
	configFlag *string
	cfg        *config.Config
	cfgPath    string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, resolvedPath, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.cfgPath = resolvedPath
	return cfg, nil
}

func (c *commandContext) openStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg, zap.NewNop())
}

func (c *commandContext) redisClient() (*redis.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return redisconn.New(cfg), nil
}
