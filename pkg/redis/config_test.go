package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/pkg/constants"
)

func TestFromCentralConfigDefaults(t *testing.T) {
	cfg := FromCentralConfig(config.RedisConfig{Addr: "localhost:6379", PoolSize: 20})

	assert.Equal(t, 20, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)

	opts := cfg.options()
	assert.Equal(t, constants.AppName, opts.ClientName)
	assert.True(t, opts.ContextTimeoutEnabled)
}

func TestNewRedisNeedsAddr(t *testing.T) {
	_, err := NewRedis(Config{})
	assert.ErrorIs(t, err, errNoAddr)
}
