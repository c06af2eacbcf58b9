package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, parseOrigins(" https://a.example, ,https://b.example "))
}

func TestLoadPollDefaults(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "")
	t.Setenv("POLL_JITTER_MS", "250")
	t.Setenv("POLL_RATE_PER_MINUTE", "not-a-number")

	cfg := Load()

	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.PollJitter)
	assert.Equal(t, 60, cfg.PollRatePerMinute)
}

func TestSlotRenderKeyIncludesSequence(t *testing.T) {
	assert.NotEqual(t, CacheKey.SlotRenderKey(7, 1, 2), CacheKey.SlotRenderKey(7, 1, 3))
	assert.Equal(t, "attempt:7:slot:1:seq:2:html", CacheKey.SlotRenderKey(7, 1, 2))
}
