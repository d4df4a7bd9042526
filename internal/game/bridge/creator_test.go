package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/rooms/internal/config"
)

func TestNewCreator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte(worldYAML), 0o644))

	c, err := NewCreator(config.BridgeConfig{Kind: config.BridgeFixture, FixturePath: path})
	require.NoError(t, err)
	assert.IsType(t, &FixtureCreator{}, c)

	c, err = NewCreator(config.BridgeConfig{Kind: config.BridgeHTTP, BaseURL: "http://engine:8000"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPCreator{}, c)

	c, err = NewCreator(config.BridgeConfig{Kind: config.BridgeLLM, APIKey: "k", Model: "m", MaxTokens: 10})
	require.NoError(t, err)
	assert.IsType(t, &LLMCreator{}, c)

	_, err = NewCreator(config.BridgeConfig{Kind: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = NewCreator(config.BridgeConfig{Kind: config.BridgeFixture, FixturePath: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}
