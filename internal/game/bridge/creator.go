package bridge

import (
	"fmt"
	"net/http"

	"github.com/cory-johannsen/rooms/internal/config"
)

// NewCreator builds the GameCreator selected by cfg.Kind.
//
// Precondition: cfg must have passed config validation.
// Postcondition: Returns a ready GameCreator or a non-nil error.
func NewCreator(cfg config.BridgeConfig) (GameCreator, error) {
	switch cfg.Kind {
	case config.BridgeHTTP:
		return NewHTTPCreator(cfg.BaseURL, cfg.NumInaccessibleLocations, &http.Client{}), nil
	case config.BridgeLLM:
		return NewLLMCreator(LLMConfig{
			APIKey:                   cfg.APIKey,
			Model:                    cfg.Model,
			MaxTokens:                cfg.MaxTokens,
			NumInaccessibleLocations: cfg.NumInaccessibleLocations,
			BaseURL:                  cfg.BaseURL,
		}), nil
	case config.BridgeFixture:
		f, err := LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown bridge kind %q", cfg.Kind)
	}
}
