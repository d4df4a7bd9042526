package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

const worldSystemPrompt = `You design small village worlds for a cooperative mystery game.
Reply with a single JSON object and nothing else. The object has two keys:
"inaccessible_locations", an array of short location names players cannot enter,
and "villagers", an array of objects with a "title" such as "the blacksmith".`

// LLMConfig configures an LLMCreator.
type LLMConfig struct {
	APIKey                   string
	Model                    string
	MaxTokens                int64
	NumInaccessibleLocations int
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

// LLMCreator generates worlds with the Anthropic Messages API.
type LLMCreator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	locations int
}

// NewLLMCreator creates an LLMCreator.
//
// Precondition: cfg.APIKey and cfg.Model must be non-empty; cfg.MaxTokens > 0.
func NewLLMCreator(cfg LLMConfig) *LLMCreator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &LLMCreator{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		locations: cfg.NumInaccessibleLocations,
	}
}

type generatedWorld struct {
	InaccessibleLocations []string `json:"inaccessible_locations"`
	Villagers             []struct {
		Title string `json:"title"`
	} `json:"villagers"`
}

// CreateGame asks the model for a world at the given difficulty.
//
// Postcondition: Returns a Game with a fresh UUID and villager_<i> ids, or an
// error when the call fails or the reply holds no usable JSON object.
func (c *LLMCreator) CreateGame(ctx context.Context, difficulty string) (Game, error) {
	prompt := fmt.Sprintf(
		"Create a %s difficulty village with exactly %d inaccessible locations and between 3 and 6 villagers.",
		difficulty, c.locations,
	)
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: worldSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Game{}, fmt.Errorf("generating world: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	world, err := parseGeneratedWorld(text.String())
	if err != nil {
		return Game{}, err
	}

	villagers := make([]Villager, 0, len(world.Villagers))
	for i, v := range world.Villagers {
		villagers = append(villagers, Villager{ID: villagerID(i), Title: v.Title})
	}
	locs := world.InaccessibleLocations
	if locs == nil {
		locs = []string{}
	}
	return Game{
		ID:                    uuid.NewString(),
		InaccessibleLocations: locs,
		Villagers:             villagers,
	}, nil
}

// parseGeneratedWorld decodes the outermost JSON object in text. Models
// sometimes wrap the object in prose or a code fence.
func parseGeneratedWorld(text string) (generatedWorld, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return generatedWorld{}, fmt.Errorf("generated world: no JSON object in reply")
	}
	var w generatedWorld
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return generatedWorld{}, fmt.Errorf("generated world: %w", err)
	}
	if len(w.Villagers) == 0 {
		return generatedWorld{}, fmt.Errorf("generated world: no villagers")
	}
	return w, nil
}
