package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPCreator creates games through the narrative engine's HTTP API.
type HTTPCreator struct {
	baseURL   string
	locations int
	client    *http.Client
}

// NewHTTPCreator creates an HTTPCreator for the engine at baseURL.
//
// Precondition: baseURL must be an absolute http(s) URL; client may be nil.
func NewHTTPCreator(baseURL string, numInaccessibleLocations int, client *http.Client) *HTTPCreator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCreator{
		baseURL:   strings.TrimRight(baseURL, "/"),
		locations: numInaccessibleLocations,
		client:    client,
	}
}

type newGameRequest struct {
	Difficulty               string `json:"difficulty"`
	NumInaccessibleLocations int    `json:"num_inaccessible_locations"`
}

type newGameResponse struct {
	GameID                string     `json:"game_id"`
	Status                string     `json:"status"`
	InaccessibleLocations []string   `json:"inaccessible_locations"`
	Villagers             []Villager `json:"villagers"`
}

// CreateGame posts to {baseURL}/game/new.
//
// Postcondition: Returns the engine's game, or an error on transport
// failure, non-2xx status, or an undecodable body.
func (c *HTTPCreator) CreateGame(ctx context.Context, difficulty string) (Game, error) {
	body, err := json.Marshal(newGameRequest{
		Difficulty:               difficulty,
		NumInaccessibleLocations: c.locations,
	})
	if err != nil {
		return Game{}, fmt.Errorf("encoding new game request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/game/new", bytes.NewReader(body))
	if err != nil {
		return Game{}, fmt.Errorf("building new game request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Game{}, fmt.Errorf("calling narrative engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Game{}, fmt.Errorf("narrative engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out newGameResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Game{}, fmt.Errorf("decoding new game response: %w", err)
	}
	for i := range out.Villagers {
		if out.Villagers[i].ID == "" {
			out.Villagers[i].ID = villagerID(i)
		}
	}
	return Game{
		ID:                    out.GameID,
		InaccessibleLocations: out.InaccessibleLocations,
		Villagers:             out.Villagers,
	}, nil
}
