package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageReply(text string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":            "msg_01",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-sonnet-4-5",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
	})
	return body
}

func newLLMServer(t *testing.T, status int, reply []byte) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestLLMCreator_CreateGame(t *testing.T) {
	reply := "Here is your village:\n```json\n" +
		`{"inaccessible_locations": ["crypt"], "villagers": [{"title": "the miller"}, {"title": "the priest"}]}` +
		"\n```"
	srv, captured := newLLMServer(t, http.StatusOK, messageReply(reply))

	c := NewLLMCreator(LLMConfig{
		APIKey:                   "test-key",
		Model:                    "claude-sonnet-4-5",
		MaxTokens:                512,
		NumInaccessibleLocations: 1,
		BaseURL:                  srv.URL,
	})
	game, err := c.CreateGame(context.Background(), "hard")
	require.NoError(t, err)

	assert.NotEmpty(t, game.ID)
	assert.Equal(t, []string{"crypt"}, game.InaccessibleLocations)
	assert.Equal(t, []Villager{
		{ID: "villager_0", Title: "the miller"},
		{ID: "villager_1", Title: "the priest"},
	}, game.Villagers)

	require.NotNil(t, *captured)
	assert.Equal(t, "claude-sonnet-4-5", (*captured)["model"])
	assert.EqualValues(t, 512, (*captured)["max_tokens"])
}

func TestLLMCreator_APIError(t *testing.T) {
	srv, _ := newLLMServer(t, http.StatusInternalServerError,
		[]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))

	c := NewLLMCreator(LLMConfig{APIKey: "test-key", Model: "m", MaxTokens: 16, BaseURL: srv.URL})
	_, err := c.CreateGame(context.Background(), "medium")
	assert.Error(t, err)
}

func TestLLMCreator_NoJSONInReply(t *testing.T) {
	srv, _ := newLLMServer(t, http.StatusOK, messageReply("I cannot help with that."))

	c := NewLLMCreator(LLMConfig{APIKey: "test-key", Model: "m", MaxTokens: 16, BaseURL: srv.URL})
	_, err := c.CreateGame(context.Background(), "medium")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON object")
}

func TestParseGeneratedWorld(t *testing.T) {
	w, err := parseGeneratedWorld(`{"villagers":[{"title":"a"}]}`)
	require.NoError(t, err)
	assert.Len(t, w.Villagers, 1)

	_, err = parseGeneratedWorld(`{"villagers":[]}`)
	assert.Error(t, err)

	_, err = parseGeneratedWorld(`} {`)
	assert.Error(t, err)

	_, err = parseGeneratedWorld(`{"villagers": [`)
	assert.Error(t, err)
}
