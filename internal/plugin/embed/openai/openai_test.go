package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbedder(url string) *OpenAIEmbedder {
	return &OpenAIEmbedder{apiKey: "test-key", model: "text-embedding-3-small", baseURL: url}
}

func embeddingsHandler(t *testing.T, respond func(w http.ResponseWriter, inputs []string)) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		respond(w, req.Input)
	})
}

func TestEmbedTextsOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t, func(w http.ResponseWriter, inputs []string) {
		// Results deliberately reversed; the index field carries the order.
		resp := map[string]any{"data": []map[string]any{
			{"index": 1, "embedding": []float32{2, 2}},
			{"index": 0, "embedding": []float32{1, 1}},
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	vecs, err := newEmbedder(srv.URL).EmbedTexts(context.Background(), []string{"a", "b"}, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}}, vecs)
}

func TestEmbedTextsRejectsOutOfRangeIndex(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t, func(w http.ResponseWriter, inputs []string) {
		resp := map[string]any{"data": []map[string]any{
			{"index": 5, "embedding": []float32{1, 1}},
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	_, err := newEmbedder(srv.URL).EmbedTexts(context.Background(), []string{"a"}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestEmbedTextsRejectsDuplicateIndex(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t, func(w http.ResponseWriter, inputs []string) {
		resp := map[string]any{"data": []map[string]any{
			{"index": 0, "embedding": []float32{1, 1}},
			{"index": 0, "embedding": []float32{2, 2}},
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	_, err := newEmbedder(srv.URL).EmbedTexts(context.Background(), []string{"a", "b"}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding returned")
}

func TestEmbedTextsTransientOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newEmbedder(srv.URL).EmbedTexts(context.Background(), []string{"a"}, 2)
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
}
