package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fedmem/federated-memory/internal/config"
	registryembed "github.com/fedmem/federated-memory/internal/registry/embed"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai embedder: OPENAI_API_KEY is required")
	}
	return &OpenAIEmbedder{
		apiKey:  cfg.OpenAIAPIKey,
		model:   cfg.OpenAIModelName,
		baseURL: strings.TrimRight(cfg.OpenAIBaseURL, "/"),
	}, nil
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint. The dimensions request
// parameter makes one model serve both the full and the compressed tier.
type OpenAIEmbedder struct {
	apiKey  string
	model   string
	baseURL string
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// TransientError marks upstream failures that are worth retrying.
type TransientError struct {
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("openai embed: transient upstream failure (status %d): %s", e.StatusCode, e.Message)
}

// Transient marks the error as retryable for the embedding provider.
func (e *TransientError) Transient() bool { return true }

func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string, dimension int) ([][]float32, error) {
	reqBody, err := json.Marshal(embeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: ptrIfPositive(dimension),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai embed: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &TransientError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("openai embed: parse response: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("openai embed error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return results in any order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("openai embed: embedding index %d out of range [0,%d)", d.Index, len(embeddings))
		}
		embeddings[d.Index] = d.Embedding
	}
	for i, vec := range embeddings {
		if vec == nil {
			return nil, fmt.Errorf("openai embed: no embedding returned for input %d", i)
		}
	}
	return embeddings, nil
}

func ptrIfPositive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

var _ registryembed.Embedder = (*OpenAIEmbedder)(nil)
