package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaClient calls a local Ollama instance: /api/embed for embeddings
// and /api/generate for answers.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client
}

// NewOllamaClient creates a client targeting config.BaseURL.
func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.EmbedModel == "" {
		config.EmbedModel = "all-minilm"
	}
	if config.ChatModel == "" {
		config.ChatModel = "llama3.2"
	}
	if config.Dim == 0 {
		config.Dim = 384
	}
	return &OllamaClient{
		config: config,
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Embed sends one text to Ollama and returns its embedding.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var result ollamaEmbedResponse
	err := c.post(ctx, "/api/embed", ollamaEmbedRequest{
		Model: c.config.EmbedModel,
		Input: []string{text},
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(result.Embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(result.Embeddings))
	}
	return result.Embeddings[0], nil
}

// Generate sends prompt to /api/generate without streaming.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	var result ollamaGenerateResponse
	err := c.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:  c.config.ChatModel,
		Prompt: prompt,
		Stream: false,
	}, &result)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return strings.TrimSpace(result.Response), nil
}

func (c *OllamaClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *OllamaClient) Dim() int {
	return c.config.Dim
}

func (c *OllamaClient) Model() string {
	return c.config.EmbedModel
}
