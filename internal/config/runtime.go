package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/internal/ai"
)

// Logger builds a JSON logger at LogLevel and installs it as the global
// zerolog logger.
func (s *Specification) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level '%s': %w", s.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

// ClientConfig maps the provider settings onto an ai.ClientConfig.
func (s *Specification) ClientConfig() (*ai.ClientConfig, error) {
	var provider ai.Provider
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "openai":
		provider = ai.ProviderOpenAI
	case "vertexai", "google":
		provider = ai.ProviderVertexAI
	case "ollama":
		provider = ai.ProviderOllama
	case "stub", "":
		provider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, s.Provider)
	}
	return &ai.ClientConfig{
		APIKey:     s.APIKey,
		EmbedModel: s.EmbedModel,
		ChatModel:  s.ChatModel,
		Dim:        s.Dim,
		ProjectID:  s.ProjectID,
		Provider:   provider,
		Location:   s.Location,
		BaseURL:    s.BaseURL,
	}, nil
}
