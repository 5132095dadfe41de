package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultHistoryLines keeps the last ten exchanges.
const DefaultHistoryLines = 20

// Retriever supplies context documents for a question.
type Retriever interface {
	Retrieve(ctx context.Context, q string, k int) ([]string, error)
}

// Generator produces an answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Session is one conversation. It is not safe for concurrent use.
type Session struct {
	Retriever    Retriever
	Generator    Generator
	K            int
	HistoryLines int

	history []string
}

// NewSession returns a session retrieving k documents per question and
// remembering the last historyLines lines of conversation.
func NewSession(r Retriever, g Generator, k, historyLines int) *Session {
	if k < 1 {
		k = 5
	}
	if historyLines < 0 {
		historyLines = DefaultHistoryLines
	}
	return &Session{Retriever: r, Generator: g, K: k, HistoryLines: historyLines}
}

// Ask retrieves context for question, asks the generator and records the
// exchange. The question is part of the history shown in its own prompt. A
// failed exchange leaves the history unchanged.
func (s *Session) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)

	docs, err := s.Retriever.Retrieve(ctx, question, s.K)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}
	log.Debug().Int("documents", len(docs)).Msg("retrieved context")

	turn := "You: " + question
	prompt := BuildPrompt(Window(append(s.History(), turn), s.HistoryLines), docs, question)
	answer, err := s.Generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)

	s.Record(question, answer)
	return answer, nil
}

// Record appends an exchange to the history and trims it to the window.
func (s *Session) Record(question, answer string) {
	s.history = append(s.history, "You: "+question, "Bot: "+answer)
	s.history = Window(s.history, s.HistoryLines)
}

// History returns a copy of the remembered lines, oldest first.
func (s *Session) History() []string {
	return append([]string(nil), s.history...)
}

// Restore replaces the history with lines, trimmed to the window.
func (s *Session) Restore(lines []string) {
	s.history = Window(append([]string(nil), lines...), s.HistoryLines)
}

// Reset forgets the conversation.
func (s *Session) Reset() { s.history = nil }

// Window returns the last n lines.
func Window(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) <= n {
		return lines
	}
	return append([]string(nil), lines[len(lines)-n:]...)
}

// BuildPrompt lays out history, retrieved context and the question.
// Documents are separated by a blank line.
func BuildPrompt(history, docs []string, question string) string {
	var b strings.Builder
	b.WriteString("Conversation History:\n")
	b.WriteString(strings.Join(history, "\n"))
	b.WriteString("\n\nContext:\n")
	b.WriteString(strings.Join(docs, "\n\n"))
	b.WriteString("\n\nUser: ")
	b.WriteString(question)
	b.WriteString("\nBot:")
	return b.String()
}
