package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/auth"
	"github.com/seanblong/metasearch/internal/search"
	"github.com/seanblong/metasearch/internal/store"
	"github.com/seanblong/metasearch/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockIndex implements Index for testing
type MockIndex struct {
	Results []models.SearchResult
	Err     error
	closed  bool
}

func (m *MockIndex) Query(ctx context.Context, q string, k int) ([]models.SearchResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if k < 1 {
		return nil, search.ErrInvalidK
	}
	if len(m.Results) > k {
		return m.Results[:k], nil
	}
	return m.Results, nil
}

func (m *MockIndex) Retrieve(ctx context.Context, q string, k int) ([]string, error) {
	res, err := m.Query(ctx, q, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Text
	}
	return out, nil
}

func (m *MockIndex) Close() error { m.closed = true; return nil }

// MockGenerator echoes the prompt length
type MockGenerator struct {
	Prompts []string
	Err     error
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	return fmt.Sprintf("answer %d", len(m.Prompts)), nil
}

type MockLister struct {
	Infos []artifact.IndexInfo
	Err   error
}

func (m *MockLister) ListIndexes(ctx context.Context) ([]artifact.IndexInfo, error) {
	return m.Infos, m.Err
}

type MockPinger struct{ Err error }

func (m *MockPinger) Ping(ctx context.Context) error { return m.Err }

func newTestServer(idx *MockIndex, gen *MockGenerator) (*Server, *int) {
	opens := 0
	s := &Server{
		Indexes: &MockLister{Infos: []artifact.IndexInfo{{Label: "family", Backend: "flat", Documents: 2}}},
		Open: func(ctx context.Context, label string) (Index, error) {
			if label != "family" {
				return nil, fmt.Errorf("mapping for %s: %w", label, artifact.ErrMissingArtifact)
			}
			opens++
			return idx, nil
		},
		Generator:    gen,
		TopK:         5,
		HistoryLines: 4,
	}
	return s, &opens
}

func twoResults() []models.SearchResult {
	return []models.SearchResult{
		{Position: 1, Path: "a.txt", Text: "File: a.txt", Distance: 0.5},
		{Position: 0, Path: "/r", Text: "Directory: /r", Distance: 1.5},
	}
}

func TestServer_Healthz(t *testing.T) {
	auth.InitializeAuth("", 0, false)
	s, _ := newTestServer(&MockIndex{}, &MockGenerator{})
	w := httptest.NewRecorder()
	s.Handler(zerolog.Nop()).ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != 200 {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestServer_HealthzBackend(t *testing.T) {
	auth.InitializeAuth("", 0, false)
	tests := []struct {
		name     string
		backend  Pinger
		wantCode int
	}{
		{"no backend", nil, 200},
		{"backend up", &MockPinger{}, 200},
		{"backend down", &MockPinger{Err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&MockIndex{}, &MockGenerator{})
			s.Backend = tt.backend
			w := httptest.NewRecorder()
			s.Handler(zerolog.Nop()).ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
			if w.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}

func TestServer_Indexes(t *testing.T) {
	auth.InitializeAuth("", 0, false)
	s, _ := newTestServer(&MockIndex{}, &MockGenerator{})
	h := s.Handler(zerolog.Nop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/indexes", nil))
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var infos []artifact.IndexInfo
	if err := json.Unmarshal(w.Body.Bytes(), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Label != "family" {
		t.Errorf("Unexpected indexes %+v", infos)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/indexes", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}

	s.Indexes = &MockLister{Err: errors.New("disk gone")}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/indexes", nil))
	if w.Code != 500 {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestServer_Search(t *testing.T) {
	auth.InitializeAuth("", 0, false)
	idx := &MockIndex{Results: twoResults()}
	s, opens := newTestServer(idx, &MockGenerator{})
	h := s.Handler(zerolog.Nop())

	tests := []struct {
		name     string
		url      string
		wantCode int
		wantLen  int
	}{
		{"default k", "/search?index=family&q=where", 200, 2},
		{"explicit k", "/search?index=family&q=where&k=1", 200, 1},
		{"missing q", "/search?index=family", 400, 0},
		{"blank q", "/search?index=family&q=%20%20", 400, 0},
		{"missing index", "/search?q=where", 400, 0},
		{"bad k", "/search?index=family&q=where&k=abc", 400, 0},
		{"zero k", "/search?index=family&q=where&k=0", 400, 0},
		{"unknown index", "/search?index=games&q=where", 404, 0},
		{"invalid label", "/search?index=..&q=where", 400, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest("GET", tt.url, nil))
			if w.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantCode != 200 {
				return
			}
			var res []models.SearchResult
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatal(err)
			}
			if len(res) != tt.wantLen {
				t.Errorf("Expected %d results, got %d", tt.wantLen, len(res))
			}
			if !reflect.DeepEqual(res, twoResults()[:tt.wantLen]) {
				t.Errorf("Unexpected results %+v", res)
			}
		})
	}
	if *opens != 1 {
		t.Errorf("Expected the index to be opened once and cached, got %d opens", *opens)
	}
}

func TestServer_SearchSanitisesDistance(t *testing.T) {
	auth.InitializeAuth("", 0, false)
	idx := &MockIndex{Results: []models.SearchResult{{Path: "a", Text: "File: a", Distance: math.Inf(1)}}}
	s, _ := newTestServer(idx, &MockGenerator{})

	w := httptest.NewRecorder()
	s.Handler(zerolog.Nop()).ServeHTTP(w, httptest.NewRequest("GET", "/search?index=family&q=x", nil))
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"distance":0`) {
		t.Errorf("Expected distance replaced by 0, got %s", w.Body.String())
	}
}

func TestServer_SearchEmpty(t *testing.T) {
	auth.InitializeAuth("", 0, false)
	s, _ := newTestServer(&MockIndex{}, &MockGenerator{})

	w := httptest.NewRecorder()
	s.Handler(zerolog.Nop()).ServeHTTP(w, httptest.NewRequest("GET", "/search?index=family&q=x", nil))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty JSON array, got %q", w.Body.String())
	}
}

func TestServer_Chat(t *testing.T) {
	auth.InitializeAuth("", 0, false)
	gen := &MockGenerator{}
	s, _ := newTestServer(&MockIndex{Results: twoResults()}, gen)
	h := s.Handler(zerolog.Nop())

	body := `{"index":"family","question":" where is a? ","history":["You: hi","Bot: hello"],"k":1}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/chat", strings.NewReader(body)))
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "answer 1" {
		t.Errorf("Unexpected answer %q", resp.Answer)
	}
	want := []string{"You: hi", "Bot: hello", "You: where is a?", "Bot: answer 1"}
	if !reflect.DeepEqual(resp.History, want) {
		t.Errorf("History = %v, want %v", resp.History, want)
	}
	wantPrompt := "Conversation History:\nYou: hi\nBot: hello\nYou: where is a?\n\nContext:\nFile: a.txt\n\nUser: where is a?\nBot:"
	if gen.Prompts[0] != wantPrompt {
		t.Errorf("Prompt =\n%q\nwant\n%q", gen.Prompts[0], wantPrompt)
	}
}

func TestServer_ChatErrors(t *testing.T) {
	auth.InitializeAuth("", 0, false)

	tests := []struct {
		name     string
		method   string
		body     string
		gen      *MockGenerator
		wantCode int
	}{
		{"wrong method", "GET", "", &MockGenerator{}, 405},
		{"bad json", "POST", "{", &MockGenerator{}, 400},
		{"missing question", "POST", `{"index":"family"}`, &MockGenerator{}, 400},
		{"missing index", "POST", `{"question":"q"}`, &MockGenerator{}, 400},
		{"negative k", "POST", `{"index":"family","question":"q","k":-1}`, &MockGenerator{}, 400},
		{"unknown index", "POST", `{"index":"games","question":"q"}`, &MockGenerator{}, 404},
		{"generator failure", "POST", `{"index":"family","question":"q"}`, &MockGenerator{Err: errors.New("model offline")}, 500},
		{"generator timeout", "POST", `{"index":"family","question":"q"}`, &MockGenerator{Err: context.DeadlineExceeded}, 504},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&MockIndex{Results: twoResults()}, tt.gen)
			w := httptest.NewRecorder()
			s.Handler(zerolog.Nop()).ServeHTTP(w, httptest.NewRequest(tt.method, "/chat", strings.NewReader(tt.body)))
			if w.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
		})
	}
}

func TestServer_AuthEnabled(t *testing.T) {
	auth.InitializeAuth("api-secret", time.Hour, true)
	defer auth.InitializeAuth("", 0, false)

	s, _ := newTestServer(&MockIndex{Results: twoResults()}, &MockGenerator{})
	h := s.Handler(zerolog.Nop())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/indexes", nil))
	if w.Code != 401 {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	token, err := auth.GenerateJWT("jack", "")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"subject":"jack"`) {
		t.Errorf("Expected principal, got %d %s", w.Code, w.Body.String())
	}

	// health stays open
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != 200 {
		t.Errorf("Expected 200 for healthz, got %d", w.Code)
	}
}

func TestServer_Close(t *testing.T) {
	idx := &MockIndex{}
	s, _ := newTestServer(idx, &MockGenerator{})
	if _, err := s.index(context.Background(), "family"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !idx.closed {
		t.Error("Expected cached index to be closed")
	}
}

func TestNewServer_OpensStoredIndex(t *testing.T) {
	auth.InitializeAuth("", 0, false)
	ctx := context.Background()
	arts := artifact.New(t.TempDir())
	c := models.Corpus{FileNames: []string{"/r", "a.txt"}, Texts: []string{"Directory: /r", "File: a.txt"}}

	idx, err := store.Create(ctx, store.Options{Backend: store.BackendFlat, Path: arts.IndexPath("docs", "flat"), Dim: 2, CorpusHash: c.Hash()})
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, [][]float32{{0, 0}, {1, 1}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := arts.SaveMapping("docs", artifact.Mapping{Backend: "flat", Dim: 2, CorpusHash: c.Hash(), FileNames: c.FileNames, Texts: c.Texts}); err != nil {
		t.Fatal(err)
	}

	s := NewServer(arts, constEmbedder{1, 1}, &MockGenerator{}, "", 1, 20)
	defer s.Close()

	w := httptest.NewRecorder()
	s.Handler(zerolog.Nop()).ServeHTTP(w, httptest.NewRequest("GET", "/search?index=docs&q=a", nil))
	if w.Code != 200 {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res []models.SearchResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Path != "a.txt" {
		t.Errorf("Unexpected results %+v", res)
	}
}

type constEmbedder []float32

func (c constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return c, nil }
