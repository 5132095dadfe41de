package console

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/seanblong/metasearch/internal/artifact"
)

func TestConsole_Ask(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("  jack_docs \nlast"), &out)

	got, err := c.Ask("Label: ")
	if err != nil || got != "jack_docs" {
		t.Fatalf("Ask = %q, %v", got, err)
	}
	// final line without a newline is still returned
	got, err = c.Ask("Again: ")
	if err != nil || got != "last" {
		t.Fatalf("Ask = %q, %v", got, err)
	}
	if _, err := c.Ask("More: "); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
	if out.String() != "Label: Again: More: " {
		t.Errorf("Unexpected prompts %q", out.String())
	}
}

func TestFields(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a b", []string{"a", "b"}},
		{"a,b, c", []string{"a", "b", "c"}},
		{"  ", []string{}},
	}
	for _, tt := range tests {
		got := Fields(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Fields(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSelectIndex(t *testing.T) {
	infos := []artifact.IndexInfo{{Label: "family"}, {Label: "work"}}
	tests := []struct {
		choice  string
		want    string
		wantErr bool
	}{
		{"1", "family", false},
		{" 2 ", "work", false},
		{"work", "work", false},
		{"0", "", true},
		{"3", "", true},
		{"games", "", true},
	}
	for _, tt := range tests {
		got, err := SelectIndex(infos, tt.choice)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidChoice) {
				t.Errorf("SelectIndex(%q): expected ErrInvalidChoice, got %v", tt.choice, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("SelectIndex(%q) = %q, %v; want %q", tt.choice, got, err, tt.want)
		}
	}
}
