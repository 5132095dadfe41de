// Package console reads interactive answers for the command line tools.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/seanblong/metasearch/internal/artifact"
)

var ErrInvalidChoice = errors.New("invalid selection")

type Console struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Ask prints prompt and returns the next input line, trimmed. io.EOF is
// returned only when the input ends before any text is read.
func (c *Console) Ask(prompt string) (string, error) {
	if _, err := fmt.Fprint(c.out, prompt); err != nil {
		return "", err
	}
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Println writes a line of output.
func (c *Console) Println(a ...any) {
	_, _ = fmt.Fprintln(c.out, a...)
}

// Printf writes formatted output.
func (c *Console) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(c.out, format, a...)
}

// Fields splits a list typed as "a b" or "a,b".
func Fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// SelectIndex resolves a 1-based number or a label against the listed indexes.
func SelectIndex(infos []artifact.IndexInfo, choice string) (string, error) {
	choice = strings.TrimSpace(choice)
	if n, err := strconv.Atoi(choice); err == nil {
		if n < 1 || n > len(infos) {
			return "", fmt.Errorf("%w: number %d out of range", ErrInvalidChoice, n)
		}
		return infos[n-1].Label, nil
	}
	for _, info := range infos {
		if info.Label == choice {
			return info.Label, nil
		}
	}
	return "", fmt.Errorf("%w: no index labelled %q", ErrInvalidChoice, choice)
}
