package conf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/agilira/go-errors"
	"github.com/timmy/confingest/internal/provenance"
	"golang.org/x/text/encoding/unicode"
)

// Error codes returned by the parser.
const (
	ErrCodeInvalidEncoding = "CONF_INVALID_ENCODING"
	ErrCodeReadFailed      = "CONF_READ_FAILED"
)

// Stats describes one parse run.
type Stats struct {
	PhysicalLines int `json:"physical_lines"`
	LogicalLines  int `json:"logical_lines"`
	Comments      int `json:"comments"`
	Skipped       int `json:"skipped"`
	Stanzas       int `json:"stanzas"`
	Keys          int `json:"keys"`
}

// Result is the output of Parse.
type Result struct {
	Stanzas []*Stanza
	Stats   Stats
}

// ParseFile opens path and parses it.
func ParseFile(path string, file provenance.File) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeReadFailed, fmt.Sprintf("open %s", file.SourcePath))
	}
	defer f.Close()
	return Parse(f, file)
}

// Parse reads a .conf stream and returns its stanzas in file order.
// Input must be UTF-8; a leading byte order mark is dropped.
// The parse is a single forward pass over the input.
func Parse(r io.Reader, file provenance.File) (*Result, error) {
	p := &parser{file: file}
	br := bufio.NewReaderSize(r, 64*1024)
	bom := unicode.UTF8BOM.NewDecoder()

	var (
		logical    strings.Builder
		continuing bool
	)
	for {
		raw, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, errors.Wrap(readErr, ErrCodeReadFailed, fmt.Sprintf("read %s", file.SourcePath))
		}
		if raw == "" && readErr == io.EOF {
			break
		}

		p.stats.PhysicalLines++
		if !utf8.ValidString(raw) {
			return nil, errors.New(ErrCodeInvalidEncoding,
				fmt.Sprintf("%s: line %d is not valid UTF-8", file.SourcePath, p.stats.PhysicalLines))
		}
		line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")
		if p.stats.PhysicalLines == 1 {
			if stripped, err := bom.String(line); err == nil {
				line = stripped
			}
		}

		if continuing {
			logical.WriteByte('\n')
		}
		// The trailing backslash run lies entirely within the physical line.
		if endsWithContinuation(line) {
			logical.WriteString(line[:len(line)-1])
			continuing = true
		} else {
			logical.WriteString(line)
			p.handle(logical.String())
			logical.Reset()
			continuing = false
		}

		if readErr == io.EOF {
			break
		}
	}
	if continuing {
		p.handle(logical.String())
	}

	p.stats.Stanzas = len(p.stanzas)
	return &Result{Stanzas: p.stanzas, Stats: p.stats}, nil
}

type parser struct {
	file    provenance.File
	stanzas []*Stanza
	current *Stanza
	stats   Stats
}

func (p *parser) handle(line string) {
	p.stats.LogicalLines++
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return
	case trimmed[0] == '#':
		p.stats.Comments++
		return
	case len(trimmed) >= 2 && trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']':
		p.open(strings.TrimSpace(trimmed[1 : len(trimmed)-1]))
		return
	}

	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		p.stats.Skipped++
		return
	}
	key := strings.TrimSpace(line[:eq])
	if key == "" {
		p.stats.Skipped++
		return
	}
	if cut := inlineCommentAt(line, eq+1); cut >= 0 {
		line = line[:cut]
	}
	value := strings.TrimSpace(line[eq+1:])

	if p.current == nil {
		p.open(DefaultStanzaName)
	}
	p.current.Set(key, value)
	p.stats.Keys++
}

func (p *parser) open(name string) {
	s := NewStanza(name)
	prov := p.file.ForStanza(len(p.stanzas))
	s.Provenance = &prov
	p.stanzas = append(p.stanzas, s)
	p.current = s
}

// endsWithContinuation reports whether line ends in a backslash that is not
// itself escaped, i.e. an odd run of trailing backslashes.
func endsWithContinuation(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// inlineCommentAt returns the index of the first '#' at or after from that
// starts a comment, or -1. A '#' preceded by an odd number of unescaped
// double quotes on the line is taken to be inside a quoted value.
// This is a heuristic, not a quoting grammar.
func inlineCommentAt(line string, from int) int {
	quotes := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			if i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\') {
				i++
			}
		case '"':
			quotes++
		case '#':
			if i >= from && quotes%2 == 0 {
				return i
			}
		}
	}
	return -1
}
