// Package conf parses the INI-like .conf format into ordered stanzas.
//
// The format is lenient: full-line and inline '#' comments, backslash line
// continuations, repeated keys (last one wins, every value is kept in
// history) and keys before the first header, which land in an implicit
// "default" stanza. Lines that are neither comments, headers nor key/value
// pairs are skipped without error.
package conf

import "github.com/timmy/confingest/internal/provenance"

// DefaultStanzaName names the implicit stanza holding keys seen before
// the first header.
const DefaultStanzaName = "default"

// Stanza is one named block of configuration.
//
// Keys[k] is always the last element of KeyHistory[k], and KeyOrder has an
// entry for every occurrence of every key, repeats included.
type Stanza struct {
	Name       string                 `json:"name"`
	Keys       map[string]string      `json:"keys"`
	KeyOrder   []string               `json:"key_order"`
	KeyHistory map[string][]string    `json:"key_history"`
	Provenance *provenance.Provenance `json:"provenance,omitempty"`
}

// NewStanza returns an empty stanza.
func NewStanza(name string) *Stanza {
	return &Stanza{
		Name:       name,
		Keys:       make(map[string]string),
		KeyOrder:   []string{},
		KeyHistory: make(map[string][]string),
	}
}

// Set records an occurrence of key.
func (s *Stanza) Set(key, value string) {
	s.Keys[key] = value
	s.KeyOrder = append(s.KeyOrder, key)
	s.KeyHistory[key] = append(s.KeyHistory[key], value)
}

// Get returns the effective value of key.
func (s *Stanza) Get(key string) (string, bool) {
	v, ok := s.Keys[key]
	return v, ok
}

// DistinctKeys returns every key once, in order of first occurrence.
func (s *Stanza) DistinctKeys() []string {
	seen := make(map[string]struct{}, len(s.Keys))
	out := make([]string, 0, len(s.Keys))
	for _, k := range s.KeyOrder {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
