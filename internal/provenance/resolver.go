// Package provenance derives where a configuration file came from
// (owning app, scope and layer) from its path inside an extracted bundle.
package provenance

import (
	"path"
	"strings"
)

// Layer is the directory tier a configuration file belongs to.
type Layer string

const (
	LayerSystem Layer = "system"
	LayerApp    Layer = "app"
)

// Scope distinguishes shipped defaults from local overrides.
type Scope string

const (
	ScopeDefault Scope = "default"
	ScopeLocal   Scope = "local"
)

// Provenance is the source metadata attached to a stanza.
// Nil pointer fields mean the path did not match a known layout.
type Provenance struct {
	SourcePath  string  `json:"source_path"`
	OwningApp   *string `json:"owning_app"`
	Scope       *Scope  `json:"scope"`
	Layer       *Layer  `json:"layer"`
	OrderInFile int     `json:"order_in_file"`
}

// File is the provenance shared by every stanza of one file.
// The parser copies it and fills in OrderInFile per stanza.
type File struct {
	SourcePath string
	OwningApp  *string
	Scope      *Scope
	Layer      *Layer
}

// ForStanza returns the provenance of the n-th stanza in the file.
func (f File) ForStanza(order int) Provenance {
	return Provenance{
		SourcePath:  f.SourcePath,
		OwningApp:   f.OwningApp,
		Scope:       f.Scope,
		Layer:       f.Layer,
		OrderInFile: order,
	}
}

// Resolve derives file provenance from a slash-separated path relative to
// the extraction root.
//
// Recognised layouts (an arbitrary prefix such as "etc/" is allowed):
//
//	apps/<app>/<scope>/<file>  -> layer=app, owning_app=<app>
//	system/<scope>/<file>      -> layer=system
//
// where scope is "default" or "local". Anything else only carries the path.
func Resolve(relPath string) File {
	clean := path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	clean = strings.TrimPrefix(clean, "./")
	f := File{SourcePath: clean}

	segs := strings.Split(clean, "/")
	n := len(segs)

	if n >= 4 && segs[n-4] == "apps" {
		if scope, ok := parseScope(segs[n-2]); ok && segs[n-3] != "" {
			app := segs[n-3]
			layer := LayerApp
			f.OwningApp = &app
			f.Scope = &scope
			f.Layer = &layer
			return f
		}
	}
	if n >= 3 && segs[n-3] == "system" {
		if scope, ok := parseScope(segs[n-2]); ok {
			layer := LayerSystem
			f.Scope = &scope
			f.Layer = &layer
			return f
		}
	}
	return f
}

func parseScope(s string) (Scope, bool) {
	switch Scope(s) {
	case ScopeDefault, ScopeLocal:
		return Scope(s), true
	}
	return "", false
}
