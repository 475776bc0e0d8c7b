package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantPath  string
		wantApp   string
		wantScope Scope
		wantLayer Layer
		matched   bool
	}{
		{
			name:      "app default",
			path:      "apps/search/default/inputs.conf",
			wantPath:  "apps/search/default/inputs.conf",
			wantApp:   "search",
			wantScope: ScopeDefault,
			wantLayer: LayerApp,
			matched:   true,
		},
		{
			name:      "app local under etc prefix",
			path:      "etc/apps/TA-nix/local/props.conf",
			wantPath:  "etc/apps/TA-nix/local/props.conf",
			wantApp:   "TA-nix",
			wantScope: ScopeLocal,
			wantLayer: LayerApp,
			matched:   true,
		},
		{
			name:      "system local",
			path:      "system/local/outputs.conf",
			wantPath:  "system/local/outputs.conf",
			wantScope: ScopeLocal,
			wantLayer: LayerSystem,
			matched:   true,
		},
		{
			name:      "dot prefix is cleaned",
			path:      "./system/default/indexes.conf",
			wantPath:  "system/default/indexes.conf",
			wantScope: ScopeDefault,
			wantLayer: LayerSystem,
			matched:   true,
		},
		{
			name:     "unknown scope",
			path:     "apps/search/bin/inputs.conf",
			wantPath: "apps/search/bin/inputs.conf",
		},
		{
			name:     "too deep under app scope",
			path:     "apps/search/default/data/ui/nav.xml",
			wantPath: "apps/search/default/data/ui/nav.xml",
		},
		{
			name:     "bare file",
			path:     "inputs.conf",
			wantPath: "inputs.conf",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := Resolve(tc.path)
			assert.Equal(t, tc.wantPath, f.SourcePath)
			if !tc.matched {
				assert.Nil(t, f.OwningApp)
				assert.Nil(t, f.Scope)
				assert.Nil(t, f.Layer)
				return
			}
			require.NotNil(t, f.Scope)
			require.NotNil(t, f.Layer)
			assert.Equal(t, tc.wantScope, *f.Scope)
			assert.Equal(t, tc.wantLayer, *f.Layer)
			if tc.wantApp == "" {
				assert.Nil(t, f.OwningApp)
			} else {
				require.NotNil(t, f.OwningApp)
				assert.Equal(t, tc.wantApp, *f.OwningApp)
			}
		})
	}
}

func TestForStanzaCopiesFileFields(t *testing.T) {
	f := Resolve("apps/search/local/inputs.conf")
	p := f.ForStanza(3)
	assert.Equal(t, 3, p.OrderInFile)
	assert.Equal(t, f.SourcePath, p.SourcePath)
	assert.Equal(t, f.OwningApp, p.OwningApp)
}
