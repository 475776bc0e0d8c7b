package conf

import (
	goerrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/confingest/internal/provenance"
)

func parseString(t *testing.T, input string) *Result {
	t.Helper()
	res, err := Parse(strings.NewReader(input), provenance.Resolve("apps/search/local/inputs.conf"))
	require.NoError(t, err)
	return res
}

func TestParse_RepeatedKeyHistory(t *testing.T) {
	res := parseString(t, "[a]\nk=1\nk=2\n")

	require.Len(t, res.Stanzas, 1)
	s := res.Stanzas[0]
	assert.Equal(t, "a", s.Name)
	assert.Equal(t, map[string]string{"k": "2"}, s.Keys)
	assert.Equal(t, map[string][]string{"k": {"1", "2"}}, s.KeyHistory)
	assert.Equal(t, []string{"k", "k"}, s.KeyOrder)
}

func TestParse_PreservesFileOrder(t *testing.T) {
	res := parseString(t, "[zeta]\n[alpha]\na=1\n[zeta]\nb=2\n[mid]\n")

	names := make([]string, 0, len(res.Stanzas))
	for i, s := range res.Stanzas {
		names = append(names, s.Name)
		require.NotNil(t, s.Provenance)
		assert.Equal(t, i, s.Provenance.OrderInFile)
	}
	assert.Equal(t, []string{"zeta", "alpha", "zeta", "mid"}, names)
	assert.Empty(t, res.Stanzas[0].Keys, "empty stanza is retained")
	assert.Equal(t, "2", res.Stanzas[2].Keys["b"], "duplicate names are distinct stanzas")
}

func TestParse_Grammar(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		stanza  string
		key     string
		want    string
		present bool
	}{
		{"trims both sides", "[s]\n  key   =   value  \n", "s", "key", "value", true},
		{"extra equals kept", "[s]\nsearch = a=b c=d\n", "s", "search", "a=b c=d", true},
		{"empty value", "[s]\nkey =\n", "s", "key", "", true},
		{"inline comment stripped", "[s]\nkey = value # note\n", "s", "key", "value", true},
		{"hash inside quotes kept", "[s]\nkey = \"a # b\"\n", "s", "key", "\"a # b\"", true},
		{"hash after closed quotes stripped", "[s]\nkey = \"a\" # b\n", "s", "key", "\"a\"", true},
		{"escaped quote does not open", "[s]\nkey = \\\"a # b\n", "s", "key", "\\\"a", true},
		{"header keeps special characters", "[ monitor:///var/log/*.log ]\nindex=main\n", "monitor:///var/log/*.log", "index", "main", true},
		{"full line comment", "[s]\n  # key = value\n", "s", "key", "", false},
		{"malformed line skipped", "[s]\njust some words\nk=v\n", "s", "k", "v", true},
		{"crlf line endings", "[s]\r\nk = v\r\n", "s", "k", "v", true},
		{"no trailing newline", "[s]\nk = v", "s", "k", "v", true},
		{"bom stripped", "\uFEFF[s]\nk=v\n", "s", "k", "v", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := parseString(t, tc.input)
			require.NotEmpty(t, res.Stanzas)
			s := res.Stanzas[0]
			assert.Equal(t, tc.stanza, s.Name)
			got, ok := s.Get(tc.key)
			assert.Equal(t, tc.present, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Continuation(t *testing.T) {
	input := "[s]\nsearch = index=main \\\n| stats count \\\nby host\nnext = 1\n"
	res := parseString(t, input)

	require.Len(t, res.Stanzas, 1)
	s := res.Stanzas[0]
	assert.Equal(t, "index=main \n| stats count \nby host", s.Keys["search"])
	assert.Equal(t, "1", s.Keys["next"])
	assert.Equal(t, 5, res.Stats.PhysicalLines)
	assert.Equal(t, 3, res.Stats.LogicalLines)
}

func TestParse_EscapedBackslashIsNotContinuation(t *testing.T) {
	res := parseString(t, "[s]\npath = C:\\\\\nother = x\n")
	s := res.Stanzas[0]
	assert.Equal(t, "C:\\\\", s.Keys["path"])
	assert.Equal(t, "x", s.Keys["other"])
}

func TestParse_ContinuationAtEOF(t *testing.T) {
	res := parseString(t, "[s]\nk = a \\")
	assert.Equal(t, "a", res.Stanzas[0].Keys["k"])
}

func TestParse_LongContinuationChainIsLinear(t *testing.T) {
	const lines = 40000
	segment := strings.Repeat("x", 100) + " \\"
	var b strings.Builder
	b.WriteString("[s]\nk = ")
	for i := 0; i < lines; i++ {
		b.WriteString(segment)
		b.WriteByte('\n')
	}
	b.WriteString("end\n")

	start := time.Now()
	res := parseString(t, b.String())
	elapsed := time.Since(start)

	require.Len(t, res.Stanzas, 1)
	v := res.Stanzas[0].Keys["k"]
	assert.Equal(t, lines+1, strings.Count(v, "\n")+1)
	assert.True(t, strings.HasSuffix(v, "x \nend"))
	assert.Less(t, elapsed, 2*time.Second, "4 MB continuation chain took %s", elapsed)
}

func TestParse_ImplicitDefaultStanza(t *testing.T) {
	res := parseString(t, "# header comment\nhost = x\n[real]\nk = v\n")

	require.Len(t, res.Stanzas, 2)
	assert.Equal(t, DefaultStanzaName, res.Stanzas[0].Name)
	assert.Equal(t, "x", res.Stanzas[0].Keys["host"])
	assert.Equal(t, 0, res.Stanzas[0].Provenance.OrderInFile)
	assert.Equal(t, "real", res.Stanzas[1].Name)
	assert.Equal(t, 1, res.Stanzas[1].Provenance.OrderInFile)
}

func TestParse_NoImplicitStanzaWithoutKeys(t *testing.T) {
	res := parseString(t, "# only comments\n\n[s]\n")
	require.Len(t, res.Stanzas, 1)
	assert.Equal(t, "s", res.Stanzas[0].Name)
}

func TestParse_Stats(t *testing.T) {
	res := parseString(t, "# c\n[s]\nk=v\nnot a pair\n=orphan\n")
	assert.Equal(t, 1, res.Stats.Comments)
	assert.Equal(t, 2, res.Stats.Skipped)
	assert.Equal(t, 1, res.Stats.Keys)
	assert.Equal(t, 1, res.Stats.Stanzas)
}

func TestParse_Provenance(t *testing.T) {
	res := parseString(t, "[a]\n[b]\n")
	p := res.Stanzas[1].Provenance
	require.NotNil(t, p)
	assert.Equal(t, "apps/search/local/inputs.conf", p.SourcePath)
	require.NotNil(t, p.OwningApp)
	assert.Equal(t, "search", *p.OwningApp)
	assert.Equal(t, 1, p.OrderInFile)
}

func TestParse_InvalidUTF8(t *testing.T) {
	_, err := Parse(strings.NewReader("[s]\nk = \xff\xfe\n"), provenance.Resolve("system/local/props.conf"))
	require.Error(t, err)

	var coder errors.ErrorCoder
	require.True(t, goerrors.As(err, &coder))
	assert.Equal(t, ErrCodeInvalidEncoding, string(coder.ErrorCode()))
	assert.Contains(t, err.Error(), "line 2")
}

// Property: for every key, Keys[k] is the last element of KeyHistory[k],
// and KeyOrder has at least as many entries as there are distinct keys.
func TestParse_HistoryInvariant(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "[s%d]\n", i%7)
		for j := 0; j < i%5+1; j++ {
			fmt.Fprintf(&b, "k%d = v%d_%d\n", j%3, i, j)
		}
	}
	res := parseString(t, b.String())

	for _, s := range res.Stanzas {
		assert.GreaterOrEqual(t, len(s.KeyOrder), len(s.Keys))
		for k, v := range s.Keys {
			hist := s.KeyHistory[k]
			require.NotEmpty(t, hist)
			assert.Equal(t, v, hist[len(hist)-1])
		}
		total := 0
		for _, h := range s.KeyHistory {
			total += len(h)
		}
		assert.Equal(t, len(s.KeyOrder), total)
	}
}

func TestDistinctKeys(t *testing.T) {
	s := NewStanza("x")
	s.Set("b", "1")
	s.Set("a", "1")
	s.Set("b", "2")
	assert.Equal(t, []string{"b", "a"}, s.DistinctKeys())
}
