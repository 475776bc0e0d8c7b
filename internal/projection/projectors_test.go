package projection

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/confingest/internal/conf"
	"github.com/timmy/confingest/internal/provenance"
)

func parseOne(t *testing.T, src string) *conf.Stanza {
	t.Helper()
	stanzas := parseAll(t, src, "etc/apps/search/local/test.conf")
	require.Len(t, stanzas, 1)
	return stanzas[0]
}

func parseAll(t *testing.T, src, path string) []*conf.Stanza {
	t.Helper()
	res, err := conf.Parse(strings.NewReader(src), provenance.Resolve(path))
	require.NoError(t, err)
	return res.Stanzas
}

func TestProjectInput_MonitorExample(t *testing.T) {
	s := parseOne(t, "[monitor:///var/log/x.log]\nindex=main\ndisabled=0\n")

	rec, ok := ProjectInput(s)
	require.True(t, ok)
	in := rec.(*InputRecord)

	require.NotNil(t, in.StanzaType)
	assert.Equal(t, "monitor", *in.StanzaType)
	assert.Equal(t, "/var/log/x.log", *in.Target)
	require.NotNil(t, in.Index)
	assert.Equal(t, "main", *in.Index)
	require.NotNil(t, in.Disabled)
	assert.False(t, *in.Disabled)
	assert.Nil(t, in.Sourcetype)
	assert.Empty(t, in.Residual)
	assert.Equal(t, FamilyInput, rec.Family())
	assert.Equal(t, "etc/apps/search/local/test.conf#0", rec.NaturalKey())
}

func TestProjectInput(t *testing.T) {
	tests := []struct {
		name         string
		src          string
		wantType     *string
		wantDisabled *bool
		wantResidual map[string]string
	}{
		{
			name:         "type tag is lowercased",
			src:          "[WinEventLog://Security]\ndisabled = TRUE \ncurrent_only=1\n",
			wantType:     strPtr("wineventlog"),
			wantDisabled: boolPtr(true),
			wantResidual: map[string]string{"current_only": "1"},
		},
		{
			name:         "no scheme",
			src:          "[default]\nhost=abc\n",
			wantResidual: map[string]string{"host": "abc"},
		},
		{
			name:         "disabled yes",
			src:          "[script://./bin/run.sh]\ndisabled=Yes\n",
			wantType:     strPtr("script"),
			wantDisabled: boolPtr(true),
			wantResidual: map[string]string{},
		},
		{
			name:         "disabled no",
			src:          "[tcp://9997]\ndisabled=no\n",
			wantType:     strPtr("tcp"),
			wantDisabled: boolPtr(false),
			wantResidual: map[string]string{},
		},
		{
			name:         "disabled unrecognized",
			src:          "[udp://514]\ndisabled=maybe\nconnection_host=ip\n",
			wantType:     strPtr("udp"),
			wantResidual: map[string]string{"connection_host": "ip", "disabled": "maybe"},
		},
		{
			name:         "leading scheme separator has no tag",
			src:          "[://odd]\n",
			wantResidual: map[string]string{},
		},
		{
			name:         "last index wins",
			src:          "[monitor:///a]\nindex=one\nindex=two\n",
			wantType:     strPtr("monitor"),
			wantResidual: map[string]string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := ProjectInput(parseOne(t, tc.src))
			require.True(t, ok)
			in := rec.(*InputRecord)
			assert.Equal(t, tc.wantType, in.StanzaType)
			assert.Equal(t, tc.wantDisabled, in.Disabled)
			assert.Equal(t, tc.wantResidual, in.Residual)
		})
	}

	rec, _ := ProjectInput(parseOne(t, "[monitor:///a]\nindex=one\nindex=two\n"))
	assert.Equal(t, "two", *rec.(*InputRecord).Index)
}

func TestProjectProps(t *testing.T) {
	src := strings.Join([]string{
		"[source::/var/log/secure]",
		"TRANSFORMS-routing = route_a, route_b",
		"SEDCMD-mask = s/\\d{4}-\\d{4}/XXXX-XXXX/g",
		"TRANSFORMS-null = drop_debug",
		"SHOULD_LINEMERGE = false",
		"TRANSFORMS-routing = route_c ,, route_d",
		"SEDCMD-strip = s/a,b/c/",
		"",
	}, "\n")

	rec, ok := ProjectProps(parseOne(t, src))
	require.True(t, ok)
	p := rec.(*PropsRecord)

	assert.Equal(t, "source::/var/log/secure", p.Target)
	assert.Equal(t, PropsTargetSource, p.TargetKind)
	// routing keeps its first position but takes its last value.
	assert.Equal(t, []string{"route_c", "route_d", "drop_debug"}, p.Transforms)
	assert.Equal(t, []string{`s/\d{4}-\d{4}/XXXX-XXXX/g`, "s/a,b/c/"}, p.SedCmds)
	assert.Equal(t, map[string]string{"SHOULD_LINEMERGE": "false"}, p.Residual)
}

func TestProjectProps_Empty(t *testing.T) {
	rec, ok := ProjectProps(parseOne(t, "[syslog]\n"))
	require.True(t, ok)
	p := rec.(*PropsRecord)
	assert.Equal(t, PropsTargetSourcetype, p.TargetKind)
	assert.NotNil(t, p.Transforms)
	assert.Empty(t, p.Transforms)
	assert.Empty(t, p.SedCmds)

	rec, _ = ProjectProps(parseOne(t, "[host::web01]\n"))
	assert.Equal(t, PropsTargetHost, rec.(*PropsRecord).TargetKind)
}

func TestProjectTransform(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		wantIndex  *bool
		wantSrcTyp *bool
	}{
		{"meta index", "[t]\nDEST_KEY=_MetaData:Index\nREGEX=.\nFORMAT=summary\n", boolPtr(true), boolPtr(false)},
		{"meta index any case", "[t]\nDEST_KEY = _metadata:index\n", boolPtr(true), boolPtr(false)},
		{"sourcetype", "[t]\nDEST_KEY=MetaData:Sourcetype\n", boolPtr(false), boolPtr(true)},
		{"underscore sourcetype", "[t]\nDEST_KEY=_METADATA:SOURCETYPE\n", boolPtr(false), boolPtr(true)},
		{"queue", "[t]\nDEST_KEY=queue\nFORMAT=nullQueue\n", boolPtr(false), boolPtr(false)},
		{"no dest key", "[t]\nREGEX=(?<field>\\w+)\n", nil, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := ProjectTransform(parseOne(t, tc.src))
			require.True(t, ok)
			tr := rec.(*TransformRecord)
			assert.Equal(t, tc.wantIndex, tr.WritesMetaIndex)
			assert.Equal(t, tc.wantSrcTyp, tr.WritesMetaSourcetype)
			assert.Equal(t, "t", tr.Name)
		})
	}

	rec, _ := ProjectTransform(parseOne(t, "[t]\nDEST_KEY=_MetaData:Index\nREGEX=.\nFORMAT=summary\nMV_ADD=true\n"))
	tr := rec.(*TransformRecord)
	assert.Equal(t, "_MetaData:Index", *tr.DestKey)
	assert.Equal(t, ".", *tr.Regex)
	assert.Equal(t, "summary", *tr.Format)
	assert.Equal(t, map[string]string{"MV_ADD": "true"}, tr.Residual)
}

func TestProjectIndex(t *testing.T) {
	rec, ok := ProjectIndex(parseOne(t, "[firewall]\nhomePath=$SPLUNK_DB/fw/db\nfrozenTimePeriodInSecs = 7776000\nhomePath=/fast/fw\n"))
	require.True(t, ok)
	idx := rec.(*IndexRecord)
	assert.Equal(t, "firewall", idx.Name)
	assert.Equal(t, map[string]string{
		"homePath":               "/fast/fw",
		"frozenTimePeriodInSecs": "7776000",
	}, idx.Residual)
}

func TestProjectOutput(t *testing.T) {
	rec, ok := ProjectOutput(parseOne(t, "[tcpout:primary]\nserver=idx1:9997,idx2:9997\nuseACK=true\n"))
	require.True(t, ok)
	out := rec.(*OutputRecord)
	assert.Equal(t, "tcpout:primary", out.GroupName)
	assert.Equal(t, map[string]string{"server": "idx1:9997,idx2:9997"}, out.Servers)
	assert.Equal(t, map[string]string{"useACK": "true"}, out.Residual)

	rec, _ = ProjectOutput(parseOne(t, "[tcpout]\ndefaultGroup=primary\n"))
	assert.Nil(t, rec.(*OutputRecord).Servers)

	rec, _ = ProjectOutput(parseOne(t, "[httpout]\nuri=https://hec:8088\ntarget_group=g\n"))
	assert.Equal(t, map[string]string{"uri": "https://hec:8088", "target_group": "g"}, rec.(*OutputRecord).Servers)
}

func TestProjectServerclass(t *testing.T) {
	src := strings.Join([]string{
		"[global]",
		"whitelist.0 = *",
		"[serverClass:linux]",
		"whitelist.10 = web*",
		"whitelist.2 = db*",
		"blacklist.0 = test*",
		"whitelist.2 = db0*",
		"whitelist.x = odd",
		"restartSplunkd = true",
		"[serverClass:linux:app:Splunk_TA_nix]",
		"stateOnClient = enabled",
		"[ServerClass:windows]",
		"",
	}, "\n")
	stanzas := parseAll(t, src, "etc/system/local/serverclass.conf")
	require.Len(t, stanzas, 4)

	_, ok := ProjectServerclass(stanzas[0])
	assert.False(t, ok, "global")
	_, ok = ProjectServerclass(stanzas[2])
	assert.False(t, ok, "app stanza")

	rec, ok := ProjectServerclass(stanzas[1])
	require.True(t, ok)
	sc := rec.(*ServerclassRecord)
	assert.Equal(t, "linux", sc.Name)
	assert.Equal(t, []ListEntry{{N: 2, Value: "db0*"}, {N: 10, Value: "web*"}}, sc.Whitelist)
	assert.Equal(t, []ListEntry{{N: 0, Value: "test*"}}, sc.Blacklist)
	assert.Equal(t, map[string]string{"whitelist.x": "odd", "restartSplunkd": "true"}, sc.Residual)
	assert.Equal(t, "etc/system/local/serverclass.conf#1", sc.NaturalKey())

	rec, ok = ProjectServerclass(stanzas[3])
	require.True(t, ok)
	assert.Equal(t, "windows", rec.(*ServerclassRecord).Name)
	assert.Empty(t, rec.(*ServerclassRecord).Whitelist)
}

func TestFamilyForFile(t *testing.T) {
	tests := []struct {
		path   string
		family Family
		ok     bool
	}{
		{"etc/apps/search/default/inputs.conf", FamilyInput, true},
		{"etc/system/local/props.conf", FamilyProps, true},
		{"TRANSFORMS.CONF", FamilyTransform, true},
		{"apps/a/local/indexes.conf", FamilyIndex, true},
		{"outputs.conf", FamilyOutput, true},
		{"etc/deployment/serverclass.conf", FamilyServerclass, true},
		{"etc/apps/search/default/savedsearches.conf", "", false},
		{"etc/apps/search/metadata/local.meta", "", false},
	}
	for _, tc := range tests {
		got, ok := FamilyForFile(tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.family, got, tc.path)
	}

	assert.True(t, IsConfFile("a/b/local.meta"))
	assert.True(t, IsConfFile("a/b/web.CONF"))
	assert.False(t, IsConfFile("a/b/README.txt"))
	assert.False(t, IsConfFile("a/b/conf"))
}

func TestEngine_Project(t *testing.T) {
	stanzas := parseAll(t, "[global]\n[serverClass:a]\n[serverClass:a:app:x]\n[serverClass:b]\n", "serverclass.conf")

	var defects []Defect
	e := NewEngine(WithDefectHook(func(d Defect) { defects = append(defects, d) }))
	batch, err := e.Project(context.Background(), "job-1", FamilyServerclass, stanzas)
	require.NoError(t, err)

	require.Len(t, batch.Records, 2)
	assert.Equal(t, 2, batch.NotApplicable)
	assert.Empty(t, defects)
	for _, r := range batch.Records {
		assert.Equal(t, "job-1", r.common().JobID)
	}
	assert.Equal(t, "serverclass.conf#1", batch.Records[0].NaturalKey())
	assert.Equal(t, "serverclass.conf#3", batch.Records[1].NaturalKey())
}

func TestEngine_IsolatesDefects(t *testing.T) {
	stanzas := parseAll(t, "[ok1]\n[boom]\n[ok2]\n", "etc/system/local/indexes.conf")

	var defects []Defect
	faulty := func(s *conf.Stanza) (Record, bool) {
		if s.Name == "boom" {
			var m map[string]string
			m["x"] = "y" // nil map write
		}
		return ProjectIndex(s)
	}
	e := NewEngine(
		WithProjector(FamilyIndex, faulty),
		WithDefectHook(func(d Defect) { defects = append(defects, d) }),
	)

	batch, err := e.Project(context.Background(), "job-2", FamilyIndex, append(stanzas, nil))
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, "ok1", batch.Records[0].(*IndexRecord).Name)
	assert.Equal(t, "ok2", batch.Records[1].(*IndexRecord).Name)

	require.Len(t, batch.Defects, 2)
	assert.Equal(t, "boom", batch.Defects[0].StanzaName)
	assert.Equal(t, "etc/system/local/indexes.conf#1", batch.Defects[0].NaturalKey)
	assert.Contains(t, batch.Defects[0].Err.Error(), "panicked")
	assert.Len(t, defects, 2)
}

func TestEngine_UnknownFamily(t *testing.T) {
	_, err := NewEngine().Project(context.Background(), "j", Family("savedsearch"), nil)
	assert.Error(t, err)
}

func strPtr(s string) *string { return &s }
