package projection

import (
	"sort"
	"strconv"
	"strings"

	"github.com/timmy/confingest/internal/conf"
)

// Projector maps a stanza to a typed record. ok is false when the stanza
// does not describe anything in the family.
type Projector func(s *conf.Stanza) (rec Record, ok bool)

var projectors = map[Family]Projector{
	FamilyInput:       ProjectInput,
	FamilyProps:       ProjectProps,
	FamilyTransform:   ProjectTransform,
	FamilyIndex:       ProjectIndex,
	FamilyOutput:      ProjectOutput,
	FamilyServerclass: ProjectServerclass,
}

// ProjectorFor returns the projector of f.
func ProjectorFor(f Family) (Projector, bool) {
	p, ok := projectors[f]
	return p, ok
}

func newCommon(s *conf.Stanza) Common {
	c := Common{StanzaName: s.Name}
	if s.Provenance != nil {
		c.Provenance = *s.Provenance
	}
	return c
}

// residual copies the effective value of every key for which keep is true,
// visiting keys in order of first appearance.
func residual(s *conf.Stanza, keep func(key string) bool) map[string]string {
	out := make(map[string]string)
	for _, k := range s.DistinctKeys() {
		if keep(k) {
			out[k] = s.Keys[k]
		}
	}
	return out
}

func optional(s *conf.Stanza, key string) *string {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	return &v
}

func boolPtr(b bool) *bool { return &b }

// ============================================
// inputs.conf
// ============================================

// ProjectInput projects an inputs.conf stanza.
func ProjectInput(s *conf.Stanza) (Record, bool) {
	rec := &InputRecord{
		Common:     newCommon(s),
		Index:      optional(s, "index"),
		Sourcetype: optional(s, "sourcetype"),
	}
	if i := strings.Index(s.Name, "://"); i > 0 {
		tag := strings.ToLower(s.Name[:i])
		target := s.Name[i+3:]
		rec.StanzaType = &tag
		rec.Target = &target
	}

	if v, ok := s.Get("disabled"); ok {
		rec.Disabled = parseDisabled(v)
	}
	rec.Residual = residual(s, func(k string) bool {
		switch k {
		case "index", "sourcetype":
			return false
		case "disabled":
			// unrecognised values stay visible in the residual
			return rec.Disabled == nil
		}
		return true
	})
	return rec, true
}

// parseDisabled accepts 0/1, true/false and yes/no in any case. Anything
// else is nil.
func parseDisabled(v string) *bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return boolPtr(true)
	case "0", "false", "no":
		return boolPtr(false)
	}
	return nil
}

// ============================================
// props.conf
// ============================================

const (
	transformsPrefix = "TRANSFORMS-"
	sedcmdPrefix     = "SEDCMD-"
)

// ProjectProps projects a props.conf stanza.
//
// TRANSFORMS-<class> values are comma separated lists of transform names;
// every class contributes its effective (last) value, classes in order of
// first appearance. SEDCMD-<class> values are kept whole since sed
// expressions may contain commas.
func ProjectProps(s *conf.Stanza) (Record, bool) {
	rec := &PropsRecord{
		Common:     newCommon(s),
		Target:     s.Name,
		TargetKind: propsTargetKind(s.Name),
		Transforms: []string{},
		SedCmds:    []string{},
	}
	for _, k := range s.DistinctKeys() {
		switch {
		case strings.HasPrefix(k, transformsPrefix):
			for _, name := range strings.Split(s.Keys[k], ",") {
				if name = strings.TrimSpace(name); name != "" {
					rec.Transforms = append(rec.Transforms, name)
				}
			}
		case strings.HasPrefix(k, sedcmdPrefix):
			if expr := strings.TrimSpace(s.Keys[k]); expr != "" {
				rec.SedCmds = append(rec.SedCmds, expr)
			}
		}
	}
	rec.Residual = residual(s, func(k string) bool {
		return !strings.HasPrefix(k, transformsPrefix) && !strings.HasPrefix(k, sedcmdPrefix)
	})
	return rec, true
}

func propsTargetKind(name string) PropsTargetKind {
	switch {
	case strings.HasPrefix(name, "source::"):
		return PropsTargetSource
	case strings.HasPrefix(name, "host::"):
		return PropsTargetHost
	}
	return PropsTargetSourcetype
}

// ============================================
// transforms.conf
// ============================================

// ProjectTransform projects a transforms.conf stanza. The two meta flags
// are nil without a DEST_KEY.
func ProjectTransform(s *conf.Stanza) (Record, bool) {
	rec := &TransformRecord{
		Common:  newCommon(s),
		Name:    s.Name,
		DestKey: optional(s, "DEST_KEY"),
		Regex:   optional(s, "REGEX"),
		Format:  optional(s, "FORMAT"),
	}
	if rec.DestKey != nil {
		dest := strings.TrimSpace(*rec.DestKey)
		rec.WritesMetaIndex = boolPtr(strings.EqualFold(dest, "_MetaData:Index"))
		rec.WritesMetaSourcetype = boolPtr(strings.EqualFold(dest, "MetaData:Sourcetype") ||
			strings.EqualFold(dest, "_MetaData:Sourcetype"))
	}
	rec.Residual = residual(s, func(k string) bool {
		return k != "DEST_KEY" && k != "REGEX" && k != "FORMAT"
	})
	return rec, true
}

// ============================================
// indexes.conf
// ============================================

// ProjectIndex keeps the stanza name and leaves every key in the residual.
func ProjectIndex(s *conf.Stanza) (Record, bool) {
	return &IndexRecord{
		Common: withResidual(newCommon(s), residual(s, func(string) bool { return true })),
		Name:   s.Name,
	}, true
}

func withResidual(c Common, r map[string]string) Common {
	c.Residual = r
	return c
}

// ============================================
// outputs.conf
// ============================================

func isServerKey(k string) bool {
	return k == "server" || k == "uri" || k == "target_group"
}

// ProjectOutput projects an outputs.conf stanza.
func ProjectOutput(s *conf.Stanza) (Record, bool) {
	rec := &OutputRecord{Common: newCommon(s), GroupName: s.Name}
	for _, k := range s.DistinctKeys() {
		if !isServerKey(k) {
			continue
		}
		if rec.Servers == nil {
			rec.Servers = make(map[string]string, 3)
		}
		rec.Servers[k] = s.Keys[k]
	}
	rec.Residual = residual(s, func(k string) bool { return !isServerKey(k) })
	return rec, true
}

// ============================================
// serverclass.conf
// ============================================

const serverClassPrefix = "serverclass:"

// ProjectServerclass projects serverClass:<name> stanzas. The global
// stanza and serverClass:<name>:app:<app> stanzas are recognised but not
// projected.
func ProjectServerclass(s *conf.Stanza) (Record, bool) {
	name, ok := serverClassName(s.Name)
	if !ok {
		return nil, false
	}

	rec := &ServerclassRecord{Common: newCommon(s), Name: name}
	var whitelist, blacklist map[int]string
	numbered := make(map[string]bool)
	for _, k := range s.DistinctKeys() {
		if n, ok := listIndex(k, "whitelist."); ok {
			if whitelist == nil {
				whitelist = make(map[int]string)
			}
			whitelist[n] = s.Keys[k]
			numbered[k] = true
		} else if n, ok := listIndex(k, "blacklist."); ok {
			if blacklist == nil {
				blacklist = make(map[int]string)
			}
			blacklist[n] = s.Keys[k]
			numbered[k] = true
		}
	}
	rec.Whitelist = sortedEntries(whitelist)
	rec.Blacklist = sortedEntries(blacklist)
	rec.Residual = residual(s, func(k string) bool { return !numbered[k] })
	return rec, true
}

// serverClassName returns <name> for "serverClass:<name>" with a single
// segment name. The prefix is matched case-insensitively.
func serverClassName(stanza string) (string, bool) {
	if len(stanza) <= len(serverClassPrefix) || !strings.EqualFold(stanza[:len(serverClassPrefix)], serverClassPrefix) {
		return "", false
	}
	name := stanza[len(serverClassPrefix):]
	if strings.Contains(name, ":") || strings.TrimSpace(name) == "" {
		return "", false
	}
	return name, true
}

// listIndex parses "<prefix>N". Keys "whitelist.01" and "whitelist.1"
// share N = 1; the later one in the stanza wins.
func listIndex(key, prefix string) (int, bool) {
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(key[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func sortedEntries(m map[int]string) []ListEntry {
	out := make([]ListEntry, 0, len(m))
	for n, v := range m {
		out = append(out, ListEntry{N: n, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].N < out[j].N })
	return out
}
