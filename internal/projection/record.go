package projection

import (
	"strconv"

	"github.com/timmy/confingest/internal/provenance"
)

// Record is a typed projection of one stanza. The set of implementations
// is closed: InputRecord, PropsRecord, TransformRecord, IndexRecord,
// OutputRecord and ServerclassRecord.
type Record interface {
	Family() Family
	// NaturalKey identifies the source stanza within its job.
	NaturalKey() string
	common() *Common
}

// Common holds what every typed record carries.
type Common struct {
	JobID      string                `json:"job_id"`
	StanzaName string                `json:"stanza_name"`
	Provenance provenance.Provenance `json:"provenance"`
	// Residual keeps the effective value of every key not promoted to a
	// typed field.
	Residual map[string]string `json:"residual"`
}

func (c *Common) common() *Common { return c }

// NaturalKey returns "<source_path>#<order_in_file>".
func (c *Common) NaturalKey() string {
	return NaturalKey(c.Provenance)
}

// NaturalKey identifies a stanza within one job by file and position.
func NaturalKey(p provenance.Provenance) string {
	return p.SourcePath + "#" + strconv.Itoa(p.OrderInFile)
}

// InputRecord is a data input stanza from inputs.conf.
type InputRecord struct {
	Common
	// StanzaType is the lower-cased scheme before "://", e.g. "monitor".
	StanzaType *string `json:"stanza_type"`
	// Target is what follows "://", e.g. the monitored path.
	Target     *string `json:"target"`
	Index      *string `json:"index"`
	Sourcetype *string `json:"sourcetype"`
	Disabled   *bool   `json:"disabled"`
}

func (*InputRecord) Family() Family { return FamilyInput }

// PropsTargetKind tells what a props stanza name matches on.
type PropsTargetKind string

const (
	PropsTargetSourcetype PropsTargetKind = "sourcetype"
	PropsTargetSource     PropsTargetKind = "source"
	PropsTargetHost       PropsTargetKind = "host"
)

// PropsRecord is a props.conf stanza.
type PropsRecord struct {
	Common
	Target     string          `json:"target"`
	TargetKind PropsTargetKind `json:"target_kind"`
	// Transforms lists transform stanza names referenced by TRANSFORMS-*
	// keys, in order of first appearance of each key.
	Transforms []string `json:"transforms"`
	// SedCmds lists SEDCMD-* expressions in the same order.
	SedCmds []string `json:"sedcmds"`
}

func (*PropsRecord) Family() Family { return FamilyProps }

// TransformRecord is a transforms.conf stanza.
type TransformRecord struct {
	Common
	Name                 string  `json:"name"`
	DestKey              *string `json:"dest_key"`
	Regex                *string `json:"regex"`
	Format               *string `json:"format"`
	WritesMetaIndex      *bool   `json:"writes_meta_index"`
	WritesMetaSourcetype *bool   `json:"writes_meta_sourcetype"`
}

func (*TransformRecord) Family() Family { return FamilyTransform }

// IndexRecord is an indexes.conf stanza. Every setting stays in Residual.
type IndexRecord struct {
	Common
	Name string `json:"name"`
}

func (*IndexRecord) Family() Family { return FamilyIndex }

// OutputRecord is an outputs.conf stanza.
type OutputRecord struct {
	Common
	GroupName string `json:"group_name"`
	// Servers holds server, uri and target_group. Nil when none is set.
	Servers map[string]string `json:"servers"`
}

func (*OutputRecord) Family() Family { return FamilyOutput }

// ListEntry is one numbered whitelist or blacklist key.
type ListEntry struct {
	N     int    `json:"n"`
	Value string `json:"value"`
}

// ServerclassRecord is a serverClass:<name> stanza.
type ServerclassRecord struct {
	Common
	Name      string      `json:"name"`
	Whitelist []ListEntry `json:"whitelist"`
	Blacklist []ListEntry `json:"blacklist"`
}

func (*ServerclassRecord) Family() Family { return FamilyServerclass }
