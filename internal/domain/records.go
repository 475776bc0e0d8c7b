package domain

import "time"

// Rows written by a job are unique on (job_id, natural_key), where the
// natural key is "<source_path>#<order_in_file>" of the source stanza.

// StanzaRow is a generic parsed stanza.
type StanzaRow struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	JobID       string     `gorm:"type:text;not null;index:,unique,composite:job_natural_key" json:"job_id"`
	NaturalKey  string     `gorm:"type:text;not null;index:,unique,composite:job_natural_key" json:"natural_key"`
	Name        string     `gorm:"type:text;not null" json:"name"`
	SourcePath  string     `gorm:"type:text;not null" json:"source_path"`
	OwningApp   *string    `gorm:"type:text" json:"owning_app"`
	Scope       *string    `gorm:"type:text" json:"scope"`
	Layer       *string    `gorm:"type:text" json:"layer"`
	OrderInFile int        `gorm:"not null" json:"order_in_file"`
	Keys        StringMap  `gorm:"type:text" json:"keys"`
	KeyOrder    StringList `gorm:"type:text" json:"key_order"`
	KeyHistory  HistoryMap `gorm:"type:text" json:"key_history"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName returns the database table name for StanzaRow.
func (StanzaRow) TableName() string {
	return "stanzas"
}

// RecordBase holds the columns shared by the six typed record tables.
type RecordBase struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	JobID       string    `gorm:"type:text;not null;index:,unique,composite:job_natural_key" json:"job_id"`
	NaturalKey  string    `gorm:"type:text;not null;index:,unique,composite:job_natural_key" json:"natural_key"`
	StanzaName  string    `gorm:"type:text;not null" json:"stanza_name"`
	SourcePath  string    `gorm:"type:text;not null" json:"source_path"`
	OwningApp   *string   `gorm:"type:text" json:"owning_app"`
	Scope       *string   `gorm:"type:text" json:"scope"`
	Layer       *string   `gorm:"type:text" json:"layer"`
	OrderInFile int       `gorm:"not null" json:"order_in_file"`
	Residual    StringMap `gorm:"type:text" json:"residual"`
	CreatedAt   time.Time `json:"created_at"`
}

// InputRow is a typed inputs.conf record.
type InputRow struct {
	RecordBase
	StanzaType *string `gorm:"type:text;index" json:"stanza_type"`
	Target     *string `gorm:"type:text" json:"target"`
	IndexName  *string `gorm:"column:index_name;type:text" json:"index"`
	Sourcetype *string `gorm:"type:text" json:"sourcetype"`
	Disabled   *bool   `json:"disabled"`
}

// TableName returns the database table name for InputRow.
func (InputRow) TableName() string { return "input_records" }

// PropsRow is a typed props.conf record.
type PropsRow struct {
	RecordBase
	Target     string     `gorm:"type:text;not null" json:"target"`
	TargetKind string     `gorm:"type:text;not null" json:"target_kind"`
	Transforms StringList `gorm:"type:text" json:"transforms"`
	SedCmds    StringList `gorm:"column:sedcmds;type:text" json:"sedcmds"`
}

// TableName returns the database table name for PropsRow.
func (PropsRow) TableName() string { return "props_records" }

// TransformRow is a typed transforms.conf record.
type TransformRow struct {
	RecordBase
	Name                 string  `gorm:"type:text;not null" json:"name"`
	DestKey              *string `gorm:"type:text" json:"dest_key"`
	Regex                *string `gorm:"type:text" json:"regex"`
	Format               *string `gorm:"type:text" json:"format"`
	WritesMetaIndex      *bool   `json:"writes_meta_index"`
	WritesMetaSourcetype *bool   `json:"writes_meta_sourcetype"`
}

// TableName returns the database table name for TransformRow.
func (TransformRow) TableName() string { return "transform_records" }

// IndexRow is a typed indexes.conf record.
type IndexRow struct {
	RecordBase
	Name string `gorm:"type:text;not null" json:"name"`
}

// TableName returns the database table name for IndexRow.
func (IndexRow) TableName() string { return "index_records" }

// OutputRow is a typed outputs.conf record. Servers is NULL when the
// stanza sets none of server, uri and target_group.
type OutputRow struct {
	RecordBase
	GroupName string     `gorm:"type:text;not null" json:"group_name"`
	Servers   *StringMap `gorm:"type:text" json:"servers"`
}

// TableName returns the database table name for OutputRow.
func (OutputRow) TableName() string { return "output_records" }

// ServerclassRow is a typed serverclass.conf record.
type ServerclassRow struct {
	RecordBase
	Name      string       `gorm:"type:text;not null" json:"name"`
	Whitelist NumberedList `gorm:"type:text" json:"whitelist"`
	Blacklist NumberedList `gorm:"type:text" json:"blacklist"`
}

// TableName returns the database table name for ServerclassRow.
func (ServerclassRow) TableName() string { return "serverclass_records" }

// AllModels lists every table for auto-migration.
func AllModels() []interface{} {
	return []interface{}{
		&Job{},
		&StanzaRow{},
		&InputRow{},
		&PropsRow{},
		&TransformRow{},
		&IndexRow{},
		&OutputRow{},
		&ServerclassRow{},
	}
}
