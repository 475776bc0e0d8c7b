package projection

import (
	"path"
	"strings"
)

// Family is a configuration family with its own typed record.
type Family string

const (
	FamilyInput       Family = "input"
	FamilyProps       Family = "props"
	FamilyTransform   Family = "transform"
	FamilyIndex       Family = "index"
	FamilyOutput      Family = "output"
	FamilyServerclass Family = "serverclass"
)

// Families lists every family in the order jobs project and persist them.
var Families = []Family{
	FamilyInput,
	FamilyProps,
	FamilyTransform,
	FamilyIndex,
	FamilyOutput,
	FamilyServerclass,
}

var familyByFile = map[string]Family{
	"inputs.conf":      FamilyInput,
	"props.conf":       FamilyProps,
	"transforms.conf":  FamilyTransform,
	"indexes.conf":     FamilyIndex,
	"outputs.conf":     FamilyOutput,
	"serverclass.conf": FamilyServerclass,
}

// FamilyForFile picks the family from a conf file's base name. Files of
// any other name are stored as generic stanzas only.
func FamilyForFile(relPath string) (Family, bool) {
	f, ok := familyByFile[strings.ToLower(path.Base(strings.ReplaceAll(relPath, "\\", "/")))]
	return f, ok
}

// IsConfFile reports whether relPath is a file the parser should read.
func IsConfFile(relPath string) bool {
	switch strings.ToLower(path.Ext(relPath)) {
	case ".conf", ".meta":
		return true
	}
	return false
}

// Valid reports whether f is one of the six families.
func (f Family) Valid() bool {
	for _, known := range Families {
		if f == known {
			return true
		}
	}
	return false
}
