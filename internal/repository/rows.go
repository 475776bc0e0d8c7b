package repository

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/timmy/confingest/internal/conf"
	"github.com/timmy/confingest/internal/domain"
	"github.com/timmy/confingest/internal/projection"
	"github.com/timmy/confingest/internal/provenance"
)

// familyModels maps each family to its table model.
var familyModels = map[projection.Family]interface{}{
	projection.FamilyInput:       &domain.InputRow{},
	projection.FamilyProps:       &domain.PropsRow{},
	projection.FamilyTransform:   &domain.TransformRow{},
	projection.FamilyIndex:       &domain.IndexRow{},
	projection.FamilyOutput:      &domain.OutputRow{},
	projection.FamilyServerclass: &domain.ServerclassRow{},
}

type provenanceColumns struct {
	sourcePath string
	owningApp  *string
	scope      *string
	layer      *string
	order      int
}

func splitProvenance(p provenance.Provenance) provenanceColumns {
	c := provenanceColumns{sourcePath: p.SourcePath, owningApp: p.OwningApp, order: p.OrderInFile}
	if p.Scope != nil {
		s := string(*p.Scope)
		c.scope = &s
	}
	if p.Layer != nil {
		l := string(*p.Layer)
		c.layer = &l
	}
	return c
}

func stanzaRow(jobID string, s *conf.Stanza) domain.StanzaRow {
	var prov provenance.Provenance
	if s.Provenance != nil {
		prov = *s.Provenance
	}
	pc := splitProvenance(prov)
	return domain.StanzaRow{
		ID:          uuid.New().String(),
		JobID:       jobID,
		NaturalKey:  projection.NaturalKey(prov),
		Name:        s.Name,
		SourcePath:  pc.sourcePath,
		OwningApp:   pc.owningApp,
		Scope:       pc.scope,
		Layer:       pc.layer,
		OrderInFile: pc.order,
		Keys:        domain.StringMap(s.Keys),
		KeyOrder:    domain.StringList(s.KeyOrder),
		KeyHistory:  domain.HistoryMap(s.KeyHistory),
	}
}

func recordBase(jobID string, c *projection.Common) domain.RecordBase {
	pc := splitProvenance(c.Provenance)
	return domain.RecordBase{
		ID:          uuid.New().String(),
		JobID:       jobID,
		NaturalKey:  c.NaturalKey(),
		StanzaName:  c.StanzaName,
		SourcePath:  pc.sourcePath,
		OwningApp:   pc.owningApp,
		Scope:       pc.scope,
		Layer:       pc.layer,
		OrderInFile: pc.order,
		Residual:    domain.StringMap(c.Residual),
	}
}

func numbered(entries []projection.ListEntry) domain.NumberedList {
	out := make(domain.NumberedList, len(entries))
	for i, e := range entries {
		out[i] = domain.NumberedValue{N: e.N, Value: e.Value}
	}
	return out
}

// familyRows converts records of family f into a slice of its row type.
// Every record must belong to f.
func familyRows(jobID string, f projection.Family, records []projection.Record) (interface{}, error) {
	switch f {
	case projection.FamilyInput:
		rows := make([]domain.InputRow, 0, len(records))
		for _, r := range records {
			in, ok := r.(*projection.InputRecord)
			if !ok {
				return nil, mismatch(f, r)
			}
			rows = append(rows, domain.InputRow{
				RecordBase: recordBase(jobID, &in.Common),
				StanzaType: in.StanzaType,
				Target:     in.Target,
				IndexName:  in.Index,
				Sourcetype: in.Sourcetype,
				Disabled:   in.Disabled,
			})
		}
		return rows, nil

	case projection.FamilyProps:
		rows := make([]domain.PropsRow, 0, len(records))
		for _, r := range records {
			p, ok := r.(*projection.PropsRecord)
			if !ok {
				return nil, mismatch(f, r)
			}
			rows = append(rows, domain.PropsRow{
				RecordBase: recordBase(jobID, &p.Common),
				Target:     p.Target,
				TargetKind: string(p.TargetKind),
				Transforms: domain.StringList(p.Transforms),
				SedCmds:    domain.StringList(p.SedCmds),
			})
		}
		return rows, nil

	case projection.FamilyTransform:
		rows := make([]domain.TransformRow, 0, len(records))
		for _, r := range records {
			t, ok := r.(*projection.TransformRecord)
			if !ok {
				return nil, mismatch(f, r)
			}
			rows = append(rows, domain.TransformRow{
				RecordBase:           recordBase(jobID, &t.Common),
				Name:                 t.Name,
				DestKey:              t.DestKey,
				Regex:                t.Regex,
				Format:               t.Format,
				WritesMetaIndex:      t.WritesMetaIndex,
				WritesMetaSourcetype: t.WritesMetaSourcetype,
			})
		}
		return rows, nil

	case projection.FamilyIndex:
		rows := make([]domain.IndexRow, 0, len(records))
		for _, r := range records {
			idx, ok := r.(*projection.IndexRecord)
			if !ok {
				return nil, mismatch(f, r)
			}
			rows = append(rows, domain.IndexRow{RecordBase: recordBase(jobID, &idx.Common), Name: idx.Name})
		}
		return rows, nil

	case projection.FamilyOutput:
		rows := make([]domain.OutputRow, 0, len(records))
		for _, r := range records {
			o, ok := r.(*projection.OutputRecord)
			if !ok {
				return nil, mismatch(f, r)
			}
			row := domain.OutputRow{RecordBase: recordBase(jobID, &o.Common), GroupName: o.GroupName}
			if o.Servers != nil {
				servers := domain.StringMap(o.Servers)
				row.Servers = &servers
			}
			rows = append(rows, row)
		}
		return rows, nil

	case projection.FamilyServerclass:
		rows := make([]domain.ServerclassRow, 0, len(records))
		for _, r := range records {
			sc, ok := r.(*projection.ServerclassRecord)
			if !ok {
				return nil, mismatch(f, r)
			}
			rows = append(rows, domain.ServerclassRow{
				RecordBase: recordBase(jobID, &sc.Common),
				Name:       sc.Name,
				Whitelist:  numbered(sc.Whitelist),
				Blacklist:  numbered(sc.Blacklist),
			})
		}
		return rows, nil
	}
	return nil, fmt.Errorf("unknown family %q", f)
}

func mismatch(f projection.Family, r projection.Record) error {
	return fmt.Errorf("record %s of family %s in a %s batch", r.NaturalKey(), r.Family(), f)
}
