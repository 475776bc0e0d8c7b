// Package projection turns generic stanzas into typed records for six
// configuration families: inputs, props, transforms, indexes, outputs and
// serverclass.
//
// Projectors are pure functions selected by the family of the file a
// stanza came from. A projector that panics or misbehaves on one stanza
// costs only that stanza: the failure is logged, counted as a defect and
// the batch continues.
package projection

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/timmy/confingest/internal/conf"
	"github.com/timmy/confingest/internal/logger"
)

// Defect is a stanza that could not be projected.
type Defect struct {
	Family     Family
	StanzaName string
	NaturalKey string
	Err        error
}

// Batch is the projection of one family's stanzas within a job.
type Batch struct {
	Family  Family
	Records []Record
	// NotApplicable counts stanzas the projector declined, such as the
	// serverclass global stanza.
	NotApplicable int
	Defects       []Defect
}

// Engine dispatches stanzas to the projector of their family.
type Engine struct {
	projectors map[Family]Projector
	onDefect   func(Defect)
}

// Option configures an Engine.
type Option func(*Engine)

// WithProjector replaces the projector used for f.
func WithProjector(f Family, p Projector) Option {
	return func(e *Engine) { e.projectors[f] = p }
}

// WithDefectHook registers fn to be called once per defect.
func WithDefectHook(fn func(Defect)) Option {
	return func(e *Engine) { e.onDefect = fn }
}

// NewEngine returns an engine with the built-in projectors.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{projectors: make(map[Family]Projector, len(projectors))}
	for f, p := range projectors {
		e.projectors[f] = p
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Project maps stanzas, in order, to records of family f owned by jobID.
func (e *Engine) Project(ctx context.Context, jobID string, f Family, stanzas []*conf.Stanza) (Batch, error) {
	p, ok := e.projectors[f]
	if !ok {
		return Batch{}, fmt.Errorf("no projector for family %q", f)
	}

	ctx = logger.SetFamily(ctx, string(f))
	batch := Batch{Family: f, Records: make([]Record, 0, len(stanzas))}
	for _, s := range stanzas {
		rec, ok, err := apply(p, s)
		if err != nil {
			d := Defect{Family: f, Err: err}
			if s != nil {
				d.StanzaName = s.Name
				if s.Provenance != nil {
					d.NaturalKey = NaturalKey(*s.Provenance)
				}
			}
			batch.Defects = append(batch.Defects, d)
			logger.CtxWarn(ctx, "Projection defect: stanza=%q key=%s err=%v", d.StanzaName, d.NaturalKey, err)
			if e.onDefect != nil {
				e.onDefect(d)
			}
			continue
		}
		if !ok {
			batch.NotApplicable++
			continue
		}
		rec.common().JobID = jobID
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func apply(p Projector, s *conf.Stanza) (rec Record, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("projector panic stack: %s", debug.Stack())
			rec, ok, err = nil, false, fmt.Errorf("projector panicked: %v", r)
		}
	}()
	if s == nil {
		return nil, false, fmt.Errorf("nil stanza")
	}
	rec, ok = p(s)
	if ok && rec == nil {
		return nil, false, fmt.Errorf("projector reported a record but returned nil")
	}
	return rec, ok, nil
}
