package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/timmy/confingest/internal/archive"
	"github.com/timmy/confingest/internal/conf"
	"github.com/timmy/confingest/internal/domain"
	"github.com/timmy/confingest/internal/logger"
	"github.com/timmy/confingest/internal/metrics"
	"github.com/timmy/confingest/internal/projection"
	"github.com/timmy/confingest/internal/provenance"
	"github.com/timmy/confingest/internal/repository"
	"github.com/timmy/confingest/internal/storage"
	"github.com/zeebo/blake3"
)

// JobStore is the job persistence the orchestrator and reaper need.
type JobStore interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
	UpdateState(ctx context.Context, id string, upd repository.StateUpdate) error
	Heartbeat(ctx context.Context, id string, at time.Time) error
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Job, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
}

// RowWriter persists stanzas and typed records idempotently.
type RowWriter interface {
	WriteStanzas(ctx context.Context, jobID string, stanzas []*conf.Stanza) (repository.WriteResult, error)
	WriteRecords(ctx context.Context, jobID string, family projection.Family, records []projection.Record) (repository.WriteResult, error)
}

// Outcome summarises what Run did.
type Outcome string

const (
	// OutcomeComplete means this attempt took the job to COMPLETE.
	OutcomeComplete Outcome = "complete"
	// OutcomeAlreadyComplete means the job was COMPLETE before the call.
	OutcomeAlreadyComplete Outcome = "already_complete"
	// OutcomeSkipped means the job is terminal, running elsewhere or unknown.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDeferred means the job is not ready yet; see NextAttemptAt.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeFailed means the attempt failed; see Err and NextAttemptAt.
	OutcomeFailed Outcome = "failed"
)

// Result is the explicit outcome of one Run.
type Result struct {
	JobID   string
	Outcome Outcome
	// State is the job state after the call, when known.
	State domain.JobState
	Err   *JobError
	// NextAttemptAt is set when the job should be run again.
	NextAttemptAt *time.Time
	Metrics       domain.JobMetrics
	Duration      time.Duration
}

// OrchestratorConfig holds the attempt limits.
type OrchestratorConfig struct {
	HeartbeatInterval time.Duration
	JobTimeout        time.Duration
	Retry             RetryPolicy
}

// DefaultOrchestratorConfig returns a 30s heartbeat and a 1h limit.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		HeartbeatInterval: 30 * time.Second,
		JobTimeout:        time.Hour,
		Retry:             DefaultRetryPolicy(),
	}
}

// Orchestrator drives one job through extraction, parsing, generic
// persistence, projection and typed persistence.
type Orchestrator struct {
	jobs      JobStore
	writer    RowWriter
	blobs     storage.ObjectStorage
	extractor *archive.Extractor
	engine    *projection.Engine
	metrics   *metrics.Metrics

	heartbeatInterval time.Duration
	timeout           time.Duration
	retry             RetryPolicy
	now               func() time.Time
}

// NewOrchestrator creates an orchestrator. A nil engine uses the built-in
// projectors and a nil metrics records nothing.
func NewOrchestrator(
	jobs JobStore,
	writer RowWriter,
	blobs storage.ObjectStorage,
	extractor *archive.Extractor,
	engine *projection.Engine,
	m *metrics.Metrics,
	cfg OrchestratorConfig,
) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if len(cfg.Retry.Backoff) == 0 {
		cfg.Retry = def.Retry
	}
	if engine == nil {
		engine = projection.NewEngine()
	}
	if m == nil {
		m = metrics.New(false)
	}
	return &Orchestrator{
		jobs:              jobs,
		writer:            writer,
		blobs:             blobs,
		extractor:         extractor,
		engine:            engine,
		metrics:           m,
		heartbeatInterval: cfg.HeartbeatInterval,
		timeout:           cfg.JobTimeout,
		retry:             cfg.Retry,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

var runningStates = []domain.JobState{domain.JobStateParsing, domain.JobStateNormalized}

// Run executes one attempt of job jobID. It never panics on pipeline
// errors; failures are classified, persisted and returned in Result.
func (o *Orchestrator) Run(ctx context.Context, jobID string) Result {
	ctx = logger.SetComponent(logger.SetJobID(ctx, jobID), "orchestrator")
	res := Result{JobID: jobID}

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			res.Outcome = OutcomeSkipped
			res.Err = NewPermanentError("job not found", err)
			return res
		}
		res.Outcome = OutcomeFailed
		res.Err = NewTransientError("load job", err)
		return res
	}
	res.State = job.State
	ctx = logger.SetAttempt(ctx, job.AttemptCount)

	now := o.now()
	var from []domain.JobState
	switch job.State {
	case domain.JobStateComplete:
		res.Outcome = OutcomeAlreadyComplete
		res.Metrics = job.Metrics
		return res
	case domain.JobStateFailed:
		if !job.RetryPending() {
			res.Outcome = OutcomeSkipped
			return res
		}
		if !job.RetryDue(now) {
			res.Outcome = OutcomeDeferred
			res.NextAttemptAt = job.NextAttemptAt
			return res
		}
		from = []domain.JobState{domain.JobStateFailed}
	case domain.JobStatePending:
		next := now.Add(o.retry.Delay(0))
		res.Outcome = OutcomeDeferred
		res.Err = NewTransientError("archive not stored yet", nil)
		res.NextAttemptAt = &next
		return res
	case domain.JobStateStored:
		from = []domain.JobState{domain.JobStateStored}
	default:
		logger.CtxInfo(ctx, "[Orchestrator] Job %s already running (%s), skipping", jobID, job.State)
		res.Outcome = OutcomeSkipped
		return res
	}

	err = o.jobs.UpdateState(ctx, jobID, repository.StateUpdate{
		State:            domain.JobStateParsing,
		From:             from,
		StartedAt:        &now,
		LastHeartbeat:    &now,
		ClearNextAttempt: true,
		ClearError:       true,
	})
	if errors.Is(err, repository.ErrStateConflict) {
		res.Outcome = OutcomeSkipped
		return res
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = NewTransientError("claim job", err)
		return res
	}

	o.metrics.JobStarted()
	logger.CtxInfo(ctx, "[Orchestrator] Started job %s (archive=%s, retries=%d)", jobID, job.ArchiveKey, job.AttemptCount)

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	stop := o.startHeartbeat(runCtx, jobID, cancel)

	m := domain.JobMetrics{
		Records:        make(map[string]int, len(projection.Families)),
		RecordsWritten: make(map[string]int, len(projection.Families)),
		Timeouts:       job.Metrics.Timeouts,
	}
	pipeErr := o.execute(runCtx, job, &m)
	stop()

	m.DurationMs = o.now().Sub(now).Milliseconds()
	res.Duration = time.Duration(m.DurationMs) * time.Millisecond

	if pipeErr == nil {
		completedAt := o.now()
		err = o.jobs.UpdateState(ctx, jobID, repository.StateUpdate{
			State:            domain.JobStateComplete,
			From:             []domain.JobState{domain.JobStateNormalized},
			CompletedAt:      &completedAt,
			Metrics:          &m,
			ClearNextAttempt: true,
			ClearError:       true,
		})
		if err == nil {
			res.Outcome = OutcomeComplete
			res.State = domain.JobStateComplete
			res.Metrics = m
			o.metrics.JobFinished(string(domain.JobStateComplete), "", res.Duration)
			logger.With(logger.Fields{
				logger.FieldDurationMs: m.DurationMs,
				logger.FieldCount:      m.Stanzas,
				logger.FieldStatus:     string(domain.JobStateComplete),
			}).Info(ctx, "[Orchestrator] Completed job %s", jobID)
			return res
		}
		pipeErr = NewTransientError("mark job complete", err)
	}

	var jerr *JobError
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		jerr = NewTimeoutError(fmt.Sprintf("job exceeded the %s limit", o.timeout), pipeErr)
	} else {
		jerr = Classify("job failed", pipeErr)
	}
	if jerr.Class == domain.ErrorClassTimeout {
		m.Timeouts++
		o.metrics.Timeout()
	}

	final := o.recordFailure(ctx, job, jerr, runningStates, &m)
	final.Duration = res.Duration
	o.metrics.JobFinished(string(domain.JobStateFailed), string(final.Err.Class), res.Duration)
	return final
}

// execute runs the pipeline of one claimed job up to NORMALIZED plus the
// typed writes. It fills m as it goes.
func (o *Orchestrator) execute(ctx context.Context, job *domain.Job, m *domain.JobMetrics) error {
	format, err := archive.ParseFormat(job.ArchiveFormat)
	if err != nil {
		return Classify("unsupported archive format", err)
	}

	rc, err := o.blobs.Download(ctx, job.ArchiveKey)
	if err != nil {
		return NewTransientError("open archive stream", err)
	}
	defer rc.Close()

	hasher := blake3.New()
	extracted, err := o.extractor.Extract(ctx, io.TeeReader(rc, hasher), format)
	if err != nil {
		return Classify("extract archive", err)
	}
	defer func() {
		if err := extracted.Cleanup(); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("[Orchestrator] Failed to remove extraction directory")
		}
	}()

	// Trailing bytes after the end-of-archive marker belong to the digest.
	if _, err := io.Copy(hasher, io.LimitReader(rc, o.extractor.Limits().MaxTotalBytes)); err != nil {
		return NewTransientError("read archive stream", err)
	}
	m.ArchiveDigest = hex.EncodeToString(hasher.Sum(nil))
	m.FilesExtracted = len(extracted.Entries)
	m.BytesExtracted = extracted.TotalBytes
	o.metrics.BytesExtracted(extracted.TotalBytes)

	stanzas, err := o.parseAll(ctx, extracted, m)
	if err != nil {
		return err
	}

	written, err := o.writer.WriteStanzas(ctx, job.ID, stanzas)
	if err != nil {
		return Classify("write stanzas", err)
	}
	m.Stanzas = len(stanzas)
	m.StanzasWritten = written.Written
	o.metrics.StanzasWritten(written.Written)
	if written.Skipped {
		o.metrics.BatchSkipped(written.Table)
	}

	if err := o.jobs.UpdateState(ctx, job.ID, repository.StateUpdate{
		State: domain.JobStateNormalized,
		From:  []domain.JobState{domain.JobStateParsing},
	}); err != nil {
		return Classify("mark job normalized", err)
	}

	byFamily := groupByFamily(stanzas)
	for _, f := range projection.Families {
		if err := ctx.Err(); err != nil {
			return err
		}
		fctx := logger.SetFamily(ctx, string(f))
		batch, err := o.engine.Project(fctx, job.ID, f, byFamily[f])
		if err != nil {
			return Classify("project "+string(f), err)
		}
		for range batch.Defects {
			o.metrics.ProjectionDefect(string(f))
		}
		m.ProjectionDefects += len(batch.Defects)
		m.Records[string(f)] = len(batch.Records)

		written, err := o.writer.WriteRecords(fctx, job.ID, f, batch.Records)
		if err != nil {
			return Classify("write "+string(f)+" records", err)
		}
		m.RecordsWritten[string(f)] = written.Written
		o.metrics.RecordsWritten(string(f), written.Written)
		if written.Skipped {
			o.metrics.BatchSkipped(written.Table)
		}
	}
	return nil
}

// parseAll parses every .conf and .meta file in path order.
func (o *Orchestrator) parseAll(ctx context.Context, extracted *archive.Result, m *domain.JobMetrics) ([]*conf.Stanza, error) {
	entries := make([]archive.Entry, 0, len(extracted.Entries))
	for _, e := range extracted.Entries {
		if projection.IsConfFile(e.RelPath) {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, NewPermanentError("archive contains no .conf or .meta files", nil)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })

	var stanzas []*conf.Stanza
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parsed, err := conf.ParseFile(e.AbsPath, provenance.Resolve(e.RelPath))
		if err != nil {
			return nil, Classify("parse "+e.RelPath, err)
		}
		m.FilesParsed++
		m.LinesSkipped += parsed.Stats.Skipped
		o.metrics.LinesSkipped(parsed.Stats.Skipped)
		logger.CtxDebug(logger.SetFile(ctx, e.RelPath), "[Orchestrator] Parsed %d stanzas", len(parsed.Stanzas))
		stanzas = append(stanzas, parsed.Stanzas...)
	}
	return stanzas, nil
}

func groupByFamily(stanzas []*conf.Stanza) map[projection.Family][]*conf.Stanza {
	out := make(map[projection.Family][]*conf.Stanza, len(projection.Families))
	for _, s := range stanzas {
		if s.Provenance == nil {
			continue
		}
		if f, ok := projection.FamilyForFile(s.Provenance.SourcePath); ok {
			out[f] = append(out[f], s)
		}
	}
	return out
}

// MarkTimedOut fails a running job whose heartbeat went stale.
func (o *Orchestrator) MarkTimedOut(ctx context.Context, job *domain.Job) Result {
	ctx = logger.SetComponent(logger.SetJobID(ctx, job.ID), "reaper")
	m := job.Metrics
	m.Timeouts++
	o.metrics.Timeout()
	return o.recordFailure(ctx, job, NewTimeoutError("heartbeat went stale", nil), runningStates, &m)
}

// recordFailure stores FAILED with either a scheduled retry or a final
// class. The write is guarded by from; losing the guard means another
// actor already moved the job and the result is Skipped.
func (o *Orchestrator) recordFailure(ctx context.Context, job *domain.Job, jerr *JobError, from []domain.JobState, m *domain.JobMetrics) Result {
	res := Result{JobID: job.ID, Outcome: OutcomeFailed, State: domain.JobStateFailed, Metrics: *m}

	// The attempt context may be the one that expired.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	class := jerr.Class
	upd := repository.StateUpdate{
		State:   domain.JobStateFailed,
		From:    from,
		Metrics: m,
	}
	if class.Retryable() {
		if o.retry.CanRetry(job.AttemptCount) {
			next := o.now().Add(o.retry.Delay(job.AttemptCount))
			attempts := job.AttemptCount + 1
			upd.NextAttemptAt = &next
			upd.AttemptCount = &attempts
			res.NextAttemptAt = &next
			o.metrics.RetryScheduled(string(class))
		} else {
			class = domain.ErrorClassExhausted
			upd.ClearNextAttempt = true
		}
	} else {
		upd.ClearNextAttempt = true
	}

	stored := &JobError{Class: class, Message: jerr.Message, Code: jerr.Code, Err: jerr.Err}
	desc := jerr.Message
	if jerr.Code != "" {
		desc = fmt.Sprintf("%s (%s)", jerr.Message, jerr.Code)
	}
	detail := stored.Detail()
	upd.ErrorClass = &class
	upd.ErrorDescription = &desc
	upd.ErrorDetail = &detail
	res.Err = stored

	if err := o.jobs.UpdateState(wctx, job.ID, upd); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			logger.CtxWarn(ctx, "[Orchestrator] Job %s changed state before failure could be recorded", job.ID)
			return Result{JobID: job.ID, Outcome: OutcomeSkipped, Err: stored}
		}
		logger.FromContext(ctx).WithError(err).Error("[Orchestrator] Failed to record job failure")
		res.NextAttemptAt = nil
		return res
	}

	logger.With(logger.Fields{
		logger.FieldErrorClass: string(class),
		logger.FieldStatus:     string(domain.JobStateFailed),
	}).Warn(ctx, "[Orchestrator] Job %s failed: %s", job.ID, jerr.Error())
	return res
}
