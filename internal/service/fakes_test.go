package service

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"github.com/timmy/confingest/internal/archive"
	"github.com/timmy/confingest/internal/conf"
	"github.com/timmy/confingest/internal/domain"
	"github.com/timmy/confingest/internal/projection"
	"github.com/timmy/confingest/internal/repository"
	"github.com/timmy/confingest/internal/storage"
)

// memBlobs is an in-memory ObjectStorage.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBlobs) Download(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

// memJobs is an in-memory JobStore with the same guard semantics as the
// database repository.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMemJobs(jobs ...domain.Job) *memJobs {
	s := &memJobs{jobs: make(map[string]domain.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memJobs) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
	}
	return &j, nil
}

func (s *memJobs) UpdateState(_ context.Context, id string, upd repository.StateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrJobNotFound, id)
	}
	if len(upd.From) > 0 {
		allowed := false
		for _, st := range upd.From {
			if j.State == st {
				allowed = true
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s", repository.ErrStateConflict, id)
		}
	}
	j.State = upd.State
	if upd.AttemptCount != nil {
		j.AttemptCount = *upd.AttemptCount
	}
	if upd.StartedAt != nil {
		j.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		j.CompletedAt = upd.CompletedAt
	}
	if upd.LastHeartbeat != nil {
		j.LastHeartbeat = upd.LastHeartbeat
	}
	if upd.NextAttemptAt != nil {
		j.NextAttemptAt = upd.NextAttemptAt
	} else if upd.ClearNextAttempt {
		j.NextAttemptAt = nil
	}
	if upd.ClearError {
		j.ErrorClass, j.ErrorDescription, j.ErrorDetail = "", "", ""
	}
	if upd.ErrorClass != nil {
		j.ErrorClass = *upd.ErrorClass
	}
	if upd.ErrorDescription != nil {
		j.ErrorDescription = *upd.ErrorDescription
	}
	if upd.ErrorDetail != nil {
		j.ErrorDetail = *upd.ErrorDetail
	}
	if upd.Metrics != nil {
		j.Metrics = *upd.Metrics
	}
	s.jobs[id] = j
	return nil
}

func (s *memJobs) Heartbeat(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.Running() {
		return repository.ErrStateConflict
	}
	j.LastHeartbeat = &at
	s.jobs[id] = j
	return nil
}

func (s *memJobs) ListStale(_ context.Context, before time.Time, _ int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Running() && j.LastHeartbeat != nil && j.LastHeartbeat.Before(before) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memJobs) ListDueRetries(_ context.Context, now time.Time, _ int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.RetryDue(now) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memJobs) job(t *testing.T, id string) domain.Job {
	t.Helper()
	j, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return *j
}

// memWriter records writes and reports every row as written.
type memWriter struct {
	mu       sync.Mutex
	stanzas  map[string][]*conf.Stanza
	records  map[projection.Family][]projection.Record
	blockCtx bool
}

func newMemWriter() *memWriter {
	return &memWriter{
		stanzas: make(map[string][]*conf.Stanza),
		records: make(map[projection.Family][]projection.Record),
	}
}

func (w *memWriter) WriteStanzas(ctx context.Context, jobID string, stanzas []*conf.Stanza) (repository.WriteResult, error) {
	if w.blockCtx {
		<-ctx.Done()
		return repository.WriteResult{}, ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.stanzas[jobID]; ok {
		return repository.WriteResult{Table: repository.StanzaTable, Skipped: true}, nil
	}
	w.stanzas[jobID] = stanzas
	return repository.WriteResult{Table: repository.StanzaTable, Written: len(stanzas)}, nil
}

func (w *memWriter) WriteRecords(_ context.Context, _ string, f projection.Family, records []projection.Record) (repository.WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records[f] = append(w.records[f], records...)
	return repository.WriteResult{Table: string(f), Written: len(records)}, nil
}

type tarFile struct {
	name     string
	body     string
	linkname string
}

func buildTarGz(t *testing.T, files []tarFile) []byte {
	t.Helper()
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body)), Typeflag: tar.TypeReg}
		if f.linkname != "" {
			hdr = &tar.Header{Name: f.name, Mode: 0o777, Linkname: f.linkname, Typeflag: tar.TypeSymlink}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if f.linkname == "" {
			_, err := tw.Write([]byte(f.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return gz.Bytes()
}

var sampleBundle = []tarFile{
	{name: "etc/system/local/inputs.conf", body: "[monitor:///var/log/messages]\nindex = os\nsourcetype = syslog\n\n[default]\nhost = web-01\n"},
	{name: "etc/apps/search/default/props.conf", body: "[syslog]\nTRANSFORMS-route = route_os\n"},
	{name: "etc/apps/search/default/transforms.conf", body: "[route_os]\nDEST_KEY = _MetaData:Index\nREGEX = .\nFORMAT = os\n"},
	{name: "etc/apps/search/metadata/local.meta", body: "[]\naccess = read : [ * ]\n"},
	{name: "etc/apps/search/README.txt", body: "not a conf file"},
}

func newTestOrchestrator(t *testing.T, jobs JobStore, writer RowWriter, blobs storage.ObjectStorage, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	extractor := archive.NewExtractor(t.TempDir(), archive.Limits{})
	return NewOrchestrator(jobs, writer, blobs, extractor, nil, nil, cfg)
}

func storedJob(id, key, format string) domain.Job {
	return domain.Job{ID: id, ArchiveKey: key, ArchiveFormat: format, State: domain.JobStateStored}
}
