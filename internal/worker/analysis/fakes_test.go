package analysis

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/docanalyzer/internal/model"
	"github.com/hitoshi/docanalyzer/internal/repository"
	"github.com/hitoshi/docanalyzer/internal/storage"
)

// memDocRepo はテスト用のインメモリDocumentRepository。
// 解析状態の保存履歴をドキュメントごとに記録する。
type memDocRepo struct {
	mu      sync.Mutex
	docs    map[string]*model.Document
	history map[string][]model.AnalysisStatus
	order   []string

	listErr error
	// beforeUpdate はUpdateAnalysisの直前に呼ばれる。
	beforeUpdate func(id string, a model.Analysis)
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{
		docs:    make(map[string]*model.Document),
		history: make(map[string][]model.AnalysisStatus),
	}
}

func (r *memDocRepo) add(doc *model.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	r.order = append(r.order, doc.ID)
}

func (r *memDocRepo) get(id string) *model.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil
	}
	cp := *doc
	return &cp
}

func (r *memDocRepo) statuses(id string) []model.AnalysisStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AnalysisStatus(nil), r.history[id]...)
}

func (r *memDocRepo) Create(_ context.Context, doc *model.Document) error {
	r.add(doc)
	return nil
}

func (r *memDocRepo) FindByID(_ context.Context, id string) (*model.Document, error) {
	return r.get(id), nil
}

func (r *memDocRepo) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]*model.Document, error) {
	return nil, errors.New("not implemented")
}

func (r *memDocRepo) CountByOwner(_ context.Context, ownerID string) (int, error) {
	return 0, errors.New("not implemented")
}

func (r *memDocRepo) UpsertShare(_ context.Context, documentID string, grant model.ShareGrant) error {
	return errors.New("not implemented")
}

func (r *memDocRepo) UpdateVisibility(_ context.Context, documentID string, public bool) error {
	return errors.New("not implemented")
}

func (r *memDocRepo) UpdateAnalysis(_ context.Context, documentID string, a model.Analysis) error {
	if r.beforeUpdate != nil {
		r.beforeUpdate(documentID, a)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return model.NewDocumentNotFoundError(documentID)
	}
	if doc.Analysis.Status != a.Status.Prior() {
		return &model.TransitionError{From: doc.Analysis.Status, To: a.Status}
	}
	doc.Analysis = a
	r.history[documentID] = append(r.history[documentID], a.Status)
	return nil
}

func (r *memDocRepo) ListIDsByStatus(_ context.Context, status model.AnalysisStatus) ([]string, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, id := range r.order {
		if doc, ok := r.docs[id]; ok && doc.Analysis.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memDocRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return model.NewDocumentNotFoundError(id)
	}
	delete(r.docs, id)
	return nil
}

var _ repository.DocumentRepository = (*memDocRepo)(nil)

// memObjects はテスト用のObjectOpener。
type memObjects map[string][]byte

func (m memObjects) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// analyzerFunc は関数をAnalyzerとして扱うアダプター。
type analyzerFunc func(ctx context.Context, text string) (*Report, error)

func (f analyzerFunc) Analyze(ctx context.Context, text string) (*Report, error) {
	return f(ctx, text)
}

// passthroughSanitizer は入力をそのまま返すサニタイザー。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(raw string) string { return raw }

// recordingMetrics は呼び出しを記録するMetricsCollector。
type recordingMetrics struct {
	mu        sync.Mutex
	started   int
	completed int
	failed    int
	dropped   []string
}

func (m *recordingMetrics) RecordAnalysisStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) RecordAnalysisCompleted(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *recordingMetrics) RecordAnalysisFailed(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *recordingMetrics) RecordAnalysisDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, reason)
}

func (m *recordingMetrics) SetQueueDepth(int)              {}
func (m *recordingMetrics) RecordAuthEvent(string, string) {}
func (m *recordingMetrics) RecordUpload(int64)             {}
func (m *recordingMetrics) RecordHTTPStatus(int)           {}

func (m *recordingMetrics) snapshot() (started, completed, failed int, dropped []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.completed, m.failed, append([]string(nil), m.dropped...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingDoc(id, fileType, key string) *model.Document {
	return &model.Document{
		ID:         id,
		OwnerID:    "owner-1",
		FileName:   id + ".txt",
		FileType:   fileType,
		FileSize:   42,
		StorageKey: key,
		Analysis:   model.NewPendingAnalysis(),
	}
}
