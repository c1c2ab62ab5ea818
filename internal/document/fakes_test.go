package document

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/hitoshi/docanalyzer/internal/model"
	"github.com/hitoshi/docanalyzer/internal/repository"
)

// memDocRepo はテスト用のインメモリDocumentRepository。
type memDocRepo struct {
	mu   sync.Mutex
	docs map[string]*model.Document

	createErr error
	findErr   error
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{docs: make(map[string]*model.Document)}
}

func (r *memDocRepo) Create(_ context.Context, doc *model.Document) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *memDocRepo) FindByID(_ context.Context, id string) (*model.Document, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	cp.SharedWith = append([]model.ShareGrant(nil), doc.SharedWith...)
	return &cp, nil
}

func (r *memDocRepo) owned(ownerID string) []*model.Document {
	var docs []*model.Document
	for _, d := range r.docs {
		if d.OwnerID == ownerID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

func (r *memDocRepo) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := r.owned(ownerID)
	if offset >= len(docs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(docs) {
		end = len(docs)
	}
	return docs[offset:end], nil
}

func (r *memDocRepo) CountByOwner(_ context.Context, ownerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owned(ownerID)), nil
}

func (r *memDocRepo) UpsertShare(_ context.Context, documentID string, grant model.ShareGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return model.NewDocumentNotFoundError(documentID)
	}
	doc.UpsertGrant(grant)
	return nil
}

func (r *memDocRepo) UpdateVisibility(_ context.Context, documentID string, public bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return model.NewDocumentNotFoundError(documentID)
	}
	doc.IsPublic = public
	return nil
}

func (r *memDocRepo) UpdateAnalysis(_ context.Context, documentID string, a model.Analysis) error {
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
	return nil
}

func (r *memDocRepo) ListIDsByStatus(_ context.Context, status model.AnalysisStatus) ([]string, error) {
	return nil, nil
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

// stubUsers はFindByIDのみを実装したUserRepository。
// 他のメソッドが呼ばれた場合はnilインターフェースの呼び出しでpanicする。
type stubUsers struct {
	repository.UserRepository
	users   map[string]*model.User
	findErr error
}

func (s *stubUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.users[id], nil
}

// recordingQueue は投入されたIDを記録するAnalysisQueue。
type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
