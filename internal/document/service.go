// Package document はドキュメントのアップロード・閲覧・共有・削除を提供する。
package document

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/docanalyzer/internal/metrics"
	"github.com/hitoshi/docanalyzer/internal/model"
	"github.com/hitoshi/docanalyzer/internal/repository"
	"github.com/hitoshi/docanalyzer/internal/storage"
)

const (
	// DefaultPageSize は一覧取得の既定件数。
	DefaultPageSize = 10
	// MaxPageSize は一覧取得の最大件数。
	MaxPageSize = 100
	// DefaultMaxFileSize はアップロード可能な最大バイト数の既定値（10MB）。
	DefaultMaxFileSize int64 = 10 << 20
)

// DefaultAllowedTypes はアップロードを許可するMIMEタイプの既定値。
var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"text/html",
	"text/csv",
	"application/json",
}

// AnalysisQueue は解析ジョブの投入インターフェース。
type AnalysisQueue interface {
	Enqueue(documentID string) bool
}

// FileUpload はアップロードされたファイルを表す。
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Config はドキュメントサービスの設定。
type Config struct {
	AllowedTypes []string // 空の場合は DefaultAllowedTypes
	MaxFileSize  int64    // 0以下の場合は DefaultMaxFileSize
	Now          func() time.Time
}

// Service はドキュメントに関するビジネスロジックを提供する。
type Service struct {
	docs    repository.DocumentRepository
	users   repository.UserRepository
	store   storage.Storage
	queue   AnalysisQueue
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	allowed map[string]bool
	maxSize int64
	now     func() time.Time
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	docs repository.DocumentRepository,
	users repository.UserRepository,
	store storage.Storage,
	queue AnalysisQueue,
	collector metrics.MetricsCollector,
	config Config,
	logger *slog.Logger,
) *Service {
	types := config.AllowedTypes
	if len(types) == 0 {
		types = DefaultAllowedTypes
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			allowed[t] = true
		}
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		docs:    docs,
		users:   users,
		store:   store,
		queue:   queue,
		metrics: collector,
		logger:  logger,
		allowed: allowed,
		maxSize: config.MaxFileSize,
		now:     config.Now,
	}
}

// Upload はファイルを保存し、pending状態のドキュメントを作成して解析キューに投入する。
func (s *Service) Upload(ctx context.Context, userID string, file FileUpload) (*model.Document, error) {
	fileType, err := s.validateUpload(file)
	if err != nil {
		return nil, err
	}

	now := s.now()
	key := storage.ObjectKey(userID, file.Name, now)

	// 申告サイズを超える本文は保存しない。
	body := io.LimitReader(file.Body, file.Size)
	if err := s.store.Put(ctx, key, body, file.Size, fileType); err != nil {
		return nil, fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}

	doc := &model.Document{
		ID:         uuid.New().String(),
		OwnerID:    userID,
		FileName:   filepath.Base(file.Name),
		FileType:   fileType,
		FileSize:   file.Size,
		StorageKey: key,
		Analysis:   model.NewPendingAnalysis(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.removeObject(ctx, key)
		return nil, err
	}

	s.metrics.RecordUpload(doc.FileSize)
	s.queue.Enqueue(doc.ID)

	s.logger.Info("ドキュメントをアップロードしました",
		slog.String("document_id", doc.ID),
		slog.String("user_id", userID),
		slog.String("file_type", fileType),
		slog.Int64("file_size", doc.FileSize),
	)
	return doc, nil
}

func (s *Service) validateUpload(file FileUpload) (string, error) {
	if file.Body == nil || strings.TrimSpace(file.Name) == "" {
		return "", model.NewValidationError("ファイルをアップロードしてください。")
	}
	fileType := file.ContentType
	if mediaType, _, err := mime.ParseMediaType(file.ContentType); err == nil {
		fileType = mediaType
	}
	fileType = strings.ToLower(fileType)
	if !s.allowed[fileType] {
		return "", model.NewValidationError(fmt.Sprintf("このファイル形式はアップロードできません: %s", file.ContentType))
	}
	if file.Size <= 0 {
		return "", model.NewValidationError("空のファイルはアップロードできません。")
	}
	if file.Size > s.maxSize {
		return "", model.NewValidationError(fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.maxSize))
	}
	return fileType, nil
}

// removeObject は保存済みファイルを削除する。失敗はログのみ。
func (s *Service) removeObject(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("保存済みファイルの削除に失敗しました",
			slog.String("storage_key", key),
			slog.String("error", err.Error()),
		)
	}
}

// List は所有者のドキュメントを新しい順にページ単位で返す。
// page, limit が1未満の場合は既定値を使用する。
func (s *Service) List(ctx context.Context, userID string, page, limit int) (*model.DocumentPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	total, err := s.docs.CountByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.ListByOwner(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	return &model.DocumentPage{
		Documents: docs,
		Total:     total,
		Page:      page,
		Pages:     (total + limit - 1) / limit,
	}, nil
}

// Get は閲覧権限のあるドキュメントを返す。
// 所有者、共有先、公開ドキュメントのいずれかに該当しない場合は FORBIDDEN を返す。
func (s *Service) Get(ctx context.Context, userID, documentID string) (*model.Document, error) {
	doc, err := s.find(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.CanRead(userID) {
		return nil, model.NewForbiddenError("閲覧")
	}
	return doc, nil
}

// Share は共有設定を追加または更新する。所有者のみ実行できる。
// permission が空の場合は read として扱う。
func (s *Service) Share(ctx context.Context, userID, documentID, granteeID string, permission model.Permission) (*model.Document, error) {
	if permission == "" {
		permission = model.PermissionRead
	}
	if !permission.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不正な権限です: %s", permission))
	}
	if granteeID == "" {
		return nil, model.NewValidationError("共有先ユーザーを指定してください。")
	}

	doc, err := s.ownedDocument(ctx, userID, documentID, "共有")
	if err != nil {
		return nil, err
	}
	if !isUUID(granteeID) {
		return nil, model.NewUserNotFoundError()
	}
	grantee, err := s.users.FindByID(ctx, granteeID)
	if err != nil {
		return nil, err
	}
	if grantee == nil {
		return nil, model.NewUserNotFoundError()
	}

	grant := model.ShareGrant{UserID: granteeID, Permission: permission}
	if err := s.docs.UpsertShare(ctx, doc.ID, grant); err != nil {
		return nil, err
	}
	doc.UpsertGrant(grant)
	return doc, nil
}

// SetVisibility は公開設定を変更する。所有者のみ実行できる。
func (s *Service) SetVisibility(ctx context.Context, userID, documentID string, public bool) (*model.Document, error) {
	doc, err := s.ownedDocument(ctx, userID, documentID, "公開設定")
	if err != nil {
		return nil, err
	}
	if err := s.docs.UpdateVisibility(ctx, doc.ID, public); err != nil {
		return nil, err
	}
	doc.IsPublic = public
	return doc, nil
}

// Delete は保存済みファイルとドキュメントを削除する。所有者のみ実行できる。
func (s *Service) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.ownedDocument(ctx, userID, documentID, "削除")
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, doc.StorageKey); err != nil {
		return fmt.Errorf("ファイルの削除に失敗しました: %w", err)
	}
	if err := s.docs.Delete(ctx, doc.ID); err != nil {
		return err
	}
	s.logger.Info("ドキュメントを削除しました",
		slog.String("document_id", doc.ID),
		slog.String("user_id", userID),
	)
	return nil
}

// find はドキュメントを取得する。IDがUUID形式でない場合は照会せずに NOT_FOUND を返す。
func (s *Service) find(ctx context.Context, documentID string) (*model.Document, error) {
	if !isUUID(documentID) {
		return nil, model.NewDocumentNotFoundError(documentID)
	}
	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, model.NewDocumentNotFoundError(documentID)
	}
	return doc, nil
}

func (s *Service) ownedDocument(ctx context.Context, userID, documentID, operation string) (*model.Document, error) {
	doc, err := s.find(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.IsOwnedBy(userID) {
		return nil, model.NewForbiddenError(operation)
	}
	return doc, nil
}

// isUUID はIDがUUID形式かを返す。ID列はUUID型のため、それ以外の値は存在し得ない。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
