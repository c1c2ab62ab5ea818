package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/docanalyzer/internal/document"
	"github.com/hitoshi/docanalyzer/internal/model"
)

const (
	uploadFieldName = "document"
	// multipartOverhead はファイル本体以外のマルチパート部分に許容するバイト数。
	multipartOverhead = 1 << 20
	// multipartMemory はParseMultipartFormがメモリに保持する上限。超過分は一時ファイルになる。
	multipartMemory = 1 << 20
)

// DocumentServiceInterface はドキュメントハンドラーが必要とするサービスインターフェース。
// document.Service が満たす。
type DocumentServiceInterface interface {
	Upload(ctx context.Context, userID string, file document.FileUpload) (*model.Document, error)
	List(ctx context.Context, userID string, page, limit int) (*model.DocumentPage, error)
	Get(ctx context.Context, userID, documentID string) (*model.Document, error)
	Share(ctx context.Context, userID, documentID, granteeID string, permission model.Permission) (*model.Document, error)
	SetVisibility(ctx context.Context, userID, documentID string, public bool) (*model.Document, error)
	Delete(ctx context.Context, userID, documentID string) error
}

// DocumentHandler はドキュメント管理のHTTPハンドラー。
type DocumentHandler struct {
	service     DocumentServiceInterface
	maxFileSize int64
	logger      *slog.Logger
}

// NewDocumentHandler はDocumentHandlerを生成する。
// maxFileSizeはリクエストボディ全体の上限の算出に使う。0以下なら document.DefaultMaxFileSize。
func NewDocumentHandler(service DocumentServiceInterface, maxFileSize int64, logger *slog.Logger) *DocumentHandler {
	if maxFileSize <= 0 {
		maxFileSize = document.DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// documentResponse はドキュメントのAPIレスポンス。
type documentResponse struct {
	ID         string           `json:"id"`
	Owner      string           `json:"owner"`
	FileName   string           `json:"fileName"`
	FileType   string           `json:"fileType"`
	FileSize   int64            `json:"fileSize"`
	IsPublic   bool             `json:"isPublic"`
	SharedWith []shareResponse  `json:"sharedWith"`
	Analysis   analysisResponse `json:"analysis"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type shareResponse struct {
	User        string `json:"user"`
	Permissions string `json:"permissions"`
}

// analysisResponse は状態に応じたフィールドだけを出力する。
type analysisResponse struct {
	Status       string              `json:"status"`
	StartedAt    *time.Time          `json:"startedAt,omitempty"`
	Summary      *string             `json:"summary,omitempty"`
	RiskFindings []model.RiskFinding `json:"riskFindings,omitempty"`
	CompletedAt  *time.Time          `json:"completedAt,omitempty"`
	Error        *string             `json:"error,omitempty"`
	FailedAt     *time.Time          `json:"failedAt,omitempty"`
}

// documentListResponse はページネーション付き一覧のレスポンス。
type documentListResponse struct {
	Success    bool               `json:"success"`
	Count      int                `json:"count"`
	Total      int                `json:"total"`
	Pagination paginationResponse `json:"pagination"`
	Data       []documentResponse `json:"data"`
}

type paginationResponse struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

type shareRequest struct {
	UserID      string `json:"userId"`
	Permissions string `json:"permissions"`
}

type visibilityRequest struct {
	IsPublic *bool `json:"isPublic"`
}

// Upload はマルチパートの "document" フィールドを受け取り、ドキュメントを作成する。
// POST /api/documents
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeValidationError(w, "ファイルサイズが上限を超えています。")
			return
		}
		writeValidationError(w, "マルチパートフォームの解析に失敗しました。")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		writeValidationError(w, "ファイルをアップロードしてください。")
		return
	}
	defer file.Close()

	doc, err := h.service.Upload(r.Context(), userID, document.FileUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusCreated, toDocumentResponse(doc))
}

// List はログインユーザーのドキュメント一覧を新しい順に返す。
// GET /api/documents?page=1&limit=10
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.service.List(r.Context(), userID, page, limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	data := make([]documentResponse, 0, len(result.Documents))
	for _, doc := range result.Documents {
		data = append(data, toDocumentResponse(doc))
	}

	writeJSON(w, http.StatusOK, documentListResponse{
		Success:    true,
		Count:      len(data),
		Total:      result.Total,
		Pagination: paginationResponse{Page: result.Page, Pages: result.Pages},
		Data:       data,
	})
}

// Get はドキュメントを1件返す。所有者・共有先・公開ドキュメントのみ閲覧できる。
// GET /api/documents/{id}
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	doc, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toDocumentResponse(doc))
}

// Share は共有設定を追加または更新する。
// PUT /api/documents/{id}/share
func (h *DocumentHandler) Share(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req shareRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	doc, err := h.service.Share(r.Context(), userID, chi.URLParam(r, "id"), req.UserID, model.Permission(req.Permissions))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toDocumentResponse(doc))
}

// SetVisibility は公開設定を変更する。
// PUT /api/documents/{id}/visibility
func (h *DocumentHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req visibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsPublic == nil {
		writeValidationError(w, "isPublicは必須です。")
		return
	}

	doc, err := h.service.SetVisibility(r.Context(), userID, chi.URLParam(r, "id"), *req.IsPublic)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, toDocumentResponse(doc))
}

// Delete はドキュメントを削除する。
// DELETE /api/documents/{id}
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, struct{}{})
}

// toDocumentResponse はmodel.DocumentからAPIレスポンスに変換する。
func toDocumentResponse(doc *model.Document) documentResponse {
	shares := make([]shareResponse, 0, len(doc.SharedWith))
	for _, g := range doc.SharedWith {
		shares = append(shares, shareResponse{User: g.UserID, Permissions: string(g.Permission)})
	}

	a := analysisResponse{
		Status:    string(doc.Analysis.Status),
		StartedAt: doc.Analysis.StartedAt,
	}
	if res := doc.Analysis.Result; res != nil {
		summary := res.Summary
		completedAt := res.CompletedAt
		a.Summary = &summary
		a.RiskFindings = res.Findings
		a.CompletedAt = &completedAt
	}
	if f := doc.Analysis.Failure; f != nil {
		msg := f.Error
		failedAt := f.FailedAt
		a.Error = &msg
		a.FailedAt = &failedAt
	}

	return documentResponse{
		ID:         doc.ID,
		Owner:      doc.OwnerID,
		FileName:   doc.FileName,
		FileType:   doc.FileType,
		FileSize:   doc.FileSize,
		IsPublic:   doc.IsPublic,
		SharedWith: shares,
		Analysis:   a,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}
