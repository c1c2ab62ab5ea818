package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/docanalyzer/internal/model"
)

const documentColumns = `id, owner_id, file_name, file_type, file_size, storage_key, is_public,
	analysis_status, analysis_started_at, analysis_summary, analysis_findings,
	analysis_completed_at, analysis_error, analysis_failed_at, created_at, updated_at`

// PostgresDocumentRepo はPostgreSQLを使用したドキュメントリポジトリ。
type PostgresDocumentRepo struct {
	db *sql.DB
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db *sql.DB) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db}
}

func scanDocument(row rowScanner) (*model.Document, error) {
	doc := &model.Document{}
	var (
		status                           string
		startedAt, completedAt, failedAt sql.NullTime
		summary, errMsg                  sql.NullString
		findings                         []byte
	)
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.FileName, &doc.FileType, &doc.FileSize, &doc.StorageKey, &doc.IsPublic,
		&status, &startedAt, &summary, &findings, &completedAt, &errMsg, &failedAt,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a := model.Analysis{Status: model.AnalysisStatus(status), StartedAt: nullTimePtr(startedAt)}
	switch a.Status {
	case model.AnalysisStatusCompleted:
		result := &model.AnalysisResult{Summary: summary.String, CompletedAt: completedAt.Time}
		if err := json.Unmarshal(findings, &result.Findings); err != nil {
			return nil, fmt.Errorf("failed to decode analysis findings: %w", err)
		}
		a.Result = result
	case model.AnalysisStatusFailed:
		a.Failure = &model.AnalysisFailure{Error: errMsg.String, FailedAt: failedAt.Time}
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	doc.Analysis = a
	return doc, nil
}

// Create はドキュメントを作成する。解析状態は初期値（pending）で保存される。
func (r *PostgresDocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, file_name, file_type, file_size, storage_key, is_public,
		     analysis_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.OwnerID, doc.FileName, doc.FileType, doc.FileSize, doc.StorageKey, doc.IsPublic,
		string(doc.Analysis.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ドキュメントの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのドキュメントを共有設定付きで取得する。見つからない場合はnilを返す。
func (r *PostgresDocumentRepo) FindByID(ctx context.Context, id string) (*model.Document, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, permission FROM document_shares WHERE document_id = $1 ORDER BY created_at`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("共有設定の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g model.ShareGrant
		var perm string
		if err := rows.Scan(&g.UserID, &perm); err != nil {
			return nil, fmt.Errorf("共有設定のスキャンに失敗しました: %w", err)
		}
		g.Permission = model.Permission(perm)
		doc.SharedWith = append(doc.SharedWith, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("共有設定の取得中にエラーが発生しました: %w", err)
	}

	return doc, nil
}

// ListByOwner は所有者のドキュメントを作成日時の降順で取得する。共有設定は含まない。
func (r *PostgresDocumentRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ドキュメント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ドキュメントのスキャンに失敗しました: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ドキュメント一覧の取得中にエラーが発生しました: %w", err)
	}
	return docs, nil
}

// CountByOwner は所有者のドキュメント数を返す。
func (r *PostgresDocumentRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE owner_id = $1`, ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ドキュメント数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// UpsertShare は共有設定を追加または更新する（後勝ち）。
func (r *PostgresDocumentRepo) UpsertShare(ctx context.Context, documentID string, grant model.ShareGrant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO document_shares (document_id, user_id, permission)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (document_id, user_id) DO UPDATE SET
		     permission = EXCLUDED.permission,
		     updated_at = now()`,
		documentID, grant.UserID, string(grant.Permission),
	)
	if err != nil {
		return fmt.Errorf("共有設定の保存に失敗しました: %w", err)
	}
	return nil
}

// UpdateVisibility は公開設定を更新する。
func (r *PostgresDocumentRepo) UpdateVisibility(ctx context.Context, documentID string, public bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET is_public = $2, updated_at = now() WHERE id = $1`,
		documentID, public,
	)
	if err != nil {
		return fmt.Errorf("公開設定の更新に失敗しました: %w", err)
	}
	return requireOneRow(result, documentID)
}

// UpdateAnalysis は解析サブレコードを保存する。
// 状態に応じて結果または失敗情報の列だけが値を持ち、他方はNULLになる。
// 保存済みの状態が a.Status の直前の状態でない場合は更新せず *model.TransitionError を返す。
func (r *PostgresDocumentRepo) UpdateAnalysis(ctx context.Context, documentID string, a model.Analysis) error {
	if err := a.Validate(); err != nil {
		return err
	}
	prior := a.Status.Prior()
	if prior == "" {
		return &model.TransitionError{To: a.Status}
	}

	var (
		summary, errMsg, findings *string
		completedAt, failedAt     interface{}
	)
	if a.Result != nil {
		encoded, err := json.Marshal(a.Result.Findings)
		if err != nil {
			return fmt.Errorf("解析結果のエンコードに失敗しました: %w", err)
		}
		encodedStr := string(encoded)
		findings = &encodedStr
		summary = &a.Result.Summary
		completedAt = a.Result.CompletedAt
	}
	if a.Failure != nil {
		errMsg = &a.Failure.Error
		failedAt = a.Failure.FailedAt
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET
		     analysis_status = $2,
		     analysis_started_at = $3,
		     analysis_summary = $4,
		     analysis_findings = $5,
		     analysis_completed_at = $6,
		     analysis_error = $7,
		     analysis_failed_at = $8,
		     updated_at = now()
		 WHERE id = $1 AND analysis_status = $9`,
		documentID, string(a.Status), a.StartedAt, summary, findings, completedAt, errMsg, failedAt, string(prior),
	)
	if err != nil {
		return fmt.Errorf("解析状態の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx,
		`SELECT analysis_status FROM documents WHERE id = $1`, documentID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return model.NewDocumentNotFoundError(documentID)
	}
	if err != nil {
		return fmt.Errorf("解析状態の取得に失敗しました: %w", err)
	}
	return &model.TransitionError{From: model.AnalysisStatus(current), To: a.Status}
}

// ListIDsByStatus は指定状態のドキュメントIDを作成日時の昇順で返す。
func (r *PostgresDocumentRepo) ListIDsByStatus(ctx context.Context, status model.AnalysisStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE analysis_status = $1 ORDER BY created_at`, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("状態別ドキュメントIDの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ドキュメントIDのスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete は指定IDのドキュメントを削除する。
func (r *PostgresDocumentRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗しました: %w", err)
	}
	return requireOneRow(result, id)
}

func requireOneRow(result sql.Result, documentID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewDocumentNotFoundError(documentID)
	}
	return nil
}

// compile-time interface check
var _ DocumentRepository = (*PostgresDocumentRepo)(nil)
