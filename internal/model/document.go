// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Document はアップロードされたファイルと解析状態、共有設定を表す。
type Document struct {
	ID         string
	OwnerID    string
	FileName   string
	FileType   string // MIMEタイプ
	FileSize   int64
	StorageKey string
	Analysis   Analysis
	IsPublic   bool
	SharedWith []ShareGrant
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Permission は共有先に与える権限を表す。
type Permission string

const (
	// PermissionRead は閲覧のみを許可する。
	PermissionRead Permission = "read"
	// PermissionWrite は閲覧と書き込みを許可する。
	PermissionWrite Permission = "write"
)

// Valid は定義済みの権限かを返す。
func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionWrite
}

// ShareGrant は共有先ユーザーと権限の組を表す。
// 1ドキュメントにつき共有先ユーザーごとに最大1件。
type ShareGrant struct {
	UserID     string
	Permission Permission
}

// IsOwnedBy は指定ユーザーが所有者かを返す。
func (d *Document) IsOwnedBy(userID string) bool {
	return d.OwnerID == userID
}

// CanRead は指定ユーザーが閲覧可能かを返す。
// 所有者、共有先、または公開ドキュメントの場合に閲覧できる。
func (d *Document) CanRead(userID string) bool {
	if d.IsOwnedBy(userID) || d.IsPublic {
		return true
	}
	for _, g := range d.SharedWith {
		if g.UserID == userID {
			return true
		}
	}
	return false
}

// UpsertGrant は共有設定を追加または上書きする（後勝ち）。
func (d *Document) UpsertGrant(grant ShareGrant) {
	for i := range d.SharedWith {
		if d.SharedWith[i].UserID == grant.UserID {
			d.SharedWith[i].Permission = grant.Permission
			return
		}
	}
	d.SharedWith = append(d.SharedWith, grant)
}

// AnalysisStatus は解析パイプラインの状態を表す。
type AnalysisStatus string

const (
	// AnalysisStatusPending はアップロード直後の初期状態。
	AnalysisStatusPending AnalysisStatus = "pending"
	// AnalysisStatusProcessing はワーカーが解析中の状態。
	AnalysisStatusProcessing AnalysisStatus = "processing"
	// AnalysisStatusCompleted は解析が完了した状態。
	AnalysisStatusCompleted AnalysisStatus = "completed"
	// AnalysisStatusFailed は解析が失敗した状態。再解析には再アップロードが必要。
	AnalysisStatusFailed AnalysisStatus = "failed"
)

// Valid は定義済みの状態かを返す。
func (s AnalysisStatus) Valid() bool {
	switch s {
	case AnalysisStatusPending, AnalysisStatusProcessing, AnalysisStatusCompleted, AnalysisStatusFailed:
		return true
	}
	return false
}

// Prior は s へ遷移できる直前の状態を返す。pending には直前の状態がないため空文字を返す。
func (s AnalysisStatus) Prior() AnalysisStatus {
	switch s {
	case AnalysisStatusProcessing:
		return AnalysisStatusPending
	case AnalysisStatusCompleted, AnalysisStatusFailed:
		return AnalysisStatusProcessing
	}
	return ""
}

// Severity はリスク指摘の深刻度を表す。
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// RiskFinding は解析で検出されたリスク条項を表す。
type RiskFinding struct {
	Text        string   `json:"text"`
	Severity    Severity `json:"type"`
	Explanation string   `json:"explanation"`
	Position    int      `json:"position"`
}

// AnalysisResult は completed 状態でのみ存在する解析結果。
type AnalysisResult struct {
	Summary     string
	Findings    []RiskFinding
	CompletedAt time.Time
}

// AnalysisFailure は failed 状態でのみ存在する失敗情報。
type AnalysisFailure struct {
	Error    string
	FailedAt time.Time
}

// Analysis は状態をタグとする解析サブレコード。
// Result は completed のときだけ、Failure は failed のときだけ非nilになる。
// 状態遷移は pending → processing → completed | failed の一方向のみで、
// Start / Complete / Fail 以外で状態を変更してはならない。
type Analysis struct {
	Status    AnalysisStatus
	StartedAt *time.Time
	Result    *AnalysisResult
	Failure   *AnalysisFailure
}

// NewPendingAnalysis は初期状態の解析サブレコードを返す。
func NewPendingAnalysis() Analysis {
	return Analysis{Status: AnalysisStatusPending}
}

// Start は pending から processing へ遷移する。
func (a *Analysis) Start(now time.Time) error {
	if a.Status != AnalysisStatusPending {
		return &TransitionError{From: a.Status, To: AnalysisStatusProcessing}
	}
	a.Status = AnalysisStatusProcessing
	a.StartedAt = &now
	return nil
}

// Complete は processing から completed へ遷移し、解析結果を保持する。
func (a *Analysis) Complete(summary string, findings []RiskFinding, now time.Time) error {
	if a.Status != AnalysisStatusProcessing {
		return &TransitionError{From: a.Status, To: AnalysisStatusCompleted}
	}
	if findings == nil {
		findings = []RiskFinding{}
	}
	a.Status = AnalysisStatusCompleted
	a.Result = &AnalysisResult{Summary: summary, Findings: findings, CompletedAt: now}
	a.Failure = nil
	return nil
}

// Fail は processing から failed へ遷移し、エラーメッセージを保持する。
func (a *Analysis) Fail(message string, now time.Time) error {
	if a.Status != AnalysisStatusProcessing {
		return &TransitionError{From: a.Status, To: AnalysisStatusFailed}
	}
	a.Status = AnalysisStatusFailed
	a.Failure = &AnalysisFailure{Error: message, FailedAt: now}
	a.Result = nil
	return nil
}

// Validate は状態とフィールドの組み合わせが正当かを検証する。
// リポジトリから復元したレコードの整合性確認に使用する。
func (a Analysis) Validate() error {
	if !a.Status.Valid() {
		return fmt.Errorf("unknown analysis status: %q", a.Status)
	}
	switch a.Status {
	case AnalysisStatusPending:
		if a.StartedAt != nil || a.Result != nil || a.Failure != nil {
			return fmt.Errorf("pending analysis must not carry progress fields")
		}
	case AnalysisStatusProcessing:
		if a.Result != nil || a.Failure != nil {
			return fmt.Errorf("processing analysis must not carry result or failure")
		}
	case AnalysisStatusCompleted:
		if a.Result == nil || a.Failure != nil {
			return fmt.Errorf("completed analysis must carry only a result")
		}
	case AnalysisStatusFailed:
		if a.Failure == nil || a.Result != nil {
			return fmt.Errorf("failed analysis must carry only a failure")
		}
	}
	return nil
}

// TransitionError は不正な状態遷移を表す。
type TransitionError struct {
	From AnalysisStatus
	To   AnalysisStatus
}

// Error はerrorインターフェースを実装する。
func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal analysis transition: %s -> %s", e.From, e.To)
}

// DocumentPage はページネーション付きのドキュメント一覧を表す。
type DocumentPage struct {
	Documents []*Document
	Total     int
	Page      int
	Pages     int
}
