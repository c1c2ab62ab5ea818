package model

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// analysisIn は指定状態の正当な解析サブレコードを返す。
func analysisIn(t *testing.T, status AnalysisStatus) Analysis {
	t.Helper()
	a := NewPendingAnalysis()
	if status == AnalysisStatusPending {
		return a
	}
	if err := a.Start(testNow); err != nil {
		t.Fatalf("Start: %v", err)
	}
	switch status {
	case AnalysisStatusCompleted:
		if err := a.Complete("要約", nil, testNow); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	case AnalysisStatusFailed:
		if err := a.Fail("boom", testNow); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}
	return a
}

func TestAnalysis_LegalTransitions(t *testing.T) {
	a := NewPendingAnalysis()
	if err := a.Start(testNow); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.Status != AnalysisStatusProcessing || a.StartedAt == nil || !a.StartedAt.Equal(testNow) {
		t.Errorf("after Start: %+v", a)
	}

	done := a
	if err := done.Complete("要約", nil, testNow); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Result == nil || done.Result.Findings == nil || done.Failure != nil {
		t.Errorf("completed は空でない Findings スライスと Result のみを持つべき: %+v", done)
	}

	failed := a
	if err := failed.Fail("boom", testNow); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Failure == nil || failed.Failure.Error != "boom" || failed.Result != nil {
		t.Errorf("failed は Failure のみを持つべき: %+v", failed)
	}

	for _, got := range []Analysis{a, done, failed} {
		if err := got.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v", got.Status, err)
		}
	}
}

func TestAnalysis_IllegalTransitions(t *testing.T) {
	type op struct {
		to  AnalysisStatus
		run func(a *Analysis) error
	}
	start := op{AnalysisStatusProcessing, func(a *Analysis) error { return a.Start(testNow) }}
	complete := op{AnalysisStatusCompleted, func(a *Analysis) error { return a.Complete("s", nil, testNow) }}
	fail := op{AnalysisStatusFailed, func(a *Analysis) error { return a.Fail("e", testNow) }}

	tests := []struct {
		name string
		from AnalysisStatus
		op   op
	}{
		{"pendingから直接completed", AnalysisStatusPending, complete},
		{"pendingから直接failed", AnalysisStatusPending, fail},
		{"processingの再開始", AnalysisStatusProcessing, start},
		{"completedから再開始", AnalysisStatusCompleted, start},
		{"completedの再完了", AnalysisStatusCompleted, complete},
		{"completedからfailed", AnalysisStatusCompleted, fail},
		{"failedから再開始", AnalysisStatusFailed, start},
		{"failedからcompleted", AnalysisStatusFailed, complete},
		{"failedの再失敗", AnalysisStatusFailed, fail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := analysisIn(t, tt.from)
			before := a

			err := tt.op.run(&a)

			var te *TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("error = %v, want *TransitionError", err)
			}
			if te.From != tt.from || te.To != tt.op.to {
				t.Errorf("TransitionError = %s -> %s, want %s -> %s", te.From, te.To, tt.from, tt.op.to)
			}
			if a.Status != before.Status || a.Result != before.Result || a.Failure != before.Failure {
				t.Errorf("不正な遷移で状態が変化した: %+v -> %+v", before, a)
			}
		})
	}
}

func TestAnalysis_Validate_RejectsIllegalShapes(t *testing.T) {
	result := &AnalysisResult{Summary: "s", Findings: []RiskFinding{}, CompletedAt: testNow}
	failure := &AnalysisFailure{Error: "e", FailedAt: testNow}
	started := testNow

	tests := []struct {
		name string
		a    Analysis
	}{
		{"未知の状態", Analysis{Status: "archived"}},
		{"空の状態", Analysis{}},
		{"pendingに開始時刻", Analysis{Status: AnalysisStatusPending, StartedAt: &started}},
		{"pendingに解析結果", Analysis{Status: AnalysisStatusPending, Result: result}},
		{"pendingに失敗情報", Analysis{Status: AnalysisStatusPending, Failure: failure}},
		{"processingに解析結果", Analysis{Status: AnalysisStatusProcessing, Result: result}},
		{"processingに失敗情報", Analysis{Status: AnalysisStatusProcessing, Failure: failure}},
		{"completedに解析結果なし", Analysis{Status: AnalysisStatusCompleted}},
		{"completedに失敗情報", Analysis{Status: AnalysisStatusCompleted, Result: result, Failure: failure}},
		{"failedに失敗情報なし", Analysis{Status: AnalysisStatusFailed}},
		{"failedに解析結果", Analysis{Status: AnalysisStatusFailed, Failure: failure, Result: result}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.a.Validate(); err == nil {
				t.Errorf("Validate(%+v) = nil, want error", tt.a)
			}
		})
	}
}

func TestAnalysisStatus_Valid(t *testing.T) {
	for _, s := range []AnalysisStatus{AnalysisStatusPending, AnalysisStatusProcessing, AnalysisStatusCompleted, AnalysisStatusFailed} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []AnalysisStatus{"", "PENDING", "archived"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestAnalysisStatus_Prior(t *testing.T) {
	tests := []struct {
		s    AnalysisStatus
		want AnalysisStatus
	}{
		{AnalysisStatusPending, ""},
		{AnalysisStatusProcessing, AnalysisStatusPending},
		{AnalysisStatusCompleted, AnalysisStatusProcessing},
		{AnalysisStatusFailed, AnalysisStatusProcessing},
		{"archived", ""},
	}
	for _, tt := range tests {
		if got := tt.s.Prior(); got != tt.want {
			t.Errorf("%q.Prior() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
