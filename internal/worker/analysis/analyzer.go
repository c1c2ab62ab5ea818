package analysis

import (
	"context"
	"time"

	"github.com/hitoshi/docanalyzer/internal/model"
)

// Report は解析器の出力。
type Report struct {
	Summary  string
	Findings []model.RiskFinding
}

// Analyzer は抽出済みテキストを解析するインターフェース。
// 外部AIサービスへの差し替えを想定している。
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*Report, error)
}

const (
	// DefaultMockLatency はMockAnalyzerの既定の擬似処理時間。
	DefaultMockLatency = 2 * time.Second

	mockSummaryLead    = "Analysis of the document reveals several key points and potential risks. "
	mockExcerptRunes   = 200
	mockFindingText    = "Important clause detected"
	mockFindingExplain = "This clause requires careful consideration"
)

// MockAnalyzer は固定の結果を返す解析器。
// 要約は定型文と本文先頭200文字から作る。
type MockAnalyzer struct {
	Latency time.Duration
}

// NewMockAnalyzer はMockAnalyzerを生成する。latencyが負の場合は既定値を使用する。
func NewMockAnalyzer(latency time.Duration) *MockAnalyzer {
	if latency < 0 {
		latency = DefaultMockLatency
	}
	return &MockAnalyzer{Latency: latency}
}

// Analyze は擬似処理時間だけ待ってから結果を返す。待機中にctxが終了した場合はctxのエラーを返す。
func (a *MockAnalyzer) Analyze(ctx context.Context, text string) (*Report, error) {
	if a.Latency > 0 {
		timer := time.NewTimer(a.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	excerpt := []rune(text)
	if len(excerpt) > mockExcerptRunes {
		excerpt = excerpt[:mockExcerptRunes]
	}

	return &Report{
		Summary: mockSummaryLead + string(excerpt) + "...",
		Findings: []model.RiskFinding{
			{
				Text:        mockFindingText,
				Severity:    model.SeverityMedium,
				Explanation: mockFindingExplain,
				Position:    1,
			},
		},
	}, nil
}

// compile-time interface check
var _ Analyzer = (*MockAnalyzer)(nil)
