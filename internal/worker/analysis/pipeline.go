// Package analysis はアップロードされたドキュメントのバックグラウンド解析を提供する。
// 単一のワーカーがFIFOキューからドキュメントIDを取り出し、
// pending → processing → completed | failed の順に解析状態を進める。
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/docanalyzer/internal/metrics"
	"github.com/hitoshi/docanalyzer/internal/model"
	"github.com/hitoshi/docanalyzer/internal/repository"
	"github.com/hitoshi/docanalyzer/internal/security"
)

// 破棄理由（メトリクスのラベル）
const (
	dropMissing    = "missing"
	dropNotPending = "not_pending"
	dropLoadError  = "load_error"
	dropSaveError  = "save_error"
)

// Pipeline は解析ジョブのキューと単一ワーカーを持つ。
// 同時に実行されるジョブは常に1件以下。
type Pipeline struct {
	docs      repository.DocumentRepository
	extractor Extractor
	analyzer  Analyzer
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	queue     *jobQueue
	now       func() time.Time

	// processed はジョブ終了ごとに呼ばれる。テストでの同期に使用する。
	processed func(documentID string)
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewPipeline(
	docs repository.DocumentRepository,
	extractor Extractor,
	analyzer Analyzer,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Pipeline {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Pipeline{
		docs:      docs,
		extractor: extractor,
		analyzer:  analyzer,
		sanitizer: sanitizer,
		metrics:   collector,
		logger:    logger,
		queue:     newJobQueue(),
		now:       time.Now,
	}
}

// Enqueue はドキュメントIDをキューの末尾に追加する。
// 既に待機中または実行中のIDは追加せずfalseを返す。
func (p *Pipeline) Enqueue(documentID string) bool {
	added := p.queue.push(documentID)
	p.metrics.SetQueueDepth(p.queue.len())
	if !added {
		p.logger.Debug("解析ジョブは既にキューに存在します",
			slog.String("document_id", documentID),
		)
	}
	return added
}

// Pending は待機中のジョブ数を返す。
func (p *Pipeline) Pending() int {
	return p.queue.len()
}

// Run はワーカーループを実行する。コンテキストがキャンセルされるまでブロックする。
// 起動時に pending のまま残っているドキュメントを再投入する。
// キャンセル時に実行中のジョブは最後まで実行され、キュー内の残りは pending のまま残る。
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("解析ワーカーを開始しました")
	p.recoverPending(ctx)

	for {
		if ctx.Err() != nil {
			p.logger.Info("解析ワーカーを停止しました",
				slog.Int("remaining", p.queue.len()),
			)
			return nil
		}

		id, ok := p.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				continue
			case <-p.queue.wake:
				continue
			}
		}
		p.metrics.SetQueueDepth(p.queue.len())

		// 開始したジョブはキャンセルされない。
		p.process(context.WithoutCancel(ctx), id)
		p.queue.done(id)
		if p.processed != nil {
			p.processed(id)
		}
	}
}

// recoverPending は前回の停止時にキューに残っていたドキュメントを再投入する。
func (p *Pipeline) recoverPending(ctx context.Context) {
	ids, err := p.docs.ListIDsByStatus(ctx, model.AnalysisStatusPending)
	if err != nil {
		p.logger.Error("pendingドキュメントの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	requeued := 0
	for _, id := range ids {
		if p.Enqueue(id) {
			requeued++
		}
	}
	if requeued > 0 {
		p.logger.Info("pendingドキュメントを再投入しました",
			slog.Int("count", requeued),
		)
	}
}

// process は1件のジョブを実行する。
func (p *Pipeline) process(ctx context.Context, documentID string) {
	logger := p.logger.With(slog.String("document_id", documentID))

	doc, err := p.docs.FindByID(ctx, documentID)
	if err != nil {
		logger.Error("ドキュメントの取得に失敗しました", slog.String("error", err.Error()))
		p.metrics.RecordAnalysisDropped(dropLoadError)
		return
	}
	if doc == nil {
		logger.Warn("ドキュメントが存在しないためジョブを破棄しました")
		p.metrics.RecordAnalysisDropped(dropMissing)
		return
	}
	if doc.Analysis.Status != model.AnalysisStatusPending {
		logger.Warn("pendingではないためジョブを破棄しました",
			slog.String("status", string(doc.Analysis.Status)),
		)
		p.metrics.RecordAnalysisDropped(dropNotPending)
		return
	}

	start := p.now()
	if err := doc.Analysis.Start(start); err != nil {
		logger.Error("解析を開始できません", slog.String("error", err.Error()))
		p.metrics.RecordAnalysisDropped(dropNotPending)
		return
	}
	if err := p.docs.UpdateAnalysis(ctx, doc.ID, doc.Analysis); err != nil {
		p.dropOnSave(logger, "解析状態の更新に失敗しました", err)
		return
	}
	p.metrics.RecordAnalysisStarted()
	logger.Info("解析を開始しました")

	report, runErr := p.analyze(ctx, doc)
	if runErr == nil {
		runErr = doc.Analysis.Complete(report.Summary, report.Findings, p.now())
	}
	if runErr != nil {
		p.fail(ctx, logger, doc, runErr, start)
		return
	}

	if err := p.docs.UpdateAnalysis(ctx, doc.ID, doc.Analysis); err != nil {
		p.dropOnSave(logger, "解析結果の保存に失敗しました", err)
		return
	}

	duration := p.now().Sub(start)
	p.metrics.RecordAnalysisCompleted(duration)
	logger.Info("解析が完了しました",
		slog.Int("finding_count", len(doc.Analysis.Result.Findings)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// analyze はテキスト抽出と解析を行い、サニタイズ済みの結果を返す。
func (p *Pipeline) analyze(ctx context.Context, doc *model.Document) (*Report, error) {
	text, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, err
	}
	report, err := p.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("analyzer returned no report")
	}

	findings := make([]model.RiskFinding, 0, len(report.Findings))
	for _, f := range report.Findings {
		f.Text = p.sanitizer.Sanitize(f.Text)
		f.Explanation = p.sanitizer.Sanitize(f.Explanation)
		findings = append(findings, f)
	}
	return &Report{
		Summary:  p.sanitizer.Sanitize(report.Summary),
		Findings: findings,
	}, nil
}

// fail は失敗状態を保存する。
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, doc *model.Document, cause error, start time.Time) {
	logger.Error("解析に失敗しました", slog.String("error", cause.Error()))

	if err := doc.Analysis.Fail(cause.Error(), p.now()); err != nil {
		logger.Error("失敗状態へ遷移できません", slog.String("error", err.Error()))
		return
	}
	if err := p.docs.UpdateAnalysis(ctx, doc.ID, doc.Analysis); err != nil {
		p.dropOnSave(logger, "失敗状態の保存に失敗しました", err)
		return
	}
	p.metrics.RecordAnalysisFailed(p.now().Sub(start))
}

// dropOnSave は状態保存に失敗したジョブを理由別に破棄する。
// 削除済みと他者による状態変更はWARN、それ以外はERRORで記録する。
func (p *Pipeline) dropOnSave(logger *slog.Logger, msg string, err error) {
	var te *model.TransitionError
	switch {
	case errors.As(err, &te):
		logger.Warn("保存済みの解析状態が変化していたためジョブを破棄しました",
			slog.String("status", string(te.From)),
		)
		p.metrics.RecordAnalysisDropped(dropNotPending)
	case model.ErrorCode(err) == model.ErrCodeNotFound:
		logger.Warn("解析状態の保存先が存在しません", slog.String("error", err.Error()))
		p.metrics.RecordAnalysisDropped(dropMissing)
	default:
		logger.Error(msg, slog.String("error", err.Error()))
		p.metrics.RecordAnalysisDropped(dropSaveError)
	}
}
