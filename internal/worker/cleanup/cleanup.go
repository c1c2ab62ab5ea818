// Package cleanup は期限切れ認証チャレンジの定期削除ジョブを提供する。
// 有効期限を過ぎたOTPとパスワードリセットトークンを users テーブルから消去する。
// 期限切れのチャレンジは検証時にも拒否されるため、このジョブは残骸の掃除のみを行う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval は定期実行の既定間隔。
const DefaultInterval = 15 * time.Minute

// ChallengeStore は期限切れチャレンジの一括削除を抽象化するインターフェース。
// repository.UserRepository が満たす。
type ChallengeStore interface {
	ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は期限切れチャレンジの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	store  ChallengeStore
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store ChallengeStore, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Run は期限切れチャレンジを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	cleared, err := j.store.ClearExpiredChallenges(ctx, start)
	if err != nil {
		j.logger.Error("チャレンジクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("チャレンジクリーンアップの実行に失敗: %w", err)
	}

	duration := j.now().Sub(start)
	j.logger.Info("チャレンジクリーンアップジョブが完了しました",
		slog.Int64("cleared_count", cleared),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// Runのエラーはログ済みなので、次の周期で再試行する。
	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
