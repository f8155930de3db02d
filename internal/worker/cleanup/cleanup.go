// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// Redisストアではキーの有効期限で消えるため、削除件数は常に0になる。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredSessionDeleter は期限切れセッションを削除する。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Recorder は削除件数をメトリクスに記録する。
type Recorder interface {
	RecordSessionsPurged(count int64)
}

// SessionCleanupJob は期限切れセッションの削除ジョブ。
// 何度実行しても結果は変わらない。
type SessionCleanupJob struct {
	sessions ExpiredSessionDeleter
	recorder Recorder
	logger   *slog.Logger
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。recorderはnilでもよい。
func NewSessionCleanupJob(sessions ExpiredSessionDeleter, recorder Recorder, logger *slog.Logger) *SessionCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCleanupJob{
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
	}
}

// Run は期限切れセッションを1回削除し、削除件数を返す。
func (j *SessionCleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deleted)
	}

	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後に1回、以後interval間隔でRunを実行する。
// コンテキストがキャンセルされるまで戻らない。失敗しても次の周期で再試行する。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
	)

	j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
