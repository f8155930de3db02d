package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
)

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// セッションはキーのTTLで失効し、ユーザー単位の削除のためにセッションIDの集合を保持する。
type RedisSessionRepo struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.Cmdable) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

type redisSession struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Create はセッションを作成する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("failed to create session: already expired")
	}

	payload, err := json.Marshal(redisSession{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	userKey := userSessionKeyPrefix + session.UserID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+session.ID, payload, ttl)
		pipe.SAdd(ctx, userKey, session.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var stored redisSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if !stored.ExpiresAt.After(r.now()) {
		return nil, nil
	}

	return &model.Session{
		ID:        id,
		UserID:    stored.UserID,
		ExpiresAt: stored.ExpiresAt,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// Touch はセッションの有効期限を延長する。
// キーが既に消えている場合は何もしない（SET XX）。
func (r *RedisSessionRepo) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	session, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(redisSession{
		UserID:    session.UserID,
		ExpiresAt: expiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := r.client.SetXX(ctx, sessionKeyPrefix+id, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	session, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKeyPrefix+id)
		if session != nil {
			pipe.SRem(ctx, userSessionKeyPrefix+session.UserID, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *RedisSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	userKey := userSessionKeyPrefix + userID
	ids, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKeyPrefix+id)
	}
	keys = append(keys, userKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired はユーザー単位のセッション集合から失効済みのIDを取り除き、その件数を返す。
// セッション本体はキーのTTLで消えるため、集合側のみ掃除する。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var total int64
	iter := r.client.Scan(ctx, 0, userSessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		removed, err := r.pruneUserIndex(ctx, iter.Val())
		if err != nil {
			return total, err
		}
		total += removed
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("failed to scan user sessions: %w", err)
	}
	return total, nil
}

func (r *RedisSessionRepo) pruneUserIndex(ctx context.Context, userKey string) (int64, error) {
	ids, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	var stale []any
	for _, id := range ids {
		n, err := r.client.Exists(ctx, sessionKeyPrefix+id).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to check session: %w", err)
		}
		if n == 0 {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	removed, err := r.client.SRem(ctx, userKey, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune user sessions: %w", err)
	}
	return removed, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
