package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"kycflow/internal/kyc/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

const (
	redisKeyPrefix = "kyc:session:"
	// redisOpenIndex scores open sessions by UpdatedAt in unix milliseconds.
	redisOpenIndex = "kyc:sessions:open"
	maxCASRetries  = 16
)

// RedisStore keeps each session as a JSON value. Writes use WATCH/MULTI so
// concurrent writers for one user retry instead of losing updates.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(userID id.UserID) string {
	return redisKeyPrefix + userID.String()
}

func (s *RedisStore) Get(ctx context.Context, userID id.UserID) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kyc session: %w", err)
	}
	return decodeSession(raw)
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session, canReplace ReplaceFunc) error {
	key := sessionKey(session.UserID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("get kyc session: %w", err)
		case canReplace != nil:
			existing, err := decodeSession(raw)
			if err != nil {
				return err
			}
			if err := canReplace(existing); err != nil {
				return err
			}
		}
		return s.write(ctx, tx, key, session)
	}
	return s.watch(ctx, key, txf)
}

func (s *RedisStore) Execute(ctx context.Context, userID id.UserID, validate ValidateFunc, mutate MutateFunc) (*models.Session, error) {
	key := sessionKey(userID)
	var result *models.Session
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get kyc session: %w", err)
		}
		working, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if validate != nil {
			if err := validate(working); err != nil {
				return err
			}
		}
		mutate(working)
		if err := s.write(ctx, tx, key, working); err != nil {
			return err
		}
		result = working
		return nil
	}
	if err := s.watch(ctx, key, txf); err != nil {
		return nil, err
	}
	return result, nil
}

// watch runs txf under WATCH on key, retrying when another writer commits
// first.
func (s *RedisStore) watch(ctx context.Context, key string, txf func(*redis.Tx) error) error {
	for range maxCASRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("write kyc session: %w", sentinel.ErrConflict)
}

func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, key string, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode kyc session: %w", err)
	}
	member := session.UserID.String()
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, 0)
		if isOpen(session) {
			pipe.ZAdd(ctx, redisOpenIndex, redis.Z{Score: float64(session.UpdatedAt.UnixMilli()), Member: member})
		} else {
			pipe.ZRem(ctx, redisOpenIndex, member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write kyc session: %w", err)
	}
	return nil
}

func (s *RedisStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]id.UserID, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	members, err := s.client.ZRangeByScore(ctx, redisOpenIndex, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list stale kyc sessions: %w", err)
	}
	out := make([]id.UserID, 0, len(members))
	for _, m := range members {
		userID, err := id.ParseUserID(m)
		if err != nil {
			return nil, fmt.Errorf("stale index member %q: %w", m, err)
		}
		out = append(out, userID)
	}
	return out, nil
}

func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeSession(raw []byte) (*models.Session, error) {
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode kyc session: %w", err)
	}
	return &session, nil
}
