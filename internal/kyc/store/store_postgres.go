package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kycflow/internal/kyc/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

// PostgresStore keeps each session as a JSONB document with the columns the
// sweep needs alongside. Writers lock the row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the table and index when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate kyc sessions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID id.UserID) (*models.Session, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM kyc_sessions WHERE user_id = $1`, userID.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kyc session: %w", err)
	}
	return decodeSession(raw)
}

func (s *PostgresStore) Create(ctx context.Context, session *models.Session, canReplace ReplaceFunc) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode kyc session: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO kyc_sessions (user_id, session_id, status, updated_at, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO NOTHING
		`, session.UserID.String(), session.ID.String(), string(session.Status), session.UpdatedAt, payload)
		if err != nil {
			return fmt.Errorf("insert kyc session: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("insert kyc session rows affected: %w", err)
		} else if n == 1 {
			return nil
		}

		existing, err := lockSession(ctx, tx, session.UserID)
		if err != nil {
			return err
		}
		if canReplace != nil {
			if err := canReplace(existing); err != nil {
				return err
			}
		}
		return updateSession(ctx, tx, session)
	})
}

func (s *PostgresStore) Execute(ctx context.Context, userID id.UserID, validate ValidateFunc, mutate MutateFunc) (*models.Session, error) {
	var result *models.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		working, err := lockSession(ctx, tx, userID)
		if err != nil {
			return err
		}
		if validate != nil {
			if err := validate(working); err != nil {
				return err
			}
		}
		mutate(working)
		if err := updateSession(ctx, tx, working); err != nil {
			return err
		}
		result = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]id.UserID, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM kyc_sessions
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4
	`, string(models.SessionCreated), string(models.SessionInProgress), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale kyc sessions: %w", err)
	}
	defer rows.Close()

	var out []id.UserID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan stale kyc session: %w", err)
		}
		userID, err := id.ParseUserID(raw)
		if err != nil {
			return nil, fmt.Errorf("stale kyc session user id: %w", err)
		}
		out = append(out, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale kyc sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin kyc session tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit kyc session tx: %w", err)
	}
	return nil
}

func lockSession(ctx context.Context, tx *sql.Tx, userID id.UserID) (*models.Session, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT data FROM kyc_sessions WHERE user_id = $1 FOR UPDATE`, userID.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock kyc session: %w", err)
	}
	return decodeSession(raw)
}

func updateSession(ctx context.Context, tx *sql.Tx, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode kyc session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE kyc_sessions
		SET session_id = $2, status = $3, updated_at = $4, data = $5
		WHERE user_id = $1
	`, session.UserID.String(), session.ID.String(), string(session.Status), session.UpdatedAt, payload)
	if err != nil {
		return fmt.Errorf("update kyc session: %w", err)
	}
	return nil
}
