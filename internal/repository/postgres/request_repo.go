package postgres

/*
Файл request_repo.go — реализация Store поверх PostgreSQL.
Контракт хранилища (см. internal/store) не меняется: это граница
персистентности для инсталляций, которым нужны решения, переживающие рестарт.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/approval-relay/internal/domain"
	"github.com/xela07ax/approval-relay/internal/infra"
	"github.com/xela07ax/approval-relay/internal/store"
)

type RequestRepo struct {
	pool *pgxpool.Pool
}

// NewRequestRepo создает пул соединений по конфигу
func NewRequestRepo(ctx context.Context, cfg infra.DatabaseConfig) (*RequestRepo, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &RequestRepo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте
func (r *RequestRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *RequestRepo) Close() {
	r.pool.Close()
}

// EnsureSchema создает таблицу, если ее еще нет (достаточно для single-table схемы)
func (r *RequestRepo) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS requests (
			id         TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			payload    JSONB,
			state      TEXT NOT NULL,
			chat_id    BIGINT,
			message_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL,
			decided_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS requests_subject_created_idx
			ON requests (subject_id, created_at DESC);`
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (r *RequestRepo) Create(ctx context.Context, subjectID string, payload map[string]interface{}) (*domain.Request, error) {
	req := &domain.Request{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Payload:   payload,
		State:     domain.StatePending,
		CreatedAt: time.Now().UTC(),
	}

	query := `INSERT INTO requests (id, subject_id, payload, state, created_at)
	          VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, query, req.ID, req.SubjectID, req.Payload, req.State, req.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres: failed to create request: %w", err)
	}
	return req, nil
}

// AttachMessageRef пишет ссылку и за один проход узнает, была ли уже запись
// (CTE с FOR UPDATE исключает гонку между проверкой и записью)
func (r *RequestRepo) AttachMessageRef(ctx context.Context, id string, ref domain.MessageRef) error {
	query := `
		WITH prev AS (
			SELECT chat_id FROM requests WHERE id = $3 FOR UPDATE
		)
		UPDATE requests SET chat_id = $1, message_id = $2
		WHERE id = $3
		RETURNING (SELECT chat_id FROM prev) IS NOT NULL`

	var replaced bool
	err := r.pool.QueryRow(ctx, query, ref.ChatID, ref.MessageID, id).Scan(&replaced)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: failed to attach message ref: %w", err)
	}
	if replaced {
		return domain.ErrMessageRefReplaced
	}
	return nil
}

// Decide атомарно обновляет статус заявки.
// Условие WHERE state = 'pending' предотвращает Double Decision: из
// конкурентных попыток строку обновит ровно одна.
func (r *RequestRepo) Decide(ctx context.Context, id string, state domain.RequestState) (store.DecideResult, error) {
	if !state.IsTerminal() {
		return "", domain.ErrInvalidTransition
	}

	query := `
		UPDATE requests
		SET state = $1,
		    decided_at = NOW()
		WHERE id = $2 AND state = 'pending'
		RETURNING id`

	var updated string
	err := r.pool.QueryRow(ctx, query, state, id).Scan(&updated)
	if err == nil {
		return store.DecideApplied, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: failed to update request state: %w", err)
	}

	// Строк не найдено: либо id неизвестен, либо решение уже принято ранее.
	// Различаем эти исходы — UI объясняет их по-разному.
	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to check request existence: %w", err)
	}
	if !exists {
		return store.DecideNotFound, nil
	}
	return store.DecideAlreadyDecided, nil
}

func (r *RequestRepo) Get(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT subject_id, payload, state, chat_id, message_id, created_at, decided_at
	          FROM requests WHERE id = $1`

	req := &domain.Request{ID: id}
	var chatID, messageID sql.NullInt64
	var decidedAt sql.NullTime

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.SubjectID,
		&req.Payload,
		&req.State,
		&chatID,
		&messageID,
		&req.CreatedAt,
		&decidedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get request: %w", err)
	}

	if chatID.Valid {
		req.MessageRef = &domain.MessageRef{ChatID: chatID.Int64, MessageID: messageID.Int64}
	}
	if decidedAt.Valid {
		ts := decidedAt.Time
		req.DecidedAt = &ts
	}
	return req, nil
}

// StatusBySubject — статус последнего созданного запроса субъекта (last-write-wins)
func (r *RequestRepo) StatusBySubject(ctx context.Context, subjectID string) (domain.RequestState, error) {
	query := `SELECT state FROM requests
	          WHERE subject_id = $1
	          ORDER BY created_at DESC
	          LIMIT 1`

	var state domain.RequestState
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: failed to fetch subject status: %w", err)
	}
	return state, nil
}

func (r *RequestRepo) ClearAll(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE requests`); err != nil {
		return fmt.Errorf("postgres: failed to clear requests: %w", err)
	}
	return nil
}
