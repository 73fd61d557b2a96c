package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/attune-voice/attune/pkg/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the production TurnLog backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and runs pending migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (p *Postgres) CreateSession(ctx context.Context, id, ownerID string) (SessionRecord, error) {
	now := time.Now().UTC()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (id, owner_id, state, created_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		id, ownerID, StateCreated, now)
	if err != nil {
		return SessionRecord{}, core.NewPersistenceError(err)
	}
	return SessionRecord{
		ID:             id,
		OwnerID:        ownerID,
		State:          StateCreated,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var rec SessionRecord
	err := p.pool.QueryRow(ctx,
		`SELECT id, owner_id, state, created_at, last_activity_at, deleted
		 FROM sessions WHERE id = $1 AND NOT deleted`,
		id).Scan(&rec.ID, &rec.OwnerID, &rec.State, &rec.CreatedAt, &rec.LastActivityAt, &rec.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, core.NewNotFoundError("session not found")
	}
	if err != nil {
		return SessionRecord{}, core.NewPersistenceError(err)
	}
	return rec, nil
}

func (p *Postgres) ListSessions(ctx context.Context, ownerID string) ([]SessionRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, owner_id, state, created_at, last_activity_at, deleted
		 FROM sessions WHERE owner_id = $1 AND NOT deleted
		 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, core.NewPersistenceError(err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.State, &rec.CreatedAt, &rec.LastActivityAt, &rec.Deleted); err != nil {
			return nil, core.NewPersistenceError(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewPersistenceError(err)
	}
	return out, nil
}

func (p *Postgres) SetSessionState(ctx context.Context, id string, state SessionState) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET state = $2, last_activity_at = now()
		 WHERE id = $1 AND NOT deleted`,
		id, state)
	if err != nil {
		return core.NewPersistenceError(err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("session not found")
	}
	return nil
}

func (p *Postgres) TouchSession(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET last_activity_at = now()
		 WHERE id = $1 AND NOT deleted`,
		id)
	if err != nil {
		return core.NewPersistenceError(err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("session not found")
	}
	return nil
}

func (p *Postgres) DeleteSession(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET deleted = TRUE WHERE id = $1 AND NOT deleted`,
		id)
	if err != nil {
		return core.NewPersistenceError(err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError("session not found")
	}
	return nil
}

// AppendTurn assigns the next sequence number inside a transaction. The
// session row is locked so concurrent appends serialize without seq gaps.
func (p *Postgres) AppendTurn(ctx context.Context, sessionID, speaker, content string, completed bool) (Turn, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Turn{}, core.NewPersistenceError(err)
	}
	defer tx.Rollback(ctx)

	var state SessionState
	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT state, deleted FROM sessions WHERE id = $1 FOR UPDATE`,
		sessionID).Scan(&state, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Turn{}, core.NewNotFoundError("session not found")
	}
	if err != nil {
		return Turn{}, core.NewPersistenceError(err)
	}
	if deleted {
		return Turn{}, core.NewNotFoundError("session not found")
	}
	if state == StateClosed {
		return Turn{}, core.NewSessionClosedError("session is closed")
	}

	turn := Turn{
		SessionID: sessionID,
		Speaker:   speaker,
		Content:   content,
		Completed: completed,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO conversation_turns (session_id, seq, speaker, content, completed)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
		 FROM conversation_turns WHERE session_id = $1
		 RETURNING seq, created_at`,
		sessionID, speaker, content, completed).Scan(&turn.Seq, &turn.CreatedAt)
	if err != nil {
		return Turn{}, core.NewPersistenceError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET last_activity_at = now() WHERE id = $1`,
		sessionID)
	if err != nil {
		return Turn{}, core.NewPersistenceError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Turn{}, core.NewPersistenceError(err)
	}
	return turn, nil
}

// UpdateTurn rewrites an incomplete turn. Turns whose completion flag is set
// are immutable.
func (p *Postgres) UpdateTurn(ctx context.Context, sessionID string, seq int64, content string, completed bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE conversation_turns SET content = $3, completed = $4
		 WHERE session_id = $1 AND seq = $2 AND NOT completed`,
		sessionID, seq, content, completed)
	if err != nil {
		return core.NewPersistenceError(err)
	}
	if tag.RowsAffected() == 0 {
		var done bool
		err := p.pool.QueryRow(ctx,
			`SELECT completed FROM conversation_turns WHERE session_id = $1 AND seq = $2`,
			sessionID, seq).Scan(&done)
		if errors.Is(err, pgx.ErrNoRows) {
			return core.NewNotFoundError("turn not found")
		}
		if err != nil {
			return core.NewPersistenceError(err)
		}
		return core.NewInvalidRequestError("turn is already completed")
	}
	return nil
}

func (p *Postgres) ReadTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT session_id, seq, speaker, content, created_at, completed
		 FROM conversation_turns WHERE session_id = $1
		 ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, core.NewPersistenceError(err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.SessionID, &t.Seq, &t.Speaker, &t.Content, &t.CreatedAt, &t.Completed); err != nil {
			return nil, core.NewPersistenceError(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewPersistenceError(err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
