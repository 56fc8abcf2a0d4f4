package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/quizdash/internal/game"
)

const connectTimeout = 5 * time.Second

var schema = []string{
	`CREATE TABLE IF NOT EXISTS quiz_sessions (
		id         TEXT PRIMARY KEY,
		code       TEXT NOT NULL UNIQUE,
		version    INTEGER NOT NULL,
		status     TEXT NOT NULL,
		state      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS quiz_players (
		session_id    TEXT NOT NULL,
		id            TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		name          TEXT NOT NULL,
		score         INTEGER NOT NULL DEFAULT 0,
		is_eliminated BOOLEAN NOT NULL DEFAULT false,
		has_answered  BOOLEAN NOT NULL DEFAULT false,
		last_answer   JSONB,
		joined_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS quiz_votes (
		session_id TEXT NOT NULL,
		round      INTEGER NOT NULL,
		voter_id   TEXT NOT NULL,
		id         TEXT NOT NULL,
		target_id  TEXT NOT NULL,
		cast_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, round, voter_id)
	)`,
}

// Postgres stores the session document as JSONB and players and votes as rows.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPool opens and pings a pgx pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Msg("postgres schema ready")
	return nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) LoadSession(ctx context.Context, code string) (*game.GameSession, error) {
	var (
		version int
		state   []byte
	)
	err := p.pool.QueryRow(ctx, `SELECT version, state FROM quiz_sessions WHERE code = $1`, code).Scan(&version, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", code, err)
	}
	var s game.GameSession
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", code, err)
	}
	s.Version = version
	return &s, nil
}

// SaveSession inserts version 1 and otherwise updates only when the stored
// row is exactly one version behind.
func (p *Postgres) SaveSession(ctx context.Context, s *game.GameSession) error {
	state, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Code, err)
	}
	var affected int64
	if s.Version == 1 {
		tag, err := p.pool.Exec(ctx, `
			INSERT INTO quiz_sessions (id, code, version, status, state, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (code) DO NOTHING`,
			s.ID, s.Code, s.Version, string(s.Status), state)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", s.Code, err)
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := p.pool.Exec(ctx, `
			UPDATE quiz_sessions
			SET version = $2, status = $3, state = $4, updated_at = now()
			WHERE code = $1 AND version = $5`,
			s.Code, s.Version, string(s.Status), state, s.Version-1)
		if err != nil {
			return fmt.Errorf("update session %s: %w", s.Code, err)
		}
		affected = tag.RowsAffected()
	}
	if affected == 0 {
		return game.ErrConflict
	}
	return nil
}

func (p *Postgres) LoadPlayers(ctx context.Context, sessionID string) ([]*game.Player, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, seq, name, score, is_eliminated, has_answered, last_answer, joined_at
		FROM quiz_players WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	defer rows.Close()

	var out []*game.Player
	for rows.Next() {
		var (
			pl     game.Player
			answer []byte
		)
		if err := rows.Scan(&pl.ID, &pl.Seq, &pl.Name, &pl.Score, &pl.IsEliminated, &pl.HasAnswered, &answer, &pl.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		if len(answer) > 0 {
			pl.LastAnswer = &game.Answer{}
			if err := json.Unmarshal(answer, pl.LastAnswer); err != nil {
				return nil, fmt.Errorf("decode answer of %s: %w", pl.ID, err)
			}
		}
		out = append(out, &pl)
	}
	return out, rows.Err()
}

func (p *Postgres) SavePlayer(ctx context.Context, sessionID string, pl *game.Player) error {
	var answer []byte
	if pl.LastAnswer != nil {
		var err error
		if answer, err = json.Marshal(pl.LastAnswer); err != nil {
			return fmt.Errorf("encode answer of %s: %w", pl.ID, err)
		}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quiz_players (session_id, id, seq, name, score, is_eliminated, has_answered, last_answer, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, id) DO UPDATE SET
			score = EXCLUDED.score,
			is_eliminated = EXCLUDED.is_eliminated,
			has_answered = EXCLUDED.has_answered,
			last_answer = EXCLUDED.last_answer`,
		sessionID, pl.ID, pl.Seq, pl.Name, pl.Score, pl.IsEliminated, pl.HasAnswered, answer, pl.JoinedAt)
	if err != nil {
		return fmt.Errorf("save player %s: %w", pl.ID, err)
	}
	return nil
}

func (p *Postgres) RecordVote(ctx context.Context, v game.Vote) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quiz_votes (session_id, round, voter_id, id, target_id, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, round, voter_id) DO UPDATE SET
			id = EXCLUDED.id,
			target_id = EXCLUDED.target_id,
			cast_at = EXCLUDED.cast_at`,
		v.SessionID, v.Round, v.VoterID, v.ID, v.TargetID, v.CastAt)
	if err != nil {
		return fmt.Errorf("record vote: %w", err)
	}
	return nil
}

func (p *Postgres) TallyVotes(ctx context.Context, sessionID string, round int) (map[string]int, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT target_id, count(*) FROM quiz_votes
		WHERE session_id = $1 AND round = $2
		GROUP BY target_id`, sessionID, round)
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			target string
			n      int
		)
		if err := rows.Scan(&target, &n); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		counts[target] = n
	}
	return counts, rows.Err()
}

