package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiliankoe/quizdash/internal/game"
)

const keyPrefix = "quiz:"

// Redis keeps each session as a JSON document with players and votes in
// hashes. All keys expire after ttl.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func sessionKey(code string) string { return keyPrefix + "session:" + code }

func playersKey(sessionID string) string { return keyPrefix + "players:" + sessionID }

func votesKey(sessionID string, round int) string {
	return fmt.Sprintf("%svotes:%s:%d", keyPrefix, sessionID, round)
}

func (r *Redis) LoadSession(ctx context.Context, code string) (*game.GameSession, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, game.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", code, err)
	}
	var s game.GameSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", code, err)
	}
	return &s, nil
}

// SaveSession compares versions under WATCH so concurrent writers from
// different processes cannot both win.
func (r *Redis) SaveSession(ctx context.Context, s *game.GameSession) error {
	key := sessionKey(s.Code)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Code, err)
	}
	txf := func(tx *redis.Tx) error {
		prev := 0
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cur struct {
				Version int `json:"version"`
			}
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("decode stored version: %w", err)
			}
			prev = cur.Version
		}
		if s.Version != prev+1 {
			return game.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}
	err = r.rdb.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, game.ErrConflict):
		return game.ErrConflict
	default:
		return fmt.Errorf("save session %s: %w", s.Code, err)
	}
}

func (r *Redis) LoadPlayers(ctx context.Context, sessionID string) ([]*game.Player, error) {
	fields, err := r.rdb.HGetAll(ctx, playersKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	out := make([]*game.Player, 0, len(fields))
	for id, raw := range fields {
		var p game.Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode player %s: %w", id, err)
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *Redis) SavePlayer(ctx context.Context, sessionID string, p *game.Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode player %s: %w", p.ID, err)
	}
	key := playersKey(sessionID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, p.ID, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save player %s: %w", p.ID, err)
	}
	return nil
}

func (r *Redis) RecordVote(ctx context.Context, v game.Vote) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode vote: %w", err)
	}
	key := votesKey(v.SessionID, v.Round)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, v.VoterID, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record vote: %w", err)
	}
	return nil
}

func (r *Redis) TallyVotes(ctx context.Context, sessionID string, round int) (map[string]int, error) {
	fields, err := r.rdb.HGetAll(ctx, votesKey(sessionID, round)).Result()
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	counts := make(map[string]int)
	for _, raw := range fields {
		var v game.Vote
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode vote: %w", err)
		}
		counts[v.TargetID]++
	}
	return counts, nil
}
