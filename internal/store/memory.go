// Package store holds the persistence backends for quiz sessions.
package store

import (
	"context"
	"sync"

	"github.com/kiliankoe/quizdash/internal/game"
)

type voteKey struct {
	sessionID string
	round     int
	voterID   string
}

// Memory keeps everything in process. It is the default backend and the one
// tests run against.
type Memory struct {
	sessionsMu sync.RWMutex
	sessions   map[string]*game.GameSession

	playersMu sync.RWMutex
	players   map[string]map[string]*game.Player

	votesMu sync.RWMutex
	votes   map[voteKey]game.Vote
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*game.GameSession),
		players:  make(map[string]map[string]*game.Player),
		votes:    make(map[voteKey]game.Vote),
	}
}

func (m *Memory) LoadSession(_ context.Context, code string) (*game.GameSession, error) {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()
	s, ok := m.sessions[code]
	if !ok {
		return nil, game.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) SaveSession(_ context.Context, s *game.GameSession) error {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	prev := 0
	if cur, ok := m.sessions[s.Code]; ok {
		prev = cur.Version
	}
	if s.Version != prev+1 {
		return game.ErrConflict
	}
	m.sessions[s.Code] = s.Clone()
	return nil
}

func (m *Memory) LoadPlayers(_ context.Context, sessionID string) ([]*game.Player, error) {
	m.playersMu.RLock()
	defer m.playersMu.RUnlock()
	out := make([]*game.Player, 0, len(m.players[sessionID]))
	for _, p := range m.players[sessionID] {
		out = append(out, clonePlayer(p))
	}
	return out, nil
}

func (m *Memory) SavePlayer(_ context.Context, sessionID string, p *game.Player) error {
	m.playersMu.Lock()
	defer m.playersMu.Unlock()
	if m.players[sessionID] == nil {
		m.players[sessionID] = make(map[string]*game.Player)
	}
	m.players[sessionID][p.ID] = clonePlayer(p)
	return nil
}

// RecordVote keeps one vote per (session, round, voter); a repeat replaces it.
func (m *Memory) RecordVote(_ context.Context, v game.Vote) error {
	m.votesMu.Lock()
	defer m.votesMu.Unlock()
	m.votes[voteKey{v.SessionID, v.Round, v.VoterID}] = v
	return nil
}

func (m *Memory) TallyVotes(_ context.Context, sessionID string, round int) (map[string]int, error) {
	m.votesMu.RLock()
	defer m.votesMu.RUnlock()
	counts := make(map[string]int)
	for k, v := range m.votes {
		if k.sessionID == sessionID && k.round == round {
			counts[v.TargetID]++
		}
	}
	return counts, nil
}

// Delete drops a session and everything recorded for it.
func (m *Memory) Delete(_ context.Context, code string) error {
	m.sessionsMu.Lock()
	s, ok := m.sessions[code]
	delete(m.sessions, code)
	m.sessionsMu.Unlock()
	if !ok {
		return game.ErrSessionNotFound
	}

	m.playersMu.Lock()
	delete(m.players, s.ID)
	m.playersMu.Unlock()

	m.votesMu.Lock()
	for k := range m.votes {
		if k.sessionID == s.ID {
			delete(m.votes, k)
		}
	}
	m.votesMu.Unlock()
	return nil
}

func clonePlayer(p *game.Player) *game.Player {
	cp := *p
	if p.LastAnswer != nil {
		a := *p.LastAnswer
		cp.LastAnswer = &a
	}
	return &cp
}
