package game

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const codeLength = 6

var codeAlphabet = []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

// SessionCtx is the live, exclusively owned copy of one session. All reads
// and writes of state go through mu.
type SessionCtx struct {
	mu    sync.Mutex
	state *GameSession

	timer      TimerHandle
	armedPhase Phase
	armedRound int
}

// RoomManager is the arena of live sessions indexed by join code.
type RoomManager struct {
	mu       sync.RWMutex
	sessions map[string]*SessionCtx
	latest   string
	store    Store
}

func NewRoomManager(store Store) *RoomManager {
	return &RoomManager{sessions: make(map[string]*SessionCtx), store: store}
}

// NormalizeCode makes join codes case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// create registers a new lobby under a fresh, collision-checked code. The
// store is consulted without holding the arena lock; the code is re-checked
// under the lock before it is claimed.
func (rm *RoomManager) create(ctx context.Context, cfg SessionConfig, now time.Time) (*SessionCtx, error) {
	sc := &SessionCtx{state: &GameSession{
		ID:        uuid.NewString(),
		Config:    cfg,
		Status:    StatusLobby,
		Phase:     PhaseLobby,
		CreatedAt: now.UTC(),
		PrizePool: decimal.Zero,
		Players:   []*Player{},
		Votes:     make(map[string]Vote),
	}}
	for {
		code := randomCode(codeLength)
		if rm.lookup(code) != nil {
			continue
		}
		taken, err := rm.storedCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}
		if rm.claim(code, sc) {
			return sc, nil
		}
	}
}

func (rm *RoomManager) claim(code string, sc *SessionCtx) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.sessions[code] != nil {
		return false
	}
	sc.state.Code = code
	rm.sessions[code] = sc
	rm.latest = code
	return true
}

func (rm *RoomManager) storedCode(ctx context.Context, code string) (bool, error) {
	if rm.store == nil {
		return false, nil
	}
	_, err := rm.store.LoadSession(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSessionNotFound):
		return false, nil
	default:
		return false, errors.Join(ErrStoreFailure, err)
	}
}

// Get returns the live session for code, rehydrating it from the store when
// this process does not hold it. The stored session document is authoritative
// for its players. A rehydrated active session has lost its
// timers, so it comes back stalled until the host advances it.
func (rm *RoomManager) Get(ctx context.Context, code string) (*SessionCtx, error) {
	code = NormalizeCode(code)
	if sc := rm.lookup(code); sc != nil {
		return sc, nil
	}
	if rm.store == nil {
		return nil, ErrSessionNotFound
	}
	s, err := rm.store.LoadSession(ctx, code)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	if len(s.Players) == 0 {
		// documents written without embedded players fall back to the rows
		players, err := rm.store.LoadPlayers(ctx, s.ID)
		if err != nil {
			return nil, errors.Join(ErrStoreFailure, err)
		}
		sort.SliceStable(players, func(i, j int) bool { return players[i].Seq < players[j].Seq })
		s.Players = players
	}
	if s.Votes == nil {
		s.Votes = make(map[string]Vote)
	}
	if s.Status == StatusActive {
		s.Stalled = true
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if sc := rm.sessions[code]; sc != nil {
		return sc, nil
	}
	sc := &SessionCtx{state: s}
	rm.sessions[code] = sc
	log.Info().Str("code", code).Str("status", string(s.Status)).Msg("session rehydrated from store")
	return sc, nil
}

func (rm *RoomManager) lookup(code string) *SessionCtx {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.sessions[code]
}

// Latest returns the code of the most recently created session.
func (rm *RoomManager) Latest() (string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rm.latest == "" || rm.sessions[rm.latest] == nil {
		return "", false
	}
	return rm.latest, true
}

func (rm *RoomManager) Remove(code string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.sessions, code)
	if rm.latest == code {
		rm.latest = ""
	}
}

func (rm *RoomManager) Len() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.sessions)
}

func (rm *RoomManager) all() []*SessionCtx {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*SessionCtx, 0, len(rm.sessions))
	for _, sc := range rm.sessions {
		out = append(out, sc)
	}
	return out
}

func randomCode(n int) string {
	b := make([]rune, n)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		ix, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(err)
		}
		b[i] = codeAlphabet[ix.Int64()]
	}
	return string(b)
}
