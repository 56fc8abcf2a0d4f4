package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

var errInjected = errors.New("injected store failure")

// fakeStore keeps copies in memory and can be told to fail the next n
// session writes.
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]*GameSession
	players   map[string]map[string]*Player
	votes     map[string]Vote
	failSaves int
	saves     int

	// loadGate, when set, holds every LoadSession until it is closed;
	// loading receives a signal each time a load starts waiting.
	loadGate chan struct{}
	loading  chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*GameSession),
		players:  make(map[string]map[string]*Player),
		votes:    make(map[string]Vote),
	}
}

func (f *fakeStore) failNext(n int) {
	f.mu.Lock()
	f.failSaves = n
	f.mu.Unlock()
}

func (f *fakeStore) gateLoads() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.loadGate = gate
	f.loading = make(chan struct{}, 1)
	return func() { close(gate) }
}

func (f *fakeStore) LoadSession(_ context.Context, code string) (*GameSession, error) {
	f.mu.Lock()
	gate, loading := f.loadGate, f.loading
	f.mu.Unlock()
	if gate != nil {
		select {
		case loading <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[code]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (f *fakeStore) SaveSession(_ context.Context, s *GameSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaves > 0 {
		f.failSaves--
		return errInjected
	}
	prev := 0
	if cur, ok := f.sessions[s.Code]; ok {
		prev = cur.Version
	}
	if s.Version != prev+1 {
		return ErrConflict
	}
	f.sessions[s.Code] = s.Clone()
	f.saves++
	return nil
}

func (f *fakeStore) LoadPlayers(_ context.Context, sessionID string) ([]*Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Player, 0, len(f.players[sessionID]))
	for _, p := range f.players[sessionID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) SavePlayer(_ context.Context, sessionID string, p *Player) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.players[sessionID] == nil {
		f.players[sessionID] = make(map[string]*Player)
	}
	cp := *p
	f.players[sessionID][p.ID] = &cp
	return nil
}

func (f *fakeStore) RecordVote(_ context.Context, v Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[fmt.Sprintf("%s/%d/%s", v.SessionID, v.Round, v.VoterID)] = v
	return nil
}

func (f *fakeStore) TallyVotes(_ context.Context, sessionID string, round int) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, v := range f.votes {
		if v.SessionID == sessionID && v.Round == round {
			counts[v.TargetID]++
		}
	}
	return counts, nil
}

type published struct {
	room    string
	event   string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(room, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{room, event, payload})
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.event
	}
	return out
}

func (r *recorder) last(event string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event == event {
			return r.events[i].payload
		}
	}
	return nil
}

type advancer interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func newFakeClock() advancer { return clockwork.NewFakeClockAt(t0) }

type clockTimers struct {
	clock clockwork.Clock
}

func (c clockTimers) Now() time.Time { return c.clock.Now() }

func (c clockTimers) After(d time.Duration, fn func()) TimerHandle {
	return c.clock.AfterFunc(d, fn)
}

type harness struct {
	ctrl  *Controller
	clock advancer
	store *fakeStore
	rec   *recorder
}

func newHarness(t *testing.T, cfg SessionConfig) (*harness, string, string) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	h := &harness{
		clock: clock,
		store: newFakeStore(),
		rec:   &recorder{},
	}
	h.ctrl = NewController(h.store, h.rec, clockTimers{clock}, nil, Options{Defaults: cfg})
	t.Cleanup(h.ctrl.Shutdown)

	code, token, err := h.ctrl.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	return h, code, token
}

func (h *harness) join(t *testing.T, code string, names ...string) []string {
	t.Helper()
	ids := make([]string, len(names))
	for i, n := range names {
		id, err := h.ctrl.Join(context.Background(), code, n)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func (h *harness) snapshot(t *testing.T, code string) *GameSession {
	t.Helper()
	s, err := h.ctrl.Snapshot(context.Background(), code)
	require.NoError(t, err)
	return s
}

// waitFor polls until the session reaches phase; fake timer callbacks run on
// their own goroutine.
func (h *harness) waitFor(t *testing.T, code string, phase Phase, round int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.snapshot(t, code)
		return s.Phase == phase && s.Round == round
	}, time.Second, 5*time.Millisecond, "waiting for %s round %d", phase, round)
}

func testConfig(redemption bool) SessionConfig {
	return SessionConfig{AnswerTime: 15, VoteTime: 10, ResultsTime: 5, Redemption: redemption, MaxPlayers: 10}
}

func testQuestions(n int) []Question {
	out := make([]Question, n)
	for i := range out {
		out[i] = Question{
			ID:      fmt.Sprintf("q%d", i+1),
			Prompt:  fmt.Sprintf("Question %d?", i+1),
			Options: []string{"a", "b", "c"},
			Correct: "a",
		}
	}
	return out
}

func prize(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
