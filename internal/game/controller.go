package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const maxNameLen = 32

type Options struct {
	Defaults     SessionConfig
	Scoring      ScoringPolicy
	MaxAnswerLen int
	// StoreTimeout bounds store calls made from timer callbacks.
	StoreTimeout time.Duration
	// Retention is how long a finished session stays in memory.
	Retention  time.Duration
	OnFinished func(s *GameSession)
}

func (o Options) withDefaults() Options {
	if o.Defaults == (SessionConfig{}) {
		o.Defaults = DefaultSessionConfig()
	}
	if o.Scoring == nil {
		o.Scoring = FixedAward{Points: DefaultBasePoints}
	}
	if o.MaxAnswerLen == 0 {
		o.MaxAnswerLen = 200
	}
	if o.StoreTimeout == 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.Retention == 0 {
		o.Retention = 30 * time.Minute
	}
	return o
}

// Controller owns the per-session state machine. Every command locks the
// session it targets, so mutations of one session are serialized while
// different sessions proceed independently.
type Controller struct {
	rooms  *RoomManager
	store  Store
	bc     Broadcaster
	timers Timers
	hosts  HostAuthorizer
	opts   Options
}

func NewController(store Store, bc Broadcaster, timers Timers, hosts HostAuthorizer, opts Options) *Controller {
	if bc == nil {
		bc = nopBroadcaster{}
	}
	if hosts == nil {
		hosts = newTokenTable()
	}
	return &Controller{
		rooms:  NewRoomManager(store),
		store:  store,
		bc:     bc,
		timers: timers,
		hosts:  hosts,
		opts:   opts.withDefaults(),
	}
}

func (c *Controller) Rooms() *RoomManager { return c.rooms }

// CreateSession opens a new lobby and returns its join code and host token.
func (c *Controller) CreateSession(ctx context.Context, cfg *ConfigOverrides) (string, string, error) {
	conf := c.opts.Defaults
	if cfg != nil {
		conf = mergeConfig(conf, *cfg)
	}
	sc, err := c.rooms.create(ctx, conf, c.timers.Now())
	if err != nil {
		return "", "", err
	}
	code := sc.state.Code
	token, err := c.hosts.IssueHostToken(code)
	if err != nil {
		c.rooms.Remove(code)
		return "", "", fmt.Errorf("issue host token: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	next := sc.state.Clone()
	if err := c.commit(ctx, sc, next, 1); err != nil {
		c.rooms.Remove(code)
		return "", "", err
	}
	log.Info().Str("code", code).Int("answer_time", conf.AnswerTime).Bool("redemption", conf.Redemption).Msg("session created")
	return code, token, nil
}

// Join registers a player in a lobby. Names are unique per session, ignoring case.
func (c *Controller) Join(ctx context.Context, code, name string) (string, error) {
	sc, err := c.rooms.Get(ctx, code)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return "", ErrInvalidName
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	var id string
	err = c.apply(ctx, sc, 1, func(s *GameSession, now time.Time) ([]emission, error) {
		switch s.Status {
		case StatusFinished:
			return nil, ErrGameFinished
		case StatusActive:
			return nil, ErrNotInLobby
		}
		if s.Config.MaxPlayers > 0 && len(s.Players) >= s.Config.MaxPlayers {
			return nil, ErrSessionFull
		}
		for _, p := range s.Players {
			if strings.EqualFold(p.Name, name) {
				return nil, ErrNameTaken
			}
		}
		p := &Player{ID: uuid.NewString(), Name: name, Seq: len(s.Players) + 1, JoinedAt: now.UTC()}
		s.Players = append(s.Players, p)
		id = p.ID
		return []emission{{EventPlayerJoined, PlayerJoinedPayload{PlayerID: p.ID, PlayerName: p.Name, Players: len(s.Players)}}}, nil
	})
	if err != nil {
		return "", err
	}
	log.Info().Str("code", sc.state.Code).Str("player_id", id).Str("name", name).Msg("player joined")
	return id, nil
}

// StartSession moves a lobby into its first round.
func (c *Controller) StartSession(ctx context.Context, code, hostToken string, questions []Question, initialPrize, increment decimal.Decimal) error {
	sc, err := c.rooms.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := c.hosts.AuthorizeHost(sc.code(), hostToken); err != nil {
		return ErrNotHost
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}
	for i, q := range questions {
		if !q.Valid() {
			return fmt.Errorf("question %d (%q): %w", i, q.ID, ErrInvalidQuestion)
		}
	}
	if initialPrize.IsNegative() || increment.IsNegative() {
		return ErrInvalidPrize
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	return c.apply(ctx, sc, 1, func(s *GameSession, now time.Time) ([]emission, error) {
		switch s.Status {
		case StatusFinished:
			return nil, ErrGameFinished
		case StatusActive:
			return nil, ErrAlreadyStarted
		}
		if len(s.Players) == 0 {
			return nil, ErrNoPlayers
		}
		s.Questions = questions
		s.QuestionIx = 0
		s.InitialPrize = initialPrize
		s.Increment = increment
		s.PrizePool = initialPrize
		return openRound(s, now)
	})
}

// SubmitAnswer records a player's answer. Answers from eliminated players or
// repeat answers in the same round are ignored without error. The answer that
// completes the active set closes the round immediately.
func (c *Controller) SubmitAnswer(ctx context.Context, code, playerID, value string) error {
	sc, err := c.rooms.Get(ctx, code)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	next := sc.state.Clone()
	accepted, err := recordAnswer(next, playerID, value, c.timers.Now(), c.opts.MaxAnswerLen)
	if err != nil || !accepted {
		return err
	}
	if err := c.commit(ctx, sc, next, 1); err != nil {
		return err
	}
	log.Debug().Str("code", next.Code).Int("round", next.Round).Str("player_id", playerID).Msg("answer recorded")

	if allAnswered(sc.state) {
		c.stopTimer(sc)
		if err := c.runStep(ctx, sc); err != nil {
			log.Error().Err(err).Str("code", next.Code).Int("round", next.Round).Msg("early close failed")
		}
	}
	return nil
}

// CastVote records a redemption vote; a later vote by the same voter in the
// same round replaces the earlier one.
func (c *Controller) CastVote(ctx context.Context, code, voterID, targetID string) error {
	sc, err := c.rooms.Get(ctx, code)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	next := sc.state.Clone()
	v, err := castVote(next, voterID, targetID, c.timers.Now())
	if err != nil {
		return err
	}
	if err := c.commit(ctx, sc, next, 1); err != nil {
		return err
	}
	if err := c.store.RecordVote(ctx, v); err != nil {
		log.Warn().Err(err).Str("code", next.Code).Int("round", next.Round).Str("voter_id", voterID).Msg("vote row not recorded")
	}
	log.Debug().Str("code", next.Code).Int("round", next.Round).Str("voter_id", voterID).Str("target_id", targetID).Msg("vote cast")
	return nil
}

// ForceAdvance is the host override: it cancels the pending timer and runs
// the transition that timer would have run. A stalled session retries its
// pending step.
func (c *Controller) ForceAdvance(ctx context.Context, code, hostToken string) error {
	sc, err := c.rooms.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := c.hosts.AuthorizeHost(sc.code(), hostToken); err != nil {
		return ErrNotHost
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	switch sc.state.Phase {
	case PhaseFinished:
		return ErrGameFinished
	case PhaseLobby:
		return fmt.Errorf("advance from lobby: %w", ErrInvalidTransition)
	}
	c.stopTimer(sc)
	log.Info().Str("code", sc.state.Code).Str("phase", string(sc.state.Phase)).Int("round", sc.state.Round).Msg("host forced advance")
	return c.runStep(ctx, sc)
}

// AuthorizeHost checks a host credential for code.
func (c *Controller) AuthorizeHost(code, token string) error {
	if err := c.hosts.AuthorizeHost(NormalizeCode(code), token); err != nil {
		return ErrNotHost
	}
	return nil
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot(ctx context.Context, code string) (*GameSession, error) {
	sc, err := c.rooms.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state.Clone(), nil
}

// Ranking returns the final ranking once finished, or the standing so far.
func (c *Controller) Ranking(ctx context.Context, code string) ([]RankEntry, error) {
	sc, err := c.rooms.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.state.Status == StatusFinished && len(sc.state.Ranking) > 0 {
		return append([]RankEntry(nil), sc.state.Ranking...), nil
	}
	return rank(sc.state), nil
}

// Votes returns per-player vote counts for a round. The open round is counted
// from the committed session; closed rounds come from the vote rows.
func (c *Controller) Votes(ctx context.Context, code string, round int) (map[string]int, error) {
	sc, err := c.rooms.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	sc.mu.Lock()
	if sc.state.Phase == PhaseVotingOpen && sc.state.Round == round {
		counts := tallyVotes(sc.state)
		sc.mu.Unlock()
		return counts, nil
	}
	id := sc.state.ID
	sc.mu.Unlock()
	counts, err := c.store.TallyVotes(ctx, id, round)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return counts, nil
}

// Shutdown cancels every outstanding timer.
func (c *Controller) Shutdown() {
	for _, sc := range c.rooms.all() {
		sc.mu.Lock()
		c.stopTimer(sc)
		sc.mu.Unlock()
	}
}

type transition func(s *GameSession, now time.Time) ([]emission, error)

// apply runs fn against a copy of the state and only adopts the copy once
// the store accepted it. Events are published after the commit.
// The caller holds sc.mu.
func (c *Controller) apply(ctx context.Context, sc *SessionCtx, attempts int, fn transition) error {
	next := sc.state.Clone()
	next.Stalled = false
	out, err := fn(next, c.timers.Now())
	if err != nil {
		return err
	}
	if err := c.commit(ctx, sc, next, attempts); err != nil {
		return err
	}
	c.arm(sc)
	c.publish(next.Code, out)
	if next.Status == StatusFinished {
		c.finished(sc)
	}
	return nil
}

// commit persists next and makes it the live state. The session document,
// players included, is the commit point; player rows are written after it as
// a per-player index and never decide the outcome.
func (c *Controller) commit(ctx context.Context, sc *SessionCtx, next *GameSession, attempts int) error {
	next.Version = sc.state.Version + 1
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.store.SaveSession(ctx, next); err == nil {
			sc.state = next
			c.indexPlayers(ctx, next)
			return nil
		}
		log.Warn().Err(err).Str("code", next.Code).Int("attempt", i+1).Msg("store write failed")
	}
	if errors.Is(err, ErrStoreFailure) {
		return err
	}
	return errors.Join(ErrStoreFailure, err)
}

func (c *Controller) indexPlayers(ctx context.Context, s *GameSession) {
	for _, p := range s.Players {
		if err := c.store.SavePlayer(ctx, s.ID, p); err != nil {
			log.Warn().Err(err).Str("code", s.Code).Str("player_id", p.ID).Msg("player row not updated")
		}
	}
}

func (c *Controller) publish(code string, out []emission) {
	for _, e := range out {
		c.bc.Publish(code, e.name, e.payload)
	}
}

// runStep runs the transition the current phase's timer stands for, retrying
// the store write once. On failure the live state is untouched and the
// session is marked stalled. The caller holds sc.mu.
func (c *Controller) runStep(ctx context.Context, sc *SessionCtx) error {
	var step transition
	switch sc.state.Phase {
	case PhaseRoundOpen:
		step = func(s *GameSession, now time.Time) ([]emission, error) {
			out := closeRound(s, c.opts.Scoring, now)
			more, err := settle(s, now)
			return append(out, more...), err
		}
	case PhaseRoundScoring:
		step = afterResults
	case PhaseVotingOpen:
		step = resolveVoting
	default:
		return fmt.Errorf("no pending step in phase %s: %w", sc.state.Phase, ErrInvalidTransition)
	}
	if err := c.apply(ctx, sc, 2, step); err != nil {
		c.stall(sc, err)
		return fmt.Errorf("%w: %v", ErrRoundStalled, err)
	}
	return nil
}

func (c *Controller) stall(sc *SessionCtx, cause error) {
	c.stopTimer(sc)
	sc.state.Stalled = true
	log.Error().Err(cause).Str("code", sc.state.Code).Int("round", sc.state.Round).Str("phase", string(sc.state.Phase)).Msg("round stalled")
	c.bc.Publish(sc.state.Code, EventRoundStalled, RoundStalledPayload{
		Round: sc.state.Round,
		Phase: sc.state.Phase,
		Error: cause.Error(),
	})
}

// arm makes sure exactly one timer is pending for the current (phase, round).
// The caller holds sc.mu.
func (c *Controller) arm(sc *SessionCtx) {
	s := sc.state
	switch s.Phase {
	case PhaseRoundOpen, PhaseRoundScoring, PhaseVotingOpen:
	default:
		c.stopTimer(sc)
		return
	}
	if sc.timer != nil && sc.armedPhase == s.Phase && sc.armedRound == s.Round {
		return
	}
	c.stopTimer(sc)
	d := s.Deadline.Sub(c.timers.Now())
	if d < 0 {
		d = 0
	}
	code, phase, round := s.Code, s.Phase, s.Round
	sc.armedPhase, sc.armedRound = phase, round
	sc.timer = c.timers.After(d, func() { c.onTimer(code, phase, round) })
	log.Debug().Str("code", code).Str("phase", string(phase)).Int("round", round).Dur("in", d).Msg("timer armed")
}

func (c *Controller) stopTimer(sc *SessionCtx) {
	if sc.timer != nil {
		sc.timer.Stop()
		sc.timer = nil
	}
	sc.armedPhase, sc.armedRound = "", 0
}

// onTimer fires for a specific (phase, round). A timer that no longer matches
// the session is stale and does nothing.
func (c *Controller) onTimer(code string, phase Phase, round int) {
	sc := c.rooms.lookup(code)
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := c.checkCurrent(sc, phase, round); err != nil {
		log.Debug().Err(err).Str("code", code).Str("phase", string(phase)).Int("round", round).Msg("timer ignored")
		return
	}
	if sc.armedPhase == phase && sc.armedRound == round {
		sc.timer = nil
		sc.armedPhase, sc.armedRound = "", 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StoreTimeout)
	defer cancel()
	_ = c.runStep(ctx, sc)
}

func (c *Controller) checkCurrent(sc *SessionCtx, phase Phase, round int) error {
	s := sc.state
	if s.Phase != phase || s.Round != round || s.Stalled {
		return ErrStaleOperation
	}
	return nil
}

// finished schedules eviction of a finished session from memory and hands a
// copy to the OnFinished hook. The caller holds sc.mu.
func (c *Controller) finished(sc *SessionCtx) {
	snapshot := sc.state.Clone()
	if c.opts.OnFinished != nil {
		go c.opts.OnFinished(snapshot)
	}
	code := snapshot.Code
	c.timers.After(c.opts.Retention, func() {
		c.rooms.Remove(code)
		log.Debug().Str("code", code).Msg("finished session evicted")
	})
}

func (sc *SessionCtx) code() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state.Code
}

func mergeConfig(base SessionConfig, in ConfigOverrides) SessionConfig {
	if in.AnswerTime != nil && *in.AnswerTime > 0 {
		base.AnswerTime = *in.AnswerTime
	}
	if in.VoteTime != nil && *in.VoteTime > 0 {
		base.VoteTime = *in.VoteTime
	}
	if in.ResultsTime != nil && *in.ResultsTime >= 0 {
		base.ResultsTime = *in.ResultsTime
	}
	if in.Redemption != nil {
		base.Redemption = *in.Redemption
	}
	if in.MaxPlayers != nil && *in.MaxPlayers > 0 {
		base.MaxPlayers = *in.MaxPlayers
	}
	return base
}
