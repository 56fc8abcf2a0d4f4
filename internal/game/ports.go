package game

import (
	"context"
	"time"
)

// Store persists sessions, players and votes. Implementations return
// ErrSessionNotFound for unknown codes and ErrConflict when a session's
// Version is not exactly one ahead of the stored copy.
type Store interface {
	LoadSession(ctx context.Context, code string) (*GameSession, error)
	SaveSession(ctx context.Context, s *GameSession) error
	LoadPlayers(ctx context.Context, sessionID string) ([]*Player, error)
	SavePlayer(ctx context.Context, sessionID string, p *Player) error
	RecordVote(ctx context.Context, v Vote) error
	TallyVotes(ctx context.Context, sessionID string, round int) (map[string]int, error)
}

// Broadcaster delivers an event to every subscriber of a room. Delivery is
// fire-and-forget; implementations must not block the caller for long.
type Broadcaster interface {
	Publish(room string, event string, payload any)
}

// Timers schedules single-shot callbacks.
type Timers interface {
	Now() time.Time
	After(d time.Duration, fn func()) TimerHandle
}

type TimerHandle interface {
	Stop() bool
}

// HostAuthorizer issues and checks the credential that identifies a session's host.
type HostAuthorizer interface {
	IssueHostToken(code string) (string, error)
	AuthorizeHost(code, token string) error
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(string, string, any) {}
