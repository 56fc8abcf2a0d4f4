package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event names published to a session's room.
const (
	EventPlayerJoined      = "player-joined"
	EventRoundOpened       = "round-opened"
	EventRoundClosed       = "round-closed"
	EventPlayerEliminated  = "player-eliminated"
	EventVotingOpened      = "voting-opened"
	EventRedemptionApplied = "redemption-applied"
	EventGameFinished      = "game-finished"
	EventRoundStalled      = "round-stalled"
)

type PlayerJoinedPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Players    int    `json:"players"`
}

type RoundOpenedPayload struct {
	Question  PublicQuestion  `json:"question"`
	Round     int             `json:"round"`
	Total     int             `json:"total"`
	PrizePool decimal.Decimal `json:"prizePool"`
	Deadline  time.Time       `json:"deadline"`
	Active    int             `json:"active"`
	Redeemed  string          `json:"redeemed,omitempty"` // redeemed by the vote that preceded this round
}

type RoundClosedPayload struct {
	Round      int      `json:"round"`
	Correct    string   `json:"correct"`
	Survivors  []string `json:"survivors"`
	Eliminated []string `json:"eliminated"`
}

type PlayerEliminatedPayload struct {
	Round      int    `json:"round"`
	PlayerName string `json:"playerName"`
}

type Candidate struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type VotingOpenedPayload struct {
	Round                int         `json:"round"`
	EliminatedCandidates []Candidate `json:"eliminatedCandidates"`
	Deadline             time.Time   `json:"deadline"`
}

// RedemptionAppliedPayload carries an empty PlayerName when nobody was redeemed.
type RedemptionAppliedPayload struct {
	Round      int            `json:"round"`
	PlayerName string         `json:"playerName"`
	Tally      map[string]int `json:"tally"`
}

type GameFinishedPayload struct {
	Ranking   []RankEntry     `json:"ranking"`
	PrizePool decimal.Decimal `json:"prizePool"`
	Rounds    int             `json:"rounds"`
}

type RoundStalledPayload struct {
	Round int    `json:"round"`
	Phase Phase  `json:"phase"`
	Error string `json:"error"`
}

type emission struct {
	name    string
	payload any
}
