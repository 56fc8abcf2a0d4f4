package game

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBasePoints = 100

// ScoringPolicy awards points for a correct, on-time answer. It is never
// consulted for wrong or missing answers, so scores never go down.
type ScoringPolicy interface {
	Award(q Question, a Answer, openedAt time.Time, window time.Duration) int
}

// FixedAward gives every correct answer the same number of points.
type FixedAward struct {
	Points int
}

func (f FixedAward) Award(Question, Answer, time.Time, time.Duration) int {
	if f.Points <= 0 {
		return DefaultBasePoints
	}
	return f.Points
}

// TimeBonus adds up to Base extra points, falling linearly to zero at the deadline.
type TimeBonus struct {
	Base int
}

func (t TimeBonus) Award(_ Question, a Answer, openedAt time.Time, window time.Duration) int {
	base := t.Base
	if base <= 0 {
		base = DefaultBasePoints
	}
	if window <= 0 {
		return base
	}
	remaining := window - a.SubmittedAt.Sub(openedAt)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > window {
		remaining = window
	}
	return base + int(int64(base)*int64(remaining)/int64(window))
}

// PolicyByName maps a configured scoring name to its policy; unknown names
// fall back to the fixed award.
func PolicyByName(name string, base int) ScoringPolicy {
	if name == "time_bonus" {
		return TimeBonus{Base: base}
	}
	return FixedAward{Points: base}
}

// PrizeAt is the pool after n completed rounds.
func PrizeAt(initial, increment decimal.Decimal, n int) decimal.Decimal {
	return initial.Add(increment.Mul(decimal.NewFromInt(int64(n))))
}

// accruePrize applies the per-round increment once per round transition.
func accruePrize(s *GameSession) {
	s.PrizePool = PrizeAt(s.InitialPrize, s.Increment, s.QuestionIx)
}

// rank orders players by score descending, then registration order. A sole
// remaining active player is the winner and is placed first regardless of
// score. With several active players the order is by score alone, so a
// redeemed low scorer stays behind an eliminated high scorer.
func rank(s *GameSession) []RankEntry {
	players := make([]*Player, len(s.Players))
	copy(players, s.Players)
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Seq < b.Seq
	})
	if active := s.ActivePlayers(); len(active) == 1 {
		for i, p := range players {
			if p.ID == active[0].ID {
				copy(players[1:i+1], players[:i])
				players[0] = p
				break
			}
		}
	}
	out := make([]RankEntry, len(players))
	for i, p := range players {
		out[i] = RankEntry{
			Rank:     i + 1,
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
			Active:   !p.IsEliminated,
		}
	}
	return out
}
