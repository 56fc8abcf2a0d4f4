package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionView is what clients may see of a session: no correct answers, no
// upcoming questions.
type SessionView struct {
	Code           string          `json:"code"`
	Status         Status          `json:"status"`
	Phase          Phase           `json:"phase"`
	Stalled        bool            `json:"stalled"`
	Round          int             `json:"round"`
	TotalRounds    int             `json:"totalRounds"`
	Question       *PublicQuestion `json:"question,omitempty"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
	PrizePool      decimal.Decimal `json:"prizePool"`
	LastRedemption string          `json:"lastRedemption,omitempty"`
	Players        []PlayerView    `json:"players"`
	Candidates     []Candidate     `json:"candidates,omitempty"`
	Ranking        []RankEntry     `json:"ranking,omitempty"`
}

type PlayerView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Score        int    `json:"score"`
	IsEliminated bool   `json:"isEliminated"`
	HasAnswered  bool   `json:"hasAnswered"`
}

func (s *GameSession) View() SessionView {
	v := SessionView{
		Code:           s.Code,
		Status:         s.Status,
		Phase:          s.Phase,
		Stalled:        s.Stalled,
		Round:          s.Round,
		TotalRounds:    len(s.Questions),
		PrizePool:      s.PrizePool,
		LastRedemption: s.LastRedemption,
		Players:        make([]PlayerView, 0, len(s.Players)),
		Ranking:        s.Ranking,
	}
	if s.Status == StatusActive {
		if q, ok := s.CurrentQuestion(); ok {
			pq := q.Public()
			v.Question = &pq
		}
		if !s.Deadline.IsZero() {
			d := s.Deadline
			v.Deadline = &d
		}
	}
	if s.Phase == PhaseVotingOpen {
		for _, id := range s.Eliminated {
			if p := s.Player(id); p != nil {
				v.Candidates = append(v.Candidates, Candidate{PlayerID: p.ID, PlayerName: p.Name})
			}
		}
	}
	for _, p := range s.Players {
		v.Players = append(v.Players, PlayerView{
			ID:           p.ID,
			Name:         p.Name,
			Score:        p.Score,
			IsEliminated: p.IsEliminated,
			HasAnswered:  p.HasAnswered,
		})
	}
	return v
}
