package game

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func openVoting(s *GameSession, now time.Time) []emission {
	s.Phase = PhaseVotingOpen
	s.Votes = make(map[string]Vote)
	s.Deadline = now.Add(s.Config.voteDuration())

	candidates := make([]Candidate, 0, len(s.Eliminated))
	for _, id := range s.Eliminated {
		if p := s.Player(id); p != nil {
			candidates = append(candidates, Candidate{PlayerID: p.ID, PlayerName: p.Name})
		}
	}
	log.Info().Str("code", s.Code).Int("round", s.Round).Int("candidates", len(candidates)).Msg("voting opened")
	return []emission{{EventVotingOpened, VotingOpenedPayload{
		Round:                s.Round,
		EliminatedCandidates: candidates,
		Deadline:             s.Deadline,
	}}}
}

// castVote records voterID's choice for this round, replacing any earlier one.
func castVote(s *GameSession, voterID, targetID string, now time.Time) (Vote, error) {
	switch {
	case s.Status == StatusFinished:
		return Vote{}, ErrGameFinished
	case s.Phase != PhaseVotingOpen || s.Stalled:
		return Vote{}, ErrNotInVotingWindow
	}
	voter := s.Player(voterID)
	if voter == nil {
		return Vote{}, ErrPlayerNotFound
	}
	if voter.IsEliminated {
		return Vote{}, ErrVoterNotActive
	}
	if !slices.Contains(s.Eliminated, targetID) {
		return Vote{}, ErrInvalidVoteTarget
	}
	v := Vote{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Round:     s.Round,
		VoterID:   voterID,
		TargetID:  targetID,
		CastAt:    now,
	}
	s.Votes[voterID] = v
	return v, nil
}

// tallyVotes counts one vote per distinct active voter for this round's
// eliminated players.
func tallyVotes(s *GameSession) map[string]int {
	counts := make(map[string]int)
	for voterID, v := range s.Votes {
		voter := s.Player(voterID)
		if voter == nil || voter.IsEliminated || v.Round != s.Round {
			continue
		}
		if !slices.Contains(s.Eliminated, v.TargetID) {
			continue
		}
		counts[v.TargetID]++
	}
	return counts
}

// winner returns the single player with the strictly highest count. A tie at
// the top, or no votes at all, redeems nobody.
func winner(counts map[string]int) (string, bool) {
	best, top := "", 0
	tie := false
	for id, n := range counts {
		switch {
		case n > top:
			best, top, tie = id, n, false
		case n == top:
			tie = true
		}
	}
	if top == 0 || tie {
		return "", false
	}
	return best, true
}

// resolveVoting applies the redemption, if any, and opens the next round.
func resolveVoting(s *GameSession, now time.Time) ([]emission, error) {
	counts := tallyVotes(s)
	tally := make(map[string]int, len(counts))
	name := ""
	if id, ok := winner(counts); ok {
		p := s.Player(id)
		p.IsEliminated = false
		name = p.Name
	}
	for id, n := range counts {
		if p := s.Player(id); p != nil {
			tally[p.Name] = n
		}
	}
	log.Info().Str("code", s.Code).Int("round", s.Round).Str("redeemed", name).Int("votes", len(s.Votes)).Msg("voting resolved")

	out := []emission{{EventRedemptionApplied, RedemptionAppliedPayload{Round: s.Round, PlayerName: name, Tally: tally}}}
	next, err := advance(s, now)
	if err != nil {
		return nil, err
	}
	// kept through the round that follows; the next openRound clears it
	s.LastRedemption = name
	for i, e := range next {
		if opened, ok := e.payload.(RoundOpenedPayload); ok {
			opened.Redeemed = name
			next[i].payload = opened
		}
	}
	return append(out, next...), nil
}
