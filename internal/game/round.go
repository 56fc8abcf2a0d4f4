package game

import (
	"time"

	"github.com/rs/zerolog/log"
)

// openRound starts the answering window for the question at s.QuestionIx.
// Answers from the previous round are cleared before any new one is accepted.
func openRound(s *GameSession, now time.Time) ([]emission, error) {
	q, ok := s.CurrentQuestion()
	if !ok || !q.Valid() {
		return nil, ErrInvalidQuestion
	}
	s.Status = StatusActive
	s.Phase = PhaseRoundOpen
	s.Round = s.QuestionIx + 1
	s.LastRedemption = ""
	s.Eliminated = nil
	s.Votes = make(map[string]Vote)
	s.ActiveAtOpen = s.ActiveAtOpen[:0]
	for _, p := range s.Players {
		p.HasAnswered = false
		p.LastAnswer = nil
		if !p.IsEliminated {
			s.ActiveAtOpen = append(s.ActiveAtOpen, p.ID)
		}
	}
	s.OpenedAt = now
	s.Deadline = now.Add(s.Config.answerDuration())

	log.Info().Str("code", s.Code).Int("round", s.Round).Int("active", len(s.ActiveAtOpen)).Msg("round opened")
	return []emission{{EventRoundOpened, RoundOpenedPayload{
		Question:  q.Public(),
		Round:     s.Round,
		Total:     len(s.Questions),
		PrizePool: s.PrizePool,
		Deadline:  s.Deadline,
		Active:    len(s.ActiveAtOpen),
	}}}, nil
}

// recordAnswer stores a player's answer for the open round. It reports false
// without error when the answer is ignored: the player is eliminated or has
// already answered this round.
func recordAnswer(s *GameSession, playerID, value string, now time.Time, maxLen int) (bool, error) {
	switch {
	case s.Status == StatusFinished:
		return false, ErrGameFinished
	case s.Phase != PhaseRoundOpen || s.Stalled:
		return false, ErrRoundClosed
	}
	if maxLen > 0 && len(value) > maxLen {
		return false, ErrAnswerTooLong
	}
	p := s.Player(playerID)
	if p == nil {
		return false, ErrPlayerNotFound
	}
	if p.IsEliminated || p.HasAnswered {
		return false, nil
	}
	q, _ := s.CurrentQuestion()
	p.HasAnswered = true
	p.LastAnswer = &Answer{
		QuestionID:  q.ID,
		Value:       value,
		Correct:     value == q.Correct,
		SubmittedAt: now,
	}
	return true, nil
}

// allAnswered reports whether every currently active player has answered.
func allAnswered(s *GameSession) bool {
	active := 0
	for _, p := range s.Players {
		if p.IsEliminated {
			continue
		}
		active++
		if !p.HasAnswered {
			return false
		}
	}
	return active > 0
}

// closeRound partitions the players active at open into survivors and
// eliminated, awarding points to survivors.
func closeRound(s *GameSession, scoring ScoringPolicy, now time.Time) []emission {
	q, _ := s.CurrentQuestion()
	var survivors, eliminated []string
	for _, id := range s.ActiveAtOpen {
		p := s.Player(id)
		if p == nil {
			continue
		}
		a := p.LastAnswer
		if p.HasAnswered && a != nil && a.QuestionID == q.ID && a.Correct {
			p.Score += scoring.Award(q, *a, s.OpenedAt, s.Config.answerDuration())
			survivors = append(survivors, p.ID)
			continue
		}
		p.IsEliminated = true
		eliminated = append(eliminated, p.ID)
	}
	s.Eliminated = eliminated
	s.Phase = PhaseRoundScoring
	s.Deadline = now.Add(s.Config.resultsDuration())

	log.Info().
		Str("code", s.Code).
		Int("round", s.Round).
		Int("survivors", len(survivors)).
		Int("eliminated", len(eliminated)).
		Msg("round closed")

	out := make([]emission, 0, len(eliminated)+1)
	for _, name := range s.names(eliminated) {
		out = append(out, emission{EventPlayerEliminated, PlayerEliminatedPayload{Round: s.Round, PlayerName: name}})
	}
	out = append(out, emission{EventRoundClosed, RoundClosedPayload{
		Round:      s.Round,
		Correct:    q.Correct,
		Survivors:  nonNil(s.names(survivors)),
		Eliminated: nonNil(s.names(eliminated)),
	}})
	return out
}

// settle decides where a just-closed round goes: straight to finished on the
// last question or when at most one player is left, otherwise into the
// results pause (or past it when the pause is zero).
func settle(s *GameSession, now time.Time) ([]emission, error) {
	if s.isLastQuestion() || len(s.ActivePlayers()) <= 1 {
		return finish(s, now), nil
	}
	if s.Config.ResultsTime <= 0 {
		return afterResults(s, now)
	}
	return nil, nil
}

// afterResults leaves the results pause into a redemption vote or the next round.
func afterResults(s *GameSession, now time.Time) ([]emission, error) {
	if s.Config.Redemption && len(s.Eliminated) > 0 {
		return openVoting(s, now), nil
	}
	return advance(s, now)
}

// advance moves to the next question, growing the prize pool.
func advance(s *GameSession, now time.Time) ([]emission, error) {
	s.QuestionIx++
	accruePrize(s)
	return openRound(s, now)
}

func finish(s *GameSession, now time.Time) []emission {
	s.Status = StatusFinished
	s.Phase = PhaseFinished
	s.Deadline = time.Time{}
	s.Ranking = rank(s)
	log.Info().Str("code", s.Code).Int("rounds", s.Round).Str("prize_pool", s.PrizePool.String()).Msg("game finished")
	return []emission{{EventGameFinished, GameFinishedPayload{
		Ranking:   s.Ranking,
		PrizePool: s.PrizePool,
		Rounds:    s.Round,
	}}}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
