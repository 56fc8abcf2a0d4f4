package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusLobby    Status = "lobby"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Phase is the fine-grained state inside a session's lifecycle.
type Phase string

const (
	PhaseLobby        Phase = "lobby"
	PhaseRoundOpen    Phase = "round_open"
	PhaseRoundScoring Phase = "round_scoring"
	PhaseVotingOpen   Phase = "voting_open"
	PhaseFinished     Phase = "finished"
)

type SessionConfig struct {
	AnswerTime  int  `json:"answerTime" yaml:"answer_time"`   // seconds
	VoteTime    int  `json:"voteTime" yaml:"vote_time"`       // seconds
	ResultsTime int  `json:"resultsTime" yaml:"results_time"` // seconds, 0 advances immediately
	Redemption  bool `json:"redemption" yaml:"redemption"`
	MaxPlayers  int  `json:"maxPlayers" yaml:"max_players"`
}

// DefaultSessionConfig mirrors the engine defaults: 15s answers, 10s votes, 5s results.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AnswerTime:  15,
		VoteTime:    10,
		ResultsTime: 5,
		Redemption:  true,
		MaxPlayers:  100,
	}
}

// ConfigOverrides is a partial SessionConfig; nil fields keep the defaults.
type ConfigOverrides struct {
	AnswerTime  *int  `json:"answerTime,omitempty"`
	VoteTime    *int  `json:"voteTime,omitempty"`
	ResultsTime *int  `json:"resultsTime,omitempty"`
	Redemption  *bool `json:"redemption,omitempty"`
	MaxPlayers  *int  `json:"maxPlayers,omitempty"`
}

func (c SessionConfig) answerDuration() time.Duration {
	return time.Duration(c.AnswerTime) * time.Second
}

func (c SessionConfig) voteDuration() time.Duration {
	return time.Duration(c.VoteTime) * time.Second
}

func (c SessionConfig) resultsDuration() time.Duration {
	return time.Duration(c.ResultsTime) * time.Second
}

type Question struct {
	ID      string   `json:"id" yaml:"id"`
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Options []string `json:"options" yaml:"options"`
	Correct string   `json:"correct" yaml:"correct"`
}

// Valid reports whether the question can be played: it needs an id, a prompt,
// at least two options and a correct option that is one of them.
func (q Question) Valid() bool {
	if q.ID == "" || q.Prompt == "" || len(q.Options) < 2 {
		return false
	}
	for _, o := range q.Options {
		if o == q.Correct {
			return true
		}
	}
	return false
}

// Public strips the correct option so the question can be sent to players.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{ID: q.ID, Prompt: q.Prompt, Options: append([]string(nil), q.Options...)}
}

type PublicQuestion struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

type Answer struct {
	QuestionID  string    `json:"questionId"`
	Value       string    `json:"value"`
	Correct     bool      `json:"correct"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type Player struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Seq          int       `json:"seq"` // registration order
	Score        int       `json:"score"`
	IsEliminated bool      `json:"isEliminated"`
	HasAnswered  bool      `json:"hasAnswered"`
	LastAnswer   *Answer   `json:"lastAnswer,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type Vote struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Round     int       `json:"round"`
	VoterID   string    `json:"voterId"`
	TargetID  string    `json:"targetId"`
	CastAt    time.Time `json:"castAt"`
}

type RankEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Active   bool   `json:"active"`
}

// GameSession is the whole state of one hosted game. The live copy is owned
// by its SessionCtx; everything handed out of the package is a clone.
type GameSession struct {
	ID        string        `json:"id"`
	Code      string        `json:"code"`
	Version   int           `json:"version"`
	Config    SessionConfig `json:"config"`
	Status    Status        `json:"status"`
	Phase     Phase         `json:"phase"`
	Stalled   bool          `json:"stalled"`
	CreatedAt time.Time     `json:"createdAt"`

	Questions  []Question `json:"questions"`
	QuestionIx int        `json:"questionIx"`
	Round      int        `json:"round"` // 1-based once started
	OpenedAt   time.Time  `json:"openedAt"`
	Deadline   time.Time  `json:"deadline"`

	InitialPrize   decimal.Decimal `json:"initialPrize"`
	Increment      decimal.Decimal `json:"increment"`
	PrizePool      decimal.Decimal `json:"prizePool"`
	LastRedemption string          `json:"lastRedemption"`

	Players      []*Player       `json:"players"`
	ActiveAtOpen []string        `json:"activeAtOpen"`
	Eliminated   []string        `json:"eliminated"` // eliminated in the current round
	Votes        map[string]Vote `json:"votes"`      // voterID -> vote, current round

	Ranking []RankEntry `json:"ranking,omitempty"`
}

func (s *GameSession) Player(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *GameSession) ActivePlayers() []*Player {
	out := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.IsEliminated {
			out = append(out, p)
		}
	}
	return out
}

func (s *GameSession) CurrentQuestion() (Question, bool) {
	if s.QuestionIx < 0 || s.QuestionIx >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.QuestionIx], true
}

func (s *GameSession) isLastQuestion() bool {
	return s.QuestionIx >= len(s.Questions)-1
}

func (s *GameSession) names(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if p := s.Player(id); p != nil {
			out = append(out, p.Name)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *GameSession) Clone() *GameSession {
	c := *s
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]string(nil), q.Options...)
		c.Questions[i] = q
	}
	c.Players = make([]*Player, len(s.Players))
	for i, p := range s.Players {
		cp := *p
		if p.LastAnswer != nil {
			a := *p.LastAnswer
			cp.LastAnswer = &a
		}
		c.Players[i] = &cp
	}
	c.ActiveAtOpen = append([]string(nil), s.ActiveAtOpen...)
	c.Eliminated = append([]string(nil), s.Eliminated...)
	c.Votes = make(map[string]Vote, len(s.Votes))
	for k, v := range s.Votes {
		c.Votes[k] = v
	}
	c.Ranking = append([]RankEntry(nil), s.Ranking...)
	return &c
}
