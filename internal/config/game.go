package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kiliankoe/quizdash/internal/game"
)

// Game is the optional YAML file with game defaults and a question bank.
type Game struct {
	AnswerTime   int    `yaml:"answer_time"`
	VoteTime     int    `yaml:"vote_time"`
	ResultsTime  *int   `yaml:"results_time"`
	Redemption   *bool  `yaml:"redemption"`
	MaxPlayers   int    `yaml:"max_players"`
	BasePoints   int    `yaml:"base_points"`
	Scoring      string `yaml:"scoring"`
	MaxAnswerLen int    `yaml:"max_answer_len"`
	InitialPrize string `yaml:"initial_prize"`
	Increment    string `yaml:"increment"`

	Questions []game.Question `yaml:"questions"`
}

// LoadGame reads path; an empty path yields the built-in defaults.
func LoadGame(path string) (Game, error) {
	var g Game
	if path == "" {
		return g, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return g, fmt.Errorf("read game config: %w", err)
	}
	if err := yaml.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("parse game config %s: %w", path, err)
	}
	for i, q := range g.Questions {
		if !q.Valid() {
			return g, fmt.Errorf("game config question %d (%q): %w", i, q.ID, game.ErrInvalidQuestion)
		}
	}
	if _, _, err := g.Prizes(); err != nil {
		return g, err
	}
	return g, nil
}

// SessionDefaults overlays the file onto the engine defaults.
func (g Game) SessionDefaults() game.SessionConfig {
	c := game.DefaultSessionConfig()
	if g.AnswerTime > 0 {
		c.AnswerTime = g.AnswerTime
	}
	if g.VoteTime > 0 {
		c.VoteTime = g.VoteTime
	}
	if g.ResultsTime != nil && *g.ResultsTime >= 0 {
		c.ResultsTime = *g.ResultsTime
	}
	if g.Redemption != nil {
		c.Redemption = *g.Redemption
	}
	if g.MaxPlayers > 0 {
		c.MaxPlayers = g.MaxPlayers
	}
	return c
}

func (g Game) ScoringPolicy() game.ScoringPolicy {
	base := g.BasePoints
	if base <= 0 {
		base = game.DefaultBasePoints
	}
	return game.PolicyByName(g.Scoring, base)
}

// Prizes returns the default initial prize and per-round increment.
func (g Game) Prizes() (decimal.Decimal, decimal.Decimal, error) {
	initial, err := parseAmount(g.InitialPrize)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("initial_prize: %w", err)
	}
	inc, err := parseAmount(g.Increment)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("increment: %w", err)
	}
	return initial, inc, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, game.ErrInvalidPrize
	}
	return d, nil
}

// StartDefaults fills in what a host leaves out when starting a session.
type StartDefaults struct {
	Questions    []game.Question
	InitialPrize decimal.Decimal
	Increment    decimal.Decimal
}

func (g Game) StartDefaults() (StartDefaults, error) {
	initial, inc, err := g.Prizes()
	if err != nil {
		return StartDefaults{}, err
	}
	return StartDefaults{Questions: g.Questions, InitialPrize: initial, Increment: inc}, nil
}

// Resolve merges a start request with the defaults. Empty prize strings and
// an empty question list fall back to the configured values.
func (d StartDefaults) Resolve(questions []game.Question, initial, increment string) ([]game.Question, decimal.Decimal, decimal.Decimal, error) {
	if len(questions) == 0 {
		questions = d.Questions
	}
	ip, inc := d.InitialPrize, d.Increment
	if initial != "" {
		v, err := decimal.NewFromString(initial)
		if err != nil {
			return nil, ip, inc, fmt.Errorf("initial prize %q: %w", initial, game.ErrInvalidPrize)
		}
		ip = v
	}
	if increment != "" {
		v, err := decimal.NewFromString(increment)
		if err != nil {
			return nil, ip, inc, fmt.Errorf("increment %q: %w", increment, game.ErrInvalidPrize)
		}
		inc = v
	}
	return questions, ip, inc, nil
}
