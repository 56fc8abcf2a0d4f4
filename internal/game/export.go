package game

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportResults appends a plain-text summary of a finished session to filename.
func ExportResults(s *GameSession, filename string) error {
	if s.Status != StatusFinished {
		return fmt.Errorf("export %s: %w", s.Code, ErrInvalidTransition)
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if _, err := os.Stat(filename); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(formatResults(s, fileExists)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func formatResults(s *GameSession, separate bool) string {
	var sb strings.Builder
	if separate {
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Quiz Results - Session %s\n", s.Code))
	sb.WriteString(fmt.Sprintf("Started: %s\n", s.CreatedAt.Format(time.DateTime)))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString(fmt.Sprintf("Rounds played: %d of %d\n", s.Round, len(s.Questions)))
	sb.WriteString(fmt.Sprintf("Prize pool: %s\n\n", s.PrizePool.StringFixed(2)))

	for i, q := range s.Questions {
		if i >= s.Round {
			break
		}
		sb.WriteString(fmt.Sprintf("Round %d: %q (answer: %s)\n", i+1, q.Prompt, q.Correct))
	}
	sb.WriteString("\n")

	ranking := s.Ranking
	if len(ranking) == 0 {
		ranking = rank(s)
	}
	sb.WriteString("Final ranking:\n")
	for _, r := range ranking {
		state := "eliminated"
		if r.Active {
			state = "survivor"
		}
		sb.WriteString(fmt.Sprintf("%d. %s: %d points (%s)\n", r.Rank, r.Name, r.Score, state))
	}
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	return sb.String()
}
