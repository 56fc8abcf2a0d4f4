package game

import (
	"sync"

	"github.com/google/uuid"
)

// tokenTable is the in-process host authorizer: one random token per session code.
type tokenTable struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func newTokenTable() *tokenTable {
	return &tokenTable{tokens: make(map[string]string)}
}

func (t *tokenTable) IssueHostToken(code string) (string, error) {
	token := uuid.NewString()
	t.mu.Lock()
	t.tokens[code] = token
	t.mu.Unlock()
	return token, nil
}

func (t *tokenTable) AuthorizeHost(code, token string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if want, ok := t.tokens[code]; !ok || token == "" || want != token {
		return ErrNotHost
	}
	return nil
}
