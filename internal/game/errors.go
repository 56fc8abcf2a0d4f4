package game

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the package wraps exactly one of these
// (or is ErrNotHost), so transports can switch on errors.Is.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrStoreFailure      = errors.New("store failure")
	ErrStaleOperation    = errors.New("stale operation")
	ErrNotHost           = errors.New("not host")
)

var (
	ErrSessionNotFound   = fmt.Errorf("session %w", ErrNotFound)
	ErrPlayerNotFound    = fmt.Errorf("player %w", ErrNotFound)
	ErrAlreadyStarted    = fmt.Errorf("session already started: %w", ErrInvalidTransition)
	ErrNotInLobby        = fmt.Errorf("session not in lobby: %w", ErrInvalidTransition)
	ErrRoundClosed       = fmt.Errorf("round closed: %w", ErrInvalidTransition)
	ErrNotInVotingWindow = fmt.Errorf("not in voting window: %w", ErrInvalidTransition)
	ErrGameFinished      = fmt.Errorf("game finished: %w", ErrInvalidTransition)

	ErrNameTaken         = fmt.Errorf("name taken: %w", ErrValidation)
	ErrInvalidName       = fmt.Errorf("invalid name: %w", ErrValidation)
	ErrSessionFull       = fmt.Errorf("session full: %w", ErrValidation)
	ErrAnswerTooLong     = fmt.Errorf("answer too long: %w", ErrValidation)
	ErrInvalidQuestion   = fmt.Errorf("malformed question: %w", ErrValidation)
	ErrNoQuestions       = fmt.Errorf("no questions: %w", ErrValidation)
	ErrNoPlayers         = fmt.Errorf("no players: %w", ErrValidation)
	ErrInvalidPrize      = fmt.Errorf("invalid prize: %w", ErrValidation)
	ErrInvalidVoteTarget = fmt.Errorf("vote target not eliminated this round: %w", ErrValidation)
	ErrVoterNotActive    = fmt.Errorf("voter not active: %w", ErrValidation)

	ErrConflict     = fmt.Errorf("version conflict: %w", ErrStoreFailure)
	ErrRoundStalled = fmt.Errorf("round stalled: %w", ErrStoreFailure)
)
