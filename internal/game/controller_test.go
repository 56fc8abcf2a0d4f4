package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func start(t *testing.T, h *harness, code, token string, questions int) {
	t.Helper()
	err := h.ctrl.StartSession(context.Background(), code, token, testQuestions(questions), prize(100), prize(50))
	require.NoError(t, err)
}

func TestTwoCorrectTwoWrongOnTimeout(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben", "Cid", "Dee")
	start(t, h, code, token, 3)

	s := h.snapshot(t, code)
	require.Equal(t, PhaseRoundOpen, s.Phase)
	require.Equal(t, 1, s.Round)
	require.Equal(t, 1, h.rec.count(EventRoundOpened))

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "b"))

	h.clock.Advance(15 * time.Second)
	h.waitFor(t, code, PhaseRoundScoring, 1)

	s = h.snapshot(t, code)
	assert.Equal(t, 100, s.Player(ids[0]).Score)
	assert.Equal(t, 100, s.Player(ids[1]).Score)
	assert.True(t, s.Player(ids[2]).IsEliminated)
	assert.True(t, s.Player(ids[3]).IsEliminated)
	assert.Equal(t, 0, s.Player(ids[3]).Score)
	assert.Equal(t, 2, h.rec.count(EventPlayerEliminated))

	closed, ok := h.rec.last(EventRoundClosed).(RoundClosedPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"Ann", "Ben"}, closed.Survivors)
	assert.Equal(t, []string{"Cid", "Dee"}, closed.Eliminated)

	// results pause over, no redemption configured
	h.clock.Advance(5 * time.Second)
	h.waitFor(t, code, PhaseRoundOpen, 2)

	s = h.snapshot(t, code)
	assert.Equal(t, 1, s.QuestionIx)
	assert.True(t, s.PrizePool.Equal(prize(150)), "prize pool %s", s.PrizePool)
	assert.Len(t, s.ActiveAtOpen, 2)
	for _, p := range s.Players {
		assert.False(t, p.HasAnswered)
		assert.Nil(t, p.LastAnswer)
	}
	assert.Zero(t, h.rec.count(EventVotingOpened))
}

func TestRoundClosesEarlyWhenAllActiveAnswered(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 2)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.Equal(t, PhaseRoundOpen, h.snapshot(t, code).Phase)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "a"))
	s := h.snapshot(t, code)
	require.Equal(t, PhaseRoundScoring, s.Phase)
	assert.Empty(t, s.Eliminated)
	assert.Equal(t, 1, h.rec.count(EventRoundClosed))
}

func TestRedemptionByMajority(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(true))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 3)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "b"))
	require.Equal(t, PhaseRoundScoring, h.snapshot(t, code).Phase)

	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))
	require.Equal(t, PhaseVotingOpen, h.snapshot(t, code).Phase)
	opened, ok := h.rec.last(EventVotingOpened).(VotingOpenedPayload)
	require.True(t, ok)
	require.Equal(t, []Candidate{{PlayerID: ids[2], PlayerName: "Cid"}}, opened.EliminatedCandidates)

	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[0], ids[2]))
	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[1], ids[2]))

	counts, err := h.ctrl.Votes(ctx, code, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ids[2]: 2}, counts)

	h.clock.Advance(10 * time.Second)
	h.waitFor(t, code, PhaseRoundOpen, 2)

	s := h.snapshot(t, code)
	assert.False(t, s.Player(ids[2]).IsEliminated)
	assert.Len(t, s.ActiveAtOpen, 3)
	assert.Equal(t, 0, s.Player(ids[2]).Score)

	applied, ok := h.rec.last(EventRedemptionApplied).(RedemptionAppliedPayload)
	require.True(t, ok)
	assert.Equal(t, "Cid", applied.PlayerName)
	assert.Equal(t, map[string]int{"Cid": 2}, applied.Tally)

	names := h.rec.names()
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, []string{EventRedemptionApplied, EventRoundOpened}, names[len(names)-2:])
}

func TestRedemptionTieRedeemsNobody(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(true))
	ids := h.join(t, code, "Ann", "Ben", "Cid", "Dee")
	start(t, h, code, token, 3)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "b"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[3], "c"))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))

	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[0], ids[2]))
	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[1], ids[3]))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))

	s := h.snapshot(t, code)
	require.Equal(t, PhaseRoundOpen, s.Phase)
	require.Equal(t, 2, s.Round)
	assert.True(t, s.Player(ids[2]).IsEliminated)
	assert.True(t, s.Player(ids[3]).IsEliminated)
	assert.Len(t, s.ActiveAtOpen, 2)

	applied, ok := h.rec.last(EventRedemptionApplied).(RedemptionAppliedPayload)
	require.True(t, ok)
	assert.Empty(t, applied.PlayerName)
}

func TestVoteRules(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(true))
	ids := h.join(t, code, "Ann", "Ben", "Cid", "Dee")
	start(t, h, code, token, 3)

	require.ErrorIs(t, h.ctrl.CastVote(ctx, code, ids[0], ids[2]), ErrNotInVotingWindow)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "b"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[3], "b"))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))

	err := h.ctrl.CastVote(ctx, code, ids[2], ids[3])
	require.ErrorIs(t, err, ErrVoterNotActive)
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, h.ctrl.CastVote(ctx, code, ids[0], ids[1]), ErrInvalidVoteTarget)
	require.ErrorIs(t, h.ctrl.CastVote(ctx, code, "nobody", ids[2]), ErrPlayerNotFound)

	// the later vote replaces the earlier one
	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[0], ids[2]))
	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[0], ids[3]))
	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[1], ids[3]))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))

	s := h.snapshot(t, code)
	assert.True(t, s.Player(ids[2]).IsEliminated)
	assert.False(t, s.Player(ids[3]).IsEliminated)
}

func TestSoleSurvivorFinishesImmediately(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(true))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 5)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "b"))
	h.clock.Advance(15 * time.Second)
	h.waitFor(t, code, PhaseFinished, 1)

	s := h.snapshot(t, code)
	assert.Equal(t, StatusFinished, s.Status)
	require.Len(t, s.Ranking, 3)
	assert.Equal(t, "Ann", s.Ranking[0].Name)
	assert.True(t, s.Ranking[0].Active)
	assert.Equal(t, "Ben", s.Ranking[1].Name)
	assert.Equal(t, "Cid", s.Ranking[2].Name)
	assert.Zero(t, h.rec.count(EventVotingOpened))
	assert.Equal(t, 1, h.rec.count(EventGameFinished))

	ranking, err := h.ctrl.Ranking(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, s.Ranking, ranking)
}

func TestPrizePoolGrowsEachRound(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben")
	start(t, h, code, token, 3)

	want := []int64{100, 150, 200}
	for i, w := range want {
		s := h.snapshot(t, code)
		require.Equal(t, StatusActive, s.Status)
		require.Equal(t, i, s.QuestionIx)
		require.True(t, s.PrizePool.Equal(prize(w)), "round %d prize %s", i+1, s.PrizePool)
		require.True(t, s.QuestionIx >= 0 && s.QuestionIx < len(s.Questions))

		opened, ok := h.rec.last(EventRoundOpened).(RoundOpenedPayload)
		require.True(t, ok)
		require.True(t, opened.PrizePool.Equal(prize(w)))
		require.Equal(t, fmt.Sprintf("q%d", i+1), opened.Question.ID)

		require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
		require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
		if i < len(want)-1 {
			require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))
		}
	}

	s := h.snapshot(t, code)
	require.Equal(t, StatusFinished, s.Status)
	assert.True(t, s.PrizePool.Equal(prize(200)))
	assert.Equal(t, 300, s.Player(ids[0]).Score)

	finished, ok := h.rec.last(EventGameFinished).(GameFinishedPayload)
	require.True(t, ok)
	assert.Equal(t, 3, finished.Rounds)
	assert.Equal(t, "Ann", finished.Ranking[0].Name)
}

func TestStaleTimerIsNoop(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 3)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))
	before := h.snapshot(t, code)
	require.Equal(t, PhaseRoundScoring, before.Phase)

	h.ctrl.onTimer(code, PhaseRoundOpen, 1)
	h.ctrl.onTimer(code, PhaseRoundOpen, 1)

	after := h.snapshot(t, code)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 100, after.Player(ids[0]).Score)
	assert.Equal(t, 1, h.rec.count(EventRoundClosed))
	assert.Equal(t, 1, h.rec.count(EventPlayerEliminated))
}

func TestStoreFailureStallsUntilHostAdvances(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 3)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))

	h.store.failNext(2)
	h.clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return h.snapshot(t, code).Stalled }, time.Second, 5*time.Millisecond)

	s := h.snapshot(t, code)
	assert.Equal(t, PhaseRoundOpen, s.Phase)
	assert.False(t, s.Player(ids[2]).IsEliminated)
	assert.Zero(t, h.rec.count(EventRoundClosed))
	stalled, ok := h.rec.last(EventRoundStalled).(RoundStalledPayload)
	require.True(t, ok)
	assert.Equal(t, 1, stalled.Round)
	assert.Equal(t, PhaseRoundOpen, stalled.Phase)

	require.ErrorIs(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "a"), ErrRoundClosed)

	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))
	s = h.snapshot(t, code)
	assert.False(t, s.Stalled)
	assert.Equal(t, PhaseRoundScoring, s.Phase)
	assert.True(t, s.Player(ids[2]).IsEliminated)
	assert.Equal(t, 1, h.rec.count(EventRoundClosed))
}

func TestHostAdvanceFailureReportsStall(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	h.join(t, code, "Ann", "Ben")
	start(t, h, code, token, 3)

	h.store.failNext(2)
	err := h.ctrl.ForceAdvance(ctx, code, token)
	require.ErrorIs(t, err, ErrRoundStalled)
	require.ErrorIs(t, err, ErrStoreFailure)
	assert.True(t, h.snapshot(t, code).Stalled)
}

func TestSubmitAnswerStoreFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben")
	start(t, h, code, token, 3)

	h.store.failNext(1)
	require.ErrorIs(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"), ErrStoreFailure)
	s := h.snapshot(t, code)
	assert.False(t, s.Player(ids[0]).HasAnswered)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	assert.True(t, h.snapshot(t, code).Player(ids[0]).HasAnswered)
}

func TestIgnoredAndRejectedAnswers(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben", "Cid")

	require.ErrorIs(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"), ErrRoundClosed)
	start(t, h, code, token, 3)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "b"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	s := h.snapshot(t, code)
	require.NotNil(t, s.Player(ids[0]).LastAnswer)
	assert.Equal(t, "b", s.Player(ids[0]).LastAnswer.Value)
	assert.Equal(t, "q1", s.Player(ids[0]).LastAnswer.QuestionID)

	require.ErrorIs(t, h.ctrl.SubmitAnswer(ctx, code, "ghost", "a"), ErrPlayerNotFound)
	long := make([]byte, 201)
	for i := range long {
		long[i] = 'x'
	}
	require.ErrorIs(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], string(long)), ErrAnswerTooLong)

	// Ann is out after the close; her answers in the next round are dropped
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "a"))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))
	s = h.snapshot(t, code)
	require.Equal(t, 2, s.Round)
	require.True(t, s.Player(ids[0]).IsEliminated)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	assert.False(t, h.snapshot(t, code).Player(ids[0]).HasAnswered)
}

func TestFinishedSessionRejectsCommands(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben")
	start(t, h, code, token, 1)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.Equal(t, StatusFinished, h.snapshot(t, code).Status)

	require.ErrorIs(t, h.ctrl.ForceAdvance(ctx, code, token), ErrGameFinished)
	require.ErrorIs(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"), ErrGameFinished)
	require.ErrorIs(t, h.ctrl.CastVote(ctx, code, ids[0], ids[1]), ErrGameFinished)
	_, err := h.ctrl.Join(ctx, code, "Eve")
	require.ErrorIs(t, err, ErrGameFinished)
	err = h.ctrl.StartSession(ctx, code, token, testQuestions(1), prize(1), prize(1))
	require.ErrorIs(t, err, ErrGameFinished)
}

func TestStartSessionValidation(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))

	err := h.ctrl.StartSession(ctx, code, token, testQuestions(2), prize(100), prize(10))
	require.ErrorIs(t, err, ErrNoPlayers)

	h.join(t, code, "Ann")
	require.ErrorIs(t, h.ctrl.StartSession(ctx, code, "bogus", testQuestions(2), prize(100), prize(10)), ErrNotHost)
	require.ErrorIs(t, h.ctrl.StartSession(ctx, code, token, nil, prize(100), prize(10)), ErrNoQuestions)

	bad := testQuestions(2)
	bad[1].Correct = "z"
	err = h.ctrl.StartSession(ctx, code, token, bad, prize(100), prize(10))
	require.ErrorIs(t, err, ErrInvalidQuestion)
	require.ErrorIs(t, err, ErrValidation)

	require.ErrorIs(t, h.ctrl.StartSession(ctx, code, token, testQuestions(2), prize(-1), prize(10)), ErrInvalidPrize)

	require.NoError(t, h.ctrl.StartSession(ctx, code, token, testQuestions(2), prize(100), prize(10)))
	require.ErrorIs(t, h.ctrl.StartSession(ctx, code, token, testQuestions(2), prize(100), prize(10)), ErrAlreadyStarted)

	_, err = h.ctrl.Join(ctx, code, "Late")
	require.ErrorIs(t, err, ErrNotInLobby)
}

func TestJoin(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(false)
	cfg.MaxPlayers = 2
	h, code, _ := newHarness(t, cfg)

	id, err := h.ctrl.Join(ctx, code, "  Ann ")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, "Ann", h.snapshot(t, code).Player(id).Name)

	_, err = h.ctrl.Join(ctx, code, "ann")
	require.ErrorIs(t, err, ErrNameTaken)
	_, err = h.ctrl.Join(ctx, code, "   ")
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = h.ctrl.Join(ctx, "zzzzzz", "Ben")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, err, ErrNotFound)

	// codes are case-insensitive
	_, err = h.ctrl.Join(ctx, fmt.Sprintf(" %s ", strings.ToLower(code)), "Ben")
	require.NoError(t, err)

	_, err = h.ctrl.Join(ctx, code, "Cid")
	require.ErrorIs(t, err, ErrSessionFull)

	s := h.snapshot(t, code)
	require.Len(t, s.Players, 2)
	assert.Equal(t, 1, s.Players[0].Seq)
	assert.Equal(t, 2, s.Players[1].Seq)
	assert.Equal(t, 2, h.rec.count(EventPlayerJoined))
}

func TestConcurrentAnswersCloseRoundOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(false)
	cfg.MaxPlayers = 50
	h, code, token := newHarness(t, cfg)
	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("P%02d", i)
	}
	ids := h.join(t, code, names...)
	start(t, h, code, token, 3)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			answer := "a"
			if i%4 == 0 {
				answer = "b"
			}
			assert.NoError(t, h.ctrl.SubmitAnswer(ctx, code, id, answer))
		}(i, id)
	}
	wg.Wait()

	s := h.snapshot(t, code)
	require.Equal(t, PhaseRoundScoring, s.Phase)
	assert.Equal(t, 1, h.rec.count(EventRoundClosed))
	assert.Len(t, s.Eliminated, 5)
	assert.Len(t, s.ActivePlayers(), 15)
}

func TestRehydratedSessionIsStalledUntilAdvanced(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	hosts := newTokenTable()
	clock := clockTimers{clock: newFakeClock()}
	opts := Options{Defaults: testConfig(false)}

	first := NewController(store, nil, clock, hosts, opts)
	code, token, err := first.CreateSession(ctx, nil)
	require.NoError(t, err)
	a, err := first.Join(ctx, code, "Ann")
	require.NoError(t, err)
	_, err = first.Join(ctx, code, "Ben")
	require.NoError(t, err)
	require.NoError(t, first.StartSession(ctx, code, token, testQuestions(2), prize(10), prize(5)))
	require.NoError(t, first.SubmitAnswer(ctx, code, a, "a"))
	first.Shutdown()

	second := NewController(store, nil, clock, hosts, opts)
	s, err := second.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.True(t, s.Stalled)
	assert.Equal(t, PhaseRoundOpen, s.Phase)
	require.Len(t, s.Players, 2)
	assert.Equal(t, "Ann", s.Players[0].Name)
	assert.True(t, s.Players[0].HasAnswered)

	require.NoError(t, second.ForceAdvance(ctx, code, token))
	s, err = second.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.False(t, s.Stalled)
	assert.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, "Ann", s.Ranking[0].Name)
}

func TestOnFinishedHook(t *testing.T) {
	ctx := context.Background()
	done := make(chan *GameSession, 1)
	ctrl := NewController(newFakeStore(), nil, clockTimers{clock: newFakeClock()}, nil, Options{
		Defaults:   testConfig(false),
		OnFinished: func(s *GameSession) { done <- s },
	})
	code, token, err := ctrl.CreateSession(ctx, nil)
	require.NoError(t, err)
	id, err := ctrl.Join(ctx, code, "Solo")
	require.NoError(t, err)
	require.NoError(t, ctrl.StartSession(ctx, code, token, testQuestions(3), prize(10), prize(5)))
	require.NoError(t, ctrl.SubmitAnswer(ctx, code, id, "a"))

	select {
	case s := <-done:
		assert.Equal(t, code, s.Code)
		assert.Equal(t, StatusFinished, s.Status)
	case <-time.After(time.Second):
		t.Fatal("OnFinished was not called")
	}
}

func TestFailedCommitLeavesStoreAtPreviousState(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(false))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 3)
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))

	h.store.failNext(2)
	require.ErrorIs(t, h.ctrl.ForceAdvance(ctx, code, token), ErrRoundStalled)

	rows, err := h.store.LoadPlayers(ctx, h.snapshot(t, code).ID)
	require.NoError(t, err)
	for _, p := range rows {
		assert.False(t, p.IsEliminated, "player row %s written by a failed commit", p.Name)
		assert.Zero(t, p.Score)
	}

	// drop the live copy so the next read comes from the store
	h.ctrl.Rooms().Remove(code)
	s := h.snapshot(t, code)
	assert.True(t, s.Stalled)
	assert.Equal(t, PhaseRoundOpen, s.Phase)
	assert.Equal(t, 1, s.Round)
	assert.Zero(t, s.Player(ids[0]).Score)
	assert.Zero(t, s.Player(ids[1]).Score)
	assert.False(t, s.Player(ids[2]).IsEliminated)

	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))
	s = h.snapshot(t, code)
	assert.Equal(t, PhaseRoundScoring, s.Phase)
	assert.Equal(t, 100, s.Player(ids[0]).Score)
	assert.Equal(t, 100, s.Player(ids[1]).Score)
	assert.True(t, s.Player(ids[2]).IsEliminated)
}

func TestPartialConfigKeepsDefaults(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newHarness(t, testConfig(true))

	answerTime := 20
	code, _, err := h.ctrl.CreateSession(ctx, &ConfigOverrides{AnswerTime: &answerTime})
	require.NoError(t, err)
	cfg := h.snapshot(t, code).Config
	assert.Equal(t, 20, cfg.AnswerTime)
	assert.Equal(t, 10, cfg.VoteTime)
	assert.Equal(t, 5, cfg.ResultsTime)
	assert.True(t, cfg.Redemption)
	assert.Equal(t, 10, cfg.MaxPlayers)

	off, zero := false, 0
	code, _, err = h.ctrl.CreateSession(ctx, &ConfigOverrides{Redemption: &off, ResultsTime: &zero})
	require.NoError(t, err)
	cfg = h.snapshot(t, code).Config
	assert.Equal(t, 15, cfg.AnswerTime)
	assert.Equal(t, 0, cfg.ResultsTime)
	assert.False(t, cfg.Redemption)
}

func TestLastRedemptionLastsOneRound(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(true))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 3)

	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "b"))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))
	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[0], ids[2]))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))

	s := h.snapshot(t, code)
	require.Equal(t, 2, s.Round)
	assert.Equal(t, "Cid", s.LastRedemption)
	assert.Equal(t, "Cid", s.View().LastRedemption)
	opened, ok := h.rec.last(EventRoundOpened).(RoundOpenedPayload)
	require.True(t, ok)
	assert.Equal(t, "Cid", opened.Redeemed)

	for _, id := range ids {
		require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, id, "a"))
	}
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))

	s = h.snapshot(t, code)
	require.Equal(t, 3, s.Round)
	assert.Empty(t, s.LastRedemption)
	opened, ok = h.rec.last(EventRoundOpened).(RoundOpenedPayload)
	require.True(t, ok)
	assert.Empty(t, opened.Redeemed)
}

func TestCastVoteStoreFailureCountsNothing(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(true))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 3)
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[0], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[1], "a"))
	require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, ids[2], "b"))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))
	sessionID := h.snapshot(t, code).ID

	h.store.failNext(1)
	require.ErrorIs(t, h.ctrl.CastVote(ctx, code, ids[0], ids[2]), ErrStoreFailure)

	counts, err := h.ctrl.Votes(ctx, code, 1)
	require.NoError(t, err)
	assert.Empty(t, counts)
	stored, err := h.store.TallyVotes(ctx, sessionID, 1)
	require.NoError(t, err)
	assert.Empty(t, stored)

	require.NoError(t, h.ctrl.CastVote(ctx, code, ids[1], ids[2]))
	require.NoError(t, h.ctrl.ForceAdvance(ctx, code, token))

	counts, err = h.ctrl.Votes(ctx, code, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ids[2]: 1}, counts)
}

func TestEveryoneWrongFinishesGame(t *testing.T) {
	ctx := context.Background()
	h, code, token := newHarness(t, testConfig(true))
	ids := h.join(t, code, "Ann", "Ben", "Cid")
	start(t, h, code, token, 3)

	for _, id := range ids {
		require.NoError(t, h.ctrl.SubmitAnswer(ctx, code, id, "b"))
	}

	s := h.snapshot(t, code)
	assert.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, PhaseFinished, s.Phase)
	assert.Equal(t, 1, s.Round)
	assert.Empty(t, s.ActivePlayers())
	require.Len(t, s.Ranking, 3)
	for i, r := range s.Ranking {
		assert.False(t, r.Active)
		assert.Equal(t, []string{"Ann", "Ben", "Cid"}[i], r.Name)
	}
	assert.Zero(t, h.rec.count(EventVotingOpened))
	assert.Equal(t, 1, h.rec.count(EventGameFinished))
}
