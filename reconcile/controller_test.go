package reconcile_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"chatmend/domain"
	"chatmend/policy"
	"chatmend/reconcile"
	"chatmend/store"
	"chatmend/tests/helpers"
)

// fakeView is a mock page adapter: the state machine is exercised without
// any HTML involved.
type fakeView struct {
	users      []string
	assistants []string
	warnings   map[int]bool
	retries    map[int]bool
}

func newFakeView(pairs ...string) *fakeView {
	v := &fakeView{
		warnings: make(map[int]bool),
		retries:  make(map[int]bool),
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.users = append(v.users, pairs[i])
		v.assistants = append(v.assistants, pairs[i+1])
	}
	return v
}

func (v *fakeView) Len() int              { return len(v.assistants) }
func (v *fakeView) UserText(i int) string { return v.users[i] }
func (v *fakeView) AssistantText(i int) string {
	if i < 0 || i >= len(v.assistants) {
		return ""
	}
	return v.assistants[i]
}
func (v *fakeView) HasWarning(i int) bool          { return v.warnings[i] }
func (v *fakeView) SetTurnText(i int, text string) { v.assistants[i] = text }
func (v *fakeView) ShowWarning(i int, text string) { v.warnings[i] = true }
func (v *fakeView) HideWarning(i int)              { v.warnings[i] = false }
func (v *fakeView) AppendRetry(i int)              { v.retries[i] = true }

type fakeRewriter struct {
	result     domain.RewriteResult
	credential bool
	calls      int
	started    chan struct{}
	block      chan struct{}
	lastInput  domain.History
}

func (r *fakeRewriter) Rewrite(ctx context.Context, history domain.History) domain.RewriteResult {
	r.calls++
	r.lastInput = history
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return r.result
}

func (r *fakeRewriter) HasCredential(ctx context.Context) bool { return r.credential }

func newController(t *testing.T, rw reconcile.Rewriter) (*reconcile.Controller, *store.SQLiteStore) {
	t.Helper()
	s := helpers.NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	assert.NoError(t, err)
	return reconcile.NewController(s, engine, rw), s
}

func detection(id string) domain.DetectionEvent {
	return domain.DetectionEvent{Type: domain.DetectionType, ConversationID: id}
}

func TestHandleReplacesCensoredTurn(t *testing.T) {
	rw := &fakeRewriter{
		result:     domain.RewriteResult{OK: true, Text: "Full answer."},
		credential: true,
	}
	ctl, s := newController(t, rw)
	view := newFakeView(
		"What is X?", "X is Y",
		"Tell me more", "I cannot discuss this sensitive topic.",
	)

	outcome, err := ctl.Handle(context.Background(), detection("abc-123"), view)
	assert.NoError(t, err)
	assert.True(t, outcome.Replaced)
	assert.Equal(t, "Full answer.", outcome.Text)
	assert.Equal(t, 1, outcome.Index)

	// rendered state
	assert.Equal(t, "Full answer.", view.AssistantText(1))
	assert.True(t, view.warnings[1])
	assert.True(t, view.retries[1])
	assert.False(t, view.warnings[0])

	// request history: alternating roles, length 4
	assert.Len(t, rw.lastInput, 4)
	assert.Equal(t, domain.RoleUser, rw.lastInput[0].Role)
	assert.Equal(t, domain.RoleAssistant, rw.lastInput[1].Role)
	assert.True(t, rw.lastInput[3].Censored)

	// persisted state
	persisted, err := s.History(context.Background(), "abc-123")
	assert.NoError(t, err)
	assert.Len(t, persisted, 4)
	assert.Equal(t, "Full answer.", persisted[3].Content)
	assert.True(t, persisted[3].Censored)
	assert.False(t, persisted[1].Censored)
}

func TestHandleRestoresOnEmptyReplacement(t *testing.T) {
	rw := &fakeRewriter{result: domain.RewriteResult{}, credential: true}
	ctl, s := newController(t, rw)
	view := newFakeView("Q", "I cannot answer that.")

	outcome, err := ctl.Handle(context.Background(), detection("abc-123"), view)
	assert.NoError(t, err)
	assert.False(t, outcome.Replaced)

	// pre-request content reverted, banner absent, retry attached
	assert.Equal(t, "I cannot answer that.", view.AssistantText(0))
	assert.False(t, view.warnings[0])
	assert.True(t, view.retries[0])

	persisted, err := s.History(context.Background(), "abc-123")
	assert.NoError(t, err)
	assert.Len(t, persisted, 2)
	assert.False(t, persisted[1].Censored)
}

func TestHandleRestoresOnProviderFailure(t *testing.T) {
	rw := &fakeRewriter{
		result:     domain.RewriteResult{Reason: "provider error [502]: upstream down"},
		credential: true,
	}
	ctl, _ := newController(t, rw)
	view := newFakeView("Q", "I cannot answer that.")

	outcome, err := ctl.Handle(context.Background(), detection("abc-123"), view)
	assert.NoError(t, err)
	assert.False(t, outcome.Replaced)
	assert.Equal(t, "provider error [502]: upstream down", outcome.Reason)
	assert.Equal(t, "I cannot answer that.", view.AssistantText(0))
}

func TestHandleManualRetryScope(t *testing.T) {
	rw := &fakeRewriter{
		result:     domain.RewriteResult{OK: true, Text: "Replacement for turn 0."},
		credential: true,
	}
	ctl, s := newController(t, rw)
	view := newFakeView(
		"first question", "first answer",
		"second question", "second answer",
	)

	index := 0
	ev := domain.DetectionEvent{
		Type:           domain.DetectionType,
		ConversationID: "abc-123",
		Index:          &index,
		Manual:         true,
	}

	outcome, err := ctl.Handle(context.Background(), ev, view)
	assert.NoError(t, err)
	assert.True(t, outcome.Replaced)
	assert.Equal(t, 0, outcome.Index)

	// later turns untouched
	assert.Equal(t, "Replacement for turn 0.", view.AssistantText(0))
	assert.Equal(t, "second answer", view.AssistantText(1))
	assert.False(t, view.warnings[1])

	persisted, err := s.History(context.Background(), "abc-123")
	assert.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestHandleEchoesCleanContent(t *testing.T) {
	rw := &fakeRewriter{credential: true}
	ctl, _ := newController(t, rw)
	view := newFakeView("Q", "Paris is the capital of France")

	outcome, err := ctl.Handle(context.Background(), detection("abc-123"), view)
	assert.NoError(t, err)
	assert.True(t, outcome.Replaced)
	assert.Equal(t, "Paris is the capital of France", outcome.Text)
	assert.Equal(t, 0, rw.calls, "clean content must not reach the provider")
}

func TestHandleSkipsWithoutCredential(t *testing.T) {
	rw := &fakeRewriter{}
	ctl, _ := newController(t, rw)
	view := newFakeView("Q", "I cannot answer that.")

	outcome, err := ctl.Handle(context.Background(), detection("abc-123"), view)
	assert.NoError(t, err)
	assert.False(t, outcome.Replaced)
	assert.Contains(t, outcome.Reason, "credential")
	assert.Equal(t, 0, rw.calls)
	assert.Equal(t, "I cannot answer that.", view.AssistantText(0))
}

func TestHandleIgnoresWrongDiscriminator(t *testing.T) {
	rw := &fakeRewriter{credential: true}
	ctl, _ := newController(t, rw)
	view := newFakeView("Q", "I cannot answer that.")

	outcome, err := ctl.Handle(context.Background(),
		domain.DetectionEvent{Type: "something-else", ConversationID: "abc-123"}, view)
	assert.NoError(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, "I cannot answer that.", view.AssistantText(0))
}

func TestHandleSingleFlightPerConversation(t *testing.T) {
	rw := &fakeRewriter{
		result:     domain.RewriteResult{OK: true, Text: "late answer"},
		credential: true,
		started:    make(chan struct{}, 1),
		block:      make(chan struct{}),
	}
	ctl, _ := newController(t, rw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		view := newFakeView("Q", "I cannot answer that.")
		_, _ = ctl.Handle(context.Background(), detection("abc-123"), view)
	}()

	// Wait until the first run is parked inside the rewriter.
	<-rw.started

	view := newFakeView("Q", "I cannot answer that.")
	_, err := ctl.Handle(context.Background(), detection("abc-123"), view)
	assert.ErrorIs(t, err, reconcile.ErrInFlight)

	// A different conversation is not blocked.
	other := newFakeView("Q", "Paris is the capital of France")
	_, err = ctl.Handle(context.Background(), detection("def-456"), other)
	assert.NoError(t, err)

	close(rw.block)
	<-done
}

func TestHandleNegativeIndexRejected(t *testing.T) {
	rw := &fakeRewriter{credential: true}
	ctl, _ := newController(t, rw)
	view := newFakeView("Q", "I cannot answer that.")

	for _, index := range []int{-1, -2, -100} {
		ev := domain.DetectionEvent{
			Type:           domain.DetectionType,
			ConversationID: "abc-123",
			Index:          &index,
			Manual:         true,
		}
		_, err := ctl.Handle(context.Background(), ev, view)
		assert.ErrorIs(t, err, reconcile.ErrNoTurns, "index %d", index)
	}
	assert.Equal(t, 0, rw.calls)
	assert.Equal(t, "I cannot answer that.", view.AssistantText(0))
}

func TestHandleNoTurns(t *testing.T) {
	rw := &fakeRewriter{credential: true}
	ctl, _ := newController(t, rw)

	_, err := ctl.Handle(context.Background(), detection("abc-123"), newFakeView())
	assert.ErrorIs(t, err, reconcile.ErrNoTurns)
}
