package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planforge/pkg/agent/llmerrors"
	"planforge/pkg/clarify"
	"planforge/pkg/compose"
	"planforge/pkg/config"
	"planforge/pkg/gateway"
	"planforge/pkg/plan"
	"planforge/pkg/scaffold"
)

const farmPitch = "a cozy farming sim with seasonal events"

func planReply(t *testing.T) string {
	t.Helper()
	sections := map[string]any{}
	for _, s := range plan.Sections() {
		sections[string(s)] = map[string]any{"summary": string(s) + " plan", "items": []string{string(s) + " step"}}
	}
	data, err := json.Marshal(map[string]any{
		"project_name": "Cozy Farm",
		"summary":      "Seasonal farming sim",
		"goals":        []string{"relaxing loop"},
		"sections":     sections,
	})
	require.NoError(t, err)
	return string(data)
}

func questionsReply(qs ...string) string {
	data, _ := json.Marshal(map[string]any{"questions": qs})
	return string(data)
}

type fakeScaffolder struct {
	mu    sync.Mutex
	calls int
	notes []string
	err   error
	path  string
}

func (f *fakeScaffolder) Materialize(_ context.Context, p plan.Plan, notes []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.notes = notes
	if f.err != nil {
		return "", f.err
	}
	if f.path != "" {
		return f.path, nil
	}
	return "/out/" + plan.Slug(p.ProjectName), nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []string
	rejections  []Kind
}

func (r *fakeRecorder) ObserveTransition(trigger Trigger, from, to State, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, string(from)+">"+string(to))
}

func (r *fakeRecorder) ObserveRejection(_ Trigger, _ State, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, kind)
}

type harness struct {
	script     *gateway.Script
	scaffolder *fakeScaffolder
	recorder   *fakeRecorder
	orch       *Orchestrator
}

func newHarness(steps ...gateway.Step) *harness {
	return newHarnessWithStore(NewStore(), steps...)
}

func newHarnessWithStore(store *Store, steps ...gateway.Step) *harness {
	h := &harness{
		script:     gateway.NewScript(steps...),
		scaffolder: &fakeScaffolder{},
		recorder:   &fakeRecorder{},
	}
	h.orch = NewOrchestrator(
		store,
		clarify.New(h.script, config.ClarifyConfig{MaxQuestions: 3, MaxPitchTokens: 2000}),
		compose.New(h.script),
		h.scaffolder,
		WithRecorder(h.recorder),
	)
	return h
}

// awaitingApproval drives a fresh session to AWAITING_APPROVAL.
func awaitingApproval(t *testing.T, h *harness) Session {
	t.Helper()
	h.script.Push(gateway.Reply(questionsReply("Which platforms?")), gateway.Reply(planReply(t)))
	s, err := h.orch.Create(context.Background(), farmPitch)
	require.NoError(t, err)
	s, err = h.orch.SubmitAnswers(context.Background(), s.ID, []string{"mobile"})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingApproval, s.State)
	return s
}

func TestCozyFarmScenario(t *testing.T) {
	h := newHarness(
		gateway.Reply(questionsReply("Which platforms?", "Monetization model?")),
		gateway.Reply(planReply(t)),
		gateway.Reply(`{"acknowledgement": "Softened early seasons", "plan": {"sections": {"delivery": {"summary": "Gentler difficulty curve", "items": ["tune spring"]}}}}`),
	)
	ctx := context.Background()

	s, err := h.orch.Create(ctx, farmPitch)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingAnswers, s.State)
	assert.LessOrEqual(t, len(s.Clarifications), 3)
	assert.Nil(t, s.Plan)

	s, err = h.orch.SubmitAnswers(ctx, s.ID, []string{"iOS and Android", "premium"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, s.State)
	assert.Len(t, s.Answers, len(s.Clarifications))
	require.NotNil(t, s.Plan)
	for _, name := range []plan.SectionName{plan.Architecture, plan.Testing, plan.Deployment, plan.Operations} {
		assert.False(t, s.Plan.Sections[name].IsEmpty(), "section %s", name)
	}
	assert.Contains(t, s.LastAcknowledgement, "Cozy Farm")

	s, err = h.orch.SubmitRevision(ctx, s.ID, []string{"lower difficulty curve"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, s.State)
	assert.Contains(t, s.LastAcknowledgement, "lower difficulty curve")
	assert.Contains(t, s.LastAcknowledgement, "delivery")
	require.Len(t, s.RevisionHistory, 1)
	assert.Equal(t, s.LastAcknowledgement, s.RevisionHistory[0].Acknowledgement)

	s, err = h.orch.Approve(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, s.State)
	assert.NotEmpty(t, s.RepoPath)

	assert.Equal(t, []string{
		"CREATED>AWAITING_ANSWERS",
		"AWAITING_ANSWERS>AWAITING_APPROVAL",
		"AWAITING_APPROVAL>AWAITING_APPROVAL",
		"AWAITING_APPROVAL>APPROVED",
	}, h.recorder.transitions)
}

func TestZeroQuestionsFlow(t *testing.T) {
	h := newHarness(gateway.Reply(questionsReply()), gateway.Reply(planReply(t)))
	ctx := context.Background()

	s, err := h.orch.Create(ctx, farmPitch)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingAnswers, s.State)
	assert.NotNil(t, s.Clarifications)
	assert.Empty(t, s.Clarifications)

	s, err = h.orch.SubmitAnswers(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, s.State)
	assert.Empty(t, s.Answers)
}

func TestCreateRejectsEmptyPitch(t *testing.T) {
	h := newHarness()
	_, err := h.orch.Create(context.Background(), "  \t ")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.ErrorIs(t, err, clarify.ErrEmptyPitch)
	assert.Equal(t, 0, h.script.Calls())
	assert.Equal(t, 0, h.orch.Store().Len())
}

func TestGatewayFailureOnCreateIsRetriable(t *testing.T) {
	gwErr := llmerrors.NewError(llmerrors.ErrorTypeTransient, "backend unavailable")
	h := newHarness(gateway.Fail(gwErr))
	ctx := context.Background()

	s, err := h.orch.Create(ctx, farmPitch)
	require.Error(t, err)
	assert.Equal(t, KindCollaborator, KindOf(err))
	var llmErr *llmerrors.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Same(t, gwErr, llmErr)

	require.NotEmpty(t, s.ID)
	assert.Equal(t, StateCreated, s.State)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, s.ID, se.SessionID)

	h.script.Push(gateway.Reply(questionsReply("Which platforms?")))
	s, err = h.orch.Clarify(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingAnswers, s.State)
	assert.Equal(t, farmPitch, s.Pitch)
}

func TestAnswerCountMismatch(t *testing.T) {
	h := newHarness(gateway.Reply(questionsReply("a?", "b?")))
	ctx := context.Background()
	s, err := h.orch.Create(ctx, farmPitch)
	require.NoError(t, err)

	for _, answers := range [][]string{nil, {"one"}, {"one", "two", "three"}} {
		_, err = h.orch.SubmitAnswers(ctx, s.ID, answers)
		assert.Equal(t, KindValidation, KindOf(err))
		assert.ErrorIs(t, err, compose.ErrAnswerMismatch)
	}

	got, err := h.orch.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingAnswers, got.State)
	assert.Nil(t, got.Answers)
	assert.Equal(t, 1, h.script.Calls(), "composer must not be called")
}

func TestEmptyRevisionNotesNeverReachComposer(t *testing.T) {
	h := newHarness()
	s := awaitingApproval(t, h)
	calls := h.script.Calls()

	for _, notes := range [][]string{nil, {}, {"  "}} {
		_, err := h.orch.SubmitRevision(context.Background(), s.ID, notes)
		assert.Equal(t, KindValidation, KindOf(err))
		assert.ErrorIs(t, err, compose.ErrNoNotes)
	}
	assert.Equal(t, calls, h.script.Calls())

	got, err := h.orch.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Plan, got.Plan)
	assert.Empty(t, got.RevisionHistory)
}

func TestRevisionFailureIsAtomic(t *testing.T) {
	h := newHarness()
	s := awaitingApproval(t, h)
	h.script.Push(gateway.Reply("not json at all"))

	_, err := h.orch.SubmitRevision(context.Background(), s.ID, []string{"add co-op"})
	assert.Equal(t, KindCollaborator, KindOf(err))
	assert.ErrorIs(t, err, compose.ErrMalformedResponse)

	got, err := h.orch.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Plan, got.Plan)
	assert.Equal(t, s.LastAcknowledgement, got.LastAcknowledgement)
	assert.Equal(t, StateAwaitingApproval, got.State)
}

func TestLeaderboardRevisionIsIdempotentSafe(t *testing.T) {
	h := newHarness()
	s := awaitingApproval(t, h)
	reply := `{"acknowledgement": "Added a leaderboard", "plan": {"sections": {
		"architecture": {"summary": "Adds a leaderboard service", "items": ["leaderboard api"]},
		"leaderboard": {"summary": "scores"}
	}}}`
	h.script.Push(gateway.Reply(reply), gateway.Reply(reply))
	ctx := context.Background()
	notes := []string{"add a leaderboard"}

	first, err := h.orch.SubmitRevision(ctx, s.ID, notes)
	require.NoError(t, err)
	second, err := h.orch.SubmitRevision(ctx, s.ID, notes)
	require.NoError(t, err)

	assert.Equal(t, sectionKeys(first.Plan), sectionKeys(second.Plan))
	assert.Equal(t, sectionKeys(s.Plan), sectionKeys(second.Plan))
	assert.Equal(t, first.Plan, second.Plan)
	assert.Len(t, second.RevisionHistory, 2)
}

func TestApproveTwice(t *testing.T) {
	h := newHarness()
	s := awaitingApproval(t, h)
	ctx := context.Background()

	approved, err := h.orch.Approve(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, approved.State)
	require.NotEmpty(t, approved.RepoPath)

	_, err = h.orch.Approve(ctx, s.ID)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateApproved, se.State)

	got, err := h.orch.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, approved.RepoPath, got.RepoPath)
	assert.Equal(t, 1, h.scaffolder.calls)
}

func TestScaffoldFailureIsRetriable(t *testing.T) {
	h := newHarness()
	s := awaitingApproval(t, h)
	h.scaffolder.err = &scaffold.Error{Path: "/out", Err: os.ErrPermission}
	ctx := context.Background()

	_, err := h.orch.Approve(ctx, s.ID)
	assert.Equal(t, KindCollaborator, KindOf(err))
	var scErr *scaffold.Error
	assert.True(t, errors.As(err, &scErr))

	got, err := h.orch.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, got.State)
	assert.Empty(t, got.RepoPath)

	h.scaffolder.err = nil
	got, err = h.orch.Approve(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, got.State)
}

func TestRevisionTimestampUsesStoreClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarnessWithStore(NewStore(WithClock(func() time.Time { return now })))
	s := awaitingApproval(t, h)
	h.script.Push(gateway.Reply(`{"acknowledgement": "ok", "plan": {"summary": "Co-op farming"}}`))

	now = now.Add(time.Hour)
	got, err := h.orch.SubmitRevision(context.Background(), s.ID, []string{"add co-op"})
	require.NoError(t, err)
	require.Len(t, got.RevisionHistory, 1)
	assert.Equal(t, now, got.RevisionHistory[0].AppliedAt)
	assert.Equal(t, got.UpdatedAt, got.RevisionHistory[0].AppliedAt)
}

func TestApprovePassesRevisionNotes(t *testing.T) {
	h := newHarness()
	s := awaitingApproval(t, h)
	ctx := context.Background()
	reply := `{"acknowledgement": "ok", "plan": {"summary": "Co-op farming"}}`
	h.script.Push(gateway.Reply(reply), gateway.Reply(reply))

	_, err := h.orch.SubmitRevision(ctx, s.ID, []string{"add co-op", "drop ads"})
	require.NoError(t, err)
	_, err = h.orch.SubmitRevision(ctx, s.ID, []string{"use Godot"})
	require.NoError(t, err)

	_, err = h.orch.Approve(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"add co-op", "drop ads", "use Godot"}, h.scaffolder.notes)
}

func TestBlueprintFailureKeepsPlanAwaitingApproval(t *testing.T) {
	script := gateway.NewScript()
	root := t.TempDir()
	orch := NewOrchestrator(
		NewStore(),
		clarify.New(script, config.ClarifyConfig{MaxQuestions: 3, MaxPitchTokens: 2000}),
		compose.New(script),
		scaffold.New(config.ScaffoldConfig{OutputRoot: root}, scaffold.WithBlueprint(script)),
	)
	ctx := context.Background()
	script.Push(
		gateway.Reply(questionsReply("Which platforms?")),
		gateway.Reply(planReply(t)),
		gateway.Fail(errors.New("model offline")),
	)

	s, err := orch.Create(ctx, farmPitch)
	require.NoError(t, err)
	s, err = orch.SubmitAnswers(ctx, s.ID, []string{"mobile"})
	require.NoError(t, err)

	_, err = orch.Approve(ctx, s.ID)
	assert.Equal(t, KindCollaborator, KindOf(err))

	got, err := orch.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, got.State)
	assert.Empty(t, got.RepoPath)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	script.Push(gateway.Reply(`{"project_slug": "cozy-farm", "files": [{"path": "main.go", "content": "package main\n"}]}`))
	got, err = orch.Approve(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, got.State)
	assert.FileExists(t, got.RepoPath+"/main.go")
}

func TestInvalidTransitionsNeverCallCollaborators(t *testing.T) {
	h := newHarness(gateway.Fail(errors.New("down")))
	ctx := context.Background()
	s, err := h.orch.Create(ctx, farmPitch)
	require.Error(t, err)
	calls := h.script.Calls()

	_, err = h.orch.Approve(ctx, s.ID)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	_, err = h.orch.SubmitAnswers(ctx, s.ID, nil)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	_, err = h.orch.SubmitRevision(ctx, s.ID, []string{"x"})
	assert.Equal(t, KindInvalidTransition, KindOf(err))

	assert.Equal(t, calls, h.script.Calls())
	assert.Equal(t, 0, h.scaffolder.calls)
}

func TestUnknownSession(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.orch.SubmitAnswers(ctx, "nope", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.orch.Approve(ctx, "nope")
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = h.orch.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, h.orch.Delete(ctx, "nope"), ErrNotFound)
}

func TestConcurrentDoubleSubmitAnswers(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(
		gateway.Reply(questionsReply("Which platforms?")),
		gateway.Step{Reply: planReply(t), Block: block},
	)
	ctx := context.Background()
	s, err := h.orch.Create(ctx, farmPitch)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Session, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.orch.SubmitAnswers(ctx, s.ID, []string{"answer"})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	succeeded := 0
	for i := range 2 {
		if errs[i] == nil {
			succeeded++
			assert.Equal(t, StateAwaitingApproval, results[i].State)
			continue
		}
		assert.Equal(t, KindInvalidTransition, KindOf(errs[i]))
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, h.script.Calls(), "exactly one compose call")
}

func TestWaitingCallerGetsBusy(t *testing.T) {
	block := make(chan struct{})
	h := newHarness()
	s := awaitingApproval(t, h)
	h.script.Push(gateway.Step{Reply: `{"acknowledgement": "ok", "plan": {}}`, Block: block})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.SubmitRevision(context.Background(), s.ID, []string{"slow"})
		done <- err
	}()
	require.Eventually(t, func() bool { return h.script.Calls() == 3 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.orch.Approve(ctx, s.ID)
	assert.Equal(t, KindBusy, KindOf(err))

	close(block)
	require.NoError(t, <-done)
}

func TestDelete(t *testing.T) {
	h := newHarness()
	s := awaitingApproval(t, h)

	require.NoError(t, h.orch.Delete(context.Background(), s.ID))
	_, err := h.orch.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, h.orch.List())
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "approve", SessionID: "abc", State: StateCreated, Kind: KindInvalidTransition, Err: ErrInvalidTransition}
	assert.Equal(t, "approve on session abc (CREATED): invalid transition for current state", err.Error())

	err = &Error{Op: "submit_pitch", SessionID: "abc", State: StateCreated, Kind: KindCollaborator, Err: errors.New("timeout")}
	assert.Equal(t, "submit_pitch on session abc (CREATED): collaborator failed: timeout", err.Error())
	assert.ErrorIs(t, err, ErrCollaborator)
}

func sectionKeys(p *plan.Plan) []plan.SectionName {
	var keys []plan.SectionName
	for _, name := range plan.Sections() {
		if _, ok := p.Sections[name]; ok {
			keys = append(keys, name)
		}
	}
	return keys
}
