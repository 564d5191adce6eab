package orchestrator_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/gate"
	"github.com/BaSui01/codexmirror/internal/clock"
	"github.com/BaSui01/codexmirror/internal/sysmetrics"
	"github.com/BaSui01/codexmirror/llm"
	"github.com/BaSui01/codexmirror/media"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/tactical"
	"github.com/BaSui01/codexmirror/testutil"
	"github.com/BaSui01/codexmirror/testutil/mocks"
	"github.com/BaSui01/codexmirror/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 测试替身 ---

type dispatchCall struct {
	task  string
	modes tactical.Modes
	asset *types.Asset
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []dispatchCall
	onCall func(n int, ctx context.Context)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task string, roster council.Roster, modes tactical.Modes, asset *types.Asset) []council.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, dispatchCall{task: task, modes: modes, asset: asset})
	n := len(f.calls)
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(n, ctx)
	}
	out := make([]council.Outcome, roster.Len())
	for i, a := range roster.Agents() {
		out[i] = council.Outcome{Agent: a, Verdict: &council.Verdict{
			CoreAnalysis:      "analysis of " + task,
			KeyRecommendation: "recommend " + a.Name,
			ConfidenceScore:   0.5,
		}}
	}
	return out
}

func (f *fakeDispatcher) Calls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchCall(nil), f.calls...)
}

type fakeSynthesizer struct {
	mu        sync.Mutex
	prePhases []bool
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, task string, outcomes []council.Outcome, prePhase bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prePhases = append(f.prePhases, prePhase)
	return "synthesis of " + task
}

func (f *fakeSynthesizer) PrePhases() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.prePhases...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	dispatch  []string
	prePhases []string
}

func (r *fakeRecorder) RecordDispatch(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatch = append(r.dispatch, status)
}

func (r *fakeRecorder) RecordPrePhase(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prePhases = append(r.prePhases, status)
}

func (r *fakeRecorder) Dispatches() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dispatch...)
}

type fakeArchiver struct {
	mu      sync.Mutex
	reports []*orchestrator.Report
	ctxErr  error
	err     error
}

func (a *fakeArchiver) Archive(ctx context.Context, r *orchestrator.Report) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, r)
	a.ctxErr = ctx.Err()
	return a.err
}

func (a *fakeArchiver) Reports() []*orchestrator.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*orchestrator.Report(nil), a.reports...)
}

func testRoster() council.Roster {
	return council.MustRoster([]council.Agent{
		{Name: "A", Label: "alpha", Instruction: "A"},
		{Name: "B", Label: "beta", Instruction: "B"},
		{Name: "C", Label: "gamma", Instruction: "C"},
	})
}

func staticSnapshot() sysmetrics.Static {
	return sysmetrics.Static{S: sysmetrics.Snapshot{
		ID:       "node1/test",
		Metadata: sysmetrics.Metadata{Collector: "static", SchemaVersion: "v1"},
		Metrics:  sysmetrics.Metrics{CPU: sysmetrics.CPU{Cores: 4}},
	}}
}

func newTestOrchestrator(d orchestrator.Dispatcher, s orchestrator.Synthesizer, mg orchestrator.MediaGenerator, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	opts = append([]orchestrator.Option{orchestrator.WithSnapshotter(staticSnapshot())}, opts...)
	return orchestrator.New(testRoster(), d, s, mg, nil, opts...)
}

// --- Dispatch ---

func TestDispatch_PrePhaseDisabled_DispatchesImmediately(t *testing.T) {
	d := &fakeDispatcher{}
	s := &fakeSynthesizer{}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(d, s, nil, orchestrator.WithRecorder(rec))

	var gateSeen *gate.Progress
	d.onCall = func(int, context.Context) { gateSeen = o.State().Gate }

	report, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "  scale the fleet  "})
	require.NoError(t, err)

	require.Len(t, d.Calls(), 1)
	assert.Nil(t, gateSeen, "gate must never be entered")
	assert.Equal(t, "scale the fleet", report.Task)
	assert.False(t, report.PrePhase)
	assert.Len(t, report.Outcomes, 3)
	assert.Equal(t, "synthesis of scale the fleet", report.Synthesis)
	assert.NotEmpty(t, report.InvocationID)
	assert.Equal(t, []bool{false}, s.PrePhases())
	assert.Equal(t, []string{orchestrator.StatusOK}, rec.Dispatches())

	st := o.State()
	assert.Equal(t, orchestrator.PhaseComplete, st.Phase)
	assert.Equal(t, report.InvocationID, st.InvocationID)
	assert.Len(t, st.Outcomes, 3)
	assert.Equal(t, report.Synthesis, st.Synthesis)
	assert.Nil(t, st.Gate)
}

func TestDispatch_PrePhaseEnabled_WaitsForGate(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := &fakeDispatcher{}
	s := &fakeSynthesizer{}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(d, s, nil,
		orchestrator.WithClock(clk),
		orchestrator.WithPrePhase(true),
		orchestrator.WithRecorder(rec),
		orchestrator.WithGateConfig(gate.Config{
			Stages:        []string{"one", "two", "three"},
			Interval:      2 * time.Second,
			TrailingDelay: 2 * time.Second,
		}),
		orchestrator.WithGateOptions(gate.WithSeed(7)),
	)

	var stateAtCall gate.State
	d.onCall = func(int, context.Context) {
		if g := o.State().Gate; g != nil {
			stateAtCall = g.State
		}
	}

	type result struct {
		report *orchestrator.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "audit"})
		done <- result{r, err}
	}()

	// two stage ticks plus the trailing delay
	for i := 0; i < 3; i++ {
		require.True(t, testutil.WaitFor(func() bool { return clk.Pending() == 1 }, 2*time.Second), "tick %d", i)
		assert.Empty(t, d.Calls(), "dispatcher invoked before the gate completed (tick %d)", i)
		st := o.State()
		require.NotNil(t, st.Gate)
		assert.Equal(t, gate.StateActive, st.Gate.State)
		assert.Equal(t, orchestrator.PhaseGate, st.Phase)
		clk.Advance(2 * time.Second)
	}

	res, ok := testutil.WaitForChannel(done, 2*time.Second)
	require.True(t, ok)
	require.NoError(t, res.err)

	require.Len(t, d.Calls(), 1)
	assert.Equal(t, gate.StateComplete, stateAtCall)
	assert.True(t, res.report.PrePhase)
	assert.Equal(t, []bool{true}, s.PrePhases())
	assert.Equal(t, gate.StateDispatched, o.State().Gate.State)
	assert.Equal(t, []string{"complete"}, rec.prePhases)
}

func TestDispatch_PrePhaseCancelledBeforeGateCompletes(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := &fakeDispatcher{}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(d, &fakeSynthesizer{}, nil,
		orchestrator.WithClock(clk),
		orchestrator.WithPrePhase(true),
		orchestrator.WithRecorder(rec),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := o.Dispatch(ctx, orchestrator.Request{Task: "audit"})
		errc <- err
	}()
	require.True(t, testutil.WaitFor(func() bool { return clk.Pending() == 1 }, 2*time.Second))
	cancel()

	err, ok := testutil.WaitForChannel(errc, 2*time.Second)
	require.True(t, ok)
	assert.True(t, types.IsErrorCode(err, types.ErrPipeline))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.Calls())
	assert.Equal(t, []string{orchestrator.StatusCancelled}, rec.Dispatches())
	assert.Equal(t, orchestrator.PhaseFailed, o.State().Phase)
}

func TestCompletePrePhase_SkipsRemainingStages(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := &fakeDispatcher{}
	o := newTestOrchestrator(d, &fakeSynthesizer{}, nil,
		orchestrator.WithClock(clk),
		orchestrator.WithPrePhase(true),
		orchestrator.WithGateConfig(gate.Config{
			Stages:        []string{"one", "two", "three"},
			Interval:      time.Minute,
			TrailingDelay: time.Minute,
		}),
	)

	assert.True(t, types.IsErrorCode(o.CompletePrePhase(), types.ErrNotFound))

	type result struct {
		report *orchestrator.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "audit"})
		done <- result{r, err}
	}()
	require.True(t, testutil.WaitFor(func() bool { return clk.Pending() == 1 }, 2*time.Second))
	assert.Empty(t, d.Calls())

	require.NoError(t, o.CompletePrePhase())

	res, ok := testutil.WaitForChannel(done, 2*time.Second)
	require.True(t, ok, "dispatch still waiting on the gate")
	require.NoError(t, res.err)
	assert.True(t, res.report.PrePhase)
	require.Len(t, d.Calls(), 1)
	assert.Equal(t, 0, o.State().Gate.Stage)

	assert.True(t, types.IsErrorCode(o.CompletePrePhase(), types.ErrNotFound))
}

func TestDispatch_SetPrePhase(t *testing.T) {
	o := newTestOrchestrator(&fakeDispatcher{}, &fakeSynthesizer{}, nil)
	assert.False(t, o.PrePhase())
	o.SetPrePhase(true)
	assert.True(t, o.PrePhase())
	assert.True(t, o.State().PrePhaseEnabled)
}

func TestDispatch_DefaultTask(t *testing.T) {
	t.Run("file attached", func(t *testing.T) {
		d := &fakeDispatcher{}
		o := newTestOrchestrator(d, &fakeSynthesizer{}, nil)
		asset := types.NewAsset("report.csv", []byte("a,b\n1,2\n"), "text/csv")

		report, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "   ", Asset: asset})
		require.NoError(t, err)
		assert.Equal(t, "Analyze the file report.csv.", report.Task)
		assert.Same(t, asset, d.Calls()[0].asset)
	})

	t.Run("metrics snapshot", func(t *testing.T) {
		d := &fakeDispatcher{}
		o := newTestOrchestrator(d, &fakeSynthesizer{}, nil)

		report, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(report.Task, "Analyze the current system state"))
		assert.Contains(t, report.Task, `"id": "node1/test"`)
	})

	t.Run("snapshot failure", func(t *testing.T) {
		d := &fakeDispatcher{}
		o := orchestrator.New(testRoster(), d, &fakeSynthesizer{}, nil, nil,
			orchestrator.WithSnapshotter(failingSnapshotter{}))

		_, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{})
		assert.True(t, types.IsErrorCode(err, types.ErrPipeline))
		assert.Empty(t, d.Calls())
	})
}

type failingSnapshotter struct{}

func (failingSnapshotter) Snapshot(context.Context) (*sysmetrics.Snapshot, error) {
	return nil, errors.New("no metrics")
}

func TestDispatch_InvalidAssetKeepsState(t *testing.T) {
	d := &fakeDispatcher{}
	o := newTestOrchestrator(d, &fakeSynthesizer{}, nil)
	ctx := testutil.TestContext(t)

	first, err := o.Dispatch(ctx, orchestrator.Request{Task: "first"})
	require.NoError(t, err)

	_, err = o.Dispatch(ctx, orchestrator.Request{Task: "second", Asset: &types.Asset{Name: "x.png"}})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	assert.Len(t, d.Calls(), 1)

	st := o.State()
	assert.Equal(t, first.InvocationID, st.InvocationID)
	assert.Equal(t, first.Synthesis, st.Synthesis)
	assert.Empty(t, st.Error)
}

func TestDispatch_EmptyRoster(t *testing.T) {
	d := &fakeDispatcher{}
	o := orchestrator.New(council.Roster{}, d, &fakeSynthesizer{}, nil, nil)

	_, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "x"})
	assert.True(t, types.IsErrorCode(err, types.ErrPipeline))
	assert.Empty(t, d.Calls())
	assert.Equal(t, orchestrator.PhaseFailed, o.State().Phase)
}

func TestDispatch_NewerInvocationSupersedes(t *testing.T) {
	entered := make(chan struct{})
	d := &fakeDispatcher{}
	d.onCall = func(n int, ctx context.Context) {
		if n == 1 {
			close(entered)
			<-ctx.Done()
		}
	}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(d, &fakeSynthesizer{}, nil, orchestrator.WithRecorder(rec))
	ctx := testutil.TestContext(t)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Dispatch(ctx, orchestrator.Request{Task: "old"})
		errc <- err
	}()
	<-entered

	newer, err := o.Dispatch(ctx, orchestrator.Request{Task: "new"})
	require.NoError(t, err)

	oldErr, ok := testutil.WaitForChannel(errc, 2*time.Second)
	require.True(t, ok)
	assert.True(t, types.IsErrorCode(oldErr, types.ErrSuperseded))
	assert.True(t, orchestrator.IsSuperseded(oldErr))
	te, _ := types.AsError(oldErr)
	require.NotNil(t, te)
	assert.Equal(t, http.StatusConflict, te.HTTPStatus)

	st := o.State()
	assert.Equal(t, newer.InvocationID, st.InvocationID)
	assert.Equal(t, "synthesis of new", st.Synthesis)
	assert.Empty(t, st.Error, "stale failure must not overwrite the newer state")
	assert.ElementsMatch(t, []string{orchestrator.StatusOK, orchestrator.StatusSuperseded}, rec.Dispatches())
}

func TestDispatch_ArchivesSuccessfulReports(t *testing.T) {
	arch := &fakeArchiver{}
	o := newTestOrchestrator(&fakeDispatcher{}, &fakeSynthesizer{}, nil, orchestrator.WithArchiver(arch))

	modes := tactical.Modes{WebContext: true}
	report, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "audit", Modes: modes})
	require.NoError(t, err)

	stored := arch.Reports()
	require.Len(t, stored, 1)
	assert.Same(t, report, stored[0])
	assert.Equal(t, modes, stored[0].Modes)
	assert.False(t, stored[0].StartedAt.IsZero())
	assert.NoError(t, arch.ctxErr)
}

func TestDispatch_ArchiveFailureDoesNotFailDispatch(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("disk full")}
	o := newTestOrchestrator(&fakeDispatcher{}, &fakeSynthesizer{}, nil, orchestrator.WithArchiver(arch))

	report, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "audit"})
	require.NoError(t, err)
	assert.Equal(t, "audit", report.Task)
	assert.Len(t, arch.Reports(), 1)
}

func TestDispatch_FailedDispatchIsNotArchived(t *testing.T) {
	arch := &fakeArchiver{}
	o := orchestrator.New(council.Roster{}, &fakeDispatcher{}, &fakeSynthesizer{}, nil, nil, orchestrator.WithArchiver(arch))

	_, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "x"})
	require.Error(t, err)
	assert.Empty(t, arch.Reports())
}

func TestDispatchSuggestion_DropsAsset(t *testing.T) {
	d := &fakeDispatcher{}
	o := newTestOrchestrator(d, &fakeSynthesizer{}, nil)

	report, err := o.DispatchSuggestion(testutil.TestContext(t), "Retry the system analysis.", tactical.Modes{WebContext: true})
	require.NoError(t, err)
	assert.Equal(t, "Retry the system analysis.", report.Task)
	assert.Nil(t, d.Calls()[0].asset)
	assert.True(t, d.Calls()[0].modes.WebContext)

	_, err = o.DispatchSuggestion(testutil.TestContext(t), " ", tactical.Modes{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

// [A, B-fails, C] through the real dispatcher and synthesizer.
func TestDispatch_ScenarioOneAgentFails(t *testing.T) {
	gw := mocks.NewMockGateway().WithStructuredFunc(func(ctx context.Context, req *llm.StructuredRequest) (*llm.StructuredResponse, error) {
		if req.Persona == "B" {
			return nil, errors.New("blocked")
		}
		return &llm.StructuredResponse{Text: `{"core_analysis":"ok ` + req.Persona + `","key_recommendation":"do ` + req.Persona + `","confidence_score":0.9}`}, nil
	})
	o := orchestrator.New(testRoster(),
		council.NewDispatcher(gw, council.DefaultDispatcherConfig(), nil, nil),
		council.NewSynthesizer(gw, council.DefaultSynthesizerConfig(), nil),
		nil, nil)

	report, err := o.Dispatch(testutil.TestContext(t), orchestrator.Request{Task: "triage"})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{report.Outcomes[0].Agent.Name, report.Outcomes[1].Agent.Name, report.Outcomes[2].Agent.Name})
	assert.True(t, report.Outcomes[0].OK())
	assert.False(t, report.Outcomes[1].OK())
	assert.Zero(t, report.Outcomes[1].Confidence())
	assert.True(t, report.Outcomes[2].OK())
	assert.Equal(t, 1, report.Degraded)
	assert.Equal(t, "mock synthesis", report.Synthesis)

	require.Equal(t, 1, gw.TextCalls())
	prompt := gw.TextRequests()[0].Prompt
	assert.Contains(t, prompt, "### B (beta) (error)")
	assert.Less(t, strings.Index(prompt, "### A"), strings.Index(prompt, "### B"))
	assert.Less(t, strings.Index(prompt, "### B"), strings.Index(prompt, "### C"))
}

// --- Media ---

func newMediaOrchestrator(gw *mocks.MockGateway) (*orchestrator.Orchestrator, *fakeDispatcher) {
	d := &fakeDispatcher{}
	wf := media.NewWorkflow(gw, media.DefaultConfig(), nil, media.WithClock(clock.NewInstant(time.Unix(0, 0))))
	return newTestOrchestrator(d, &fakeSynthesizer{}, wf), d
}

func TestGenerateImage_ResetsAndPublishes(t *testing.T) {
	gw := mocks.NewMockGateway()
	o, _ := newMediaOrchestrator(gw)
	ctx := testutil.TestContext(t)

	_, err := o.Dispatch(ctx, orchestrator.Request{Task: "first"})
	require.NoError(t, err)

	// validation failure leaves the previous result in place
	_, err = o.GenerateImage(ctx, "  ")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	assert.Zero(t, gw.ImageCalls())
	assert.NotEmpty(t, o.State().Synthesis)

	art, err := o.GenerateImage(ctx, "a lighthouse")
	require.NoError(t, err)
	assert.Equal(t, media.KindImage, art.Kind)

	st := o.State()
	assert.Empty(t, st.Outcomes)
	assert.Empty(t, st.Synthesis)
	assert.Same(t, art, st.Media)
	assert.Equal(t, orchestrator.PhaseComplete, st.Phase)
}

func TestGenerateImage_Failure(t *testing.T) {
	gw := mocks.NewMockGateway().WithImage(nil, errors.New("quota"))
	o, _ := newMediaOrchestrator(gw)

	_, err := o.GenerateImage(testutil.TestContext(t), "a lighthouse")
	assert.True(t, types.IsErrorCode(err, types.ErrMediaGeneration))

	st := o.State()
	assert.Equal(t, orchestrator.PhaseFailed, st.Phase)
	assert.NotEmpty(t, st.Error)
	assert.Nil(t, st.Media)
}

func TestGenerateVideo_ForwardsProgress(t *testing.T) {
	gw := mocks.NewMockGateway().WithVideoJob(3, "https://example.invalid/v.mp4", []byte("mp4"))
	o, _ := newMediaOrchestrator(gw)

	var (
		mu   sync.Mutex
		msgs []string
	)
	art, err := o.GenerateVideo(testutil.TestContext(t), "waves", nil, func(m string) {
		mu.Lock()
		defer mu.Unlock()
		msgs = append(msgs, m)
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.invalid/v.mp4", art.Locator)

	mu.Lock()
	assert.Len(t, msgs, 4)
	assert.Equal(t, media.MsgSubmitted, msgs[0])
	mu.Unlock()

	st := o.State()
	assert.Empty(t, st.MediaProgress)
	assert.Same(t, art, st.Media)
}

func TestGenerateVideo_Validation(t *testing.T) {
	gw := mocks.NewMockGateway()
	o, _ := newMediaOrchestrator(gw)
	ctx := testutil.TestContext(t)

	_, err := o.GenerateVideo(ctx, " ", nil, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	doc := types.NewAsset("notes.txt", []byte("plain text"), "text/plain")
	_, err = o.GenerateVideo(ctx, "waves", doc, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	assert.Empty(t, gw.VideoRequests())
}

func TestGenerateVideo_FailureClearsProgress(t *testing.T) {
	gw := mocks.NewMockGateway().
		WithVideoJob(2, "https://example.invalid/v.mp4", nil).
		WithFetchFunc(func(context.Context, string) ([]byte, error) { return nil, nil })
	o, _ := newMediaOrchestrator(gw)

	_, err := o.GenerateVideo(testutil.TestContext(t), "waves", nil, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrMediaGeneration))

	st := o.State()
	assert.Empty(t, st.MediaProgress)
	assert.Equal(t, orchestrator.PhaseFailed, st.Phase)
}

func TestMedia_NotConfigured(t *testing.T) {
	o := newTestOrchestrator(&fakeDispatcher{}, &fakeSynthesizer{}, nil)
	_, err := o.GenerateImage(testutil.TestContext(t), "x")
	assert.True(t, types.IsErrorCode(err, types.ErrServiceUnavailable))
}
