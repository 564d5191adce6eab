package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/tactical"
	"github.com/BaSui01/codexmirror/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

type stubCouncil struct {
	mu         sync.Mutex
	requests   []orchestrator.Request
	suggestion string
	prePhase   bool
	err        error
	state      orchestrator.State
	completed  int
	gateErr    error
}

func (s *stubCouncil) Dispatch(_ context.Context, req orchestrator.Request) (*orchestrator.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &orchestrator.Report{InvocationID: "inv-1", Task: req.Task, Synthesis: "done"}, nil
}

func (s *stubCouncil) DispatchSuggestion(_ context.Context, action string, modes tactical.Modes) (*orchestrator.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(action) == "" {
		return nil, types.NewInvalidRequestError("suggested action is required")
	}
	s.suggestion = action
	return &orchestrator.Report{InvocationID: "inv-2", Task: action}, nil
}

func (s *stubCouncil) State() orchestrator.State { return s.state }
func (s *stubCouncil) PrePhase() bool            { return s.prePhase }
func (s *stubCouncil) SetPrePhase(enabled bool)  { s.prePhase = enabled }
func (s *stubCouncil) CompletePrePhase() error {
	if s.gateErr != nil {
		return s.gateErr
	}
	s.completed++
	return nil
}
func (s *stubCouncil) Roster() council.Roster {
	return council.MustRoster([]council.Agent{
		{Name: "a", Label: "Alpha", Instruction: "secret", Icon: "star"},
		{Name: "b", Label: "Beta", Instruction: "secret"},
	})
}

type stubBriefer struct {
	invalidated int
	invalidErr  error
}

func (b *stubBriefer) Brief(context.Context) orchestrator.Briefing {
	return orchestrator.Briefing{Overview: "fine", KeyInsight: "none", SuggestedActions: []string{"wait"}}
}

func (b *stubBriefer) Invalidate(context.Context) error {
	b.invalidated++
	return b.invalidErr
}

func jsonRequest(method, path, body string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}

// =============================================================================
// 🧪 CouncilHandler 测试
// =============================================================================

func TestCouncilHandler_HandleDispatch(t *testing.T) {
	c := &stubCouncil{}
	h := NewCouncilHandler(c, nil, nil)

	w := httptest.NewRecorder()
	h.HandleDispatch(w, jsonRequest(http.MethodPost, "/v1/council/dispatch",
		`{"task":"review the plan","modes":{"deep_reasoning":true}}`))

	require.Equal(t, http.StatusOK, w.Code)
	var report orchestrator.Report
	resp := decodeResponse(t, w, &report)
	assert.True(t, resp.Success)
	assert.Equal(t, "inv-1", report.InvocationID)
	assert.Equal(t, "done", report.Synthesis)

	require.Len(t, c.requests, 1)
	assert.Equal(t, "review the plan", c.requests[0].Task)
	assert.True(t, c.requests[0].Modes.DeepReasoning)
}

func TestCouncilHandler_HandleDispatch_Errors(t *testing.T) {
	t.Run("wrong content type", func(t *testing.T) {
		h := NewCouncilHandler(&stubCouncil{}, nil, nil)
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		h.HandleDispatch(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("superseded", func(t *testing.T) {
		c := &stubCouncil{err: types.NewError(types.ErrSuperseded, "invocation superseded").WithHTTPStatus(http.StatusConflict)}
		h := NewCouncilHandler(c, nil, nil)
		w := httptest.NewRecorder()
		h.HandleDispatch(w, jsonRequest(http.MethodPost, "/", `{"task":"x"}`))

		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeResponse(t, w, nil)
		assert.False(t, resp.Success)
		assert.Equal(t, string(types.ErrSuperseded), resp.Error.Code)
	})

	t.Run("plain error", func(t *testing.T) {
		c := &stubCouncil{err: errors.New("boom")}
		h := NewCouncilHandler(c, nil, nil)
		w := httptest.NewRecorder()
		h.HandleDispatch(w, jsonRequest(http.MethodPost, "/", `{"task":"x"}`))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestCouncilHandler_HandleSuggestion(t *testing.T) {
	c := &stubCouncil{}
	h := NewCouncilHandler(c, nil, nil)

	w := httptest.NewRecorder()
	h.HandleSuggestion(w, jsonRequest(http.MethodPost, "/", `{"action":"Retry the system analysis."}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Retry the system analysis.", c.suggestion)

	w = httptest.NewRecorder()
	h.HandleSuggestion(w, jsonRequest(http.MethodPost, "/", `{"action":"  "}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCouncilHandler_HandleRosterHidesInstructions(t *testing.T) {
	h := NewCouncilHandler(&stubCouncil{}, nil, nil)
	w := httptest.NewRecorder()
	h.HandleRoster(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")

	var entries []map[string]string
	decodeResponse(t, w, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0]["name"])
	assert.Equal(t, "Alpha", entries[0]["label"])
	assert.Equal(t, "star", entries[0]["icon"])
}

func TestCouncilHandler_HandleState(t *testing.T) {
	c := &stubCouncil{state: orchestrator.State{InvocationID: "inv-9", Phase: orchestrator.PhaseComplete}}
	h := NewCouncilHandler(c, nil, nil)

	w := httptest.NewRecorder()
	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var st orchestrator.State
	decodeResponse(t, w, &st)
	assert.Equal(t, "inv-9", st.InvocationID)
	assert.Equal(t, orchestrator.PhaseComplete, st.Phase)
}

func TestCouncilHandler_HandlePrePhase(t *testing.T) {
	c := &stubCouncil{}
	h := NewCouncilHandler(c, nil, nil)

	w := httptest.NewRecorder()
	h.HandlePrePhase(w, jsonRequest(http.MethodPut, "/", `{"enabled":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, c.prePhase)

	w = httptest.NewRecorder()
	h.HandlePrePhase(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var got struct {
		Enabled bool `json:"enabled"`
	}
	decodeResponse(t, w, &got)
	assert.True(t, got.Enabled)

	w = httptest.NewRecorder()
	h.HandlePrePhase(w, jsonRequest(http.MethodPut, "/", `{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, c.prePhase, "missing field must not toggle")

	w = httptest.NewRecorder()
	h.HandlePrePhase(w, httptest.NewRequest(http.MethodDelete, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCouncilHandler_HandleCompletePrePhase(t *testing.T) {
	c := &stubCouncil{state: orchestrator.State{InvocationID: "inv-3", Phase: orchestrator.PhaseGate}}
	h := NewCouncilHandler(c, nil, nil)

	w := httptest.NewRecorder()
	h.HandleCompletePrePhase(w, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, c.completed)
	var st orchestrator.State
	decodeResponse(t, w, &st)
	assert.Equal(t, "inv-3", st.InvocationID)

	w = httptest.NewRecorder()
	h.HandleCompletePrePhase(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 1, c.completed)

	c.gateErr = types.NewError(types.ErrNotFound, "no pre-phase is running")
	w = httptest.NewRecorder()
	h.HandleCompletePrePhase(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCouncilHandler_HandleBriefing(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := NewCouncilHandler(&stubCouncil{}, nil, nil)
		w := httptest.NewRecorder()
		h.HandleBriefing(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("refresh invalidates", func(t *testing.T) {
		b := &stubBriefer{invalidErr: errors.New("redis down")}
		h := NewCouncilHandler(&stubCouncil{}, b, nil)

		w := httptest.NewRecorder()
		h.HandleBriefing(w, httptest.NewRequest(http.MethodGet, "/?refresh=true", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, b.invalidated)

		var briefing orchestrator.Briefing
		decodeResponse(t, w, &briefing)
		assert.Equal(t, "fine", briefing.Overview)

		w = httptest.NewRecorder()
		h.HandleBriefing(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, 1, b.invalidated)

		w = httptest.NewRecorder()
		h.HandleBriefing(w, httptest.NewRequest(http.MethodGet, "/?refresh=maybe", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
