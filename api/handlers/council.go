package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BaSui01/codexmirror/api"
	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/tactical"
	"github.com/BaSui01/codexmirror/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🏛️ Council Handler
// =============================================================================

// Council 是 handler 依赖的编排能力
type Council interface {
	Dispatch(ctx context.Context, req orchestrator.Request) (*orchestrator.Report, error)
	DispatchSuggestion(ctx context.Context, action string, modes tactical.Modes) (*orchestrator.Report, error)
	State() orchestrator.State
	PrePhase() bool
	SetPrePhase(enabled bool)
	CompletePrePhase() error
	Roster() council.Roster
}

// Briefer 生成系统简报
type Briefer interface {
	Brief(ctx context.Context) orchestrator.Briefing
	Invalidate(ctx context.Context) error
}

// CouncilHandler 调度相关 API 处理器
type CouncilHandler struct {
	council Council
	briefer Briefer
	logger  *zap.Logger
}

// NewCouncilHandler 创建调度处理器，briefer 可为 nil
func NewCouncilHandler(c Council, b Briefer, logger *zap.Logger) *CouncilHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CouncilHandler{
		council: c,
		briefer: b,
		logger:  logger.With(zap.String("handler", "council")),
	}
}

// HandleDispatch 处理调度请求
// @Summary 调度 council
// @Description 将任务并发分发给所有 agent 并合成结论
// @Tags council
// @Accept json
// @Produce json
// @Param request body api.DispatchRequest true "调度请求"
// @Success 200 {object} Response{data=orchestrator.Report} "调度报告"
// @Failure 400 {object} Response "无效请求"
// @Failure 409 {object} Response "调度被取消或取代"
// @Router /api/v1/dispatch [post]
func (h *CouncilHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.DispatchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	report, err := h.council.Dispatch(r.Context(), orchestrator.Request{
		Task:  req.Task,
		Asset: req.Asset,
		Modes: req.Modes,
	})
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleSuggestion 以简报中的建议操作作为任务调度
// @Summary 执行建议操作
// @Tags council
// @Accept json
// @Produce json
// @Param request body api.SuggestionRequest true "建议操作"
// @Success 200 {object} Response{data=orchestrator.Report} "调度报告"
// @Failure 400 {object} Response "无效请求"
// @Router /api/v1/dispatch/suggestion [post]
func (h *CouncilHandler) HandleSuggestion(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.SuggestionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	report, err := h.council.DispatchSuggestion(r.Context(), req.Action, req.Modes)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleState 返回当前编排状态
// @Summary 编排状态
// @Tags council
// @Produce json
// @Success 200 {object} Response{data=orchestrator.State} "当前状态"
// @Router /api/v1/state [get]
func (h *CouncilHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.council.State())
}

// HandleRoster 返回名册（不含 instruction）
// @Summary 名册
// @Tags council
// @Produce json
// @Success 200 {object} Response{data=[]api.RosterEntry} "名册"
// @Router /api/v1/roster [get]
func (h *CouncilHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.NewRosterEntries(h.council.Roster()))
}

// HandlePrePhase GET 查询、PUT 切换 pre-phase
// @Summary pre-phase 开关
// @Tags council
// @Accept json
// @Produce json
// @Param request body api.PrePhaseRequest false "新状态（PUT）"
// @Success 200 {object} Response{data=api.PrePhaseResponse} "当前状态"
// @Router /api/v1/prephase [get]
// @Router /api/v1/prephase [put]
func (h *CouncilHandler) HandlePrePhase(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut, http.MethodPost:
		if !ValidateContentType(w, r, h.logger) {
			return
		}
		var req api.PrePhaseRequest
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
		if req.Enabled == nil {
			WriteError(w, types.NewInvalidRequestError("enabled is required"), h.logger)
			return
		}
		h.council.SetPrePhase(*req.Enabled)
		h.logger.Info("pre-phase toggled", zap.Bool("enabled", *req.Enabled))
	default:
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	WriteSuccess(w, api.PrePhaseResponse{Enabled: h.council.PrePhase()})
}

// HandleCompletePrePhase 提前结束正在运行的 pre-phase，立即调度 council
// @Summary 跳过 pre-phase
// @Tags council
// @Produce json
// @Success 200 {object} Response{data=orchestrator.State} "当前状态"
// @Failure 404 {object} Response "没有运行中的 pre-phase"
// @Router /api/v1/prephase/complete [post]
func (h *CouncilHandler) HandleCompletePrePhase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if err := h.council.CompletePrePhase(); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.council.State())
}

// HandleBriefing 返回系统简报，?refresh=true 时丢弃缓存
// @Summary 系统简报
// @Tags council
// @Produce json
// @Param refresh query bool false "强制重新生成"
// @Success 200 {object} Response{data=orchestrator.Briefing} "简报"
// @Failure 503 {object} Response "未配置简报"
// @Router /api/v1/briefing [get]
func (h *CouncilHandler) HandleBriefing(w http.ResponseWriter, r *http.Request) {
	if h.briefer == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "briefing is not configured", h.logger)
		return
	}

	if raw := r.URL.Query().Get("refresh"); raw != "" {
		refresh, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(w, types.NewInvalidRequestError("refresh must be a boolean").WithCause(err), h.logger)
			return
		}
		if refresh {
			if err := h.briefer.Invalidate(r.Context()); err != nil {
				// 缓存失效失败不阻塞请求
				h.logger.Warn("invalidate briefing cache", zap.Error(err))
			}
		}
	}

	WriteSuccess(w, h.briefer.Brief(r.Context()))
}
