package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BaSui01/codexmirror/archive"
	"github.com/BaSui01/codexmirror/internal/ctxkeys"
	"github.com/BaSui01/codexmirror/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🗃️ History Handler
// =============================================================================

// History 是报告归档的读取端
type History interface {
	Get(ctx context.Context, id string) (*archive.Entry, error)
	List(ctx context.Context, q archive.Query) (*archive.Page, error)
}

// HistoryHandler 归档报告查询
type HistoryHandler struct {
	history History
	logger  *zap.Logger
}

// NewHistoryHandler 创建处理器。history 为 nil 表示未配置归档。
func NewHistoryHandler(h History, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		history: h,
		logger:  logger.With(zap.String("handler", "history")),
	}
}

func (h *HistoryHandler) ready(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return false
	}
	if h.history == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "report archive is not configured", h.logger)
		return false
	}
	return true
}

// HandleList 分页列出归档报告
// @Summary 归档报告列表
// @Tags history
// @Produce json
// @Param limit query int false "每页数量（默认 20，最大 100）"
// @Param offset query int false "偏移量"
// @Param mine query bool false "只看当前调用方"
// @Success 200 {object} Response{data=archive.Page} "报告摘要"
// @Failure 400 {object} Response "无效参数"
// @Failure 503 {object} Response "未配置归档"
// @Router /api/v1/reports [get]
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}

	q := archive.Query{}
	params := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := params.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, types.NewInvalidRequestError(name+" must be a non-negative integer"), h.logger)
			return
		}
		*dst = n
	}
	if raw := params.Get("mine"); raw != "" {
		mine, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(w, types.NewInvalidRequestError("mine must be a boolean").WithCause(err), h.logger)
			return
		}
		if mine {
			subject, ok := ctxkeys.Subject(r.Context())
			if !ok {
				WriteError(w, types.NewInvalidRequestError("mine requires an authenticated caller"), h.logger)
				return
			}
			q.Subject = subject
		}
	}

	page, err := h.history.List(r.Context(), q)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, page)
}

// HandleGet 返回一份完整的归档报告
// @Summary 归档报告详情
// @Tags history
// @Produce json
// @Param id path string true "调用 ID"
// @Success 200 {object} Response{data=archive.Entry} "报告"
// @Failure 404 {object} Response "不存在"
// @Failure 503 {object} Response "未配置归档"
// @Router /api/v1/reports/{id} [get]
func (h *HistoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, types.NewInvalidRequestError("report id is required"), h.logger)
		return
	}

	entry, err := h.history.Get(r.Context(), id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, entry)
}
