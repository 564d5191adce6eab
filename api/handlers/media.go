package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/codexmirror/api"
	"github.com/BaSui01/codexmirror/media"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// frameWriteTimeout 单帧写入超时
const frameWriteTimeout = 10 * time.Second

// =============================================================================
// 🎬 Media Handler
// =============================================================================

// MediaService 是 handler 依赖的媒体能力
type MediaService interface {
	GenerateImage(ctx context.Context, prompt string) (*media.Artifact, error)
	GenerateVideo(ctx context.Context, prompt string, seed *types.Asset, progress media.ProgressFunc) (*media.Artifact, error)
	State() orchestrator.State
}

// MediaHandler 媒体生成 API 处理器
type MediaHandler struct {
	service        MediaService
	logger         *zap.Logger
	originPatterns []string
}

// NewMediaHandler 创建媒体处理器。originPatterns 传给 websocket 握手做来源校验。
func NewMediaHandler(service MediaService, logger *zap.Logger, originPatterns ...string) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHandler{
		service:        service,
		logger:         logger.With(zap.String("handler", "media")),
		originPatterns: originPatterns,
	}
}

// HandleImage 生成图像
// @Summary 生成图像
// @Tags media
// @Accept json
// @Produce json
// @Param request body api.ImageRequest true "图像请求"
// @Success 200 {object} Response{data=media.Artifact} "生成结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "生成失败"
// @Router /api/v1/media/image [post]
func (h *MediaHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ImageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	art, err := h.service.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, art)
}

// HandleVideo 阻塞生成视频，进度只写入状态
// @Summary 生成视频
// @Tags media
// @Accept json
// @Produce json
// @Param request body api.VideoRequest true "视频请求"
// @Success 200 {object} Response{data=media.Artifact} "生成结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "生成失败"
// @Router /api/v1/media/video [post]
func (h *MediaHandler) HandleVideo(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.VideoRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	art, err := h.service.GenerateVideo(r.Context(), req.Prompt, req.Asset, nil)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, art)
}

// HandleVideoStream 通过 websocket 生成视频并推送进度
//
// 客户端发送一帧 api.VideoRequest，之后服务端推送若干 progress 帧，
// 最后是一帧 result 或 error，然后正常关闭连接。
// @Summary 视频生成（websocket）
// @Tags media
// @Router /api/v1/media/video/ws [get]
func (h *MediaHandler) HandleVideoStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept 已写入响应
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	var req api.VideoRequest
	if err := wsjson.Read(r.Context(), conn, &req); err != nil {
		h.logger.Debug("read video request", zap.Error(err))
		conn.Close(websocket.StatusUnsupportedData, "expected a video request")
		return
	}

	// 之后不再读取；连接断开时 ctx 被取消
	ctx := conn.CloseRead(r.Context())

	progress := func(msg string) {
		if err := h.writeFrame(ctx, conn, api.VideoFrame{Type: api.FrameProgress, Message: msg}); err != nil {
			h.logger.Debug("write progress frame", zap.Error(err))
		}
	}

	art, err := h.service.GenerateVideo(ctx, req.Prompt, req.Asset, progress)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) && r.Context().Err() == nil {
			// 客户端已断开
			h.logger.Info("video stream client went away")
			return
		}
		te := ToTypesError(err)
		h.logger.Info("video stream failed", zap.String("code", string(te.Code)), zap.Error(err))
		if werr := h.writeFrame(ctx, conn, api.VideoFrame{Type: api.FrameError, Error: ErrorDetail(te)}); werr != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	if err := h.writeFrame(ctx, conn, api.VideoFrame{Type: api.FrameResult, Artifact: art}); err != nil {
		h.logger.Debug("write result frame", zap.Error(err))
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *MediaHandler) writeFrame(ctx context.Context, conn *websocket.Conn, frame api.VideoFrame) error {
	ctx, cancel := context.WithTimeout(ctx, frameWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}

// HandleMediaContent 返回当前媒体的原始字节
// @Summary 当前媒体内容
// @Tags media
// @Produce image/png
// @Produce video/mp4
// @Success 200 {file} binary "媒体内容"
// @Failure 404 {object} Response "暂无媒体"
// @Router /api/v1/media/current [get]
func (h *MediaHandler) HandleMediaContent(w http.ResponseWriter, r *http.Request) {
	art := h.service.State().Media
	if art == nil || art.Size() == 0 {
		WriteError(w, types.NewError(types.ErrNotFound, "no media has been generated"), h.logger)
		return
	}

	w.Header().Set("Content-Type", art.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(art.Size()))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Artifact-ID", art.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}
