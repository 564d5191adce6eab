package api

import (
	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/media"
	"github.com/BaSui01/codexmirror/tactical"
	"github.com/BaSui01/codexmirror/types"
)

// =============================================================================
// 调度类型
// =============================================================================

// DispatchRequest 调度请求。Task 为空时使用默认任务。
type DispatchRequest struct {
	Task  string         `json:"task,omitempty" example:"Assess the migration plan"`
	Asset *types.Asset   `json:"asset,omitempty"`
	Modes tactical.Modes `json:"modes"`
}

// SuggestionRequest 调度简报中的建议操作。
type SuggestionRequest struct {
	Action string         `json:"action" example:"Retry the system analysis."`
	Modes  tactical.Modes `json:"modes"`
}

// PrePhaseRequest 切换 pre-phase。
type PrePhaseRequest struct {
	Enabled *bool `json:"enabled"`
}

// PrePhaseResponse pre-phase 当前状态。
type PrePhaseResponse struct {
	Enabled bool `json:"enabled"`
}

// RosterEntry 名册成员的公开视图，不包含 Instruction。
type RosterEntry struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
}

// NewRosterEntries 按名册顺序转换。
func NewRosterEntries(r council.Roster) []RosterEntry {
	agents := r.Agents()
	out := make([]RosterEntry, len(agents))
	for i, a := range agents {
		out[i] = RosterEntry{Name: a.Name, Label: a.Label, Icon: a.Icon}
	}
	return out
}

// =============================================================================
// 媒体类型
// =============================================================================

// ImageRequest 图像生成请求。
type ImageRequest struct {
	Prompt string `json:"prompt" example:"a lighthouse at dusk"`
}

// VideoRequest 视频生成请求。Prompt 与 Asset 至少提供一个。
type VideoRequest struct {
	Prompt string       `json:"prompt,omitempty" example:"waves rolling in"`
	Asset  *types.Asset `json:"asset,omitempty"`
}

// Frame types on the video websocket.
const (
	FrameProgress = "progress"
	FrameResult   = "result"
	FrameError    = "error"
)

// VideoFrame 是 websocket 上的一帧。
type VideoFrame struct {
	Type     string          `json:"type"`
	Message  string          `json:"message,omitempty"`
	Artifact *media.Artifact `json:"artifact,omitempty"`
	Error    *ErrorDetail    `json:"error,omitempty"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorDetail 错误详细信息。
type ErrorDetail struct {
	Code      string `json:"code" example:"INVALID_REQUEST"`
	Message   string `json:"message" example:"image prompt is required"`
	Retryable bool   `json:"retryable,omitempty"`
}
