package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/codexmirror/internal/tlsutil"
	"github.com/BaSui01/codexmirror/llm"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const providerName = "gemini"

// Config 是 Gemini 网关配置
type Config struct {
	APIKey  string
	BaseURL string

	StandardModel  string
	DeepModel      string
	SynthesisModel string
	ImageModel     string
	VideoModel     string

	VideoResolution  string
	VideoAspectRatio string
	ImageAspectRatio string

	// Timeout bounds the authenticated video download.
	Timeout    time.Duration
	HTTPClient *http.Client

	// MaxVideoBytes caps a single video download. Larger files are rejected.
	MaxVideoBytes int64
}

// DefaultConfig returns the production model set.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "https://generativelanguage.googleapis.com",
		StandardModel:    "gemini-2.5-flash",
		DeepModel:        "gemini-2.5-pro",
		SynthesisModel:   "gemini-2.5-pro",
		ImageModel:       "imagen-4.0-generate-001",
		VideoModel:       "veo-3.1-fast-generate-preview",
		VideoResolution:  "720p",
		VideoAspectRatio: "16:9",
		ImageAspectRatio: "1:1",
		Timeout:          5 * time.Minute,
		MaxVideoBytes:    512 << 20,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.StandardModel == "" {
		c.StandardModel = d.StandardModel
	}
	if c.DeepModel == "" {
		c.DeepModel = d.DeepModel
	}
	if c.SynthesisModel == "" {
		c.SynthesisModel = d.SynthesisModel
	}
	if c.ImageModel == "" {
		c.ImageModel = d.ImageModel
	}
	if c.VideoModel == "" {
		c.VideoModel = d.VideoModel
	}
	if c.VideoResolution == "" {
		c.VideoResolution = d.VideoResolution
	}
	if c.VideoAspectRatio == "" {
		c.VideoAspectRatio = d.VideoAspectRatio
	}
	if c.ImageAspectRatio == "" {
		c.ImageAspectRatio = d.ImageAspectRatio
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxVideoBytes <= 0 {
		c.MaxVideoBytes = d.MaxVideoBytes
	}
}

// Gateway 通过 genai SDK 实现 llm.Gateway
// Gemini API 特点：
// 1. 使用 x-goog-api-key 请求头认证
// 2. 结构化输出依赖 responseSchema，与检索工具互斥
// 3. 视频生成是长任务，需要轮询 operation
type Gateway struct {
	cfg    Config
	client *genai.Client
	http   *http.Client
	logger *zap.Logger
}

var _ llm.Gateway = (*Gateway)(nil)

// New 创建 Gemini 网关
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &llm.Error{Code: llm.ErrUnauthorized, Message: "gemini api key is required", Provider: providerName}
	}
	cfg.applyDefaults()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = tlsutil.HTTPClient(cfg.Timeout)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Gateway{
		cfg:    cfg,
		client: client,
		http:   httpClient,
		logger: logger.With(zap.String("component", "gemini_gateway")),
	}, nil
}

func (g *Gateway) Name() string { return providerName }

// Config returns the effective configuration.
func (g *Gateway) Config() Config { return g.cfg }

func (g *Gateway) GenerateStructured(ctx context.Context, req *llm.StructuredRequest) (*llm.StructuredResponse, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.StandardModel
	}

	prompt := req.Prompt
	config := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.Persona != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Persona, genai.RoleUser)
	}
	for _, t := range req.Tools {
		switch t {
		case llm.ToolWebSearch:
			config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case llm.ToolMaps:
			config.Tools = append(config.Tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
		}
	}
	if req.Schema != nil {
		// 检索工具与 JSON mime 类型不能同时使用，改为在提示词中声明结构
		if len(config.Tools) == 0 {
			config.ResponseMIMEType = "application/json"
			config.ResponseSchema = toGenaiSchema(req.Schema)
		} else {
			prompt += schemaInstruction(req.Schema)
		}
	}
	if req.ThinkingBudget > 0 {
		budget := req.ThinkingBudget
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if req.Image != nil {
		raw, err := req.Image.Bytes()
		if err != nil {
			return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: providerName, Cause: err}
		}
		parts = append(parts, genai.NewPartFromBytes(raw, req.Image.MIMEType))
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		return nil, mapError(err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return &llm.StructuredResponse{Model: model, Text: text}, nil
}

func (g *Gateway) GenerateText(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.SynthesisModel
	}
	config := &genai.GenerateContentConfig{Temperature: req.Temperature}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		return nil, mapError(err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return &llm.TextResponse{Model: model, Text: text}, nil
}

func (g *Gateway) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.ImageModel
	}
	mime := req.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = g.cfg.ImageAspectRatio
	}

	resp, err := g.client.Models.GenerateImages(ctx, model, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: mime,
		AspectRatio:    aspect,
	})
	if err != nil {
		return nil, mapError(err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil ||
		len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
		reason := ""
		if resp != nil && len(resp.GeneratedImages) > 0 {
			reason = resp.GeneratedImages[0].RAIFilteredReason
		}
		return nil, &llm.Error{
			Code:       llm.ErrContentFiltered,
			Message:    strings.TrimSpace("no image returned " + reason),
			HTTPStatus: http.StatusUnprocessableEntity,
			Provider:   providerName,
		}
	}

	img := resp.GeneratedImages[0].Image
	if img.MIMEType != "" {
		mime = img.MIMEType
	}
	return &llm.ImageResponse{Data: img.ImageBytes, MIMEType: mime}, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", &llm.Error{Code: llm.ErrUpstreamError, Message: "empty response", Provider: providerName}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", &llm.Error{
			Code:       llm.ErrContentFiltered,
			Message:    fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason),
			HTTPStatus: http.StatusUnprocessableEntity,
			Provider:   providerName,
		}
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &llm.Error{Code: llm.ErrUpstreamError, Message: "response has no text", HTTPStatus: http.StatusBadGateway, Provider: providerName}
	}
	return text, nil
}

// mapError 将 SDK 错误映射为 llm.Error
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: err.Error(), HTTPStatus: http.StatusGatewayTimeout, Provider: providerName, Cause: err}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.Status != "" {
			msg = fmt.Sprintf("%s (status: %s)", apiErr.Message, apiErr.Status)
		}
		e := llm.MapHTTPStatus(apiErr.Code, msg, providerName)
		e.Cause = err
		return e
	}
	return &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName, Cause: err}
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return string(data)
}
