package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/codexmirror/llm"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

func (g *Gateway) SubmitVideo(ctx context.Context, req *llm.VideoRequest) (*llm.VideoJob, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.VideoModel
	}
	resolution := req.Resolution
	if resolution == "" {
		resolution = g.cfg.VideoResolution
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = g.cfg.VideoAspectRatio
	}

	var seed *genai.Image
	if req.Seed != nil {
		raw, err := req.Seed.Bytes()
		if err != nil {
			return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: providerName, Cause: err}
		}
		seed = &genai.Image{ImageBytes: raw, MIMEType: req.Seed.MIMEType}
	}

	op, err := g.client.Models.GenerateVideos(ctx, model, req.Prompt, seed, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     resolution,
		AspectRatio:    aspect,
	})
	if err != nil {
		return nil, mapError(err)
	}
	g.logger.Info("video operation submitted",
		zap.String("operation", op.Name),
		zap.String("model", model),
		zap.Bool("seeded", seed != nil),
	)
	return toJob(op)
}

func (g *Gateway) PollVideo(ctx context.Context, job *llm.VideoJob) (*llm.VideoJob, error) {
	if job == nil || job.Name == "" {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "video job has no operation name", Provider: providerName}
	}
	op, err := g.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: job.Name}, nil)
	if err != nil {
		return nil, mapError(err)
	}
	return toJob(op)
}

// FetchVideo downloads the generated file. The locator is an API URL that
// requires the key, sent as a header rather than a query parameter.
func (g *Gateway) FetchVideo(ctx context.Context, locator string) ([]byte, error) {
	if locator == "" {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "empty video locator", Provider: providerName}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: fmt.Sprintf("invalid video locator: %v", err), Provider: providerName, Cause: err}
	}
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, mapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, llm.MapHTTPStatus(resp.StatusCode, readErrMsg(resp.Body), providerName)
	}
	limit := g.cfg.MaxVideoBytes
	if resp.ContentLength > limit {
		return nil, videoTooLarge(resp.ContentLength, limit)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "read video body", Retryable: true, Provider: providerName, Cause: err}
	}
	if int64(len(data)) > limit {
		return nil, videoTooLarge(-1, limit)
	}
	g.logger.Debug("video downloaded", zap.Int("bytes", len(data)))
	return data, nil
}

// videoTooLarge reports a download over the cap. size is -1 when unknown.
func videoTooLarge(size, limit int64) *llm.Error {
	msg := fmt.Sprintf("video exceeds %d bytes", limit)
	if size >= 0 {
		msg = fmt.Sprintf("video is %d bytes, over the %d byte cap", size, limit)
	}
	return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: http.StatusBadGateway, Provider: providerName}
}

func toJob(op *genai.GenerateVideosOperation) (*llm.VideoJob, error) {
	if op == nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "nil video operation", Provider: providerName}
	}
	if len(op.Error) > 0 {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    fmt.Sprintf("video operation %s failed: %v", op.Name, op.Error["message"]),
			HTTPStatus: http.StatusBadGateway,
			Provider:   providerName,
		}
	}
	job := &llm.VideoJob{Name: op.Name, Done: op.Done}
	if op.Done && op.Response != nil && len(op.Response.GeneratedVideos) > 0 {
		if v := op.Response.GeneratedVideos[0].Video; v != nil {
			job.Locator = v.URI
		}
	}
	return job, nil
}
