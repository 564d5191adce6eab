// Package mocks 提供 llm.Gateway 的测试模拟实现。
//
// 支持固定响应、按 Persona 路由、错误注入与视频任务轮询脚本。
package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BaSui01/codexmirror/llm"
)

// --- MockGateway 结构 ---

// MockGateway 是 llm.Gateway 的模拟实现
type MockGateway struct {
	mu sync.Mutex

	structuredFunc func(ctx context.Context, req *llm.StructuredRequest) (*llm.StructuredResponse, error)
	textFunc       func(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error)
	imageFunc      func(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error)
	fetchFunc      func(ctx context.Context, locator string) ([]byte, error)

	structuredText string
	synthesisText  string
	textErr        error
	imageData      []byte
	imageErr       error

	// 视频任务脚本
	pendingPolls int
	videoLocator string
	videoBytes   []byte
	submitErr    error
	pollErr      error

	// 调用记录
	structuredReqs []*llm.StructuredRequest
	textReqs       []*llm.TextRequest
	imageReqs      []*llm.ImageRequest
	videoReqs      []*llm.VideoRequest
	pollCount      int
	fetchCount     int
	polls          map[string]int
}

var _ llm.Gateway = (*MockGateway)(nil)

// --- 构造函数和 Builder 方法 ---

// NewMockGateway 创建新的 MockGateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		structuredText: `{"core_analysis":"mock analysis","key_recommendation":"mock recommendation","confidence_score":0.8}`,
		synthesisText:  "mock synthesis",
		imageData:      []byte("\x89PNG\r\n\x1a\nmock"),
		videoLocator:   "https://example.invalid/v1beta/files/mock:download",
		videoBytes:     []byte("mock-video"),
		polls:          make(map[string]int),
	}
}

// WithStructuredResponse 设置固定的结构化响应文本
func (m *MockGateway) WithStructuredResponse(text string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structuredText = text
	return m
}

// WithStructuredFunc 设置自定义结构化生成函数
func (m *MockGateway) WithStructuredFunc(fn func(ctx context.Context, req *llm.StructuredRequest) (*llm.StructuredResponse, error)) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structuredFunc = fn
	return m
}

// WithSynthesis 设置合成文本
func (m *MockGateway) WithSynthesis(text string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synthesisText = text
	return m
}

// WithTextError 让文本生成失败
func (m *MockGateway) WithTextError(err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textErr = err
	return m
}

// WithTextFunc 设置自定义文本生成函数
func (m *MockGateway) WithTextFunc(fn func(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error)) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textFunc = fn
	return m
}

// WithImage 设置图像生成结果
func (m *MockGateway) WithImage(data []byte, err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageData = data
	m.imageErr = err
	return m
}

// WithImageFunc 设置自定义图像生成函数
func (m *MockGateway) WithImageFunc(fn func(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error)) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageFunc = fn
	return m
}

// WithVideoJob 设置视频任务：先返回 pending 次 done=false，再返回 done=true 与 locator
func (m *MockGateway) WithVideoJob(pending int, locator string, data []byte) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingPolls = pending
	m.videoLocator = locator
	m.videoBytes = data
	return m
}

// WithVideoErrors 注入提交或轮询错误
func (m *MockGateway) WithVideoErrors(submitErr, pollErr error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = submitErr
	m.pollErr = pollErr
	return m
}

// WithFetchFunc 设置自定义下载函数
func (m *MockGateway) WithFetchFunc(fn func(ctx context.Context, locator string) ([]byte, error)) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFunc = fn
	return m
}

// --- Gateway 接口实现 ---

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) GenerateStructured(ctx context.Context, req *llm.StructuredRequest) (*llm.StructuredResponse, error) {
	m.mu.Lock()
	m.structuredReqs = append(m.structuredReqs, req)
	fn := m.structuredFunc
	text := m.structuredText
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return &llm.StructuredResponse{Model: req.Model, Text: text}, nil
}

func (m *MockGateway) GenerateText(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	m.mu.Lock()
	m.textReqs = append(m.textReqs, req)
	fn, text, err := m.textFunc, m.synthesisText, m.textErr
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &llm.TextResponse{Model: req.Model, Text: text}, nil
}

func (m *MockGateway) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	m.mu.Lock()
	m.imageReqs = append(m.imageReqs, req)
	fn, data, err := m.imageFunc, m.imageData, m.imageErr
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &llm.ImageResponse{Data: data, MIMEType: "image/png"}, nil
}

func (m *MockGateway) SubmitVideo(ctx context.Context, req *llm.VideoRequest) (*llm.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoReqs = append(m.videoReqs, req)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	name := fmt.Sprintf("operations/mock-%d", len(m.videoReqs))
	return &llm.VideoJob{Name: name}, nil
}

func (m *MockGateway) PollVideo(ctx context.Context, job *llm.VideoJob) (*llm.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollCount++
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	if job == nil || job.Name == "" {
		return nil, errors.New("mock: unknown job")
	}
	m.polls[job.Name]++
	if m.polls[job.Name] <= m.pendingPolls {
		return &llm.VideoJob{Name: job.Name}, nil
	}
	return &llm.VideoJob{Name: job.Name, Done: true, Locator: m.videoLocator}, nil
}

func (m *MockGateway) FetchVideo(ctx context.Context, locator string) ([]byte, error) {
	m.mu.Lock()
	m.fetchCount++
	fn, data := m.fetchFunc, m.videoBytes
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, locator)
	}
	return data, nil
}

// --- 调用记录查询 ---

// StructuredCalls 返回结构化调用次数
func (m *MockGateway) StructuredCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.structuredReqs)
}

// StructuredRequests 返回结构化请求副本
func (m *MockGateway) StructuredRequests() []*llm.StructuredRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.StructuredRequest(nil), m.structuredReqs...)
}

// TextCalls 返回文本调用次数
func (m *MockGateway) TextCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.textReqs)
}

// TextRequests 返回文本请求副本
func (m *MockGateway) TextRequests() []*llm.TextRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.TextRequest(nil), m.textReqs...)
}

// ImageCalls 返回图像调用次数
func (m *MockGateway) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.imageReqs)
}

// VideoRequests 返回视频提交请求副本
func (m *MockGateway) VideoRequests() []*llm.VideoRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.VideoRequest(nil), m.videoReqs...)
}

// PollCalls 返回轮询次数
func (m *MockGateway) PollCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCount
}

// FetchCalls 返回下载次数
func (m *MockGateway) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCount
}

// Reset 清空调用记录
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structuredReqs = nil
	m.textReqs = nil
	m.imageReqs = nil
	m.videoReqs = nil
	m.pollCount = 0
	m.fetchCount = 0
	m.polls = make(map[string]int)
}
