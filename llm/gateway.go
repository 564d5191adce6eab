package llm

import (
	"context"

	"github.com/BaSui01/codexmirror/types"
)

// Tool names an augmentation the backend may use while answering.
type Tool string

const (
	ToolWebSearch Tool = "web_search"
	ToolMaps      Tool = "maps"
)

// SchemaType mirrors the JSON schema primitive types the backend accepts.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeArray   SchemaType = "array"
)

// Schema constrains a structured response.
type Schema struct {
	Type        SchemaType         `json:"type" yaml:"type"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty" yaml:"maximum,omitempty"`
}

// StructuredRequest asks for a JSON document shaped by Schema.
type StructuredRequest struct {
	Prompt         string       `json:"prompt"`
	Persona        string       `json:"persona,omitempty"`
	Model          string       `json:"model,omitempty"`
	Tools          []Tool       `json:"tools,omitempty"`
	ThinkingBudget int32        `json:"thinking_budget,omitempty"`
	Temperature    *float32     `json:"temperature,omitempty"`
	TopP           *float32     `json:"top_p,omitempty"`
	Schema         *Schema      `json:"schema,omitempty"`
	Image          *types.Asset `json:"-"`
}

// HasTool reports whether t is already attached.
func (r *StructuredRequest) HasTool(t Tool) bool {
	for _, existing := range r.Tools {
		if existing == t {
			return true
		}
	}
	return false
}

// StructuredResponse carries the raw JSON text. Callers parse it themselves.
type StructuredResponse struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// TextRequest asks for free-form text.
type TextRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type TextResponse struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// ImageRequest asks for a single image.
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

type ImageResponse struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// VideoRequest submits a long-running video job. Seed, when set, conditions
// the video on an image.
type VideoRequest struct {
	Prompt      string       `json:"prompt"`
	Model       string       `json:"model,omitempty"`
	Resolution  string       `json:"resolution,omitempty"`
	AspectRatio string       `json:"aspect_ratio,omitempty"`
	Seed        *types.Asset `json:"-"`
}

// VideoJob is a pollable server-side operation. Locator is only meaningful
// once Done is true.
type VideoJob struct {
	Name    string `json:"name"`
	Done    bool   `json:"done"`
	Locator string `json:"locator,omitempty"`
}

// StructuredGenerator produces schema-constrained JSON.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req *StructuredRequest) (*StructuredResponse, error)
}

// TextGenerator produces free text.
type TextGenerator interface {
	GenerateText(ctx context.Context, req *TextRequest) (*TextResponse, error)
}

// ImageGenerator produces one image per call.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}

// VideoGenerator drives a long-running video job.
type VideoGenerator interface {
	SubmitVideo(ctx context.Context, req *VideoRequest) (*VideoJob, error)
	PollVideo(ctx context.Context, job *VideoJob) (*VideoJob, error)
	FetchVideo(ctx context.Context, locator string) ([]byte, error)
}

// Gateway is the full capability surface the orchestration depends on.
type Gateway interface {
	StructuredGenerator
	TextGenerator
	ImageGenerator
	VideoGenerator
	Name() string
}
