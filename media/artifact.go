package media

import (
	"encoding/base64"
	"time"
)

// Kind distinguishes generated artifacts.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Artifact is a finished generation result. It is not modified after it is
// returned.
type Artifact struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Locator   string    `json:"locator"`
	Prompt    string    `json:"prompt"`
	MIMEType  string    `json:"mime_type"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Size is the payload length in bytes.
func (a *Artifact) Size() int { return len(a.Data) }

// dataURL inlines data as an RFC 2397 URL.
func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
