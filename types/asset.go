package types

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Asset is a user-supplied file attached to a task. Data holds the payload
// as standard base64 text so it can travel through JSON unchanged.
type Asset struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
	Name     string `json:"name"`
}

// NewAsset encodes raw bytes into an Asset. When mimeType is empty it is
// sniffed from the content.
func NewAsset(name string, raw []byte, mimeType string) *Asset {
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
	}
	// DetectContentType 可能带 charset 参数，只保留主类型
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return &Asset{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MIMEType: mimeType,
		Name:     name,
	}
}

// Bytes decodes the payload.
func (a *Asset) Bytes() ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, NewInvalidRequestError(fmt.Sprintf("asset %q is not valid base64", a.Name)).WithCause(err)
	}
	return raw, nil
}

// IsImage reports whether the asset can seed an image-conditioned request.
func (a *Asset) IsImage() bool {
	return a != nil && strings.HasPrefix(a.MIMEType, "image/")
}

// Validate checks that the asset carries a decodable payload.
func (a *Asset) Validate() error {
	if a == nil {
		return nil
	}
	if a.Data == "" {
		return NewInvalidRequestError("asset data is empty")
	}
	if a.MIMEType == "" {
		return NewInvalidRequestError("asset mime_type is required")
	}
	_, err := a.Bytes()
	return err
}
