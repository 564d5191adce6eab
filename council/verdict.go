package council

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/BaSui01/codexmirror/llm"
)

// DegradedDiagnostic is the fixed message carried by every Error Result.
const DegradedDiagnostic = "analysis unavailable: the model could not be reached or the request was blocked"

// Verdict is one agent's structured answer.
type Verdict struct {
	CoreAnalysis      string  `json:"core_analysis"`
	KeyRecommendation string  `json:"key_recommendation"`
	ConfidenceScore   float64 `json:"confidence_score"`
}

// ErrorResult replaces a Verdict when the agent's call failed.
type ErrorResult struct {
	Diagnostic string  `json:"diagnostic"`
	Confidence float64 `json:"confidence"`
}

// NewErrorResult returns the fixed degraded result.
func NewErrorResult() *ErrorResult {
	return &ErrorResult{Diagnostic: DegradedDiagnostic, Confidence: 0}
}

// Outcome pairs an agent with exactly one of Verdict or Error.
type Outcome struct {
	Agent   Agent        `json:"agent"`
	Verdict *Verdict     `json:"verdict,omitempty"`
	Error   *ErrorResult `json:"error,omitempty"`
}

// OK reports whether the outcome carries a verdict.
func (o Outcome) OK() bool { return o.Verdict != nil }

// Confidence is the verdict's score, or zero when degraded.
func (o Outcome) Confidence() float64 {
	if o.Verdict == nil {
		return 0
	}
	return o.Verdict.ConfidenceScore
}

var (
	errEmptyPayload  = errors.New("empty payload")
	errMissingField  = errors.New("missing required field")
	errOutOfRange    = errors.New("confidence_score outside [0,1]")
	errTrailingInput = errors.New("trailing data after JSON object")
)

// ParseVerdict decodes an untrusted gateway payload. Any mismatch with the
// expected shape is an error.
func ParseVerdict(text string) (Verdict, error) {
	payload := StripFences(text)
	if payload == "" {
		return Verdict{}, errEmptyPayload
	}

	var raw struct {
		CoreAnalysis      *string  `json:"core_analysis"`
		KeyRecommendation *string  `json:"key_recommendation"`
		ConfidenceScore   *float64 `json:"confidence_score"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := dec.Decode(&raw); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if dec.More() {
		return Verdict{}, errTrailingInput
	}

	switch {
	case raw.CoreAnalysis == nil || strings.TrimSpace(*raw.CoreAnalysis) == "":
		return Verdict{}, fmt.Errorf("%w: core_analysis", errMissingField)
	case raw.KeyRecommendation == nil || strings.TrimSpace(*raw.KeyRecommendation) == "":
		return Verdict{}, fmt.Errorf("%w: key_recommendation", errMissingField)
	case raw.ConfidenceScore == nil:
		return Verdict{}, fmt.Errorf("%w: confidence_score", errMissingField)
	}
	score := *raw.ConfidenceScore
	if math.IsNaN(score) || score < 0 || score > 1 {
		return Verdict{}, fmt.Errorf("%w: %v", errOutOfRange, score)
	}

	return Verdict{
		CoreAnalysis:      strings.TrimSpace(*raw.CoreAnalysis),
		KeyRecommendation: strings.TrimSpace(*raw.KeyRecommendation),
		ConfidenceScore:   score,
	}, nil
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// VerdictSchema is the response schema sent with every agent request.
func VerdictSchema() *llm.Schema {
	zero, one := 0.0, 1.0
	return &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"core_analysis": {
				Type:        llm.TypeString,
				Description: "Analysis of the core of the problem in 2-3 sentences.",
			},
			"key_recommendation": {
				Type:        llm.TypeString,
				Description: "The single most important recommendation.",
			},
			"confidence_score": {
				Type:        llm.TypeNumber,
				Description: "Confidence in the analysis, from 0.0 to 1.0.",
				Minimum:     &zero,
				Maximum:     &one,
			},
		},
		Required: []string{"core_analysis", "key_recommendation", "confidence_score"},
	}
}
