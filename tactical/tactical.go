// Package tactical maps user-facing toggles onto the next structured gateway
// request. It has no state and no failure modes.
package tactical

import "github.com/BaSui01/codexmirror/llm"

// DefaultThinkingBudget is the reasoning budget requested in deep mode.
const DefaultThinkingBudget int32 = 32768

// Modes are the per-invocation toggles.
type Modes struct {
	WebContext    bool `json:"web_context" yaml:"web_context"`
	GeoContext    bool `json:"geo_context" yaml:"geo_context"`
	DeepReasoning bool `json:"deep_reasoning" yaml:"deep_reasoning"`
}

// Tiers names the models behind the two reasoning depths.
type Tiers struct {
	Standard       string `yaml:"standard" env:"STANDARD"`
	Deep           string `yaml:"deep" env:"DEEP"`
	ThinkingBudget int32  `yaml:"thinking_budget" env:"THINKING_BUDGET"`
}

// DefaultTiers returns the Gemini model pair.
func DefaultTiers() Tiers {
	return Tiers{
		Standard:       "gemini-2.5-flash",
		Deep:           "gemini-2.5-pro",
		ThinkingBudget: DefaultThinkingBudget,
	}
}

// Apply annotates req. Augmentations are additive and independent of the
// model tier.
func (m Modes) Apply(req *llm.StructuredRequest, tiers Tiers) {
	if req == nil {
		return
	}
	if m.WebContext && !req.HasTool(llm.ToolWebSearch) {
		req.Tools = append(req.Tools, llm.ToolWebSearch)
	}
	if m.GeoContext && !req.HasTool(llm.ToolMaps) {
		req.Tools = append(req.Tools, llm.ToolMaps)
	}

	if m.DeepReasoning {
		req.Model = tiers.Deep
		req.ThinkingBudget = tiers.ThinkingBudget
		if req.ThinkingBudget <= 0 {
			req.ThinkingBudget = DefaultThinkingBudget
		}
		return
	}
	req.Model = tiers.Standard
	req.ThinkingBudget = 0
}

// Labels lists the enabled toggles, for logs and reports.
func (m Modes) Labels() []string {
	var out []string
	if m.WebContext {
		out = append(out, "web")
	}
	if m.GeoContext {
		out = append(out, "geo")
	}
	if m.DeepReasoning {
		out = append(out, "deep")
	}
	return out
}
