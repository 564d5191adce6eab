// =============================================================================
// 📦 测试数据工厂 - 网关响应测试数据
// =============================================================================
package fixtures

import "fmt"

// VerdictJSON 返回一个合法的结构化裁决 JSON
func VerdictJSON(analysis, recommendation string, confidence float64) string {
	return fmt.Sprintf(`{"core_analysis":%q,"key_recommendation":%q,"confidence_score":%v}`,
		analysis, recommendation, confidence)
}

// FencedVerdictJSON 返回包裹在 markdown 代码块中的裁决 JSON
func FencedVerdictJSON(analysis, recommendation string, confidence float64) string {
	return "```json\n" + VerdictJSON(analysis, recommendation, confidence) + "\n```"
}

// MalformedVerdicts 返回应当被拒绝的结构化响应
func MalformedVerdicts() map[string]string {
	return map[string]string{
		"not json":            "the model rambled instead",
		"empty":               "",
		"missing analysis":    `{"key_recommendation":"r","confidence_score":0.5}`,
		"missing confidence":  `{"core_analysis":"a","key_recommendation":"r"}`,
		"wrong type":          `{"core_analysis":"a","key_recommendation":"r","confidence_score":"high"}`,
		"confidence too high": `{"core_analysis":"a","key_recommendation":"r","confidence_score":1.5}`,
		"negative confidence": `{"core_analysis":"a","key_recommendation":"r","confidence_score":-0.1}`,
		"array":               `[1,2,3]`,
		"blank analysis":      `{"core_analysis":"  ","key_recommendation":"r","confidence_score":0.5}`,
	}
}

// BriefingJSON 返回一个合法的主动简报 JSON
func BriefingJSON() string {
	return `{"overview":"all systems nominal","key_insight":"memory is stable","suggested_actions":["review memory trend","check goroutine growth","plan capacity"]}`
}
