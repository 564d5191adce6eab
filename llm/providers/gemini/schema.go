package gemini

import (
	"encoding/json"

	"github.com/BaSui01/codexmirror/llm"
	"google.golang.org/genai"
)

func toGenaiSchema(s *llm.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        toGenaiType(s.Type),
		Description: s.Description,
		Required:    append([]string(nil), s.Required...),
		Items:       toGenaiSchema(s.Items),
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}

func toGenaiType(t llm.SchemaType) genai.Type {
	switch t {
	case llm.TypeObject:
		return genai.TypeObject
	case llm.TypeString:
		return genai.TypeString
	case llm.TypeNumber:
		return genai.TypeNumber
	case llm.TypeInteger:
		return genai.TypeInteger
	case llm.TypeBoolean:
		return genai.TypeBoolean
	case llm.TypeArray:
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}

// schemaInstruction is appended to the prompt when tools rule out a native
// response schema.
func schemaInstruction(s *llm.Schema) string {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return ""
	}
	return "\n\nRespond with a single JSON object matching this schema and nothing else:\n" + string(data)
}
