package council

import (
	"fmt"
	"strings"
)

// Agent describes one panel member. Instruction is an opaque persona payload
// handed to the gateway unchanged.
type Agent struct {
	Name        string `json:"name" yaml:"name"`
	Label       string `json:"label" yaml:"label"`
	Instruction string `json:"instruction,omitempty" yaml:"instruction"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`
}

// Roster is the ordered panel. Order decides result order, not priority.
type Roster struct {
	agents []Agent
}

// NewRoster validates agents and returns an immutable roster.
func NewRoster(agents []Agent) (Roster, error) {
	seen := make(map[string]struct{}, len(agents))
	for i, a := range agents {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return Roster{}, fmt.Errorf("roster entry %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return Roster{}, fmt.Errorf("roster entry %d: duplicate agent name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return Roster{agents: append([]Agent(nil), agents...)}, nil
}

// MustRoster is NewRoster for static tables.
func MustRoster(agents []Agent) Roster {
	r, err := NewRoster(agents)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Roster) Len() int { return len(r.agents) }

// At returns the i-th agent.
func (r Roster) At(i int) Agent { return r.agents[i] }

// Agents returns a copy of the panel in order.
func (r Roster) Agents() []Agent { return append([]Agent(nil), r.agents...) }

// Names returns the agent names in order.
func (r Roster) Names() []string {
	out := make([]string, len(r.agents))
	for i, a := range r.agents {
		out[i] = a.Name
	}
	return out
}

const verdictDirective = `

Report as a JSON object with exactly these fields:
{"core_analysis": "your analysis of the heart of the problem in 2-3 sentences",
 "key_recommendation": "the single most important recommendation",
 "confidence_score": a number between 0.0 and 1.0}`

// DefaultRoster is the built-in eight-member panel.
func DefaultRoster() Roster {
	return MustRoster([]Agent{
		{
			Name:        "commander",
			Label:       "Supreme Commander",
			Icon:        "admiral",
			Instruction: "You set the overall strategic direction. Weigh every option and describe the path that wins without a fight." + verdictDirective,
		},
		{
			Name:        "intelligence",
			Label:       "Chief Intelligence Officer",
			Icon:        "data",
			Instruction: "You supply the purest factual data relevant to the task so the deliberation stays grounded in reality." + verdictDirective,
		},
		{
			Name:        "theorist",
			Label:       "Theoretical Architect",
			Icon:        "brain",
			Instruction: "You look past conventional constraints for an elegant, fundamental solution." + verdictDirective,
		},
		{
			Name:        "strategist",
			Label:       "Tactical Strategist",
			Icon:        "scroll",
			Instruction: "You map every threat and opportunity. Know the opponent and know yourself." + verdictDirective,
		},
		{
			Name:        "clarifier",
			Label:       "Intent Clarifier",
			Icon:        "quote",
			Instruction: "You restate the requester's intent as precisely as possible and remove every ambiguity." + verdictDirective,
		},
		{
			Name:        "refiner",
			Label:       "Recursive Refiner",
			Icon:        "reflect",
			Instruction: "You reflect on the likely answer, react to its weaknesses and refine it toward a better one." + verdictDirective,
		},
		{
			Name:        "approver",
			Label:       "Final Approver",
			Icon:        "omega",
			Instruction: "You judge whether the direction is sound enough to commit to, and what must hold for approval." + verdictDirective,
		},
		{
			Name:        "first-principles",
			Label:       "First-Principles Analyst",
			Icon:        "sigil",
			Instruction: "You break the task down to its fundamentals and rebuild the answer from there." + verdictDirective,
		},
	})
}
