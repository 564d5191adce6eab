package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/tactical"
)

// record 是 council_reports 表的一行，Schema 由 internal/migration 维护
type record struct {
	ID            string `gorm:"primaryKey;size:64"`
	Task          string
	Subject       string
	PrePhase      bool
	WebContext    bool
	GeoContext    bool
	DeepReasoning bool
	Agents        int
	Degraded      int
	Synthesis     string
	Outcomes      string
	StartedAt     time.Time
	FinishedAt    time.Time
	CreatedAt     time.Time
}

func (record) TableName() string { return "council_reports" }

// Entry 是一份归档报告
type Entry struct {
	orchestrator.Report
	Subject    string    `json:"subject,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Summary 是列表视图，不含各 agent 的结论
type Summary struct {
	InvocationID string         `json:"invocation_id"`
	Task         string         `json:"task"`
	Subject      string         `json:"subject,omitempty"`
	PrePhase     bool           `json:"pre_phase"`
	Modes        tactical.Modes `json:"modes"`
	Agents       int            `json:"agents"`
	Degraded     int            `json:"degraded"`
	FinishedAt   time.Time      `json:"finished_at"`
}

func newRecord(r *orchestrator.Report, subject string, now time.Time) (*record, error) {
	// instruction 属于名册配置，不进入历史
	outcomes := make([]council.Outcome, len(r.Outcomes))
	for i, o := range r.Outcomes {
		o.Agent.Instruction = ""
		outcomes[i] = o
	}
	raw, err := json.Marshal(outcomes)
	if err != nil {
		return nil, fmt.Errorf("encode outcomes: %w", err)
	}
	return &record{
		ID:            r.InvocationID,
		Task:          r.Task,
		Subject:       subject,
		PrePhase:      r.PrePhase,
		WebContext:    r.Modes.WebContext,
		GeoContext:    r.Modes.GeoContext,
		DeepReasoning: r.Modes.DeepReasoning,
		Agents:        len(r.Outcomes),
		Degraded:      r.Degraded,
		Synthesis:     r.Synthesis,
		Outcomes:      string(raw),
		StartedAt:     r.StartedAt.UTC(),
		FinishedAt:    r.FinishedAt.UTC(),
		CreatedAt:     now.UTC(),
	}, nil
}

func (rec *record) modes() tactical.Modes {
	return tactical.Modes{
		WebContext:    rec.WebContext,
		GeoContext:    rec.GeoContext,
		DeepReasoning: rec.DeepReasoning,
	}
}

func (rec *record) entry() (*Entry, error) {
	var outcomes []council.Outcome
	if rec.Outcomes != "" {
		if err := json.Unmarshal([]byte(rec.Outcomes), &outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes of %s: %w", rec.ID, err)
		}
	}
	return &Entry{
		Report: orchestrator.Report{
			InvocationID: rec.ID,
			Task:         rec.Task,
			PrePhase:     rec.PrePhase,
			Modes:        rec.modes(),
			Outcomes:     outcomes,
			Synthesis:    rec.Synthesis,
			Degraded:     rec.Degraded,
			StartedAt:    rec.StartedAt,
			FinishedAt:   rec.FinishedAt,
		},
		Subject:    rec.Subject,
		ArchivedAt: rec.CreatedAt,
	}, nil
}

func (rec *record) summary() Summary {
	return Summary{
		InvocationID: rec.ID,
		Task:         rec.Task,
		Subject:      rec.Subject,
		PrePhase:     rec.PrePhase,
		Modes:        rec.modes(),
		Agents:       rec.Agents,
		Degraded:     rec.Degraded,
		FinishedAt:   rec.FinishedAt,
	}
}
