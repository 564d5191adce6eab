package council_test

import (
	"testing"

	"github.com/BaSui01/codexmirror/council"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoster(t *testing.T) {
	tests := []struct {
		name    string
		agents  []council.Agent
		wantErr bool
	}{
		{name: "empty is allowed", agents: nil},
		{name: "unique", agents: []council.Agent{{Name: "a"}, {Name: "b"}}},
		{name: "blank name", agents: []council.Agent{{Name: " "}}, wantErr: true},
		{name: "duplicate", agents: []council.Agent{{Name: "a"}, {Name: "a"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := council.NewRoster(tt.agents)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.agents), r.Len())
		})
	}
}

func TestRoster_AgentsIsACopy(t *testing.T) {
	r := council.MustRoster([]council.Agent{{Name: "a"}, {Name: "b"}})
	agents := r.Agents()
	agents[0].Name = "mutated"
	assert.Equal(t, "a", r.At(0).Name)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestMustRoster_Panics(t *testing.T) {
	assert.Panics(t, func() {
		council.MustRoster([]council.Agent{{Name: "x"}, {Name: "x"}})
	})
}

func TestDefaultRoster(t *testing.T) {
	r := council.DefaultRoster()
	require.Equal(t, 8, r.Len())
	assert.Equal(t, "commander", r.At(0).Name)
	for _, a := range r.Agents() {
		assert.NotEmpty(t, a.Label, a.Name)
		assert.Contains(t, a.Instruction, "confidence_score", a.Name)
	}
}
