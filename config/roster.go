package config

import (
	"fmt"
	"os"

	"github.com/BaSui01/codexmirror/council"
	"gopkg.in/yaml.v3"
)

// rosterFile is the on-disk layout:
//
//	agents:
//	  - name: commander
//	    label: Supreme Commander
//	    icon: admiral
//	    instruction: |
//	      ...
type rosterFile struct {
	Agents []council.Agent `yaml:"agents"`
}

// LoadRoster reads a roster file. An empty path returns the built-in roster.
func LoadRoster(path string) (council.Roster, error) {
	if path == "" {
		return council.DefaultRoster(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return council.Roster{}, fmt.Errorf("read roster file: %w", err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return council.Roster{}, fmt.Errorf("parse roster file: %w", err)
	}
	if len(rf.Agents) == 0 {
		return council.Roster{}, fmt.Errorf("roster file %s lists no agents", path)
	}
	return council.NewRoster(rf.Agents)
}
