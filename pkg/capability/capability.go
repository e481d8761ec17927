// Package capability discovers the skill manifests an agent should be
// told about at dispatch time, so prompts can advertise the project's
// available capabilities without hardcoding them.
package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"orchestrator/pkg/logx"
)

// Capability is one discovered skill manifest, reduced to what a prompt
// needs to advertise it.
type Capability struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

var logger = logx.NewLogger("capability")

// Discover scans dir for *.yaml manifests and returns their name and
// description, sorted by name. A manifest missing "name" is skipped with
// a warning rather than aborting the scan. When enabled is false, it
// returns nil without touching the filesystem.
func Discover(enabled bool, dir string) ([]Capability, error) {
	if !enabled {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read capability directory %s: %w", dir, err)
	}

	var caps []Capability
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("failed to read capability manifest %s: %v", path, err)
			continue
		}

		var c Capability
		if err := yaml.Unmarshal(data, &c); err != nil {
			logger.Warn("failed to parse capability manifest %s: %v", path, err)
			continue
		}
		if c.Name == "" {
			logger.Warn("capability manifest %s missing name, skipping", path)
			continue
		}
		caps = append(caps, c)
	}

	sort.Slice(caps, func(i, j int) bool { return caps[i].Name < caps[j].Name })
	return caps, nil
}
