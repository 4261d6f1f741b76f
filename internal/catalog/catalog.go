package catalog

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/sadlab/sadserver/pkg/models"
)

// Catalog holds the scenario definitions loaded at startup.
// It is read-only after Load and safe for concurrent use.
type Catalog struct {
	scenarios map[string]models.Scenario
}

type catalogFile struct {
	Scenarios map[string]models.Scenario `yaml:"scenarios"`
}

// Load reads scenario definitions from a YAML file. A missing or malformed
// file yields an empty catalog so the rest of the service stays available;
// scenario lookups then simply report not-found.
func Load(path string) *Catalog {
	c := &Catalog{scenarios: make(map[string]models.Scenario)}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("⚠️ Scenario catalog %s unreadable, starting empty: %v", path, err)
		return c
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		log.Printf("⚠️ Scenario catalog %s malformed, starting empty: %v", path, err)
		return c
	}

	for id, sc := range file.Scenarios {
		sc.ID = id
		if err := resolve(&sc); err != nil {
			log.Printf("⚠️ Scenario %q skipped: %v", id, err)
			continue
		}
		c.scenarios[id] = sc
	}

	log.Printf("✓ Scenario catalog loaded (%d scenarios)", len(c.scenarios))
	return c
}

// resolve applies defaults and converts the human memory string to bytes.
func resolve(sc *models.Scenario) error {
	if sc.Image == "" {
		sc.Image = "ubuntu:22.04"
	}
	if sc.CPUs == 0 {
		sc.CPUs = 0.5
	}
	if sc.Memory == "" {
		sc.Memory = "256m"
	}
	if sc.SetupMode == "" {
		sc.SetupMode = models.SetupSync
	}
	if sc.SetupMode != models.SetupSync && sc.SetupMode != models.SetupBackground {
		return fmt.Errorf("invalid setup_mode %q", sc.SetupMode)
	}

	bytes, err := units.RAMInBytes(sc.Memory)
	if err != nil {
		return fmt.Errorf("invalid memory %q: %w", sc.Memory, err)
	}
	sc.MemoryBytes = bytes
	return nil
}

// Get returns the scenario for a key.
func (c *Catalog) Get(id string) (models.Scenario, bool) {
	sc, ok := c.scenarios[id]
	return sc, ok
}

// IDs returns all scenario keys in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.scenarios))
	for id := range c.scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of loaded scenarios.
func (c *Catalog) Len() int {
	return len(c.scenarios)
}
