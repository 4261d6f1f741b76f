package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sadlab/sadserver/pkg/models"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeCatalog(t, `
scenarios:
  easy1:
    image: ubuntu:22.04
    cpus: 0.5
    memory: 256m
  reversing:
    image: ubuntu:22.04
    cpus: 1.0
    memory: 1g
    packages: [rizin]
    publish_port: true
    setup_mode: background
    target_path: /home/ctf/crackme
`)

	c := Load(path)
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	sc, ok := c.Get("reversing")
	if !ok {
		t.Fatal("Get(reversing) not found")
	}
	if sc.ID != "reversing" {
		t.Errorf("ID = %q, want %q", sc.ID, "reversing")
	}
	if !sc.PublishPort {
		t.Error("PublishPort = false, want true")
	}
	if sc.SetupMode != models.SetupBackground {
		t.Errorf("SetupMode = %q, want %q", sc.SetupMode, models.SetupBackground)
	}
	if sc.MemoryBytes != 1<<30 {
		t.Errorf("MemoryBytes = %d, want %d", sc.MemoryBytes, 1<<30)
	}

	if _, ok := c.Get("does-not-exist"); ok {
		t.Error("Get(does-not-exist) found, want not found")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeCatalog(t, `
scenarios:
  bare: {}
`)

	c := Load(path)
	sc, ok := c.Get("bare")
	if !ok {
		t.Fatal("Get(bare) not found")
	}
	if sc.Image != "ubuntu:22.04" {
		t.Errorf("Image = %q, want default", sc.Image)
	}
	if sc.CPUs != 0.5 {
		t.Errorf("CPUs = %v, want 0.5", sc.CPUs)
	}
	if sc.SetupMode != models.SetupSync {
		t.Errorf("SetupMode = %q, want sync", sc.SetupMode)
	}
	if sc.MemoryBytes != 256<<20 {
		t.Errorf("MemoryBytes = %d, want %d", sc.MemoryBytes, 256<<20)
	}
}

// A missing or malformed backing file must yield an empty catalog, not a
// crash: lookups fail soft while the rest of the service stays up.
func TestLoadFailSoft(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if c.Len() != 0 {
		t.Errorf("missing file: Len() = %d, want 0", c.Len())
	}
	if _, ok := c.Get("easy1"); ok {
		t.Error("missing file: Get should report not found")
	}

	c = Load(writeCatalog(t, "scenarios: [not, a, map"))
	if c.Len() != 0 {
		t.Errorf("malformed file: Len() = %d, want 0", c.Len())
	}
}

func TestLoadSkipsInvalidScenarios(t *testing.T) {
	path := writeCatalog(t, `
scenarios:
  good:
    memory: 128m
  bad-memory:
    memory: lots
  bad-mode:
    setup_mode: sometimes
`)

	c := Load(path)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (invalid entries skipped)", c.Len())
	}
	if _, ok := c.Get("good"); !ok {
		t.Error("Get(good) not found")
	}
}
