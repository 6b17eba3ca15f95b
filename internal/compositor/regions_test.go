package compositor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinRegionTables(t *testing.T) {
	tests := []struct {
		name    string
		regions int
		max     int
	}{
		{"mesh", 2, 425},
		{"mesh-full", 4, 428},
		{"pigo", 2, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := LoadRegionTable(tt.name, "")
			if err != nil {
				t.Fatal(err)
			}
			if len(rt.Regions) != tt.regions {
				t.Errorf("regions = %d, want %d", len(rt.Regions), tt.regions)
			}
			if rt.MaxIndex() != tt.max {
				t.Errorf("MaxIndex = %d, want %d", rt.MaxIndex(), tt.max)
			}
		})
	}

	if _, err := LoadRegionTable("nope", ""); err == nil {
		t.Error("expected error for unknown table")
	}
}

func TestRegionTableFromFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	os.WriteFile(good, []byte(`
tables:
  - name: custom
    regions:
      - name: nose
        indices: [1, 2, 3]
`), 0o644)
	rt, err := LoadRegionTable("custom", good)
	if err != nil {
		t.Fatal(err)
	}
	if rt.Regions[0].Name != "nose" {
		t.Errorf("unexpected table %+v", rt)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte(`
tables:
  - name: custom
    regions:
      - name: line
        indices: [1, 2]
`), 0o644)
	if _, err := LoadRegionTable("custom", bad); err == nil {
		t.Error("expected error for a two-point region")
	}
}
