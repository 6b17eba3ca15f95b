package compositor

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var builtinRegions []byte

// Region is one polygon of landmark indices.
type Region struct {
	Name    string `yaml:"name"`
	Indices []int  `yaml:"indices"`
}

// RegionTable is the set of polygons filled with the shade color.
type RegionTable struct {
	Name    string   `yaml:"name"`
	Regions []Region `yaml:"regions"`
}

type regionFile struct {
	Tables []RegionTable `yaml:"tables"`
}

func (t RegionTable) validate() error {
	if len(t.Regions) == 0 {
		return fmt.Errorf("region table %q has no regions", t.Name)
	}
	for _, r := range t.Regions {
		if len(r.Indices) < 3 {
			return fmt.Errorf("region %q in table %q needs at least 3 points", r.Name, t.Name)
		}
		for _, i := range r.Indices {
			if i < 0 {
				return fmt.Errorf("region %q in table %q has negative index %d", r.Name, t.Name, i)
			}
		}
	}
	return nil
}

// MaxIndex returns the highest landmark index the table references.
func (t RegionTable) MaxIndex() int {
	hi := -1
	for _, r := range t.Regions {
		for _, i := range r.Indices {
			if i > hi {
				hi = i
			}
		}
	}
	return hi
}

func parseTables(data []byte) ([]RegionTable, error) {
	var f regionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse region tables: %w", err)
	}
	for _, t := range f.Tables {
		if err := t.validate(); err != nil {
			return nil, err
		}
	}
	return f.Tables, nil
}

// LoadRegionTable returns the named table from path, or from the built-in
// tables when path is empty.
func LoadRegionTable(name, path string) (RegionTable, error) {
	data := builtinRegions
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return RegionTable{}, fmt.Errorf("failed to read region file: %w", err)
		}
	}
	tables, err := parseTables(data)
	if err != nil {
		return RegionTable{}, err
	}
	for _, t := range tables {
		if t.Name == name {
			return t, nil
		}
	}
	return RegionTable{}, fmt.Errorf("unknown region table %q", name)
}
