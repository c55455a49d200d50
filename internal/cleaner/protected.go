package cleaner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// protectedFile is the shape of .conveyor/protected-branches.yaml:
//
//	branches:
//	  - release/**
//	  - staging
type protectedFile struct {
	Branches []string `yaml:"branches"`
}

// LoadProtectedPatterns reads extra protected-branch names or glob
// patterns from the optional per-repository file. These append to the
// configured cleanup.protected list rather than replacing it. A missing
// file yields no patterns.
func LoadProtectedPatterns(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var f protectedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.Branches, nil
}
