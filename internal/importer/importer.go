// Package importer loads rule definitions from YAML files on disk. A
// rule file holds either a single rule document or a list of rules.
package importer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/detect/internal/logging"
	"github.com/telhawk-systems/detect/pkg/model"
)

// Importer reads rule definitions from a directory tree.
type Importer struct {
	dir    string
	logger *logging.Logger
}

// New creates an importer over a rules directory.
func New(dir string, logger *logging.Logger) *Importer {
	return &Importer{dir: dir, logger: logger.WithComponent("importer")}
}

// ruleFile is the on-disk shape: either a single rule or a rules list.
type ruleFile struct {
	Rules []model.RuleDefinition `yaml:"rules"`

	model.RuleDefinition `yaml:",inline"`
}

// Load walks the rules directory and returns every enabled rule
// definition, sorted by file path then declaration order. Disabled
// rules are skipped. Unreadable or malformed files fail the load.
func (i *Importer) Load() ([]model.RuleDefinition, error) {
	paths, err := i.ruleFiles()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no rule files found under %s", i.dir)
	}

	var defs []model.RuleDefinition
	for _, path := range paths {
		loaded, err := i.loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		for _, def := range loaded {
			if def.Disabled {
				i.logger.Debug("skipping disabled rule", "rule_id", def.ID, "file", path)
				continue
			}
			defs = append(defs, def)
		}
	}

	i.logger.Info("loaded rule definitions", "count", len(defs), "files", len(paths))
	return defs, nil
}

// ruleFiles collects .yaml and .yml paths under the directory, sorted.
func (i *Importer) ruleFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(i.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking rules dir %s: %w", i.dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// loadFile parses one YAML file into rule definitions.
func (i *Importer) loadFile(path string) ([]model.RuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	if len(file.Rules) > 0 {
		return file.Rules, nil
	}
	if file.RuleDefinition.ID != "" {
		return []model.RuleDefinition{file.RuleDefinition}, nil
	}
	return nil, fmt.Errorf("no rules in file")
}
