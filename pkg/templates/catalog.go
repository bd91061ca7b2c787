package templates

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// catalogFile mirrors the TemplateFile/TemplateDefinition shape from
// pkg/templates/registry.go, generalized from CV-match thresholds to the
// mockup Template fields (print area, displacement map, mask).
type catalogFile struct {
	Templates []templateDefinition `yaml:"templates"`
}

type templateDefinition struct {
	ID          string   `yaml:"id"`
	ProductType string   `yaml:"product_type"`
	Variant     string   `yaml:"variant"`
	Color       string   `yaml:"color"`
	Width       int      `yaml:"width"`
	Height      int      `yaml:"height"`
	PrintArea   rectDef  `yaml:"print_area"`

	BaseImage       string `yaml:"base_image"`
	DisplacementMap string `yaml:"displacement_map,omitempty"`
	Mask            string `yaml:"mask,omitempty"`

	DisplacementEncoding string  `yaml:"displacement_encoding,omitempty"`
	DisplacementStrength float64 `yaml:"displacement_strength,omitempty"`

	Active *bool `yaml:"active,omitempty"`
}

type rectDef struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// LoadCatalogFile parses one YAML catalog file, resolving asset paths
// relative to basePath.
func LoadCatalogFile(path, basePath string) ([]templateDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %s: %w", path, err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	for i := range cf.Templates {
		def := &cf.Templates[i]
		if def.ID == "" {
			return nil, fmt.Errorf("catalog file %s: template %d has no id", path, i)
		}
		if def.BaseImage != "" {
			def.BaseImage = filepath.Join(basePath, def.BaseImage)
		}
		if def.DisplacementMap != "" {
			def.DisplacementMap = filepath.Join(basePath, def.DisplacementMap)
		}
		if def.Mask != "" {
			def.Mask = filepath.Join(basePath, def.Mask)
		}
	}
	return cf.Templates, nil
}

// LoadCatalogDirectory reads every *.yaml/*.yml file under dirPath, exactly
// mirroring LoadFromDirectory's behavior: a bad file is recorded but does
// not abort loading the rest.
func LoadCatalogDirectory(dirPath, basePath string) ([]templateDefinition, []error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, []error{fmt.Errorf("read catalog directory %s: %w", dirPath, err)}
	}

	var defs []templateDefinition
	var loadErrors []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		fullPath := filepath.Join(dirPath, entry.Name())
		fileDefs, err := LoadCatalogFile(fullPath, basePath)
		if err != nil {
			loadErrors = append(loadErrors, fmt.Errorf("file %s: %w", entry.Name(), err))
			continue
		}
		defs = append(defs, fileDefs...)
	}
	return defs, loadErrors
}
