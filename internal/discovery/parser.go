package discovery

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"htr/internal/domain"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk description of a test assembly, written by the
// external discovery step next to the assembly it describes.
type Manifest struct {
	Assembly string            `yaml:"assembly"`
	Path     string            `yaml:"path"`
	Fixtures []ManifestFixture `yaml:"fixtures"`
}

// ManifestFixture is a fixture and its tests
type ManifestFixture struct {
	Name     string         `yaml:"name"`
	Category string         `yaml:"category"`
	Model    string         `yaml:"model"` // Default model for the fixture's tests
	Tests    []ManifestTest `yaml:"tests"`
}

// ManifestTest is a single test entry
type ManifestTest struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Model    string `yaml:"model"`
}

// Parser reads assembly manifests
type Parser struct{}

// NewParser creates a new Parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseManifest reads a manifest file into an assembly
func (p *Parser) ParseManifest(path string) (*domain.Assembly, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest %s: %w", path, err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %w", path, err)
	}

	return p.build(m, path)
}

func (p *Parser) build(m Manifest, manifestPath string) (*domain.Assembly, error) {
	if m.Assembly == "" {
		return nil, fmt.Errorf("manifest %s: assembly name is required", manifestPath)
	}

	asmPath := m.Path
	if asmPath != "" && !filepath.IsAbs(asmPath) {
		asmPath = filepath.Join(filepath.Dir(manifestPath), asmPath)
	}

	asm := &domain.Assembly{Name: m.Assembly, Path: asmPath}
	seen := make(map[string]bool)

	for _, f := range m.Fixtures {
		if f.Name == "" {
			return nil, fmt.Errorf("manifest %s: fixture without a name", manifestPath)
		}
		for _, mt := range f.Tests {
			if mt.Name == "" {
				return nil, fmt.Errorf("manifest %s: fixture %s has a test without a name", manifestPath, f.Name)
			}

			id := domain.QualifiedName(m.Assembly, f.Name, mt.Name)
			if seen[id] {
				return nil, fmt.Errorf("manifest %s: duplicate test %s", manifestPath, id)
			}
			seen[id] = true

			category := firstNonEmpty(mt.Category, f.Category, f.Name)
			asm.Tests = append(asm.Tests, &domain.TestNode{
				ID:          id,
				Name:        mt.Name,
				Fixture:     f.Name,
				Category:    category,
				Assembly:    m.Assembly,
				ModelPath:   firstNonEmpty(mt.Model, f.Model),
				ModelExists: true,
			})
		}
	}

	return asm, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
