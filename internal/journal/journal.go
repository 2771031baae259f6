package journal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"htr/internal/domain"
)

var (
	// ErrExportIncompatible rejects exporting journals for continuous or grouped runs
	ErrExportIncompatible = errors.New("journals cannot be exported for continuous or group-by-model runs")
	// ErrNoJournalSample is returned when the journal sample is unset or missing
	ErrNoJournalSample = errors.New("journal sample file not set or missing")
)

const defaultTemplate = `' htr automation journal
' run {{ .RunID }} batch {{ .Batch }}
' product {{ .Product.Name }}{{ with .Product.Version }} {{ . }}{{ end }}
Set WorkingDirectory = "{{ .WorkingDirectory }}"
{{- range .ResolutionDirs }}
AddResolutionDirectory "{{ . }}"
{{- end }}
{{- if .Model }}
OpenModel "{{ .Model }}"
{{- end }}
{{- range .Tests }}
RunTest "{{ .Assembly }}" "{{ .Fixture }}" "{{ .Name }}"
{{- end }}
WriteResults "{{ .ResultsPath }}"
{{- if .Exported }}
Exit
{{- end }}
`

// Data is what a journal template is rendered with
type Data struct {
	RunID            string
	Batch            int
	Product          domain.Product
	Model            string // Resolved model path, empty when the batch needs none
	WorkingDirectory string
	ResultsPath      string
	ResolutionDirs   []string
	Tests            []domain.TestCase
	Exported         bool // Standalone journal that closes the host when done
}

// Template renders automation journals
type Template struct {
	tmpl *template.Template
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"quote": func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
}

// Default returns the built-in journal template
func Default() *Template {
	return &Template{tmpl: template.Must(template.New("journal").Funcs(funcs).Parse(defaultTemplate))}
}

// Load parses a journal sample. An empty path yields the default template.
func Load(samplePath string) (*Template, error) {
	if samplePath == "" {
		return Default(), nil
	}
	return LoadSample(samplePath)
}

// LoadSample parses a journal sample that must exist
func LoadSample(samplePath string) (*Template, error) {
	if samplePath == "" {
		return nil, ErrNoJournalSample
	}
	data, err := os.ReadFile(samplePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoJournalSample, samplePath)
		}
		return nil, fmt.Errorf("read journal sample: %w", err)
	}
	tmpl, err := template.New(filepath.Base(samplePath)).Funcs(funcs).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse journal sample: %w", err)
	}
	return &Template{tmpl: tmpl}, nil
}

// Render executes the template
func (t *Template) Render(data Data) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render journal: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders data into path
func (t *Template) Write(path string, data Data) error {
	content, err := t.Render(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	return os.WriteFile(path, content, 0644)
}

// FileName is the journal name of a batch
func FileName(batch domain.RunBatch) string {
	if len(batch.Tests) == 1 {
		t := batch.Tests[0]
		return fmt.Sprintf("journal_%03d_%s.txt", batch.Index, sanitize(t.Fixture+"."+t.Name))
	}
	return fmt.Sprintf("journal_%03d.txt", batch.Index)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
