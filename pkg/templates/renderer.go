// Package templates provides template rendering for model prompts and the
// files written into a scaffolded repository.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

//go:embed prompts/*.tpl.md scaffold/*.tmpl
var templateFS embed.FS

// SectionView is a plan section as templates see it.
type SectionView struct {
	Name    string
	Title   string
	Summary string
	Items   []string
}

// TemplateData holds the data for template rendering.
type TemplateData struct {
	// Prompt settings
	MaxQuestions  int
	MaxItems      int
	MaxItemLength int

	// Project data
	ProjectName string
	Slug        string
	Summary     string
	Goals       []string
	Sections    []SectionView
	Year        int

	Extra map[string]any
}

// Section returns the named section view, or an empty view when absent.
func (d *TemplateData) Section(name string) SectionView {
	for _, s := range d.Sections {
		if s.Name == name {
			return s
		}
	}
	return SectionView{Name: name}
}

// StateTemplate names an embedded template.
type StateTemplate string

const (
	// ClarifyTemplate is the system prompt for generating clarifying questions.
	ClarifyTemplate StateTemplate = "prompts/clarify.tpl.md"
	// ComposeTemplate is the system prompt for drafting the initial plan.
	ComposeTemplate StateTemplate = "prompts/compose.tpl.md"
	// ReviseTemplate is the system prompt for applying revision notes.
	ReviseTemplate StateTemplate = "prompts/revise.tpl.md"
	// BlueprintTemplate is the system prompt for generating repository files.
	BlueprintTemplate StateTemplate = "prompts/blueprint.tpl.md"

	ReadmeTemplate       StateTemplate = "scaffold/README.md.tmpl"
	ArchitectureTemplate StateTemplate = "scaffold/ARCHITECTURE.md.tmpl"
	ContributingTemplate StateTemplate = "scaffold/CONTRIBUTING.md.tmpl"
	SecurityTemplate     StateTemplate = "scaffold/SECURITY.md.tmpl"
	CodeownersTemplate   StateTemplate = "scaffold/CODEOWNERS.tmpl"
	PullRequestTemplate  StateTemplate = "scaffold/pull_request_template.md.tmpl"
	CIWorkflowTemplate   StateTemplate = "scaffold/ci.yml.tmpl"
	ReleaseTemplate      StateTemplate = "scaffold/release.yml.tmpl"
	LicenseTemplate      StateTemplate = "scaffold/LICENSE.tmpl"
)

// ScaffoldFile maps a template onto its path inside a generated repository.
type ScaffoldFile struct {
	Path     string
	Template StateTemplate
	Mode     fs.FileMode
}

// ScaffoldFiles returns the files every generated repository receives.
func ScaffoldFiles() []ScaffoldFile {
	return []ScaffoldFile{
		{Path: "README.md", Template: ReadmeTemplate, Mode: 0o644},
		{Path: "docs/ARCHITECTURE.md", Template: ArchitectureTemplate, Mode: 0o644},
		{Path: "CONTRIBUTING.md", Template: ContributingTemplate, Mode: 0o644},
		{Path: "SECURITY.md", Template: SecurityTemplate, Mode: 0o644},
		{Path: "CODEOWNERS", Template: CodeownersTemplate, Mode: 0o644},
		{Path: "LICENSE", Template: LicenseTemplate, Mode: 0o644},
		{Path: ".github/pull_request_template.md", Template: PullRequestTemplate, Mode: 0o644},
		{Path: ".github/workflows/ci.yml", Template: CIWorkflowTemplate, Mode: 0o644},
		{Path: ".github/workflows/release.yml", Template: ReleaseTemplate, Mode: 0o644},
	}
}

// Renderer handles template rendering.
type Renderer struct {
	templates map[StateTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[StateTemplate]*template.Template),
	}

	templateNames := []StateTemplate{
		ClarifyTemplate,
		ComposeTemplate,
		ReviseTemplate,
		BlueprintTemplate,
	}
	for _, f := range ScaffoldFiles() {
		templateNames = append(templateNames, f.Template)
	}

	for _, name := range templateNames {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"join": strings.Join,
		}).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// MustNewRenderer is NewRenderer for package-level initialisation; the
// templates are embedded, so a parse failure is a build defect.
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName StateTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return buf.String(), nil
}

// GetAvailableTemplates returns a list of all available templates.
func (r *Renderer) GetAvailableTemplates() []StateTemplate {
	templates := make([]StateTemplate, 0, len(r.templates))
	for name := range r.templates {
		templates = append(templates, name)
	}
	return templates
}
