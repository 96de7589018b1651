// Package scaffold materializes an approved plan as a repository skeleton.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"planforge/pkg/config"
	"planforge/pkg/gateway"
	"planforge/pkg/logx"
	"planforge/pkg/plan"
	"planforge/pkg/templates"
)

// PlanFile is where the approved plan is exported inside the repository.
const PlanFile = "docs/plan.yaml"

// OperationBlueprint labels blueprint gateway calls.
const OperationBlueprint = "blueprint"

// Blueprint errors.
var (
	ErrMalformedBlueprint = errors.New("malformed blueprint response")
	ErrUnsafePath         = errors.New("path escapes the repository root")
)

// maxSuffix bounds the numeric suffixes tried when a target name is taken.
const maxSuffix = 1000

// Error reports a failed write. Path is the file or directory involved.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scaffold %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// File is one model-authored file in a blueprint.
type File struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	Executable bool   `json:"executable,omitempty"`
}

// Blueprint is the file set the model proposes for a repository.
type Blueprint struct {
	ProjectSlug string `json:"project_slug"`
	Files       []File `json:"files"`
}

// Executor writes repositories under an output root.
type Executor struct {
	root     string
	dryRun   bool
	gateway  gateway.Gateway
	renderer *templates.Renderer
	logger   *logx.Logger
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithBlueprint has the executor ask gw for the repository files before
// falling back to the built-in templates for any path the model left out.
func WithBlueprint(gw gateway.Gateway) Option {
	return func(e *Executor) { e.gateway = gw }
}

// New creates an Executor for cfg. A relative output root is resolved
// against the working directory.
func New(cfg config.ScaffoldConfig, opts ...Option) *Executor {
	root := cfg.OutputRoot
	if root == "" {
		root = "generated_projects"
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	e := &Executor{
		root:     root,
		dryRun:   cfg.DryRun,
		renderer: templates.MustNewRenderer(),
		logger:   logx.NewLogger("scaffold"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DryRun reports whether filesystem writes are disabled.
func (e *Executor) DryRun() bool {
	return e.dryRun
}

// Root returns the output root.
func (e *Executor) Root() string {
	return e.root
}

// Materialize writes the repository for p and returns its path. notes are
// the reviewer notes applied during revision; the blueprint step treats them
// as overrides of the plan. In dry-run mode nothing is written, the model is
// not consulted, and the would-be path is returned. A failed blueprint or
// write leaves no partial repository behind.
func (e *Executor) Materialize(ctx context.Context, p plan.Plan, notes []string) (string, error) {
	slug := plan.Slug(p.ProjectName)
	log := e.logger.Scoped(ctx)

	if e.dryRun {
		target := filepath.Join(e.root, slug)
		log.Info("dry-run: skipping repository generation for %s", target)
		return target, nil
	}

	var files []File
	if e.gateway != nil {
		bp, err := e.Blueprint(ctx, p, notes)
		if err != nil {
			return "", err
		}
		files = bp.Files
	}

	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return "", &Error{Path: e.root, Err: err}
	}
	tmp, err := os.MkdirTemp(e.root, "."+slug+"-*")
	if err != nil {
		return "", &Error{Path: e.root, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := e.writeAll(ctx, tmp, p, slug, files); err != nil {
		return "", err
	}

	target, err := e.place(tmp, slug)
	if err != nil {
		return "", err
	}
	committed = true

	log.Info("materialized %s at %s", p.ProjectName, target)
	return target, nil
}

// Blueprint asks the gateway for the repository files of p. Every path is
// cleaned and must stay inside the repository; a later duplicate replaces an
// earlier one.
func (e *Executor) Blueprint(ctx context.Context, p plan.Plan, notes []string) (Blueprint, error) {
	if e.gateway == nil {
		return Blueprint{}, errors.New("no blueprint gateway configured")
	}
	slug := plan.Slug(p.ProjectName)
	system, err := e.renderer.Render(templates.BlueprintTemplate, e.templateData(p, slug))
	if err != nil {
		return Blueprint{}, err
	}

	overrides := "None"
	if len(notes) > 0 {
		overrides = "- " + strings.Join(notes, "\n- ")
	}
	reply, err := e.gateway.Generate(ctx, gateway.Prompt{
		Operation: OperationBlueprint,
		System:    system,
		User: "Generate the repository files for this plan. Incorporate the following reviewer notes " +
			"as authoritative overrides.\nNotes:\n" + overrides,
		Context: p,
	})
	if err != nil {
		return Blueprint{}, err
	}

	var bp Blueprint
	if err := gateway.DecodeJSON(reply, &bp); err != nil {
		return Blueprint{}, fmt.Errorf("%w: %w", ErrMalformedBlueprint, err)
	}

	index := make(map[string]int, len(bp.Files))
	files := make([]File, 0, len(bp.Files))
	for _, f := range bp.Files {
		rel, ok := cleanPath(f.Path)
		if !ok {
			return Blueprint{}, &Error{Path: f.Path, Err: ErrUnsafePath}
		}
		f.Path = rel
		if i, dup := index[rel]; dup {
			files[i] = f
			continue
		}
		index[rel] = len(files)
		files = append(files, f)
	}
	bp.Files = files

	e.logger.Scoped(ctx).Info("blueprint for %s: %d files", p.ProjectName, len(bp.Files))
	return bp, nil
}

// cleanPath normalises a slash-separated repository path and reports whether
// it stays inside the root.
func cleanPath(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "\\") {
		return "", false
	}
	rel := path.Clean(raw)
	if rel == "." || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", false
	}
	return rel, true
}

func (e *Executor) writeAll(ctx context.Context, dir string, p plan.Plan, slug string, files []File) error {
	written := make(map[string]bool, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return &Error{Path: dir, Err: err}
		}
		mode := fs.FileMode(0o644)
		if f.Executable {
			mode = 0o755
		}
		if err := writeFile(dir, f.Path, []byte(f.Content), mode); err != nil {
			return err
		}
		written[f.Path] = true
	}

	data := e.templateData(p, slug)
	for _, f := range templates.ScaffoldFiles() {
		if err := ctx.Err(); err != nil {
			return &Error{Path: dir, Err: err}
		}
		if written[f.Path] {
			continue
		}
		content, err := e.renderer.Render(f.Template, data)
		if err != nil {
			return &Error{Path: f.Path, Err: err}
		}
		if err := writeFile(dir, f.Path, []byte(content), f.Mode); err != nil {
			return err
		}
	}

	// The exported plan replaces any blueprint file at the same path.
	exported, err := yaml.Marshal(p)
	if err != nil {
		return &Error{Path: PlanFile, Err: err}
	}
	header := fmt.Sprintf("# Approved plan for %s\n", p.ProjectName)
	if err := writeFile(dir, PlanFile, append([]byte(header), exported...), 0o644); err != nil {
		return err
	}

	for _, d := range layoutDirs(p.Sections[plan.Repository]) {
		if hasFileUnder(written, d) {
			continue
		}
		if err := writeFile(dir, filepath.Join(d, ".gitkeep"), nil, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func hasFileUnder(written map[string]bool, dir string) bool {
	prefix := filepath.ToSlash(dir) + "/"
	for p := range written {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// place renames tmp to root/slug, or root/slug-N if that name is taken.
func (e *Executor) place(tmp, slug string) (string, error) {
	for i := 1; i <= maxSuffix; i++ {
		name := slug
		if i > 1 {
			name = fmt.Sprintf("%s-%d", slug, i)
		}
		target := filepath.Join(e.root, name)
		if _, err := os.Lstat(target); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", &Error{Path: target, Err: err}
		}
		if err := os.Rename(tmp, target); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", &Error{Path: target, Err: err}
		}
		return target, nil
	}
	return "", &Error{Path: filepath.Join(e.root, slug), Err: fmt.Errorf("no free name after %d attempts", maxSuffix)}
}

func (e *Executor) templateData(p plan.Plan, slug string) *templates.TemplateData {
	data := &templates.TemplateData{
		ProjectName: p.ProjectName,
		Slug:        slug,
		Summary:     p.Summary,
		Goals:       p.Goals,
		Year:        e.now().Year(),
	}
	for _, name := range plan.Sections() {
		s := p.Sections[name]
		data.Sections = append(data.Sections, templates.SectionView{
			Name:    string(name),
			Title:   name.Title(),
			Summary: s.Summary,
			Items:   s.Items,
		})
	}
	return data
}

func writeFile(root, rel string, content []byte, mode fs.FileMode) error {
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Error{Path: rel, Err: err}
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return &Error{Path: rel, Err: err}
	}
	return nil
}

var dirPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+(/[A-Za-z0-9_.-]+)*/?$`)

// layoutDirs picks directory names out of the repository section items. An
// item counts when its first word is a relative path containing a slash,
// such as "src/" or "docs/adr".
func layoutDirs(s plan.Section) []string {
	var dirs []string
	seen := map[string]bool{}
	for _, item := range s.Items {
		word, _, _ := strings.Cut(strings.TrimSpace(item), " ")
		word = strings.Trim(word, "`*:,")
		if !strings.Contains(word, "/") || !dirPattern.MatchString(word) {
			continue
		}
		isDir := strings.HasSuffix(word, "/") || !strings.Contains(filepath.Base(word), ".")
		word = filepath.Clean(strings.TrimSuffix(word, "/"))
		if !isDir || word == "." || !filepath.IsLocal(word) || seen[word] {
			continue
		}
		seen[word] = true
		dirs = append(dirs, word)
	}
	return dirs
}
