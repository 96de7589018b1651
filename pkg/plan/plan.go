// Package plan defines the structured project plan and the by-key merge
// used for revisions.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"planforge/pkg/utils"
)

// SectionName identifies one fixed top-level plan section.
type SectionName string

// The fixed section set, in presentation order.
const (
	Architecture SectionName = "architecture"
	Delivery     SectionName = "delivery"
	Testing      SectionName = "testing"
	Deployment   SectionName = "deployment"
	CICD         SectionName = "ci_cd"
	Repository   SectionName = "repository"
	Operations   SectionName = "operations"
)

//nolint:gochecknoglobals // fixed ordering
var fixedSections = []SectionName{Architecture, Delivery, Testing, Deployment, CICD, Repository, Operations}

// aliases maps section names models commonly emit onto the fixed set.
//
//nolint:gochecknoglobals // static alias table
var aliases = map[string]SectionName{
	"implementation_plan":   Delivery,
	"milestones":            Delivery,
	"test_plan":             Testing,
	"tests":                 Testing,
	"deployment_plan":       Deployment,
	"cicd":                  CICD,
	"ci":                    CICD,
	"repo":                  Repository,
	"repository_structure":  Repository,
	"ops":                   Operations,
	"operational_readiness": Operations,
}

// Validation errors.
var (
	ErrMissingName    = errors.New("plan has no project name")
	ErrMissingSection = errors.New("plan section missing or empty")
	ErrUnknownSection = errors.New("plan section not recognised")
)

// Sections returns the fixed section names in presentation order.
func Sections() []SectionName {
	return slices.Clone(fixedSections)
}

//nolint:gochecknoglobals // display titles
var titles = map[SectionName]string{
	Architecture: "Architecture",
	Delivery:     "Delivery Milestones",
	Testing:      "Test Strategy",
	Deployment:   "Deployment & Release",
	CICD:         "CI/CD",
	Repository:   "Repository Layout",
	Operations:   "Operational Readiness",
}

// Title returns the human-readable heading for a section.
func (n SectionName) Title() string {
	if t, ok := titles[n]; ok {
		return t
	}
	return string(n)
}

// IsSection reports whether name is one of the fixed sections.
func IsSection(name SectionName) bool {
	return slices.Contains(fixedSections, name)
}

// CanonicalSection maps a raw key (any case, dashes, known aliases) to a
// fixed section name.
func CanonicalSection(raw string) (SectionName, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if IsSection(SectionName(key)) {
		return SectionName(key), true
	}
	name, ok := aliases[key]
	return name, ok
}

// Section is the content of one plan section.
type Section struct {
	Summary string   `json:"summary" yaml:"summary"`
	Items   []string `json:"items,omitempty" yaml:"items,omitempty"`
}

// IsEmpty reports whether the section carries no content.
func (s Section) IsEmpty() bool {
	return strings.TrimSpace(s.Summary) == "" && len(s.Items) == 0
}

// Equal reports whether two sections have identical content.
func (s Section) Equal(o Section) bool {
	return s.Summary == o.Summary && slices.Equal(s.Items, o.Items)
}

// UnmarshalJSON accepts either an object or a bare string (taken as the
// summary). Non-string items are kept as compact JSON text.
func (s *Section) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = Section{Summary: text}
		return nil
	}

	var raw struct {
		Summary     string            `json:"summary"`
		Description string            `json:"description"`
		Items       []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("section: %w", err)
	}

	out := Section{Summary: raw.Summary}
	if out.Summary == "" {
		out.Summary = raw.Description
	}
	for _, item := range raw.Items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			out.Items = append(out.Items, str)
			continue
		}
		out.Items = append(out.Items, string(item))
	}
	*s = out
	return nil
}

// Plan is a structured project plan.
type Plan struct {
	ProjectName string                  `json:"project_name" yaml:"project_name"`
	Summary     string                  `json:"summary" yaml:"summary"`
	Goals       []string                `json:"goals,omitempty" yaml:"goals,omitempty"`
	Sections    map[SectionName]Section `json:"sections" yaml:"sections"`
}

// Section returns the named section (zero value if absent).
func (p *Plan) Section(name SectionName) Section {
	return p.Sections[name]
}

// Validate checks structural well-formedness: a project name and every fixed
// section present with content, and nothing else.
func (p *Plan) Validate() error {
	var errs []error
	if strings.TrimSpace(p.ProjectName) == "" {
		errs = append(errs, ErrMissingName)
	}
	for _, name := range fixedSections {
		if p.Sections[name].IsEmpty() {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSection, name))
		}
	}
	for name := range p.Sections {
		if !IsSection(name) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownSection, name))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy.
func (p Plan) Clone() Plan {
	out := Plan{
		ProjectName: p.ProjectName,
		Summary:     p.Summary,
		Goals:       slices.Clone(p.Goals),
	}
	if p.Sections != nil {
		out.Sections = make(map[SectionName]Section, len(p.Sections))
		for name, s := range p.Sections {
			out.Sections[name] = Section{Summary: s.Summary, Items: slices.Clone(s.Items)}
		}
	}
	return out
}

// Normalize trims text, drops blank and duplicate items, canonicalises
// section keys, and removes sections outside the fixed set. It returns the
// raw keys it dropped.
func (p *Plan) Normalize() []string {
	p.ProjectName = strings.TrimSpace(p.ProjectName)
	p.Summary = strings.TrimSpace(p.Summary)
	p.Goals = cleanList(p.Goals)

	var dropped []string
	sections := make(map[SectionName]Section, len(fixedSections))
	for _, c := range canonicalize(p.Sections, false) {
		if !c.ok {
			dropped = append(dropped, c.raw)
			continue
		}
		sections[c.name] = c.section
	}
	p.Sections = sections
	slices.Sort(dropped)
	return dropped
}

// Merge applies update onto a copy of base, key by key. Non-empty header
// fields and non-empty fixed sections in update replace their counterparts;
// everything else keeps base content. Merging the same update twice yields
// the same plan as merging it once.
func Merge(base, update Plan) Plan {
	out := base.Clone()
	if out.Sections == nil {
		out.Sections = make(map[SectionName]Section, len(fixedSections))
	}

	if name := strings.TrimSpace(update.ProjectName); name != "" {
		out.ProjectName = name
	}
	if summary := strings.TrimSpace(update.Summary); summary != "" {
		out.Summary = summary
	}
	if goals := cleanList(update.Goals); len(goals) > 0 {
		out.Goals = goals
	}

	for _, c := range canonicalize(update.Sections, true) {
		if !c.ok {
			continue
		}
		s := c.section
		if s.Summary == "" {
			s.Summary = out.Sections[c.name].Summary
		}
		out.Sections[c.name] = s
	}
	return out
}

type candidate struct {
	raw     string
	name    SectionName
	ok      bool
	section Section
}

// canonicalize cleans every section and resolves keys onto the fixed set.
// When an alias and its canonical key (or two aliases) name the same section,
// the richer section wins; ties go to the canonical key, then to the
// lexically smaller raw key. Unknown keys come back with ok unset, sorted.
func canonicalize(in map[SectionName]Section, skipEmpty bool) []candidate {
	raws := make([]string, 0, len(in))
	for raw := range in {
		raws = append(raws, string(raw))
	}
	slices.Sort(raws)

	best := make(map[SectionName]candidate, len(fixedSections))
	var unknown []candidate
	for _, raw := range raws {
		s := in[SectionName(raw)]
		name, ok := CanonicalSection(raw)
		if !ok {
			unknown = append(unknown, candidate{raw: raw})
			continue
		}
		c := candidate{raw: raw, name: name, ok: true, section: Section{Summary: strings.TrimSpace(s.Summary), Items: cleanList(s.Items)}}
		if skipEmpty && c.section.IsEmpty() {
			continue
		}
		if existing, seen := best[name]; seen && !c.beats(existing) {
			continue
		}
		best[name] = c
	}

	out := unknown
	for _, name := range fixedSections {
		if c, ok := best[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (c candidate) richness() int {
	return len(c.section.Items) + len(c.section.Summary)
}

// beats reports whether c should replace other. Raw keys arrive sorted, so a
// tie between two aliases keeps the earlier one.
func (c candidate) beats(other candidate) bool {
	if c.richness() != other.richness() {
		return c.richness() > other.richness()
	}
	return c.raw == string(c.name) && other.raw != string(other.name)
}

// Aspect names for header fields reported by Diff.
const (
	AspectProjectName = "project_name"
	AspectSummary     = "summary"
	AspectGoals       = "goals"
)

// Diff lists what differs between a and b: header aspects first, then
// sections in presentation order.
func Diff(a, b Plan) []string {
	var changed []string
	if a.ProjectName != b.ProjectName {
		changed = append(changed, AspectProjectName)
	}
	if a.Summary != b.Summary {
		changed = append(changed, AspectSummary)
	}
	if !slices.Equal(a.Goals, b.Goals) {
		changed = append(changed, AspectGoals)
	}
	for _, name := range fixedSections {
		if !a.Sections[name].Equal(b.Sections[name]) {
			changed = append(changed, string(name))
		}
	}
	return changed
}

// Slug returns a directory-safe name for the project.
func Slug(projectName string) string {
	if slug := utils.Slugify(projectName); slug != "" {
		return slug
	}
	return "project"
}

func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
