package plan

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/poller"
)

// ErrorPolicy decides what a run does after a group's statements are rejected
type ErrorPolicy string

const (
	// OnErrorContinue logs the rejection and moves to the next group
	OnErrorContinue ErrorPolicy = "continue"
	// OnErrorAbort stops the run
	OnErrorAbort ErrorPolicy = "abort"
)

// Plan is a declarative list of named mutation groups, run in order
type Plan struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	JobQueries  []poller.JobQuery `yaml:"job_queries,omitempty"`
	Groups      []GroupSpec       `yaml:"groups"`
	FinalDrain  *DrainSpec        `yaml:"final_drain,omitempty"`

	// Source is the file or catalog entry the plan was read from
	Source string `yaml:"-"`
}

// GroupSpec describes one MutationGroup
type GroupSpec struct {
	Name       string          `yaml:"name"`
	Retryable  bool            `yaml:"retryable,omitempty"`
	OnError    ErrorPolicy     `yaml:"on_error,omitempty"`
	Drain      *DrainSpec      `yaml:"drain,omitempty"`
	Statements []StatementSpec `yaml:"statements"`
}

// DrainSpec names a job query to wait on and bounds the wait
type DrainSpec struct {
	Query    string        `yaml:"query"`
	Interval time.Duration `yaml:"interval,omitempty"`
	MaxWait  time.Duration `yaml:"max_wait,omitempty"`
}

// StatementSpec is one operation. Template selects how the remaining fields
// are turned into a parameterized statement; the default is raw cypher.
type StatementSpec struct {
	Name     string `yaml:"name,omitempty"`
	Template string `yaml:"template,omitempty"`

	// cypher
	Cypher string         `yaml:"cypher,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`

	// rename_relationship
	From      string `yaml:"from,omitempty"`
	To        string `yaml:"to,omitempty"`
	EdgeLabel string `yaml:"edge_label,omitempty"`
	EdgeType  string `yaml:"edge_type,omitempty"`
	BatchSize int    `yaml:"batch_size,omitempty"`
	Parallel  bool   `yaml:"parallel,omitempty"`

	// label_by_xref, unique_facet
	Label         string `yaml:"label,omitempty"`
	AddLabel      string `yaml:"add_label,omitempty"`
	Site          string `yaml:"site,omitempty"`
	Facet         string `yaml:"facet,omitempty"`
	ExcludePrefix string `yaml:"exclude_prefix,omitempty"`

	// load_csv, tsv_rows
	URL            string `yaml:"url,omitempty"`
	File           string `yaml:"file,omitempty"`
	Delimiter      string `yaml:"delimiter,omitempty"`
	PeriodicCommit int    `yaml:"periodic_commit,omitempty"`
	BatchRows      int    `yaml:"batch_rows,omitempty"`
	Row            string `yaml:"row,omitempty"`
}

// Template names
const (
	TemplateCypher             = "cypher"
	TemplateRenameRelationship = "rename_relationship"
	TemplateLabelByXref        = "label_by_xref"
	TemplateUniqueFacet        = "unique_facet"
	TemplateLoadCSV            = "load_csv"
	TemplateTSVRows            = "tsv_rows"
)

// Parse decodes a plan from YAML
func Parse(data []byte, source string) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, apperrors.ConfigErrorf("failed to parse plan %s: %v", source, err)
	}
	p.Source = source
	return &p, nil
}

// Load reads a plan file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.FileSystemErrorf(err, "failed to read plan %s", path)
	}
	return Parse(data, path)
}

// Open loads ref as a file path when one exists, otherwise as a catalog name
func Open(ref string) (*Plan, error) {
	if _, err := os.Stat(ref); err == nil {
		return Load(ref)
	}
	if p, err := LoadCatalog(ref); err == nil {
		return p, nil
	}
	return nil, apperrors.ConfigErrorf("plan %q is neither a file nor a catalog entry (catalog: %s)",
		ref, strings.Join(CatalogNames(), ", "))
}

// Group returns the group spec with the given name
func (p *Plan) Group(name string) (GroupSpec, bool) {
	for _, g := range p.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupSpec{}, false
}

// JobQuery resolves a job query by name: plan-defined first, then built-in
func (p *Plan) JobQuery(name string) (poller.JobQuery, bool) {
	for _, q := range p.JobQueries {
		if q.Name == name {
			q.Statement = q.Statement.Clone()
			if q.Statement.Name == "" {
				q.Statement.Name = q.Name
			}
			return q, true
		}
	}
	return poller.Builtin(name)
}

// Policy returns the group's error policy, defaulting to continue
func (g GroupSpec) Policy() ErrorPolicy {
	if g.OnError == "" {
		return OnErrorContinue
	}
	return g.OnError
}

// TemplateName returns the statement's template, defaulting to cypher
func (s StatementSpec) TemplateName() string {
	if s.Template == "" {
		return TemplateCypher
	}
	return s.Template
}

// ValidationError lists every problem found in a plan
type ValidationError struct {
	Plan     string
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("plan %q is invalid:", e.Plan))
	for _, p := range e.Problems {
		sb.WriteString("\n  - ")
		sb.WriteString(p)
	}
	return sb.String()
}

// Validate checks the plan's structure without reading any TSV files.
// All problems are reported at once.
func (p *Plan) Validate() error {
	v := &ValidationError{Plan: p.Name}
	add := func(format string, args ...any) {
		v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
	}

	if p.Name == "" {
		add("name is required")
	}
	if len(p.Groups) == 0 {
		add("at least one group is required")
	}

	queries := make(map[string]bool)
	for _, q := range p.JobQueries {
		if err := q.Validate(); err != nil {
			add("%v", err)
		}
		if queries[q.Name] {
			add("job query %q defined twice", q.Name)
		}
		queries[q.Name] = true
	}

	checkDrain := func(where string, d *DrainSpec) {
		if d == nil {
			return
		}
		if _, ok := p.JobQuery(d.Query); !ok {
			add("%s: unknown job query %q", where, d.Query)
		}
		if d.Interval < 0 || d.MaxWait < 0 {
			add("%s: interval and max_wait must not be negative", where)
		}
	}

	seen := make(map[string]bool)
	for i, g := range p.Groups {
		where := fmt.Sprintf("group %d (%q)", i+1, g.Name)
		if g.Name == "" {
			add("group %d: name is required", i+1)
		}
		if seen[g.Name] {
			add("%s: duplicate group name", where)
		}
		seen[g.Name] = true

		switch g.Policy() {
		case OnErrorContinue, OnErrorAbort:
		default:
			add("%s: on_error must be %q or %q, got %q", where, OnErrorContinue, OnErrorAbort, g.OnError)
		}
		if len(g.Statements) == 0 {
			add("%s: no statements", where)
		}
		for j, s := range g.Statements {
			if err := s.validate(); err != nil {
				add("%s statement %d: %v", where, j+1, err)
			}
		}
		checkDrain(where, g.Drain)
	}
	checkDrain("final_drain", p.FinalDrain)

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

func (s StatementSpec) validate() error {
	switch s.TemplateName() {
	case TemplateCypher:
		if strings.TrimSpace(s.Cypher) == "" {
			return fmt.Errorf("cypher is required")
		}
	case TemplateRenameRelationship:
		if s.From == "" || s.To == "" {
			return fmt.Errorf("from and to are required")
		}
	case TemplateLabelByXref:
		if s.Label == "" || s.AddLabel == "" || s.Site == "" {
			return fmt.Errorf("label, add_label and site are required")
		}
	case TemplateUniqueFacet:
		if s.Label == "" || s.Facet == "" {
			return fmt.Errorf("label and facet are required")
		}
	case TemplateLoadCSV:
		if s.URL == "" || s.Row == "" {
			return fmt.Errorf("url and row are required")
		}
	case TemplateTSVRows:
		if s.File == "" || s.Row == "" {
			return fmt.Errorf("file and row are required")
		}
	default:
		return fmt.Errorf("unknown template %q", s.Template)
	}

	if s.Delimiter != "" {
		if _, err := parseDelimiter(s.Delimiter); err != nil {
			return err
		}
	}
	return nil
}

// parseDelimiter accepts a single character or one of tab, comma, semicolon, pipe
func parseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "", "tab", `\t`, "\t":
		return '\t', nil
	case "comma", ",":
		return ',', nil
	case "semicolon", ";":
		return ';', nil
	case "pipe", "|":
		return '|', nil
	default:
		return 0, fmt.Errorf("unsupported delimiter %q", s)
	}
}
