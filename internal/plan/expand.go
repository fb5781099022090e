package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vfbgraph/graphmaint/internal/batch"
	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/graph"
	"github.com/vfbgraph/graphmaint/internal/poller"
)

// Step is one expanded group, ready for the runner
type Step struct {
	Group   batch.MutationGroup
	OnError ErrorPolicy
	Drain   *Drain
}

// Drain is a resolved drain: the job query plus the wait bounds
type Drain struct {
	Query    poller.JobQuery
	Interval time.Duration
	MaxWait  time.Duration
}

// ExpandOptions supply defaults not carried by the plan
type ExpandOptions struct {
	// BaseDir resolves relative tsv_rows files; defaults to the plan file's directory
	BaseDir         string
	DefaultInterval time.Duration
	DefaultMaxWait  time.Duration
	DefaultTSVBatch int
}

// Expanded is a validated plan turned into runnable steps
type Expanded struct {
	Plan        *Plan
	Steps       []Step
	FinalDrain  *Drain
	Fingerprint string
}

// Operations returns the total number of statements across all steps
func (e *Expanded) Operations() int {
	n := 0
	for _, s := range e.Steps {
		n += s.Group.Len()
	}
	return n
}

// Expand validates p and builds every statement. TSV files referenced by
// tsv_rows statements are read here.
func Expand(p *Plan, opts ExpandOptions) (*Expanded, error) {
	if err := p.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, apperrors.SeverityCritical, "plan validation failed")
	}

	if opts.BaseDir == "" && p.Source != "" && !isCatalogSource(p.Source) {
		opts.BaseDir = filepath.Dir(p.Source)
	}

	out := &Expanded{Plan: p}
	for _, g := range p.Groups {
		var ops []graph.Statement
		for i, s := range g.Statements {
			stmts, err := s.expand(opts, fmt.Sprintf("%s #%d", g.Name, i+1))
			if err != nil {
				return nil, fmt.Errorf("group %q statement %d: %w", g.Name, i+1, err)
			}
			ops = append(ops, stmts...)
		}

		var groupOpts []batch.GroupOption
		if g.Retryable {
			groupOpts = append(groupOpts, batch.WithRetry())
		}

		out.Steps = append(out.Steps, Step{
			Group:   batch.NewMutationGroup(g.Name, ops, groupOpts...),
			OnError: g.Policy(),
			Drain:   p.resolveDrain(g.Drain, opts),
		})
	}
	out.FinalDrain = p.resolveDrain(p.FinalDrain, opts)

	fp, err := fingerprint(out)
	if err != nil {
		return nil, err
	}
	out.Fingerprint = fp
	return out, nil
}

func (p *Plan) resolveDrain(d *DrainSpec, opts ExpandOptions) *Drain {
	if d == nil {
		return nil
	}
	q, _ := p.JobQuery(d.Query)
	interval := d.Interval
	if interval == 0 {
		interval = opts.DefaultInterval
	}
	maxWait := d.MaxWait
	if maxWait == 0 {
		maxWait = opts.DefaultMaxWait
	}
	return &Drain{Query: q, Interval: interval, MaxWait: maxWait}
}

// expand turns one spec into one or more statements. Only tsv_rows yields more than one.
func (s StatementSpec) expand(opts ExpandOptions, fallbackName string) ([]graph.Statement, error) {
	name := s.Name
	if name == "" {
		name = fallbackName
	}

	b := graph.NewCypherBuilder()
	var (
		stmt graph.Statement
		err  error
	)

	switch s.TemplateName() {
	case TemplateCypher:
		stmt = graph.Statement{Name: name, Cypher: s.Cypher, Params: s.Params}
		stmt = stmt.Clone()
	case TemplateRenameRelationship:
		label := s.EdgeLabel
		if label == "" {
			label = s.To
		}
		relType := s.EdgeType
		if relType == "" {
			relType = "Related"
		}
		stmt, err = b.BuildRenameRelationship(name, s.From, s.To, label, relType,
			graph.IterateOptions{BatchSize: s.BatchSize, Parallel: s.Parallel})
	case TemplateLabelByXref:
		stmt, err = b.BuildLabelByXref(name, s.Label, s.AddLabel, s.Site)
	case TemplateUniqueFacet:
		stmt, err = b.BuildUniqueFacet(name, s.Label, s.Facet, s.ExcludePrefix)
	case TemplateLoadCSV:
		delim, derr := parseDelimiter(s.Delimiter)
		if derr != nil {
			return nil, derr
		}
		stmt, err = b.BuildLoadCSV(name, s.URL, delim, s.PeriodicCommit, s.Row)
	case TemplateTSVRows:
		return s.expandRows(opts, name)
	default:
		return nil, fmt.Errorf("unknown template %q", s.Template)
	}
	if err != nil {
		return nil, err
	}
	return []graph.Statement{stmt}, nil
}

func (s StatementSpec) expandRows(opts ExpandOptions, name string) ([]graph.Statement, error) {
	delim, err := parseDelimiter(s.Delimiter)
	if err != nil {
		return nil, err
	}

	path := s.File
	if !filepath.IsAbs(path) && opts.BaseDir != "" {
		path = filepath.Join(opts.BaseDir, path)
	}

	size := s.BatchRows
	if size <= 0 {
		size = opts.DefaultTSVBatch
	}

	batches, err := ReadRowBatches(path, delim, size)
	if err != nil {
		return nil, err
	}

	stmts := make([]graph.Statement, 0, len(batches))
	for _, rb := range batches {
		stmt, err := graph.NewCypherBuilder().BuildUnwindRows(
			fmt.Sprintf("%s rows %d-%d", name, rb.First, rb.Last), rb.Rows, s.Row)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// fingerprint hashes the expanded statements, so the same plan over the same
// TSV content always gets the same value
func fingerprint(e *Expanded) (string, error) {
	type stepDoc struct {
		Group      string            `yaml:"group"`
		Statements []graph.Statement `yaml:"statements"`
	}
	docs := make([]stepDoc, 0, len(e.Steps))
	for _, s := range e.Steps {
		docs = append(docs, stepDoc{Group: s.Group.Name(), Statements: s.Group.Operations()})
	}

	data, err := yaml.Marshal(struct {
		Plan  string    `yaml:"plan"`
		Steps []stepDoc `yaml:"steps"`
	}{Plan: e.Plan.Name, Steps: docs})
	if err != nil {
		return "", fmt.Errorf("failed to encode plan for fingerprint: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}
