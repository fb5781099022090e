package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// CypherBuilder builds parameterized maintenance statements.
// Security: every value is a parameter; only validated identifiers (labels,
// relationship types) are written into the Cypher text.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{
		params: make(map[string]any),
	}
}

// AddParam adds a parameter and returns its placeholder
func (b *CypherBuilder) AddParam(value any) string {
	paramName := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[paramName] = value
	return "$" + paramName
}

// Params returns all parameters for the query
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// IterateOptions controls apoc.periodic.iterate batching
type IterateOptions struct {
	BatchSize int
	Parallel  bool
}

// BuildRenameRelationship moves every (b)-[:from]->(a) onto a new :to relationship,
// copying properties and stamping label/type, then deletes the old one.
// Safe to re-run: MERGE finds the already-moved edge and no :from edges remain.
func (b *CypherBuilder) BuildRenameRelationship(name, from, to, label, relType string, opts IterateOptions) (Statement, error) {
	if !isValidIdentifier(from) {
		return Statement{}, fmt.Errorf("invalid relationship type: %s (must be alphanumeric + underscore)", from)
	}
	if !isValidIdentifier(to) {
		return Statement{}, fmt.Errorf("invalid relationship type: %s (must be alphanumeric + underscore)", to)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}

	b.params["label"] = label
	b.params["type"] = relType
	b.params["batchSize"] = opts.BatchSize
	b.params["parallel"] = opts.Parallel

	outer := fmt.Sprintf("MATCH (a)<-[r1:%s]-(b) RETURN a, b, r1", from)
	inner := fmt.Sprintf("MERGE (a)<-[r2:%s]-(b) SET r2 += r1 SET r2.label = $label SET r2.type = $type DELETE r1", to)

	return Statement{
		Name: name,
		Cypher: fmt.Sprintf(
			"CALL apoc.periodic.iterate(%s, %s, {batchSize: $batchSize, parallel: $parallel, params: {label: $label, type: $type}})",
			quoteCypherString(outer), quoteCypherString(inner)),
		Params: b.Params(),
	}, nil
}

// BuildLabelByXref adds addLabel to every node of nodeLabel cross-referenced to a site
func (b *CypherBuilder) BuildLabelByXref(name, nodeLabel, addLabel, site string) (Statement, error) {
	if !isValidIdentifier(nodeLabel) {
		return Statement{}, fmt.Errorf("invalid node label: %s", nodeLabel)
	}
	if !isValidIdentifier(addLabel) {
		return Statement{}, fmt.Errorf("invalid label: %s", addLabel)
	}
	if site == "" {
		return Statement{}, fmt.Errorf("site short_form is required")
	}

	siteParam := b.AddParam(site)
	return Statement{
		Name: name,
		Cypher: fmt.Sprintf(
			"MATCH (i:%s)-[:database_cross_reference]->(:Site {short_form: %s}) SET i:%s",
			nodeLabel, siteParam, addLabel),
		Params: b.Params(),
	}, nil
}

// BuildUniqueFacet appends facet to uniqueFacets of every node of label that lacks it,
// skipping nodes whose short_form starts with excludePrefix (empty = no exclusion)
func (b *CypherBuilder) BuildUniqueFacet(name, label, facet, excludePrefix string) (Statement, error) {
	if !isValidIdentifier(label) {
		return Statement{}, fmt.Errorf("invalid node label: %s", label)
	}
	if facet == "" {
		return Statement{}, fmt.Errorf("facet is required")
	}

	facetParam := b.AddParam(facet)
	where := fmt.Sprintf("(n.uniqueFacets IS NULL OR NOT %s IN n.uniqueFacets)", facetParam)
	if excludePrefix != "" {
		prefixParam := b.AddParam(excludePrefix)
		where = fmt.Sprintf("NOT n.short_form STARTS WITH %s AND %s", prefixParam, where)
	}

	return Statement{
		Name: name,
		Cypher: fmt.Sprintf(
			"MATCH (n:%s) WHERE %s SET n.uniqueFacets = coalesce(n.uniqueFacets, []) + %s",
			label, where, facetParam),
		Params: b.Params(),
	}, nil
}

// BuildLoadCSV builds a server-side delimited file load with the file URL as a parameter.
// rowCypher sees each record as `row`. A positive periodicCommit prefixes
// USING PERIODIC COMMIT, which makes the statement a background job the poller can observe.
func (b *CypherBuilder) BuildLoadCSV(name, url string, delimiter rune, periodicCommit int, rowCypher string) (Statement, error) {
	if url == "" {
		return Statement{}, fmt.Errorf("file url is required")
	}
	if strings.TrimSpace(rowCypher) == "" {
		return Statement{}, fmt.Errorf("row statement is required")
	}

	terminator, err := fieldTerminator(delimiter)
	if err != nil {
		return Statement{}, err
	}

	urlParam := b.AddParam(url)
	var sb strings.Builder
	if periodicCommit > 0 {
		sb.WriteString(fmt.Sprintf("USING PERIODIC COMMIT %d ", periodicCommit))
	}
	sb.WriteString(fmt.Sprintf("LOAD CSV WITH HEADERS FROM %s AS row FIELDTERMINATOR %s ", urlParam, terminator))
	sb.WriteString(strings.TrimSpace(rowCypher))

	return Statement{Name: name, Cypher: sb.String(), Params: b.Params()}, nil
}

// BuildUnwindRows builds a statement applying rowCypher to each element of rows (bound as `row`)
func (b *CypherBuilder) BuildUnwindRows(name string, rows []map[string]any, rowCypher string) (Statement, error) {
	if strings.TrimSpace(rowCypher) == "" {
		return Statement{}, fmt.Errorf("row statement is required")
	}

	b.params["rows"] = rows
	return Statement{
		Name:   name,
		Cypher: "UNWIND $rows AS row " + strings.TrimSpace(rowCypher),
		Params: b.Params(),
	}, nil
}

// fieldTerminator renders a single-character delimiter as a Cypher string literal.
// FIELDTERMINATOR does not accept parameters.
func fieldTerminator(delimiter rune) (string, error) {
	switch delimiter {
	case '\t':
		return `'\t'`, nil
	case ',', ';', '|':
		return "'" + string(delimiter) + "'", nil
	default:
		return "", fmt.Errorf("unsupported field delimiter %q", delimiter)
	}
}

// quoteCypherString renders s as a single-quoted Cypher string literal
func quoteCypherString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidIdentifier validates that a string can be safely used as a Cypher identifier
// Only allows alphanumeric characters and underscores (prevents injection)
func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
