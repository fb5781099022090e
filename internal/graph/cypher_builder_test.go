package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRenameRelationship(t *testing.T) {
	stmt, err := NewCypherBuilder().BuildRenameRelationship(
		"RO_0002292 -> expresses", "RO_0002292", "expresses", "expresses", "Related",
		IterateOptions{BatchSize: 1000, Parallel: true})
	require.NoError(t, err)

	assert.Equal(t, "RO_0002292 -> expresses", stmt.Name)
	assert.Contains(t, stmt.Cypher, "CALL apoc.periodic.iterate('MATCH (a)<-[r1:RO_0002292]-(b) RETURN a, b, r1'")
	assert.Contains(t, stmt.Cypher, "'MERGE (a)<-[r2:expresses]-(b) SET r2 += r1 SET r2.label = $label SET r2.type = $type DELETE r1'")
	assert.Contains(t, stmt.Cypher, "params: {label: $label, type: $type}")
	assert.Equal(t, "expresses", stmt.Params["label"])
	assert.Equal(t, "Related", stmt.Params["type"])
	assert.Equal(t, 1000, stmt.Params["batchSize"])
	assert.Equal(t, true, stmt.Params["parallel"])
}

func TestBuildRenameRelationshipRejectsInjection(t *testing.T) {
	_, err := NewCypherBuilder().BuildRenameRelationship("x", "RO_1]-() DETACH DELETE a //", "expresses", "", "", IterateOptions{})
	assert.Error(t, err)

	_, err = NewCypherBuilder().BuildRenameRelationship("x", "RO_1", "has space", "", "", IterateOptions{})
	assert.Error(t, err)
}

func TestBuildRenameRelationshipDefaultsBatchSize(t *testing.T) {
	stmt, err := NewCypherBuilder().BuildRenameRelationship("x", "a", "b", "b", "Related", IterateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1000, stmt.Params["batchSize"])
}

func TestBuildLabelByXref(t *testing.T) {
	stmt, err := NewCypherBuilder().BuildLabelByXref("FAFB", "Individual", "FAFB", "catmaid_fafb")
	require.NoError(t, err)

	assert.Equal(t, "MATCH (i:Individual)-[:database_cross_reference]->(:Site {short_form: $p0}) SET i:FAFB", stmt.Cypher)
	assert.Equal(t, map[string]any{"p0": "catmaid_fafb"}, stmt.Params)

	_, err = NewCypherBuilder().BuildLabelByXref("x", "Individual", "FAFB", "")
	assert.Error(t, err)
	_, err = NewCypherBuilder().BuildLabelByXref("x", "Individual", "FA FB", "catmaid_fafb")
	assert.Error(t, err)
}

func TestBuildUniqueFacet(t *testing.T) {
	stmt, err := NewCypherBuilder().BuildUniqueFacet("pub facet", "pub", "pub", "VFBc_")
	require.NoError(t, err)

	assert.Equal(t,
		"MATCH (n:pub) WHERE NOT n.short_form STARTS WITH $p1 AND (n.uniqueFacets IS NULL OR NOT $p0 IN n.uniqueFacets) SET n.uniqueFacets = coalesce(n.uniqueFacets, []) + $p0",
		stmt.Cypher)
	assert.Equal(t, "pub", stmt.Params["p0"])
	assert.Equal(t, "VFBc_", stmt.Params["p1"])

	stmt, err = NewCypherBuilder().BuildUniqueFacet("class facet", "Class", "Class", "")
	require.NoError(t, err)
	assert.NotContains(t, stmt.Cypher, "STARTS WITH")
}

func TestBuildLoadCSV(t *testing.T) {
	stmt, err := NewCypherBuilder().BuildLoadCSV("swc scores", "file:///swc_swc.tsv", '\t', 1000,
		"MATCH (s:Individual {short_form: row.query}) RETURN count(s)")
	require.NoError(t, err)

	assert.Equal(t,
		`USING PERIODIC COMMIT 1000 LOAD CSV WITH HEADERS FROM $p0 AS row FIELDTERMINATOR '\t' MATCH (s:Individual {short_form: row.query}) RETURN count(s)`,
		stmt.Cypher)
	assert.Equal(t, "file:///swc_swc.tsv", stmt.Params["p0"])

	stmt, err = NewCypherBuilder().BuildLoadCSV("no commit", "file:///a.csv", ',', 0, "RETURN row")
	require.NoError(t, err)
	assert.True(t, len(stmt.Cypher) > 0 && stmt.Cypher[:8] == "LOAD CSV")

	_, err = NewCypherBuilder().BuildLoadCSV("bad", "file:///a.csv", '\'', 0, "RETURN row")
	assert.Error(t, err)
	_, err = NewCypherBuilder().BuildLoadCSV("bad", "", '\t', 0, "RETURN row")
	assert.Error(t, err)
}

func TestBuildUnwindRows(t *testing.T) {
	rows := []map[string]any{{"query": "a", "target": "b", "score": "0.5"}}
	stmt, err := NewCypherBuilder().BuildUnwindRows("rows 1-1", rows, "  MATCH (s {short_form: row.query}) RETURN s ")
	require.NoError(t, err)

	assert.Equal(t, "UNWIND $rows AS row MATCH (s {short_form: row.query}) RETURN s", stmt.Cypher)
	assert.Equal(t, rows, stmt.Params["rows"])
}

func TestQuoteCypherString(t *testing.T) {
	assert.Equal(t, `'it\'s'`, quoteCypherString("it's"))
	assert.Equal(t, `'a\\b'`, quoteCypherString(`a\b`))
}

func TestIsValidIdentifier(t *testing.T) {
	assert.True(t, isValidIdentifier("has_similar_morphology_to"))
	assert.True(t, isValidIdentifier("_x1"))
	assert.False(t, isValidIdentifier(""))
	assert.False(t, isValidIdentifier("1abc"))
	assert.False(t, isValidIdentifier("a-b"))
}

func TestStatementCloneAndLabel(t *testing.T) {
	s := Statement{Cypher: "RETURN $x", Params: map[string]any{"x": 1}}
	c := s.Clone()
	c.Params["x"] = 2

	assert.Equal(t, 1, s.Params["x"])
	assert.Equal(t, "statement-3", s.Label(2))
	assert.Equal(t, "named", Statement{Name: "named"}.Label(0))
}
