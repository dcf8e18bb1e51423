package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTaxonomyYAML = `
skills:
  - id: programming
    name: Programming
  - id: python
    name: Python
    aliases: ["py", "python3"]
    category: language
    parent: programming
  - id: sql
    name: SQL
    aliases: ["structured query language", "postgresql"]
    related: ["python"]
  - id: cpp
    name: C++
    aliases: ["cpp"]
    parent: programming
`

func TestParseTaxonomy(t *testing.T) {
	tax, err := Parse([]byte(testTaxonomyYAML))
	require.NoError(t, err, "解析分类体系不应出错")
	assert.Equal(t, 4, tax.Len())

	ref, ok := tax.LookupAlias("python3")
	require.True(t, ok)
	assert.Equal(t, "python", ref.ID)
	assert.False(t, ref.Canonical)

	ref, ok = tax.LookupAlias("structured query language")
	require.True(t, ok)
	assert.Equal(t, "sql", ref.ID)
	assert.Equal(t, 3, tax.MaxAliasTokens())

	ref, ok = tax.LookupAlias("c++")
	require.True(t, ok, "C++ 应被保留为单个词元")
	assert.Equal(t, "cpp", ref.ID)
	assert.True(t, ref.Canonical)
}

func TestTaxonomyNeighbors(t *testing.T) {
	tax, err := Parse([]byte(testTaxonomyYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"programming", "sql"}, tax.Neighbors("python"))
	assert.Equal(t, []string{"cpp", "python"}, tax.Neighbors("programming"))
	assert.Nil(t, tax.Neighbors("unknown"))
}

func TestTaxonomyRejectsBrokenReferences(t *testing.T) {
	_, err := New([]Entry{{ID: "a", Parent: "missing"}})
	assert.Error(t, err)

	_, err = New([]Entry{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)

	_, err = New([]Entry{{ID: "a", Related: []string{"b"}}})
	assert.Error(t, err)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"node.js", "and", "c#"}, Tokenize("Node.js and C#."))
	assert.Equal(t, []string{"machine", "learning"}, Tokenize("  Machine-Learning "))
	assert.Equal(t, "python", Key("ＰＹＴＨＯＮ"), "全角字符应经 NFKC 归一化")
}

func TestRoleCatalog(t *testing.T) {
	tax, err := Parse([]byte(testTaxonomyYAML))
	require.NoError(t, err)

	cat, err := NewRoleCatalog([]Role{
		{Name: "Data Scientist", Skills: map[string]float64{"python": 0.9, "sql": 0.5}},
	}, tax)
	require.NoError(t, err)

	r, ok := cat.Lookup("data-scientist")
	require.True(t, ok)
	assert.Equal(t, 0.9, r.Skills["python"])

	_, err = NewRoleCatalog([]Role{{Name: "X", Skills: map[string]float64{"nope": 1}}}, tax)
	assert.Error(t, err)
}
