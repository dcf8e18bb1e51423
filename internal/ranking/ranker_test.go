package ranking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-agent-go/internal/types"
)

func ev(id string, kind types.CorpusKind, fused float64) types.RetrievalResult {
	return types.RetrievalResult{Item: &types.CorpusItem{ID: id, Kind: kind, Title: "T-" + id}, FusedScore: fused}
}

func findRec(recs []types.Recommendation, id string) *types.Recommendation {
	for i := range recs {
		if recs[i].ItemID == id {
			return &recs[i]
		}
	}
	return nil
}

func TestRankScoreEqualsRationaleSum(t *testing.T) {
	gaps := []types.GapEntry{
		{TaxonomyID: "sql", TargetWeight: 0.8, Evidence: []types.RetrievalResult{
			ev("course-sql", types.CorpusKindCourse, 0.9),
			ev("course-db", types.CorpusKindCourse, 0.7),
		}},
		{TaxonomyID: "statistics", TargetWeight: 0.4, Evidence: []types.RetrievalResult{
			ev("course-db", types.CorpusKindCourse, 0.75),
		}},
		{TaxonomyID: "docker", Name: "Docker", TargetWeight: 0.2},
	}
	general := []types.RetrievalResult{ev("job-analyst", types.CorpusKindJob, 0.6), ev("course-sql", types.CorpusKindCourse, 0.5)}

	recs := NewRanker(DefaultWeights(), 10).Rank(gaps, general)
	require.Len(t, recs, 4)
	for _, r := range recs {
		assert.InDelta(t, r.SumRationale(), r.Score, 1e-12, "Score 必须等于解释贡献之和: %s", r.ItemID)
		assert.Equal(t, r.Score, r.BaseScore)
	}

	db := findRec(recs, "course-db")
	require.NotNil(t, db)
	features := []string{}
	for _, c := range db.Rationale {
		features = append(features, c.Feature)
	}
	assert.Equal(t, []string{"gap:sql", "gap:statistics", "relevance"}, features)
	assert.InDelta(t, 0.5+0.25+0.35*0.75, db.Score, 1e-12)

	sqlRec := findRec(recs, "course-sql")
	require.NotNil(t, sqlRec)
	assert.InDelta(t, 0.5+0.35*0.9+0.15*0.5, sqlRec.Score, 1e-12)

	docker := findRec(recs, "skill:docker")
	require.NotNil(t, docker, "没有证据的缺口也应给出兜底推荐")
	assert.Equal(t, KindSkill, docker.Kind)
	assert.Equal(t, "Docker", docker.Title)
	assert.InDelta(t, 0.5*0.2/0.8, docker.Score, 1e-12)

	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score)
	}
}

func TestRankTieBreakAndTopN(t *testing.T) {
	general := []types.RetrievalResult{
		ev("b", types.CorpusKindJob, 0.5),
		ev("a", types.CorpusKindJob, 0.5),
		ev("c", types.CorpusKindJob, 0.5),
		ev("d", types.CorpusKindJob, 0.9),
	}
	r := NewRanker(DefaultWeights(), 3)
	for run := 0; run < 5; run++ {
		recs := r.Rank(nil, general)
		require.Len(t, recs, 3)
		assert.Equal(t, "d", recs[0].ItemID)
		assert.Equal(t, "a", recs[1].ItemID, "分数相同时按ID升序")
		assert.Equal(t, "b", recs[2].ItemID)
	}
}

func TestRankEmpty(t *testing.T) {
	recs := NewRanker(DefaultWeights(), 0).Rank(nil, nil)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestAddContributionKeepsInvariant(t *testing.T) {
	rec := types.Recommendation{ItemID: "x"}
	for _, v := range []float64{0.1, 0.2, -0.05, 0.3} {
		rec.AddContribution("f", v)
		assert.True(t, math.Abs(rec.Score-rec.SumRationale()) < 1e-12)
	}
}
