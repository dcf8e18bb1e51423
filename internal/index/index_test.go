package index

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-agent-go/internal/types"
)

func randomItems(n, dim int, seed int64) []*types.CorpusItem {
	rng := rand.New(rand.NewSource(seed))
	items := make([]*types.CorpusItem, n)
	for i := range items {
		vec := make([]float64, dim)
		for d := range vec {
			vec[d] = rng.NormFloat64()
		}
		items[i] = &types.CorpusItem{
			ID:           fmt.Sprintf("item-%04d", i),
			Kind:         types.CorpusKindCourse,
			Embedding:    vec,
			TaxonomyTags: []string{fmt.Sprintf("tag-%d", i%7)},
		}
	}
	return items
}

func TestExactQueryRoundTrip(t *testing.T) {
	items := randomItems(50, 16, 1)
	g, err := Build(items, DefaultBuildOptions())
	require.NoError(t, err)
	assert.Equal(t, 50, g.Len())
	assert.Equal(t, 16, g.Dim())

	for _, it := range items {
		res, err := g.Query(it.Embedding, 1, WithExact())
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, it.ID, res[0].Item.ID, "精确模式下条目自身应为最近邻")
		assert.InDelta(t, 0, res[0].Distance, 1e-9)
	}
}

func TestQueryOrderingAndTieBreak(t *testing.T) {
	items := []*types.CorpusItem{
		{ID: "c", Embedding: []float64{1, 0}},
		{ID: "a", Embedding: []float64{2, 0}}, // 归一化后与 c 相同
		{ID: "b", Embedding: []float64{0, 1}},
		{ID: "d", Embedding: []float64{-1, 0}},
	}
	g, err := Build(items, DefaultBuildOptions())
	require.NoError(t, err)

	res, err := g.Query([]float64{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, res, 4)
	ids := []string{res[0].Item.ID, res[1].Item.ID, res[2].Item.ID, res[3].Item.ID}
	assert.Equal(t, []string{"a", "c", "b", "d"}, ids, "距离相同时按ID升序")
	assert.InDelta(t, 2, res[3].Distance, 1e-9)
	assert.InDelta(t, 1, res[0].Similarity(), 1e-9)

	res, err = g.Query([]float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestQueryValidation(t *testing.T) {
	g, err := Build(randomItems(5, 4, 2), DefaultBuildOptions())
	require.NoError(t, err)

	_, err = g.Query([]float64{1, 2, 3}, 3)
	assert.True(t, errors.Is(err, types.ErrInvalidQuery), "维度不匹配应返回 InvalidQueryError")

	_, err = g.Query([]float64{0, 0, 0, 0}, 3)
	assert.True(t, errors.Is(err, types.ErrInvalidQuery))

	_, err = g.Query([]float64{1, 0, 0, 0}, 0)
	assert.True(t, errors.Is(err, types.ErrInvalidQuery))

	_, err = g.Similarity([]float64{1}, "item-0000")
	assert.True(t, errors.Is(err, types.ErrInvalidQuery))
}

func TestBuildRejectsBadInput(t *testing.T) {
	_, err := Build([]*types.CorpusItem{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{1, 0, 0}},
	}, DefaultBuildOptions())
	assert.Error(t, err, "混合维度应被拒绝")

	_, err = Build([]*types.CorpusItem{{ID: "a", Embedding: []float64{0, 0}}}, DefaultBuildOptions())
	assert.Error(t, err, "零向量应被拒绝")

	_, err = Build([]*types.CorpusItem{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "a", Embedding: []float64{0, 1}},
	}, DefaultBuildOptions())
	assert.Error(t, err, "重复ID应被拒绝")

	g, err := Build(nil, DefaultBuildOptions())
	require.NoError(t, err)
	res, err := g.Query([]float64{1, 2}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestIVFApproximateQuery(t *testing.T) {
	items := randomItems(400, 8, 3)
	opts := DefaultBuildOptions()
	g, err := Build(items, opts)
	require.NoError(t, err)

	info := g.Info()
	assert.Equal(t, 20, info.Lists, "n=400 时分区数约为 √n")

	q := items[17].Embedding
	approx, err := g.Query(q, 5)
	require.NoError(t, err)
	require.NotEmpty(t, approx)
	assert.Equal(t, items[17].ID, approx[0].Item.ID, "查询向量所在分区必被探测")

	// 探测全部分区时与精确结果一致
	all, err := g.Query(q, 10, WithProbes(info.Lists))
	require.NoError(t, err)
	exact, err := g.Query(q, 10, WithExact())
	require.NoError(t, err)
	assert.Equal(t, exact, all)

	// 相同语料与种子产出相同分区
	g2, err := Build(randomItems(400, 8, 3), opts)
	require.NoError(t, err)
	again, err := g2.Query(q, 5)
	require.NoError(t, err)
	require.Len(t, again, len(approx))
	for i := range approx {
		assert.Equal(t, approx[i].Item.ID, again[i].Item.ID)
	}
}

func TestQueryWithFilter(t *testing.T) {
	items := randomItems(400, 8, 5)
	for i, it := range items {
		if i%50 == 0 {
			it.Kind = types.CorpusKindJob
		}
	}
	g, err := Build(items, DefaultBuildOptions())
	require.NoError(t, err)

	isJob := func(it *types.CorpusItem) bool { return it.Kind == types.CorpusKindJob }
	q := items[17].Embedding

	// 探测分区内岗位不足 k 个时回退为全量扫描
	approx, err := g.Query(q, 8, WithFilter(isJob))
	require.NoError(t, err)
	require.Len(t, approx, 8, "共 8 个岗位")
	for _, n := range approx {
		assert.Equal(t, types.CorpusKindJob, n.Item.Kind)
	}

	exact, err := g.Query(q, 8, WithExact(), WithFilter(isJob))
	require.NoError(t, err)
	assert.Equal(t, exact, approx)
}

func TestItemsWithTags(t *testing.T) {
	items := []*types.CorpusItem{
		{ID: "b", Embedding: []float64{1, 0}, TaxonomyTags: []string{"python", "sql"}},
		{ID: "a", Embedding: []float64{0, 1}, TaxonomyTags: []string{"sql", "sql"}},
		{ID: "c", Embedding: []float64{1, 1}, TaxonomyTags: []string{"docker"}},
	}
	g, err := Build(items, DefaultBuildOptions())
	require.NoError(t, err)

	got := g.ItemsWithTags("sql", "python")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Empty(t, g.ItemsWithTags("rust"))
}

func TestSnapshotRestore(t *testing.T) {
	g, err := Build(randomItems(30, 6, 4), DefaultBuildOptions())
	require.NoError(t, err)

	r, err := Restore(g.Snapshot(), DefaultBuildOptions())
	require.NoError(t, err)
	assert.Equal(t, g.ID(), r.ID())
	assert.Equal(t, g.Info(), r.Info())

	q := g.items[3].Embedding
	a, err := g.Query(q, 5, WithExact())
	require.NoError(t, err)
	b, err := r.Query(q, 5, WithExact())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// hashEmbedder 测试用向量化：文本的字节分布作为向量
type hashEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (h *hashEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.fail {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, 8)
		for j := 0; j < len(t); j++ {
			v[int(t[j])%8]++
		}
		v[0] += 1
		out[i] = v
	}
	return out, nil
}

func corpusDocs(n int) []types.CorpusDocument {
	docs := make([]types.CorpusDocument, n)
	for i := range docs {
		docs[i] = types.CorpusDocument{
			ID:           fmt.Sprintf("course-%02d", i),
			Kind:         types.CorpusKindCourse,
			Title:        fmt.Sprintf("Course %d", i),
			Text:         fmt.Sprintf("Learn topic number %d in depth", i),
			TaxonomyTags: []string{"python"},
		}
	}
	return docs
}

func TestStoreLifecycle(t *testing.T) {
	var published []string
	s := NewStore(
		WithEmbedBatchSize(4),
		WithPublishHook(func(_ context.Context, g *Generation) { published = append(published, g.ID()) }),
	)

	_, err := s.Current()
	assert.True(t, errors.Is(err, types.ErrIndexUnavailable), "发布前应返回 IndexUnavailableError")
	_, err = s.Status()
	assert.Error(t, err)

	emb := &hashEmbedder{}
	g1, err := s.Rebuild(context.Background(), corpusDocs(10), emb)
	require.NoError(t, err)
	assert.Equal(t, 3, emb.calls, "10 条文本按每批 4 条分 3 次")

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, g1, cur)

	emb.fail = true
	_, err = s.Rebuild(context.Background(), corpusDocs(5), emb)
	require.Error(t, err)
	cur, err = s.Current()
	require.NoError(t, err)
	assert.Same(t, g1, cur, "重建失败时保持当前代")

	bad := corpusDocs(2)
	bad[1].Kind = "podcast"
	emb.fail = false
	_, err = s.Rebuild(context.Background(), bad, emb)
	assert.Error(t, err, "非法 kind 应在校验阶段被拒绝")

	dup := corpusDocs(2)
	dup[1].ID = dup[0].ID
	_, err = s.Rebuild(context.Background(), dup, emb)
	assert.Error(t, err)

	assert.Equal(t, []string{g1.ID()}, published)
}

func TestStoreSwapIsAtomicForReaders(t *testing.T) {
	s := NewStore()
	g1, err := Build(randomItems(20, 4, 5), DefaultBuildOptions())
	require.NoError(t, err)
	g2, err := Build(randomItems(40, 4, 6), DefaultBuildOptions())
	require.NoError(t, err)
	s.Publish(context.Background(), g1)

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				g, err := s.Current()
				if !assert.NoError(t, err) {
					return
				}
				// 同一次查询内只看到某一代的完整视图
				res, err := g.Query([]float64{1, 0, 0, 0}, g.Len(), WithExact())
				if !assert.NoError(t, err) {
					return
				}
				assert.Len(t, res, g.Len())
			}
		}()
	}
	prev := s.Publish(context.Background(), g2)
	wg.Wait()
	assert.Same(t, g1, prev)

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, 40, cur.Len())
}
