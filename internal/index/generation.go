// Package index 语料向量索引：不可变的索引代 + 原子切换的存储
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"career-agent-go/internal/types"
	"career-agent-go/pkg/vecmath"
)

// 默认构建参数
const (
	DefaultMinItemsForIVF = 256
	DefaultNProbe         = 4
	DefaultKMeansIter     = 8
	DefaultSeed           = 42
)

// BuildOptions 索引构建参数
type BuildOptions struct {
	MinItemsForIVF int   // 条目数达到该值时训练 IVF 分区
	NList          int   // 分区数，<=0 时取 √n
	NProbe         int   // 默认探测的分区数
	KMeansIter     int   // k-means 迭代次数
	Seed           int64 // k-means++ 随机种子，相同语料与种子产出相同分区
}

// DefaultBuildOptions 返回默认构建参数
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		MinItemsForIVF: DefaultMinItemsForIVF,
		NProbe:         DefaultNProbe,
		KMeansIter:     DefaultKMeansIter,
		Seed:           DefaultSeed,
	}
}

func (o BuildOptions) withDefaults() BuildOptions {
	d := DefaultBuildOptions()
	if o.MinItemsForIVF <= 0 {
		o.MinItemsForIVF = d.MinItemsForIVF
	}
	if o.NProbe <= 0 {
		o.NProbe = d.NProbe
	}
	if o.KMeansIter <= 0 {
		o.KMeansIter = d.KMeansIter
	}
	return o
}

// Neighbor 近邻查询结果，Distance = 1 - cos
type Neighbor struct {
	Item     *types.CorpusItem
	Distance float64
}

// Similarity 返回余弦相似度
func (n Neighbor) Similarity() float64 { return 1 - n.Distance }

// Info 索引代的状态信息
type Info struct {
	GenerationID string    `json:"generation_id"`
	Items        int       `json:"items"`
	Dim          int       `json:"dim"`
	Lists        int       `json:"lists"`
	NProbe       int       `json:"nprobe"`
	BuiltAt      time.Time `json:"built_at"`
}

// Generation 一代不可变的索引：发布后不再修改，可被并发查询
type Generation struct {
	id      string
	builtAt time.Time
	dim     int
	nprobe  int

	items    []*types.CorpusItem
	vecs     [][]float64 // 已归一化
	byID     map[string]int
	postings map[string][]int // taxonomy tag -> 条目下标（升序）
	ivf      *ivfPartition
}

// Build 基于带向量的语料条目构建一代索引。
// 所有向量必须同维且非零，条目ID必须唯一。
func Build(items []*types.CorpusItem, opts BuildOptions) (*Generation, error) {
	opts = opts.withDefaults()
	g := &Generation{
		id:       uuid.NewString(),
		builtAt:  time.Now().UTC(),
		nprobe:   opts.NProbe,
		byID:     make(map[string]int, len(items)),
		postings: map[string][]int{},
	}

	// 按ID排序，保证相同语料的构建结果与插入顺序无关
	sorted := make([]*types.CorpusItem, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		sorted = append(sorted, it)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, it := range sorted {
		if it.ID == "" {
			return nil, fmt.Errorf("corpus item without id")
		}
		if _, dup := g.byID[it.ID]; dup {
			return nil, fmt.Errorf("duplicate corpus item id %q", it.ID)
		}
		if g.dim == 0 {
			g.dim = len(it.Embedding)
		}
		if len(it.Embedding) != g.dim {
			return nil, fmt.Errorf("item %q has dimension %d, expected %d", it.ID, len(it.Embedding), g.dim)
		}
		nv := vecmath.Normalize(it.Embedding)
		if nv == nil {
			return nil, fmt.Errorf("item %q has a zero or invalid embedding", it.ID)
		}
		idx := len(g.items)
		g.byID[it.ID] = idx
		g.items = append(g.items, it)
		g.vecs = append(g.vecs, nv)
		for _, tag := range uniqueTags(it.TaxonomyTags) {
			g.postings[tag] = append(g.postings[tag], idx)
		}
	}

	if len(g.items) >= opts.MinItemsForIVF {
		g.ivf = trainIVF(g.vecs, opts)
	}
	return g, nil
}

func uniqueTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ID 索引代ID
func (g *Generation) ID() string { return g.id }

// Len 条目数量
func (g *Generation) Len() int { return len(g.items) }

// Dim 向量维度；空索引为 0
func (g *Generation) Dim() int { return g.dim }

// Info 返回状态信息
func (g *Generation) Info() Info {
	lists := 0
	if g.ivf != nil {
		lists = len(g.ivf.centroids)
	}
	return Info{
		GenerationID: g.id,
		Items:        len(g.items),
		Dim:          g.dim,
		Lists:        lists,
		NProbe:       g.nprobe,
		BuiltAt:      g.builtAt,
	}
}

// Item 按ID取条目
func (g *Generation) Item(id string) (*types.CorpusItem, bool) {
	i, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.items[i], true
}

// ItemsWithTags 返回带有任一给定标签的条目（按ID升序、去重）
func (g *Generation) ItemsWithTags(tags ...string) []*types.CorpusItem {
	seen := map[int]struct{}{}
	for _, t := range tags {
		for _, i := range g.postings[t] {
			seen[i] = struct{}{}
		}
	}
	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	sort.Ints(idx) // items 已按ID排序
	out := make([]*types.CorpusItem, len(idx))
	for k, i := range idx {
		out[k] = g.items[i]
	}
	return out
}

// Similarity 计算查询向量与指定条目的精确余弦相似度
func (g *Generation) Similarity(vec []float64, id string) (float64, error) {
	q, err := g.normalizeQuery(vec)
	if err != nil {
		return 0, err
	}
	i, ok := g.byID[id]
	if !ok {
		return 0, fmt.Errorf("item %q not in generation %s", id, g.id)
	}
	return vecmath.Clamp(vecmath.Dot(q, g.vecs[i]), -1, 1), nil
}

type queryOptions struct {
	nprobe int
	exact  bool
	filter func(*types.CorpusItem) bool
}

// QueryOption 查询选项
type QueryOption func(*queryOptions)

// WithProbes 设置本次查询探测的分区数（召回率与延迟的权衡）
func WithProbes(n int) QueryOption {
	return func(o *queryOptions) { o.nprobe = n }
}

// WithExact 全量扫描，返回真正的 k 近邻
func WithExact() QueryOption {
	return func(o *queryOptions) { o.exact = true }
}

// WithFilter 只返回 accept 为 true 的条目。过滤发生在截取 k 之前，
// 探测分区内可接受的条目不足 k 个时回退为全量扫描。
func WithFilter(accept func(*types.CorpusItem) bool) QueryOption {
	return func(o *queryOptions) { o.filter = accept }
}

func (g *Generation) normalizeQuery(vec []float64) ([]float64, error) {
	if len(vec) != g.dim {
		return nil, types.NewInvalidQueryError("query dimension %d does not match index dimension %d", len(vec), g.dim)
	}
	q := vecmath.Normalize(vec)
	if q == nil {
		return nil, types.NewInvalidQueryError("query vector is zero or not finite")
	}
	return q, nil
}

// Query 返回至多 k 个近邻，按距离升序、ID升序排列。
// 默认走 IVF 近似检索，不保证是真正的 k 近邻；WithExact 时全量扫描。
func (g *Generation) Query(vec []float64, k int, opts ...QueryOption) ([]Neighbor, error) {
	if k <= 0 {
		return nil, types.NewInvalidQueryError("k must be positive, got %d", k)
	}
	if len(g.items) == 0 {
		return []Neighbor{}, nil
	}
	q, err := g.normalizeQuery(vec)
	if err != nil {
		return nil, err
	}
	o := queryOptions{nprobe: g.nprobe}
	for _, opt := range opts {
		opt(&o)
	}

	var out []Neighbor
	if !o.exact && g.ivf != nil {
		out = g.score(q, g.ivf.probe(q, o.nprobe), o.filter)
		if len(out) < k && o.filter != nil {
			out = nil
		}
	}
	if out == nil {
		all := make([]int, len(g.items))
		for i := range all {
			all[i] = i
		}
		out = g.score(q, all, o.filter)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (g *Generation) score(q []float64, candidates []int, accept func(*types.CorpusItem) bool) []Neighbor {
	out := make([]Neighbor, 0, len(candidates))
	for _, i := range candidates {
		if accept != nil && !accept(g.items[i]) {
			continue
		}
		sim := vecmath.Clamp(vecmath.Dot(q, g.vecs[i]), -1, 1)
		out = append(out, Neighbor{Item: g.items[i], Distance: 1 - sim})
	}
	return out
}

// Snapshot 索引代快照：条目及其原始向量，重启时无需重新向量化
type Snapshot struct {
	GenerationID string              `json:"generation_id"`
	BuiltAt      time.Time           `json:"built_at"`
	Dim          int                 `json:"dim"`
	Items        []*types.CorpusItem `json:"items"`
}

// Snapshot 导出快照
func (g *Generation) Snapshot() *Snapshot {
	return &Snapshot{
		GenerationID: g.id,
		BuiltAt:      g.builtAt,
		Dim:          g.dim,
		Items:        append([]*types.CorpusItem(nil), g.items...),
	}
}

// Restore 从快照重建索引代，保留原ID与构建时间
func Restore(snap *Snapshot, opts BuildOptions) (*Generation, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	g, err := Build(snap.Items, opts)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", snap.GenerationID, err)
	}
	if snap.Dim != 0 && g.dim != 0 && snap.Dim != g.dim {
		return nil, fmt.Errorf("snapshot %s declares dimension %d but items have %d", snap.GenerationID, snap.Dim, g.dim)
	}
	if snap.GenerationID != "" {
		g.id = snap.GenerationID
	}
	if !snap.BuiltAt.IsZero() {
		g.builtAt = snap.BuiltAt
	}
	return g, nil
}
