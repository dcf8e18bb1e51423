package types

// CorpusKind 参考语料条目类型
type CorpusKind string

const (
	CorpusKindJob    CorpusKind = "job"
	CorpusKindCourse CorpusKind = "course"
)

// CorpusDocument 语料导入格式，向量在建索引时计算
type CorpusDocument struct {
	ID           string            `json:"id" validate:"required"`
	Kind         CorpusKind        `json:"kind" validate:"required,oneof=job course"`
	Title        string            `json:"title"`
	Text         string            `json:"text" validate:"required"`
	TaxonomyTags []string          `json:"taxonomy_tags"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CorpusItem 已索引的语料条目，Embedding 入索引后不可变
type CorpusItem struct {
	ID           string            `json:"id"`
	Kind         CorpusKind        `json:"kind"`
	Title        string            `json:"title"`
	Text         string            `json:"text"`
	Embedding    []float64         `json:"embedding,omitempty"`
	TaxonomyTags []string          `json:"taxonomy_tags"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DisplayTitle 优先返回标题，缺失时返回ID
func (c *CorpusItem) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// RetrievalResult 混合检索结果
type RetrievalResult struct {
	Item          *CorpusItem `json:"item"`
	SemanticScore float64     `json:"semantic_score"`
	LexicalScore  float64     `json:"lexical_score"`
	FusedScore    float64     `json:"fused_score"`
	Rank          int         `json:"rank"`
}

// GapEntry 目标岗位要求但候选人缺失的技能
type GapEntry struct {
	TaxonomyID   string            `json:"taxonomy_id"`
	Name         string            `json:"name,omitempty"`
	TargetWeight float64           `json:"target_weight"`
	Possessed    bool              `json:"possessed"`
	Evidence     []RetrievalResult `json:"evidence"`
}

// Contribution 推荐解释中的一个特征及其带符号贡献
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Recommendation 最终推荐，Score 恒等于 Rationale 贡献之和
type Recommendation struct {
	ItemID    string         `json:"item_id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Score     float64        `json:"score"`
	BaseScore float64        `json:"base_score"`
	Rationale []Contribution `json:"rationale"`
}

// SumRationale 返回解释贡献之和
func (r *Recommendation) SumRationale() float64 {
	total := 0.0
	for _, c := range r.Rationale {
		total += c.Value
	}
	return total
}

// AddContribution 追加一条贡献并同步更新 Score
func (r *Recommendation) AddContribution(feature string, value float64) {
	r.Rationale = append(r.Rationale, Contribution{Feature: feature, Value: value})
	r.Score = r.SumRationale()
}

// TargetProfile 目标岗位技能画像：taxonomy_id -> 相对权重
type TargetProfile map[string]float64

// FairnessAdjustment 公平性调整记录
type FairnessAdjustment struct {
	Group string  `json:"group"`
	Delta float64 `json:"delta"`
}

// FairnessReport 公平性检查结果
type FairnessReport struct {
	Statistic   string               `json:"statistic"`
	Tolerance   float64              `json:"tolerance"`
	Passed      bool                 `json:"passed"`
	GroupStats  map[string]float64   `json:"group_stats"`
	Deltas      map[string]float64   `json:"deltas"` // key: "a|b"
	Violations  []string             `json:"violations,omitempty"`
	Adjustments []FairnessAdjustment `json:"adjustments,omitempty"`
}
