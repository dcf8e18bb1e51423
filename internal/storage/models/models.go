package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"career-agent-go/internal/types"
)

// 语料条目状态
const (
	CorpusStatusActive  = "ACTIVE"
	CorpusStatusRetired = "RETIRED"
)

// CorpusItemRecord 语料条目表（岗位与课程），向量不入库，建索引时计算
type CorpusItemRecord struct {
	ItemID           string         `gorm:"type:varchar(128);primaryKey"`
	Kind             string         `gorm:"type:varchar(20);not null;index:idx_corpus_kind_status,priority:1"`
	Title            string         `gorm:"type:varchar(512)"`
	Text             string         `gorm:"type:text;not null"`
	TaxonomyTagsJSON datatypes.JSON `gorm:"type:json"`
	MetadataJSON     datatypes.JSON `gorm:"type:json"`
	Status           string         `gorm:"type:varchar(20);default:'ACTIVE';index:idx_corpus_kind_status,priority:2"`
	CreatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (CorpusItemRecord) TableName() string {
	return "corpus_items"
}

// NewCorpusItemRecord 由导入文档构建记录
func NewCorpusItemRecord(doc types.CorpusDocument) (*CorpusItemRecord, error) {
	tags, err := json.Marshal(nonNilStrings(doc.TaxonomyTags))
	if err != nil {
		return nil, fmt.Errorf("序列化 taxonomy_tags 失败: %w", err)
	}
	meta := []byte("{}")
	if len(doc.Metadata) > 0 {
		if meta, err = json.Marshal(doc.Metadata); err != nil {
			return nil, fmt.Errorf("序列化 metadata 失败: %w", err)
		}
	}
	return &CorpusItemRecord{
		ItemID:           doc.ID,
		Kind:             string(doc.Kind),
		Title:            doc.Title,
		Text:             doc.Text,
		TaxonomyTagsJSON: datatypes.JSON(tags),
		MetadataJSON:     datatypes.JSON(meta),
		Status:           CorpusStatusActive,
	}, nil
}

// ToDocument 转换为领域模型
func (r *CorpusItemRecord) ToDocument() types.CorpusDocument {
	doc := types.CorpusDocument{
		ID:    r.ItemID,
		Kind:  types.CorpusKind(r.Kind),
		Title: r.Title,
		Text:  r.Text,
	}
	if len(r.TaxonomyTagsJSON) > 0 {
		_ = json.Unmarshal(r.TaxonomyTagsJSON, &doc.TaxonomyTags)
	}
	if len(r.MetadataJSON) > 0 {
		_ = json.Unmarshal(r.MetadataJSON, &doc.Metadata)
	}
	return doc
}

// IndexGenerationRecord 已发布的索引代
type IndexGenerationRecord struct {
	GenerationID   string    `gorm:"type:char(36);primaryKey"`
	Items          int       `gorm:"not null"`
	Dim            int       `gorm:"not null"`
	Lists          int       `gorm:"default:0"`
	SnapshotKey    string    `gorm:"type:varchar(1024)"` // MinIO 对象键，为空表示未保存快照
	EmbeddingModel string    `gorm:"type:varchar(100)"`
	BuiltAt        time.Time `gorm:"type:datetime(6);index:idx_ig_built_at"`
	CreatedAt      time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (IndexGenerationRecord) TableName() string {
	return "index_generations"
}

// RecommendationAudit 推荐结果审计：解释明细与公平性报告
type RecommendationAudit struct {
	AuditID             uint64         `gorm:"primaryKey;autoIncrement"`
	RequestID           string         `gorm:"type:char(36);not null;index:idx_ra_request_id"`
	ProfileID           string         `gorm:"type:char(36);index:idx_ra_profile_id"`
	TargetRole          string         `gorm:"type:varchar(255)"`
	GroupLabel          string         `gorm:"type:varchar(100);index:idx_ra_group"`
	GenerationID        string         `gorm:"type:char(36)"`
	Degraded            bool           `gorm:"default:false"`
	RecommendationsJSON datatypes.JSON `gorm:"type:json"`
	FairnessReportJSON  datatypes.JSON `gorm:"type:json"`
	CreatedAt           time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_ra_created_at"`
}

func (RecommendationAudit) TableName() string {
	return "recommendation_audits"
}

// NewRecommendationAudit 构建审计记录，report 可为 nil
func NewRecommendationAudit(requestID, profileID, targetRole, group, generationID string, degraded bool,
	recs []types.Recommendation, report *types.FairnessReport) (*RecommendationAudit, error) {
	if recs == nil {
		recs = []types.Recommendation{}
	}
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("序列化推荐结果失败: %w", err)
	}
	a := &RecommendationAudit{
		RequestID:           requestID,
		ProfileID:           profileID,
		TargetRole:          targetRole,
		GroupLabel:          group,
		GenerationID:        generationID,
		Degraded:            degraded,
		RecommendationsJSON: datatypes.JSON(recsJSON),
	}
	if report != nil {
		reportJSON, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("序列化公平性报告失败: %w", err)
		}
		a.FairnessReportJSON = datatypes.JSON(reportJSON)
	}
	return a, nil
}

// Recommendations 解析审计中的推荐结果
func (a *RecommendationAudit) Recommendations() ([]types.Recommendation, error) {
	var recs []types.Recommendation
	if len(a.RecommendationsJSON) == 0 {
		return recs, nil
	}
	if err := json.Unmarshal(a.RecommendationsJSON, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
