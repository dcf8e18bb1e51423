package processor

import (
	"io"
	"log"
	"time"

	"career-agent-go/internal/fairness"
	"career-agent-go/internal/gap"
	"career-agent-go/internal/ranking"
	"career-agent-go/internal/taxonomy"
)

// Components 聚合流水线依赖的组件，便于集中管理和测试替换
type Components struct {
	Parser    DocumentParser
	Segmenter SectionSegmenter
	Extractor SkillExtractor
	Analyzer  *gap.Analyzer
	Retriever Retriever
	Ranker    *ranking.Ranker
	Monitor   *fairness.Monitor
	Roles     *taxonomy.RoleCatalog
	Taxonomy  *taxonomy.Taxonomy

	// 能力，可为 nil
	Embedder  TextEmbedder
	Generator AdviceGenerator

	// 存储，可为 nil
	Index    IndexStatus
	Profiles ProfileCache
	Audit    AuditSink
	Archive  DocumentArchive
}

// Settings 纯配置项，不包含任何业务逻辑组件
type Settings struct {
	DefaultK         int
	EmbedTimeout     time.Duration
	GenerateTimeout  time.Duration
	BatchConcurrency int
	GenerateAdvice   bool
	MinConfidence    float64
	Mitigate         bool
	ProfileCacheTTL  time.Duration
	Logger           *log.Logger
	Now              func() time.Time
}

// ComponentOpt 组件选项类型，仅改变 Components 结构体内的字段
type ComponentOpt func(*Components)

// SettingOpt 设置选项类型，仅改变 Settings 结构体内的字段
type SettingOpt func(*Settings)

func defaultSettings() Settings {
	return Settings{
		DefaultK:         10,
		EmbedTimeout:     10 * time.Second,
		GenerateTimeout:  30 * time.Second,
		BatchConcurrency: 4,
		GenerateAdvice:   true,
		MinConfidence:    gap.DefaultMinConfidence,
		Mitigate:         true,
		ProfileCacheTTL:  24 * time.Hour,
		Logger:           log.New(io.Discard, "", 0),
		Now:              time.Now,
	}
}

// ----- 组件选项 -----

// WithcompEmbedder 设置向量化能力
func WithcompEmbedder(e TextEmbedder) ComponentOpt {
	return func(c *Components) { c.Embedder = e }
}

// WithcompGenerator 设置建议生成能力
func WithcompGenerator(g AdviceGenerator) ComponentOpt {
	return func(c *Components) { c.Generator = g }
}

// WithcompRoles 设置岗位目录
func WithcompRoles(r *taxonomy.RoleCatalog) ComponentOpt {
	return func(c *Components) { c.Roles = r }
}

// WithcompIndex 设置索引状态来源
func WithcompIndex(s IndexStatus) ComponentOpt {
	return func(c *Components) { c.Index = s }
}

// WithcompProfileCache 设置简历画像缓存
func WithcompProfileCache(p ProfileCache) ComponentOpt {
	return func(c *Components) { c.Profiles = p }
}

// WithcompAudit 设置审计存储
func WithcompAudit(a AuditSink) ComponentOpt {
	return func(c *Components) { c.Audit = a }
}

// WithcompArchive 设置文档归档
func WithcompArchive(a DocumentArchive) ComponentOpt {
	return func(c *Components) { c.Archive = a }
}

// ----- 设置选项 -----

// WithsetDefaultK 请求未指定 k 时的推荐条数
func WithsetDefaultK(k int) SettingOpt {
	return func(s *Settings) {
		if k > 0 {
			s.DefaultK = k
		}
	}
}

// WithsetTimeouts 设置能力调用超时
func WithsetTimeouts(embed, generate time.Duration) SettingOpt {
	return func(s *Settings) {
		if embed > 0 {
			s.EmbedTimeout = embed
		}
		if generate > 0 {
			s.GenerateTimeout = generate
		}
	}
}

// WithsetBatchConcurrency 批量请求的并发度
func WithsetBatchConcurrency(n int) SettingOpt {
	return func(s *Settings) {
		if n > 0 {
			s.BatchConcurrency = n
		}
	}
}

// WithsetGenerateAdvice 是否生成职业建议
func WithsetGenerateAdvice(enabled bool) SettingOpt {
	return func(s *Settings) { s.GenerateAdvice = enabled }
}

// WithsetMinConfidence 认定已掌握技能的最低置信度
func WithsetMinConfidence(c float64) SettingOpt {
	return func(s *Settings) { s.MinConfidence = c }
}

// WithsetMitigate 公平性违规时是否调整
func WithsetMitigate(enabled bool) SettingOpt {
	return func(s *Settings) { s.Mitigate = enabled }
}

// WithsetProfileCacheTTL 画像缓存过期时间
func WithsetProfileCacheTTL(ttl time.Duration) SettingOpt {
	return func(s *Settings) {
		if ttl > 0 {
			s.ProfileCacheTTL = ttl
		}
	}
}

// WithsetLogger 设置日志记录器
func WithsetLogger(logger *log.Logger) SettingOpt {
	return func(s *Settings) {
		if logger != nil {
			s.Logger = logger
		} else {
			s.Logger = log.New(io.Discard, "", 0)
		}
	}
}

// WithsetClock 替换时钟（经验年限估算使用）
func WithsetClock(now func() time.Time) SettingOpt {
	return func(s *Settings) {
		if now != nil {
			s.Now = now
		}
	}
}
