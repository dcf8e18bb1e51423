package constants

import "time"

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "career"

	// ProfileModulePrefix 简历画像模块
	ProfileModulePrefix = "profile"
	// EmbeddingModulePrefix 向量模块
	EmbeddingModulePrefix = "embedding"
	// IndexModulePrefix 索引模块
	IndexModulePrefix = "index"

	// EntityCache 缓存实体
	EntityCache = "cache"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityVector 向量实体
	EntityVector = "vector"

	// KeyProfileByMD5 按文档MD5缓存的简历画像 (STRING, JSON)
	// 格式: career:profile:cache:{md5}
	KeyProfileByMD5 = AppPrefix + ":" + ProfileModulePrefix + ":" + EntityCache + ":%s"

	// KeyQueryVector 查询向量缓存 (STRING, JSON)
	// 格式: career:embedding:vector:{model}:{md5}
	KeyQueryVector = AppPrefix + ":" + EmbeddingModulePrefix + ":" + EntityVector + ":%s:%s"

	// KeyIndexRebuildLock 索引重建分布式锁 (STRING)
	// 格式: career:index:lock:rebuild
	KeyIndexRebuildLock = AppPrefix + ":" + IndexModulePrefix + ":" + EntityLock + ":rebuild"
)

// 缓存与锁的默认时长
const (
	DefaultProfileCacheTTL = 24 * time.Hour
	DefaultVectorCacheTTL  = 7 * 24 * time.Hour
	IndexRebuildLockTTL    = 10 * time.Minute
)
