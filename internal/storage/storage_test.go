package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"career-agent-go/internal/config"
	"career-agent-go/internal/constants"
	"career-agent-go/internal/index"
	"career-agent-go/internal/types"
)

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "index/g-123/snapshot.json", SnapshotKey("g-123"))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".pdf", extensionFor("application/pdf"))
	assert.Equal(t, ".txt", extensionFor("text/plain; charset=utf-8"))
	assert.Equal(t, ".bin", extensionFor("application/octet-stream"))
}

func TestRedisKeyFormats(t *testing.T) {
	assert.Equal(t, "career:profile:cache:abc", fmt.Sprintf(constants.KeyProfileByMD5, "abc"))
	assert.Equal(t, "career:embedding:vector:text-embedding-v3:def", fmt.Sprintf(constants.KeyQueryVector, "text-embedding-v3", "def"))
	assert.False(t, shouldSampleRedisOp(""), "空key不采样")
}

func TestNewRedisAdapterValidatesConfig(t *testing.T) {
	_, err := NewRedisAdapter(nil)
	assert.Error(t, err)
	_, err = NewRedisAdapter(&config.RedisConfig{})
	assert.Error(t, err, "缺少地址时报错")
}

// 以下用例需要真实的Redis，通过 CAREER_TEST_REDIS_ADDR 指定
func newTestRedis(t *testing.T) *Redis {
	addr := os.Getenv("CAREER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("未设置 CAREER_TEST_REDIS_ADDR，跳过 Redis 集成测试")
	}
	r, err := NewRedisAdapter(&config.RedisConfig{Address: addr, DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisProfileCache(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	md5 := fmt.Sprintf("test-%d", time.Now().UnixNano())

	p, err := r.GetCachedProfile(ctx, md5)
	require.NoError(t, err, "未命中不是错误")
	assert.Nil(t, p)

	profile := &types.ResumeProfile{ID: "p-1", Skills: []types.SkillMention{{TaxonomyID: "python", Confidence: 1}}}
	require.NoError(t, r.CacheProfile(ctx, md5, profile, time.Minute))

	p, err = r.GetCachedProfile(ctx, md5)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "p-1", p.ID)
	assert.True(t, p.HasSkill("python", 0.5))
	r.Client.Del(ctx, fmt.Sprintf(constants.KeyProfileByMD5, md5))
}

func TestRedisVectorCache(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	key := fmt.Sprintf("v-%d", time.Now().UnixNano())

	v, err := r.GetCachedVector(ctx, "m", key)
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, r.CacheVector(ctx, "m", key, []float64{0.6, 0.8}, time.Minute))
	v, err = r.GetCachedVector(ctx, "m", key)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.8}, v)
	r.Client.Del(ctx, fmt.Sprintf(constants.KeyQueryVector, "m", key))
}

func TestRedisRebuildLock(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	lockKey := constants.KeyIndexRebuildLock + fmt.Sprintf(":test-%d", time.Now().UnixNano())

	token, err := r.AcquireLock(ctx, lockKey, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	second, err := r.AcquireLock(ctx, lockKey, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second, "锁被持有时无法再次获取")

	released, err := r.ReleaseLock(ctx, lockKey, "wrong-token")
	require.NoError(t, err)
	assert.False(t, released, "令牌不匹配时不能释放")

	released, err = r.ReleaseLock(ctx, lockKey, token)
	require.NoError(t, err)
	assert.True(t, released)
}

// 需要真实的MinIO，通过 CAREER_TEST_MINIO_ENDPOINT 指定
func TestMinIOSnapshotRoundTrip(t *testing.T) {
	endpoint := os.Getenv("CAREER_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("未设置 CAREER_TEST_MINIO_ENDPOINT，跳过 MinIO 集成测试")
	}
	m, err := NewMinIO(&config.MinIOConfig{
		Endpoint:        endpoint,
		AccessKeyID:     os.Getenv("CAREER_TEST_MINIO_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("CAREER_TEST_MINIO_SECRET_KEY"),
		SnapshotBucket:  "career-test-snapshots",
	}, nil)
	require.NoError(t, err)

	items := []*types.CorpusItem{
		{ID: "course-sql-1", Kind: types.CorpusKindCourse, Embedding: []float64{1, 0}, TaxonomyTags: []string{"sql"}},
		{ID: "job-analyst", Kind: types.CorpusKindJob, Embedding: []float64{0, 1}, TaxonomyTags: []string{"sql", "statistics"}},
	}
	g, err := index.Build(items, index.DefaultBuildOptions())
	require.NoError(t, err)

	ctx := context.Background()
	key, err := m.SaveSnapshot(ctx, g.Snapshot())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.DeleteFile(ctx, "career-test-snapshots", key) })

	snap, err := m.LoadSnapshot(ctx, key)
	require.NoError(t, err)
	restored, err := index.Restore(snap, index.DefaultBuildOptions())
	require.NoError(t, err)
	assert.Equal(t, g.ID(), restored.ID(), "恢复后保留原索引代ID")
	assert.Equal(t, 2, restored.Len())

	archived, err := m.ArchiveDocument(ctx, "p-1", []byte("hello"))
	require.NoError(t, err)
	assert.Empty(t, archived, "未配置简历存储桶时不归档")
}
