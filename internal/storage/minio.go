package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"career-agent-go/internal/config"
	"career-agent-go/internal/index"
)

const (
	snapshotObjectFormat = "index/%s/snapshot.json"
	documentObjectFormat = "resume/%s/%s%s"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadFile 上传文件到指定存储桶
	UploadFile(ctx context.Context, bucket, objectName string, reader io.Reader, fileSize int64, contentType string) (string, error)

	// DownloadFile 下载文件
	DownloadFile(ctx context.Context, bucket, objectName string) ([]byte, error)

	// DeleteFile 删除文件
	DeleteFile(ctx context.Context, bucket, objectName string) error

	// 索引快照
	SaveSnapshot(ctx context.Context, snap *index.Snapshot) (string, error)
	LoadSnapshot(ctx context.Context, objectKey string) (*index.Snapshot, error)

	// ArchiveDocument 归档上传的简历原件
	ArchiveDocument(ctx context.Context, profileID string, data []byte) (string, error)
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供索引快照与简历归档的对象存储
type MinIO struct {
	client         *minio.Client
	cfg            *config.MinIOConfig
	snapshotBucket string
	documentBucket string
	logger         *log.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] Initializing MinIO client with endpoint: %s, snapshotBucket: %s, documentBucket: %s", cfg.Endpoint, cfg.SnapshotBucket, cfg.DocumentBucket)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		logger.Printf("[MinIO] Initialization failed: %v", err)
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	snapshotBucket := cfg.SnapshotBucket
	if snapshotBucket == "" {
		snapshotBucket = "index-snapshots"
	}

	m := &MinIO{
		client:         client,
		cfg:            cfg,
		snapshotBucket: snapshotBucket,
		documentBucket: cfg.DocumentBucket,
		logger:         logger,
	}

	if err := m.ensureBucketExists(snapshotBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保快照存储桶 %s 存在失败: %w", snapshotBucket, err)
	}
	// 简历归档是可选的
	if m.documentBucket != "" {
		if err := m.ensureBucketExists(m.documentBucket, cfg.Location); err != nil {
			return nil, fmt.Errorf("确保简历存储桶 %s 存在失败: %w", m.documentBucket, err)
		}
	}

	logger.Printf("[MinIO] Client initialized successfully for endpoint: %s", cfg.Endpoint)
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		m.logger.Printf("[MinIO] Error checking if bucket %s exists: %v", bucketName, err)
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	m.logger.Printf("[MinIO] Bucket %s does not exist, attempting to create...", bucketName)
	if err := m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	m.logger.Printf("[MinIO] Bucket %s created successfully.", bucketName)
	return nil
}

// UploadFile 上传文件，返回对象键
func (m *MinIO) UploadFile(ctx context.Context, bucket, objectName string, reader io.Reader, fileSize int64, contentType string) (string, error) {
	info, err := m.client.PutObject(ctx, bucket, objectName, reader, fileSize, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", bucket, objectName, err)
	}
	m.logger.Printf("[MinIO] Uploaded %s/%s, ETag: %s, Size: %d", bucket, objectName, info.ETag, info.Size)
	return objectName, nil
}

// DownloadFile 下载文件
func (m *MinIO) DownloadFile(ctx context.Context, bucket, objectName string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucket, objectName, err)
	}
	defer obj.Close()

	// GetObject 是惰性的，Stat 才能暴露对象不存在等错误
	if _, err := obj.Stat(); err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 状态失败: %w", bucket, objectName, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", bucket, objectName, err)
	}
	return data, nil
}

// DeleteFile 删除文件
func (m *MinIO) DeleteFile(ctx context.Context, bucket, objectName string) error {
	if err := m.client.RemoveObject(ctx, bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s/%s 失败: %w", bucket, objectName, err)
	}
	return nil
}

// SnapshotKey 返回索引代快照的对象键
func SnapshotKey(generationID string) string {
	return fmt.Sprintf(snapshotObjectFormat, generationID)
}

// SaveSnapshot 将索引快照以JSON写入快照存储桶
func (m *MinIO) SaveSnapshot(ctx context.Context, snap *index.Snapshot) (string, error) {
	if snap == nil || snap.GenerationID == "" {
		return "", fmt.Errorf("快照缺少索引代ID")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("序列化快照失败: %w", err)
	}
	key := SnapshotKey(snap.GenerationID)
	return m.UploadFile(ctx, m.snapshotBucket, key, bytes.NewReader(data), int64(len(data)), "application/json")
}

// LoadSnapshot 读取索引快照
func (m *MinIO) LoadSnapshot(ctx context.Context, objectKey string) (*index.Snapshot, error) {
	data, err := m.DownloadFile(ctx, m.snapshotBucket, objectKey)
	if err != nil {
		return nil, err
	}
	var snap index.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("解析快照 %s 失败: %w", objectKey, err)
	}
	return &snap, nil
}

// ArchiveDocument 按画像ID归档简历原件；未配置简历存储桶时不做任何事
func (m *MinIO) ArchiveDocument(ctx context.Context, profileID string, data []byte) (string, error) {
	if m.documentBucket == "" {
		return "", nil
	}
	contentType := http.DetectContentType(data)
	sum := md5.Sum(data)
	key := fmt.Sprintf(documentObjectFormat, profileID, hex.EncodeToString(sum[:8]), extensionFor(contentType))
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return m.UploadFile(ctx, m.documentBucket, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// extensionFor 根据探测到的内容类型返回扩展名
func extensionFor(contentType string) string {
	switch {
	case contentType == "application/pdf":
		return ".pdf"
	case len(contentType) >= 10 && contentType[:10] == "text/plain":
		return ".txt"
	case len(contentType) >= 9 && contentType[:9] == "text/html":
		return ".html"
	default:
		return ".bin"
	}
}
