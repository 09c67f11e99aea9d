package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/storage/gcs"
	"github.com/feichai0017/plan-takeoff/pkg/storage/minio"
	"github.com/feichai0017/plan-takeoff/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
	StorageTypeGCS   StorageType = "gcs"
)

// Storage 接口定义
type Storage interface {
	// ResolvePath 将相对/绝对/公共URL形式的引用转换为存储路径
	ResolvePath(ref string) (string, error)
	// SignedURL 生成短期访问链接
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	// Upload 上传字节并返回可访问的URL
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, path string) error
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(ctx, log)
	case StorageTypeMinio:
		return minio.GetClient(ctx, log)
	case StorageTypeGCS:
		return gcs.GetClient(ctx, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
