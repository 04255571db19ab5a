package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveRecord 是 Archive 层在关系库中的存储模型，
// 表结构由 internal/migration 的迁移文件维护。
type ArchiveRecord struct {
	Hash      string    `gorm:"column:hash;primaryKey;size:64"`
	Payload   []byte    `gorm:"column:payload"`
	ExpiresAt time.Time `gorm:"column:expires_at;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName 指定表名。
func (ArchiveRecord) TableName() string { return "cache_entries" }

// GormStore 基于 GORM 的 Archive 后端，支持 postgres/mysql/sqlite。
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建 GORM 后端。
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "archive_gorm")),
	}
}

// Load 按哈希读取。过期行惰性清理：读到即删，按未找到返回。
func (s *GormStore) Load(ctx context.Context, hash string) ([]byte, bool, error) {
	var rec ArchiveRecord
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		if derr := s.db.WithContext(ctx).Delete(&ArchiveRecord{}, "hash = ?", hash).Error; derr != nil {
			s.logger.Debug("expired row cleanup failed", zap.Error(derr))
		}
		return nil, false, nil
	}
	return rec.Payload, true, nil
}

// Save 插入或更新（按哈希去重）。
func (s *GormStore) Save(ctx context.Context, hash string, payload []byte, expiresAt time.Time) error {
	rec := ArchiveRecord{
		Hash:      hash,
		Payload:   payload,
		ExpiresAt: expiresAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at", "updated_at"}),
	}).Create(&rec).Error
}

// Delete 删除指定哈希，不存在不算错误。
func (s *GormStore) Delete(ctx context.Context, hash string) error {
	return s.db.WithContext(ctx).Delete(&ArchiveRecord{}, "hash = ?", hash).Error
}

// Ping 探测数据库连通性。
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PruneExpired 批量清理过期行，供后台周期任务调用。
// Save 总会写入非零的 expires_at，直接按当前时间比较即可。
func (s *GormStore) PruneExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&ArchiveRecord{})
	return res.RowsAffected, res.Error
}
