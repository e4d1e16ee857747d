package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVRecord 键值记录表模型
type KVRecord struct {
	Key       string    `gorm:"column:record_key;primaryKey;type:varchar(191)"`
	Value     []byte    `gorm:"column:record_value;type:longblob"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName 表名
func (KVRecord) TableName() string {
	return "kv_records"
}

// KVStore 基于 MySQL 的持久化键值存储
type KVStore struct{ db *gorm.DB }

// NewKVStore 创建 MySQL 键值存储
func NewKVStore(db *gorm.DB) *KVStore {
	return &KVStore{db: db.Session(&gorm.Session{SkipDefaultTransaction: true})}
}

// Migrate 自动建表
func (s *KVStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&KVRecord{})
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var rec KVRecord
	err := s.db.WithContext(ctx).Where("record_key = ?", key).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s from mysql: %w", key, err)
	}
	return rec.Value, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	rec := KVRecord{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to set %s in mysql: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("record_key = ?", key).Delete(&KVRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete %s from mysql: %w", key, err)
	}
	return nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
