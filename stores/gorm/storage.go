//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate creates or updates the storage table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&StorageItemModel{})
}

// Storage implements coachauth.Storage on a SQL table
type Storage struct {
	db        *gorm.DB
	namespace string
	ctx       context.Context
}

// NewStorage creates a Storage whose items are scoped to namespace
func NewStorage(db *gorm.DB, namespace string) *Storage {
	if namespace == "" {
		namespace = "default"
	}
	return &Storage{db: db, namespace: namespace, ctx: context.Background()}
}

// WithContext returns a copy of the storage with the given context
func (s *Storage) WithContext(ctx context.Context) *Storage {
	return &Storage{db: s.db, namespace: s.namespace, ctx: ctx}
}

func (s *Storage) tx() *gorm.DB {
	return s.db.WithContext(s.ctx)
}

func (s *Storage) GetItem(key string) ([]byte, error) {
	var model StorageItemModel
	err := s.tx().First(&model, "namespace = ? AND name = ?", s.namespace, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.Value, nil
}

func (s *Storage) SetItem(key string, value []byte) error {
	model := &StorageItemModel{Namespace: s.namespace, Name: key, Value: value}
	return s.tx().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(model).Error
}

func (s *Storage) RemoveItem(key string) error {
	return s.tx().Where("namespace = ? AND name = ?", s.namespace, key).
		Delete(&StorageItemModel{}).Error
}

func (s *Storage) Keys() ([]string, error) {
	var keys []string
	err := s.tx().Model(&StorageItemModel{}).
		Where("namespace = ?", s.namespace).
		Order("name").
		Pluck("name", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Namespace returns the namespace this storage reads and writes
func (s *Storage) Namespace() string {
	return s.namespace
}
