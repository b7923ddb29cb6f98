//go:build !wasm
// +build !wasm

package gorm

import (
	"time"
)

// StorageItemModel is the GORM model for a stored item
type StorageItemModel struct {
	Namespace string    `gorm:"primaryKey;size:255"`
	Name      string    `gorm:"primaryKey;size:128"`
	Value     []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (StorageItemModel) TableName() string {
	return "client_storage"
}
