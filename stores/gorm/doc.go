//go:build !wasm
// +build !wasm

// Package gorm provides a GORM backed Storage for coachauth clients.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
//
// # Database Schema
//
// The package auto-migrates a single table:
//   - client_storage: one row per (namespace, name)
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open("coachauth.db"), &gorm.Config{})
//	if err := gormstore.AutoMigrate(db); err != nil {
//	    return err
//	}
//	storage := gormstore.NewStorage(db, "https://api.example.com")
package gorm
