//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of linkauth.Store.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// as long as the dialect reports unique violations, either through
// gorm.Config.TranslateError or as a PostgreSQL 23505 error.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - accounts: Local accounts, unique on username
//   - identity_records: External identities, unique on (provider, external_id)
//   - link_audit: Append-only record of which provider produced which link
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	if err := gormstore.AutoMigrate(db); err != nil { ... }
//	store := gormstore.NewStore(db)
//	provisioner := linkauth.NewProvisioner(store)
package gorm
