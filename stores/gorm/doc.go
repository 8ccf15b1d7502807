//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of the authcore store
// interfaces. It supports SQLite and PostgreSQL out of the box and any other
// database GORM supports through NewStore.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: accounts, unique on email and google_sub
//   - pending_registrations: registrations awaiting OTP verification, keyed by email
//   - otp_records: login and reset codes, indexed by (user_id, purpose)
//
// # Usage
//
//	db, err := gormstore.Open("postgres", dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := gormstore.NewStore(db)
package gorm
