//go:build !wasm
// +build !wasm

package gorm

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "authcore.db"
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres requires a dsn")
		}
		return postgres.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}
