package gorm_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
	gormstore "github.com/panyam/authcore/stores/gorm"
	"github.com/panyam/authcore/stores/storetest"
)

func newSQLiteStore(t *testing.T) *gormstore.Store {
	t.Helper()
	db, err := gormstore.Open("sqlite", filepath.Join(t.TempDir(), "authcore.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite allows one writer; a single connection serializes the races
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return gormstore.NewStore(db)
}

func TestGormStore(t *testing.T) {
	storetest.RunCredentialStoreTests(t, func(t *testing.T) ac.CredentialStore {
		return newSQLiteStore(t)
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := gormstore.Open("oracle", "dsn")
	require.Error(t, err)

	_, err = gormstore.Open("postgres", "")
	require.Error(t, err)
}
