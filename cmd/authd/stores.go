package main

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/datastore"
	goredis "github.com/redis/go-redis/v9"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/fs"
	gaestore "github.com/panyam/authcore/stores/gae"
	gormstore "github.com/panyam/authcore/stores/gorm"
	redisstore "github.com/panyam/authcore/stores/redis"
)

// openStore builds the credential store named by AUTHCORE_STORE. When
// AUTHCORE_REDIS_URL is set, pending registrations and OTP records move to
// redis and only users stay in the primary store.
func openStore(ctx context.Context, senv serverEnv, logger *slog.Logger) (ac.CredentialStore, func(), error) {
	var store ac.CredentialStore
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch senv.Store {
	case "fs":
		store = fs.NewFSStore(senv.StorePath)
		logger.Info("using file store", "path", senv.StorePath)

	case "gorm":
		db, err := gormstore.Open(senv.DatabaseDriver, senv.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			closers = append(closers, func() { sqlDB.Close() })
		}
		store = gormstore.NewStore(db)
		logger.Info("using gorm store", "driver", senv.DatabaseDriver)

	case "gae":
		client, err := datastore.NewClient(ctx, senv.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to datastore: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		store = gaestore.NewStore(client, senv.DatastoreNamespace)
		logger.Info("using datastore store", "project", senv.DatastoreProject, "namespace", senv.DatastoreNamespace)

	default:
		return nil, nil, fmt.Errorf("unknown store %q", senv.Store)
	}

	if senv.RedisURL != "" {
		opts, err := goredis.ParseURL(senv.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			closeAll()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		codes := redisstore.NewStore(client, "")
		store = ac.SplitStore{UserStore: store, PendingStore: codes, OTPStore: codes}
		logger.Info("keeping codes in redis", "addr", opts.Addr)
	}
	return store, closeAll, nil
}
