package app

import (
	"strings"
	"time"

	"digestfanout/internal/blobstore"
	"digestfanout/internal/config"
)

func mapStorageConfig(cfg *config.Config) (blobstore.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		switch driver {
		case "file":
			path = "./fanout_store"
		case "sqlite", "sqlite3":
			path = "./fanout.db"
		}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return blobstore.Config{}, err
	}
	return blobstore.Config{
		Driver:         driver,
		Path:           path,
		Namespace:      strings.TrimSpace(sc.Namespace),
		BusyTimeout:    busy,
		RedisAddr:      strings.TrimSpace(sc.Redis.Addr),
		RedisPassword:  config.ResolveSecret("", sc.Redis.PasswordEnv),
		RedisDB:        sc.Redis.DB,
		DynamoTable:    strings.TrimSpace(sc.Dynamo.Table),
		DynamoRegion:   strings.TrimSpace(sc.Dynamo.Region),
		DynamoEndpoint: strings.TrimSpace(sc.Dynamo.Endpoint),
	}, nil
}
