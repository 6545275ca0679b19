// Package store holds the backends that persist the session snapshot and the
// set of published record keys.
package store

import (
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/dedup"
	"bidwatch/internal/registry"
	"context"
	"fmt"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverRedis  = "redis"
)

// Store is what every backend provides.
type Store interface {
	registry.SnapshotStore
	dedup.Store
	Close() error
}

type Options struct {
	Driver string        `json:"driver"`
	SQLite SQLiteOptions `json:"sqlite"`
	Badger BadgerOptions `json:"badger"`
	Redis  RedisOptions  `json:"redis"`
}

func Open(ctx context.Context, opts Options, tel telemetry.API) (Store, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite, "":
		return OpenSQLite(ctx, opts.SQLite)
	case DriverBadger:
		return OpenBadger(opts.Badger, tel)
	case DriverRedis:
		return OpenRedis(ctx, opts.Redis)
	}
	return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
}
