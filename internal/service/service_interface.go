package service

import (
	"context"
	"time"

	"github.com/AnuphutTuekham/SOS-BOX/internal/model"
	"github.com/AnuphutTuekham/SOS-BOX/internal/store"
)

// Store is the persistence capability the service needs; both backends in
// internal/store satisfy it. Redeclared here so tests can use fakes.
type Store interface {
	GetAll(ctx context.Context) ([]model.Box, error)
	UpsertBoxes(ctx context.Context, updates []model.BoxUpdate) (store.UpsertResult, error)
	UpsertPositions(ctx context.Context, positions []model.Position) (int, error)
	DeleteOne(ctx context.Context, id string) (int, error)
	DeleteAll(ctx context.Context) error
	WifiCount(ctx context.Context, id string) (int, error)
	SetWifiCount(ctx context.Context, id string, count int) (int, error)
}

// Cache is the slice of a Redis client the service uses. A nil Cache
// disables caching entirely.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
