// Package store persists canonical Box records. Two backends satisfy the
// same contract: a flat JSON file and a SQL table. Both merge partial
// updates field-by-field and both clamp coordinates on the read path.
package store

import (
	"context"

	"github.com/AnuphutTuekham/SOS-BOX/internal/model"
)

// UpsertResult reports how many records a batch touched and the collection
// size afterwards.
type UpsertResult struct {
	Upserted int `json:"upserted"`
	Total    int `json:"total"`
}

// Store is the box persistence contract. Batches are not atomic with
// respect to concurrent readers; each record commit applies independently.
type Store interface {
	GetAll(ctx context.Context) ([]model.Box, error)
	UpsertBoxes(ctx context.Context, updates []model.BoxUpdate) (UpsertResult, error)
	UpsertPositions(ctx context.Context, positions []model.Position) (int, error)
	DeleteOne(ctx context.Context, id string) (int, error)
	DeleteAll(ctx context.Context) error
	WifiCount(ctx context.Context, id string) (int, error)
	SetWifiCount(ctx context.Context, id string, count int) (int, error)
	Close() error
}

func clampLat(v float64) float64 {
	if v < -90 {
		return -90
	}
	if v > 90 {
		return 90
	}
	return v
}

func clampLng(v float64) float64 {
	if v < -180 {
		return -180
	}
	if v > 180 {
		return 180
	}
	return v
}

func clampCount(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
