package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AnuphutTuekham/SOS-BOX/internal/model"
	"github.com/AnuphutTuekham/SOS-BOX/internal/normalize"
	"github.com/AnuphutTuekham/SOS-BOX/internal/store"
)

// Validation failures: the whole batch normalized to nothing. Handlers map
// these to 400; anything else from a Store is a 500.
var (
	ErrNoValidBoxes     = errors.New("no valid boxes")
	ErrNoValidPositions = errors.New("no valid positions")
)

const cacheKeyBoxes = "boxes:all"

// Service wires the normalizer to a Store, with an optional cache in front
// of the box list. Cache failures are logged and never fail a request.
type Service struct {
	store Store
	cache Cache
	ttl   time.Duration
}

func NewService(st Store, cache Cache, ttl time.Duration) *Service {
	return &Service{store: st, cache: cache, ttl: ttl}
}

// Boxes returns the full collection, from cache when possible.
func (s *Service) Boxes(ctx context.Context) ([]model.Box, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKeyBoxes); err == nil {
			var boxes []model.Box
			if err := json.Unmarshal([]byte(raw), &boxes); err == nil {
				return boxes, nil
			}
		}
	}
	boxes, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(boxes); err == nil {
			if err := s.cache.Set(ctx, cacheKeyBoxes, string(raw), s.ttl); err != nil {
				log.Warn().Err(err).Msg("cache set failed")
			}
		}
	}
	return boxes, nil
}

// UpsertBoxes normalizes an upsert payload and merges the valid subset.
func (s *Service) UpsertBoxes(ctx context.Context, payload any) (store.UpsertResult, error) {
	updates := normalize.Boxes(payload)
	if len(updates) == 0 {
		return store.UpsertResult{}, ErrNoValidBoxes
	}
	res, err := s.store.UpsertBoxes(ctx, updates)
	if err != nil {
		return store.UpsertResult{}, err
	}
	s.invalidate(ctx)
	return res, nil
}

// IngestPositions normalizes a telemetry payload and upserts by device id.
func (s *Service) IngestPositions(ctx context.Context, payload any) (int, error) {
	positions := normalize.Positions(payload)
	if len(positions) == 0 {
		return 0, ErrNoValidPositions
	}
	n, err := s.store.UpsertPositions(ctx, positions)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return n, nil
}

func (s *Service) DeleteBox(ctx context.Context, id string) (int, error) {
	deleted, err := s.store.DeleteOne(ctx, id)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return deleted, nil
}

func (s *Service) ClearBoxes(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) WifiCount(ctx context.Context, id string) (int, error) {
	return s.store.WifiCount(ctx, id)
}

func (s *Service) SetWifiCount(ctx context.Context, id string, count int) (int, error) {
	n, err := s.store.SetWifiCount(ctx, id, count)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	return n, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKeyBoxes); err != nil {
		log.Warn().Err(err).Msg("cache invalidate failed")
	}
}
