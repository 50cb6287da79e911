package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AnuphutTuekham/SOS-BOX/internal/model"
	"github.com/AnuphutTuekham/SOS-BOX/internal/store"
)

var errCacheMiss = errors.New("cache: miss")

type fakeStore struct {
	boxes      []model.Box
	getCalled  int
	upsertErr  error
	lastUpsert []model.BoxUpdate
	positions  []model.Position
}

func (f *fakeStore) GetAll(ctx context.Context) ([]model.Box, error) {
	f.getCalled++
	return f.boxes, nil
}

func (f *fakeStore) UpsertBoxes(ctx context.Context, updates []model.BoxUpdate) (store.UpsertResult, error) {
	if f.upsertErr != nil {
		return store.UpsertResult{}, f.upsertErr
	}
	f.lastUpsert = updates
	return store.UpsertResult{Upserted: len(updates), Total: len(updates)}, nil
}

func (f *fakeStore) UpsertPositions(ctx context.Context, positions []model.Position) (int, error) {
	f.positions = positions
	return len(positions), nil
}

func (f *fakeStore) DeleteOne(ctx context.Context, id string) (int, error) { return 1, nil }
func (f *fakeStore) DeleteAll(ctx context.Context) error                   { return nil }
func (f *fakeStore) WifiCount(ctx context.Context, id string) (int, error) { return 3, nil }
func (f *fakeStore) SetWifiCount(ctx context.Context, id string, count int) (int, error) {
	return count, nil
}

type fakeCache struct {
	storage   map[string]string
	delCalled int
	setErr    error
	getErr    error
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	if v, ok := f.storage[key]; ok {
		return v, nil
	}
	return "", errCacheMiss
}

func (f *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.storage == nil {
		f.storage = map[string]string{}
	}
	f.storage[key] = value
	return nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) error {
	f.delCalled++
	for _, k := range keys {
		delete(f.storage, k)
	}
	return nil
}

func boxJSON(t *testing.T, boxes []model.Box) string {
	t.Helper()
	raw, err := json.Marshal(boxes)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestBoxesCacheHit(t *testing.T) {
	cached := []model.Box{{ID: "A", Name: "cached"}}
	st := &fakeStore{boxes: []model.Box{{ID: "B"}}}
	cache := &fakeCache{storage: map[string]string{cacheKeyBoxes: boxJSON(t, cached)}}
	svc := NewService(st, cache, time.Minute)

	got, err := svc.Boxes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "cached" {
		t.Errorf("got %+v, want the cached list", got)
	}
	if st.getCalled != 0 {
		t.Error("cache hit must not touch the store")
	}
}

func TestBoxesCacheMissFillsCache(t *testing.T) {
	st := &fakeStore{boxes: []model.Box{{ID: "A"}}}
	cache := &fakeCache{}
	svc := NewService(st, cache, time.Minute)

	got, err := svc.Boxes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "A" {
		t.Errorf("got %+v, want the store list", got)
	}
	if _, ok := cache.storage[cacheKeyBoxes]; !ok {
		t.Error("miss must populate the cache")
	}
}

func TestBoxesCacheErrorsFallThrough(t *testing.T) {
	st := &fakeStore{boxes: []model.Box{{ID: "A"}}}

	t.Run("get error", func(t *testing.T) {
		svc := NewService(st, &fakeCache{getErr: errors.New("redis down")}, time.Minute)
		got, err := svc.Boxes(context.Background())
		if err != nil || len(got) != 1 {
			t.Errorf("cache failure must fall back to the store, got %v %v", got, err)
		}
	})

	t.Run("set error", func(t *testing.T) {
		svc := NewService(st, &fakeCache{setErr: errors.New("redis down")}, time.Minute)
		if _, err := svc.Boxes(context.Background()); err != nil {
			t.Errorf("cache set failure must not fail the request: %v", err)
		}
	})

	t.Run("bad cached json", func(t *testing.T) {
		cache := &fakeCache{storage: map[string]string{cacheKeyBoxes: "{invalid"}}
		svc := NewService(st, cache, time.Minute)
		got, err := svc.Boxes(context.Background())
		if err != nil || len(got) != 1 {
			t.Errorf("bad cached json must fall back to the store, got %v %v", got, err)
		}
	})
}

func TestBoxesNilCache(t *testing.T) {
	st := &fakeStore{boxes: []model.Box{{ID: "A"}}}
	svc := NewService(st, nil, 0)
	got, err := svc.Boxes(context.Background())
	if err != nil || len(got) != 1 {
		t.Errorf("nil cache must pass straight through, got %v %v", got, err)
	}
}

func TestUpsertBoxesInvalidatesCache(t *testing.T) {
	st := &fakeStore{}
	cache := &fakeCache{storage: map[string]string{cacheKeyBoxes: "[]"}}
	svc := NewService(st, cache, time.Minute)

	payload := map[string]any{"id": "A", "lat": 1.0, "lng": 2.0}
	res, err := svc.UpsertBoxes(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if res.Upserted != 1 {
		t.Errorf("upserted = %d, want 1", res.Upserted)
	}
	if cache.delCalled == 0 {
		t.Error("write must invalidate the cached list")
	}
}

func TestUpsertBoxesNoValidItems(t *testing.T) {
	svc := NewService(&fakeStore{}, nil, 0)
	_, err := svc.UpsertBoxes(context.Background(), map[string]any{"name": "no coords"})
	if !errors.Is(err, ErrNoValidBoxes) {
		t.Errorf("err = %v, want ErrNoValidBoxes", err)
	}
}

func TestUpsertBoxesValidSubset(t *testing.T) {
	st := &fakeStore{}
	svc := NewService(st, nil, 0)
	payload := []any{
		map[string]any{"id": "A", "lat": 1.0, "lng": 2.0},
		map[string]any{"id": "B"},
		map[string]any{"id": "C", "lat": 3.0, "lng": 4.0},
	}
	res, err := svc.UpsertBoxes(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if res.Upserted != 2 {
		t.Errorf("upserted = %d, want 2 (invalid item dropped)", res.Upserted)
	}
}

func TestIngestPositions(t *testing.T) {
	st := &fakeStore{}
	cache := &fakeCache{storage: map[string]string{cacheKeyBoxes: "[]"}}
	svc := NewService(st, cache, time.Minute)

	payload := map[string]any{"device_id": "dev-1", "lat": 1.0, "lon": 2.0, "battery": 0.8}
	n, err := svc.IngestPositions(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("upserted = %d, want 1", n)
	}
	if len(st.positions) != 1 || st.positions[0].Batt != 80 {
		t.Errorf("stored positions = %+v, want one with batt=80", st.positions)
	}
	if cache.delCalled == 0 {
		t.Error("ingest must invalidate the cached list")
	}
}

func TestIngestPositionsNoValid(t *testing.T) {
	svc := NewService(&fakeStore{}, nil, 0)
	_, err := svc.IngestPositions(context.Background(), map[string]any{"device_id": "x"})
	if !errors.Is(err, ErrNoValidPositions) {
		t.Errorf("err = %v, want ErrNoValidPositions", err)
	}
}

func TestStorageErrorPropagates(t *testing.T) {
	boom := errors.New("disk full")
	svc := NewService(&fakeStore{upsertErr: boom}, nil, 0)
	_, err := svc.UpsertBoxes(context.Background(), map[string]any{"lat": 1.0, "lng": 2.0})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want the storage error", err)
	}
}
