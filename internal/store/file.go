package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AnuphutTuekham/SOS-BOX/internal/model"
)

// FileStore keeps the whole collection as a pretty-printed JSON array in a
// single file. Every write rewrites the file, which bounds it to low
// request rates; the mutex only serializes writers within this process.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens (and if needed creates) the data file.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("create data file: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// read treats a missing or corrupt file as an empty collection.
func (s *FileStore) read() []model.Box {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var boxes []model.Box
	if err := json.Unmarshal(raw, &boxes); err != nil {
		return nil
	}
	return boxes
}

func (s *FileStore) write(boxes []model.Box) error {
	if boxes == nil {
		boxes = []model.Box{}
	}
	raw, err := json.MarshalIndent(boxes, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) GetAll(ctx context.Context) ([]model.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	boxes := s.read()
	out := make([]model.Box, len(boxes))
	for i, b := range boxes {
		b.Lat = clampLat(b.Lat)
		b.Lng = clampLng(b.Lng)
		out[i] = b
	}
	return out, nil
}

func (s *FileStore) UpsertBoxes(ctx context.Context, updates []model.BoxUpdate) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boxes := s.read()
	index := make(map[string]int, len(boxes))
	for i, b := range boxes {
		index[b.ID] = i
	}

	now := time.Now().UnixMilli()
	for _, u := range updates {
		if i, ok := index[u.ID]; ok {
			boxes[i] = u.Apply(&boxes[i], now)
			continue
		}
		boxes = append(boxes, u.Apply(nil, now))
		index[u.ID] = len(boxes) - 1
	}
	if err := s.write(boxes); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Upserted: len(updates), Total: len(boxes)}, nil
}

func (s *FileStore) UpsertPositions(ctx context.Context, positions []model.Position) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boxes := s.read()
	now := time.Now().UnixMilli()
	for _, p := range positions {
		i := findByDevice(boxes, p.DeviceID)
		if i < 0 {
			boxes = append(boxes, model.Box{
				ID:             model.NewID(),
				DeviceID:       p.DeviceID,
				Name:           p.Name,
				Lat:            p.Lat,
				Lng:            p.Lon,
				BatteryPercent: p.Batt,
				LoadW:          model.DefaultLoadW,
				Status:         p.Status,
				LastSeen:       p.LastSeen,
				CreatedAt:      now,
			})
			continue
		}
		boxes[i].Name = p.Name
		boxes[i].Lat = p.Lat
		boxes[i].Lng = p.Lon
		boxes[i].BatteryPercent = p.Batt
		boxes[i].Status = p.Status
		boxes[i].LastSeen = p.LastSeen
	}
	if err := s.write(boxes); err != nil {
		return 0, err
	}
	return len(positions), nil
}

func findByDevice(boxes []model.Box, deviceID string) int {
	if deviceID == "" {
		return -1
	}
	for i, b := range boxes {
		if b.DeviceID == deviceID || b.ID == deviceID {
			return i
		}
	}
	return -1
}

func (s *FileStore) DeleteOne(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boxes := s.read()
	kept := boxes[:0]
	for _, b := range boxes {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	deleted := len(boxes) - len(kept)
	if deleted == 0 {
		return 0, nil
	}
	if err := s.write(kept); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *FileStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(nil)
}

func (s *FileStore) WifiCount(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.read() {
		if b.ID == id {
			return b.WifiCount, nil
		}
	}
	return 0, nil
}

func (s *FileStore) SetWifiCount(ctx context.Context, id string, count int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count = clampCount(count, 0, 100_000)
	boxes := s.read()
	for i := range boxes {
		if boxes[i].ID == id {
			boxes[i].WifiCount = count
			if err := s.write(boxes); err != nil {
				return 0, err
			}
			break
		}
	}
	return count, nil
}

func (s *FileStore) Close() error { return nil }
