package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AnuphutTuekham/SOS-BOX/internal/model"
)

// SQLStore persists boxes in a single sosbox table. It runs on sqlite3 or
// postgres; statements are written with ? placeholders and rebound for
// postgres so the builders stay declarative.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens the database and runs the idempotent migration once.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// migrate creates the sosbox table and adds columns older deployments lack.
// Additive only, never destructive.
func (s *SQLStore) migrate() error {
	create := `CREATE TABLE IF NOT EXISTS sosbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		lat REAL,
		lon REAL,
		status TEXT,
		batt INTEGER,
		wifi_count INTEGER DEFAULT 0,
		created_at TEXT,
		device_id TEXT
	)`
	if s.driver == "postgres" {
		create = `CREATE TABLE IF NOT EXISTS sosbox (
			id BIGSERIAL PRIMARY KEY,
			name TEXT,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			status TEXT,
			batt INTEGER,
			wifi_count INTEGER DEFAULT 0,
			created_at TEXT,
			device_id TEXT
		)`
	}
	if _, err := s.db.Exec(create); err != nil {
		return err
	}

	for col, def := range map[string]string{
		"device_id":  "TEXT",
		"wifi_count": "INTEGER DEFAULT 0",
	} {
		if err := s.addColumn(col, def); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) addColumn(name, def string) error {
	if s.driver == "postgres" {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE sosbox ADD COLUMN IF NOT EXISTS %s %s", name, def))
		return err
	}
	rows, err := s.db.Query("PRAGMA table_info(sosbox)")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			colName string
			rest    [4]any
		)
		if err := rows.Scan(&cid, &colName, &rest[0], &rest[1], &rest[2], &rest[3]); err != nil {
			return err
		}
		if colName == name {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE sosbox ADD COLUMN %s %s", name, def))
	return err
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sosboxRow struct {
	id        int64
	name      sql.NullString
	lat       sql.NullFloat64
	lon       sql.NullFloat64
	status    sql.NullString
	batt      sql.NullInt64
	wifiCount sql.NullInt64
	createdAt sql.NullString
	deviceID  sql.NullString
}

func (r sosboxRow) box() model.Box {
	created := parseCreatedAt(r.createdAt.String)
	batt := int(r.batt.Int64)
	if batt < 0 {
		batt = 0
	}
	if batt > 150 {
		batt = 150
	}
	name := r.name.String
	if name == "" {
		name = model.DefaultName
	}
	status := r.status.String
	if status == "" {
		status = "online"
	}
	return model.Box{
		ID:             strconv.FormatInt(r.id, 10),
		DeviceID:       r.deviceID.String,
		Name:           name,
		Lat:            clampLat(r.lat.Float64),
		Lng:            clampLng(r.lon.Float64),
		Note:           "",
		BatteryPercent: batt,
		PowerbankMah:   10000,
		LoadW:          model.DefaultLoadW,
		WifiCount:      int(r.wifiCount.Int64),
		Status:         status,
		LastSeen:       created,
		CreatedAt:      created,
	}
}

func parseCreatedAt(s string) int64 {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UnixMilli()
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UnixMilli()
	}
	return time.Now().UnixMilli()
}

func createdAtValue(lastSeen int64) string {
	if lastSeen <= 0 {
		lastSeen = time.Now().UnixMilli()
	}
	return time.UnixMilli(lastSeen).UTC().Format(time.RFC3339)
}

const selectColumns = "id, name, lat, lon, status, batt, wifi_count, created_at, device_id"

// GetAll returns boxes most recent id first.
func (s *SQLStore) GetAll(ctx context.Context) ([]model.Box, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM sosbox ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Box
	for rows.Next() {
		var r sosboxRow
		if err := rows.Scan(&r.id, &r.name, &r.lat, &r.lon, &r.status, &r.batt, &r.wifiCount, &r.createdAt, &r.deviceID); err != nil {
			return nil, err
		}
		out = append(out, r.box())
	}
	return out, rows.Err()
}

func (s *SQLStore) getByID(ctx context.Context, id int64) (model.Box, bool, error) {
	var r sosboxRow
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT "+selectColumns+" FROM sosbox WHERE id = ? LIMIT 1"), id).
		Scan(&r.id, &r.name, &r.lat, &r.lon, &r.status, &r.batt, &r.wifiCount, &r.createdAt, &r.deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Box{}, false, nil
	}
	if err != nil {
		return model.Box{}, false, err
	}
	return r.box(), true, nil
}

// UpsertBoxes updates rows by numeric id and inserts otherwise. The merge
// reads the current row first so fields the update does not carry survive.
func (s *SQLStore) UpsertBoxes(ctx context.Context, updates []model.BoxUpdate) (UpsertResult, error) {
	now := time.Now().UnixMilli()
	for _, u := range updates {
		idNum, err := strconv.ParseInt(u.ID, 10, 64)
		if err == nil && idNum > 0 {
			prev, found, err := s.getByID(ctx, idNum)
			if err != nil {
				return UpsertResult{}, err
			}
			if found {
				b := u.Apply(&prev, now)
				if err := s.updateRow(ctx, idNum, b); err != nil {
					return UpsertResult{}, err
				}
				continue
			}
		}
		b := u.Apply(nil, now)
		if err := s.insertRow(ctx, b); err != nil {
			return UpsertResult{}, err
		}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sosbox").Scan(&total); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Upserted: len(updates), Total: total}, nil
}

// UpsertPositions matches rows by device_id and inserts when unknown.
func (s *SQLStore) UpsertPositions(ctx context.Context, positions []model.Position) (int, error) {
	for _, p := range positions {
		if p.DeviceID != "" {
			var id int64
			err := s.db.QueryRowContext(ctx, s.rebind("SELECT id FROM sosbox WHERE device_id = ? LIMIT 1"), p.DeviceID).Scan(&id)
			if err == nil {
				_, err = s.db.ExecContext(ctx,
					s.rebind("UPDATE sosbox SET name=?, lat=?, lon=?, status=?, batt=?, created_at=? WHERE id=?"),
					p.Name, p.Lat, p.Lon, p.Status, p.Batt, createdAtValue(p.LastSeen), id)
				if err != nil {
					return 0, err
				}
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return 0, err
			}
		}
		_, err := s.db.ExecContext(ctx,
			s.rebind("INSERT INTO sosbox (name, lat, lon, status, batt, created_at, device_id) VALUES (?,?,?,?,?,?,?)"),
			p.Name, p.Lat, p.Lon, p.Status, p.Batt, createdAtValue(p.LastSeen), p.DeviceID)
		if err != nil {
			return 0, err
		}
	}
	return len(positions), nil
}

func (s *SQLStore) updateRow(ctx context.Context, id int64, b model.Box) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE sosbox SET name=?, lat=?, lon=?, status=?, batt=?, created_at=?, device_id=? WHERE id=?"),
		b.Name, b.Lat, b.Lng, b.Status, b.BatteryPercent, createdAtValue(b.LastSeen), b.DeviceID, id)
	return err
}

func (s *SQLStore) insertRow(ctx context.Context, b model.Box) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO sosbox (name, lat, lon, status, batt, created_at, device_id) VALUES (?,?,?,?,?,?,?)"),
		b.Name, b.Lat, b.Lng, b.Status, b.BatteryPercent, createdAtValue(b.LastSeen), b.DeviceID)
	return err
}

// DeleteOne removes by numeric id, or by device_id for non-numeric ids.
func (s *SQLStore) DeleteOne(ctx context.Context, id string) (int, error) {
	var res sql.Result
	var err error
	if idNum, perr := strconv.ParseInt(id, 10, 64); perr == nil {
		res, err = s.db.ExecContext(ctx, s.rebind("DELETE FROM sosbox WHERE id = ?"), idNum)
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind("DELETE FROM sosbox WHERE device_id = ?"), id)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sosbox")
	return err
}

func (s *SQLStore) WifiCount(ctx context.Context, id string) (int, error) {
	idNum, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, nil
	}
	var count sql.NullInt64
	err = s.db.QueryRowContext(ctx, s.rebind("SELECT wifi_count FROM sosbox WHERE id = ? LIMIT 1"), idNum).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(count.Int64), nil
}

func (s *SQLStore) SetWifiCount(ctx context.Context, id string, count int) (int, error) {
	count = clampCount(count, 0, 100_000)
	idNum, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return count, nil
	}
	if _, err := s.db.ExecContext(ctx, s.rebind("UPDATE sosbox SET wifi_count = ? WHERE id = ?"), count, idNum); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
