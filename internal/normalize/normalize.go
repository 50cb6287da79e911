// Package normalize converts the heterogeneous payload shapes produced by
// the map UI and by GPS tracker apps into canonical records. Telemetry
// clients encode location inconsistently across versions, so extraction is
// an ordered list of attempts over a generic map; the first finite value
// wins and items that never yield finite coordinates are dropped, not
// reported as errors.
package normalize

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AnuphutTuekham/SOS-BOX/internal/model"
)

// Battery raw values at or below 1 are fractions (0.0-1.0) from sources
// that report battery level as a ratio rather than a percentage.
const (
	BatteryMax   = 150
	PowerbankMax = 1_000_000
	LoadWMin     = 0.1
	LoadWMax     = 1000
)

// Boxes normalizes an upsert payload: a single object, an array, or a
// {boxes:[...]} wrapper. Items without finite coordinates are skipped.
func Boxes(v any) []model.BoxUpdate {
	var out []model.BoxUpdate
	for _, m := range items(v, "boxes") {
		if u, ok := boxFrom(m); ok {
			out = append(out, u)
		}
	}
	return out
}

// Positions normalizes a telemetry payload: a single object, an array, or a
// {positions:[...]} wrapper.
func Positions(v any) []model.Position {
	var out []model.Position
	for _, m := range items(v, "positions") {
		if p, ok := positionFrom(m); ok {
			out = append(out, p)
		}
	}
	return out
}

func boxFrom(m map[string]any) (model.BoxUpdate, bool) {
	lat, latOK := firstNum(m, "lat", "latitude")
	lng, lngOK := firstNum(m, "lng", "lon", "longitude")
	if !latOK || !lngOK {
		return model.BoxUpdate{}, false
	}

	u := model.BoxUpdate{Lat: &lat, Lng: &lng}
	if id, ok := firstString(m, "id"); ok && id != "" {
		u.ID = id
	} else {
		u.ID = model.NewID()
	}
	if s, ok := firstString(m, "deviceId", "device_id"); ok {
		u.DeviceID = &s
	}
	if s, ok := firstString(m, "name"); ok {
		u.Name = &s
	}
	if s, ok := firstString(m, "note"); ok {
		u.Note = &s
	}
	if s, ok := firstString(m, "status"); ok {
		u.Status = &s
	}
	if n, ok := firstNum(m, "batteryPercent", "battery", "batt"); ok {
		batt := clampInt(n, 0, BatteryMax)
		u.BatteryPercent = &batt
	}
	if n, ok := firstNum(m, "powerbankMah", "powerbank_mAh"); ok {
		mah := clampInt(n, 0, PowerbankMax)
		u.PowerbankMah = &mah
	}
	if n, ok := firstNum(m, "loadW", "load_w"); ok {
		w := clampFloat(n, LoadWMin, LoadWMax)
		u.LoadW = &w
	}
	if ts, ok := timestampFrom(m, "lastSeen", "ts"); ok {
		u.LastSeen = &ts
	}
	if ts, ok := timestampFrom(m, "createdAt", "firstSeen"); ok {
		u.CreatedAt = &ts
	}
	return u, true
}

func positionFrom(m map[string]any) (model.Position, bool) {
	var (
		lat, lon, batt       float64
		latOK, lonOK, battOK bool
		tsVal                any
	)

	if loc, ok := m["location"].(map[string]any); ok {
		// Some tracker builds tuck the fix into location._ as a query
		// string, others use plain properties, others a battery object.
		lat, lon, batt, latOK, lonOK, battOK = fromLocation(loc)
		if v, ok := loc["timestamp"]; ok {
			tsVal = v
		}
	} else {
		lat, latOK = firstNum(m, "lat", "latitude")
		lon, lonOK = firstNum(m, "lon", "lng", "longitude")
	}
	if !latOK || !lonOK {
		return model.Position{}, false
	}
	if !battOK {
		batt, battOK = firstNum(m, "battery", "batt", "batteryLevel")
		if !battOK {
			if attrs, ok := m["attributes"].(map[string]any); ok {
				batt, battOK = firstNum(attrs, "batteryLevel", "battery")
			}
		}
	}
	if !battOK {
		batt = 0
	}

	deviceID, _ := firstString(m, "device_id", "deviceId")
	if deviceID == "" {
		if dev, ok := m["device"].(map[string]any); ok {
			deviceID, _ = firstString(dev, "id")
		}
	}
	if deviceID == "" {
		deviceID, _ = firstString(m, "id", "deviceName")
	}

	name, _ := firstString(m, "name", "deviceName")
	if name == "" {
		if dev, ok := m["device"].(map[string]any); ok {
			name, _ = firstString(dev, "name")
		}
	}
	if name == "" {
		name = deviceID
	}
	if name == "" {
		name = model.DefaultName
	}

	status, ok := firstString(m, "status")
	if !ok || status == "" {
		status = "online"
	}

	lastSeen := time.Now().UnixMilli()
	if tsVal != nil {
		if ts, ok := parseTimestamp(tsVal); ok {
			lastSeen = ts
		}
	} else if ts, ok := timestampFrom(m, "timestamp", "fixTime", "deviceTime", "serverTime", "time", "lastSeen", "ts"); ok {
		lastSeen = ts
	}

	return model.Position{
		DeviceID: deviceID,
		Name:     name,
		Lat:      lat,
		Lon:      lon,
		Status:   status,
		Batt:     BatteryPercent(batt),
		LastSeen: lastSeen,
	}, true
}

// fromLocation resolves coordinates and battery from a nested location blob.
// Cascade: the "_" query string, then direct properties, then a nested
// battery object with level/value.
func fromLocation(loc map[string]any) (lat, lon, batt float64, latOK, lonOK, battOK bool) {
	if raw, ok := loc["_"].(string); ok {
		if qs, err := url.ParseQuery(raw); err == nil {
			lat, latOK = parseNum(qs.Get("lat"))
			lon, lonOK = parseNum(qs.Get("lon"))
			for _, k := range []string{"batt", "battery", "batteryLevel"} {
				if v := qs.Get(k); v != "" {
					batt, battOK = parseNum(v)
					break
				}
			}
		}
	}
	if !latOK {
		lat, latOK = firstNum(loc, "lat", "latitude")
	}
	if !lonOK {
		lon, lonOK = firstNum(loc, "lon", "lng", "longitude")
	}
	if !battOK {
		switch b := loc["battery"].(type) {
		case map[string]any:
			batt, battOK = firstNum(b, "level", "value")
		default:
			batt, battOK = toNum(b)
		}
	}
	return lat, lon, batt, latOK, lonOK, battOK
}

// BatteryPercent converts a raw battery reading to a clamped percentage.
// Values at or below 1 are fractions and scale by 100.
func BatteryPercent(raw float64) int {
	if raw <= 1 {
		raw *= 100
	}
	return clampInt(raw, 0, BatteryMax)
}

func items(v any, wrapper string) []map[string]any {
	var raw []any
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		raw = t
	case map[string]any:
		if inner, ok := t[wrapper].([]any); ok {
			raw = inner
		} else {
			raw = []any{t}
		}
	default:
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// toNum coerces decoded JSON values and form-encoded strings to a finite
// float. Non-finite values report !ok so NaN never leaks into a record.
func toNum(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		return parseNum(t)
	default:
		return 0, false
	}
}

func parseNum(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return finite(n)
}

func finite(n float64) (float64, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func firstNum(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := toNum(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t, true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case int:
			return strconv.Itoa(t), true
		case int64:
			return strconv.FormatInt(t, 10), true
		}
	}
	return "", false
}

func timestampFrom(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if ts, ok := parseTimestamp(v); ok {
				return ts, true
			}
		}
	}
	return 0, false
}

// parseTimestamp accepts a numeric epoch-ms, a parseable date string, or a
// numeric string.
func parseTimestamp(v any) (int64, bool) {
	switch t := v.(type) {
	case float64, float32, int, int64:
		n, ok := toNum(t)
		if !ok {
			return 0, false
		}
		return int64(n), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UnixMilli(), true
			}
		}
		if n, ok := parseNum(s); ok {
			return int64(n), true
		}
	}
	return 0, false
}

func clampInt(v float64, min, max int) int {
	n := int(math.Round(v))
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
