package model

import "github.com/google/uuid"

// Box is the canonical record for one tracked SOS BOX device.
type Box struct {
	ID             string  `db:"id" json:"id"`
	DeviceID       string  `db:"device_id" json:"deviceId,omitempty"`
	Name           string  `db:"name" json:"name"`
	Lat            float64 `db:"lat" json:"lat"`
	Lng            float64 `db:"lon" json:"lng"`
	Note           string  `db:"note" json:"note"`
	BatteryPercent int     `db:"batt" json:"batteryPercent"`
	PowerbankMah   int     `db:"powerbank_mah" json:"powerbankMah"`
	LoadW          float64 `db:"load_w" json:"loadW"`
	WifiCount      int     `db:"wifi_count" json:"wifiCount"`
	Status         string  `db:"status" json:"status,omitempty"`
	LastSeen       int64   `db:"last_seen" json:"lastSeen"`
	CreatedAt      int64   `db:"created_at" json:"createdAt"`
}

// Position is the subset a telemetry client reports. It carries no box id;
// stores match it against existing records by DeviceID.
type Position struct {
	DeviceID string  `json:"deviceId"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Status   string  `json:"status"`
	Batt     int     `json:"batt"`
	LastSeen int64   `json:"lastSeen"`
}

// BoxUpdate is a normalized partial payload. Nil fields were absent from the
// incoming payload and must not overwrite what a store already holds.
type BoxUpdate struct {
	ID             string
	DeviceID       *string
	Name           *string
	Lat            *float64
	Lng            *float64
	Note           *string
	BatteryPercent *int
	PowerbankMah   *int
	LoadW          *float64
	Status         *string
	LastSeen       *int64
	CreatedAt      *int64
}

// Defaults for fields a brand-new record did not specify.
const (
	DefaultName  = "SOS BOX"
	DefaultLoadW = 5
)

// NewID returns a generated box id for payloads that carry none.
func NewID() string {
	return uuid.NewString()
}

// Apply merges the update over prev, or materializes a new Box when prev is
// nil. lastSeen refreshes to now unless the payload set it; createdAt is set
// once and never overwritten on merge.
func (u BoxUpdate) Apply(prev *Box, now int64) Box {
	var b Box
	if prev != nil {
		b = *prev
	} else {
		b = Box{
			ID:        u.ID,
			Name:      DefaultName,
			LoadW:     DefaultLoadW,
			Status:    "online",
			CreatedAt: now,
		}
		if u.CreatedAt != nil {
			b.CreatedAt = *u.CreatedAt
		}
	}
	if u.DeviceID != nil {
		b.DeviceID = *u.DeviceID
	}
	if u.Name != nil {
		b.Name = *u.Name
	}
	if u.Lat != nil {
		b.Lat = *u.Lat
	}
	if u.Lng != nil {
		b.Lng = *u.Lng
	}
	if u.Note != nil {
		b.Note = *u.Note
	}
	if u.BatteryPercent != nil {
		b.BatteryPercent = *u.BatteryPercent
	}
	if u.PowerbankMah != nil {
		b.PowerbankMah = *u.PowerbankMah
	}
	if u.LoadW != nil {
		b.LoadW = *u.LoadW
	}
	if u.Status != nil {
		b.Status = *u.Status
	}
	b.LastSeen = now
	if u.LastSeen != nil {
		b.LastSeen = *u.LastSeen
	}
	return b
}
