package normalize

import (
	"encoding/json"
	"testing"
	"time"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return v
}

func TestBatteryPercent(t *testing.T) {
	cases := []struct {
		name string
		raw  float64
		want int
	}{
		{"fraction scales to percent", 0.73, 73},
		{"one is a full fraction", 1, 100},
		{"percent passes through", 87, 87},
		{"negative clamps to zero", -5, 0},
		{"overflow clamps to ceiling", 500, 150},
		{"noisy sensor above 100 kept", 120, 120},
		{"zero stays zero", 0, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := BatteryPercent(c.raw); got != c.want {
				t.Errorf("BatteryPercent(%v) = %d, want %d", c.raw, got, c.want)
			}
		})
	}
}

func TestPositionsNestedLocationQueryString(t *testing.T) {
	payload := decode(t, `{"device_id":"dev-1","location":{"_":"lat=13.5&lon=100.2&batt=45"}}`)
	got := Positions(payload)
	if len(got) != 1 {
		t.Fatalf("got %d positions, want 1", len(got))
	}
	p := got[0]
	if p.Lat != 13.5 || p.Lon != 100.2 {
		t.Errorf("coords = (%v,%v), want (13.5,100.2)", p.Lat, p.Lon)
	}
	if p.Batt != 45 {
		t.Errorf("batt = %d, want 45", p.Batt)
	}
	if p.DeviceID != "dev-1" {
		t.Errorf("deviceId = %q, want dev-1", p.DeviceID)
	}
}

func TestPositionsLocationFallbacks(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		lat, lon float64
		batt     int
	}{
		{
			"direct properties when _ is absent",
			`{"location":{"lat":1.5,"lon":2.5,"battery":0.5}}`,
			1.5, 2.5, 50,
		},
		{
			"battery object with level",
			`{"location":{"latitude":3,"longitude":4,"battery":{"level":0.9}}}`,
			3, 4, 90,
		},
		{
			"battery object with value",
			`{"location":{"lat":3,"lng":4,"battery":{"value":77}}}`,
			3, 4, 77,
		},
		{
			"query string wins over direct properties",
			`{"location":{"_":"lat=10&lon=20&batt=30","lat":1,"lon":2,"battery":99}}`,
			10, 20, 30,
		},
		{
			"broken query string falls back to properties",
			`{"location":{"_":"lat=abc","lat":7,"lon":8,"battery":60}}`,
			7, 8, 60,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Positions(decode(t, c.raw))
			if len(got) != 1 {
				t.Fatalf("got %d positions, want 1", len(got))
			}
			p := got[0]
			if p.Lat != c.lat || p.Lon != c.lon || p.Batt != c.batt {
				t.Errorf("got (%v,%v,batt=%d), want (%v,%v,batt=%d)", p.Lat, p.Lon, p.Batt, c.lat, c.lon, c.batt)
			}
		})
	}
}

func TestPositionsDropInvalid(t *testing.T) {
	payload := decode(t, `[
		{"device_id":"a","lat":1,"lon":2},
		{"device_id":"b","name":"no coords"},
		{"device_id":"c","latitude":3,"longitude":4}
	]`)
	got := Positions(payload)
	if len(got) != 2 {
		t.Fatalf("got %d positions, want 2 (invalid item dropped, not an error)", len(got))
	}
	if got[0].DeviceID != "a" || got[1].DeviceID != "c" {
		t.Errorf("kept %q and %q, want a and c", got[0].DeviceID, got[1].DeviceID)
	}
}

func TestPositionsWrapperAndIdentity(t *testing.T) {
	payload := decode(t, `{"positions":[
		{"lat":1,"lon":2,"device":{"id":99,"name":"Unit 99"}},
		{"lat":1,"lon":2,"deviceName":"tracker-7"},
		{"lat":1,"lon":2}
	]}`)
	got := Positions(payload)
	if len(got) != 3 {
		t.Fatalf("got %d positions, want 3", len(got))
	}
	if got[0].DeviceID != "99" || got[0].Name != "Unit 99" {
		t.Errorf("device object identity = (%q,%q), want (99,Unit 99)", got[0].DeviceID, got[0].Name)
	}
	if got[1].DeviceID != "tracker-7" || got[1].Name != "tracker-7" {
		t.Errorf("deviceName identity = (%q,%q), want tracker-7 twice", got[1].DeviceID, got[1].Name)
	}
	if got[2].Name != "SOS BOX" {
		t.Errorf("anonymous name = %q, want SOS BOX", got[2].Name)
	}
	if got[2].Status != "online" {
		t.Errorf("default status = %q, want online", got[2].Status)
	}
}

func TestPositionsTimestampCascade(t *testing.T) {
	before := time.Now().UnixMilli()

	got := Positions(decode(t, `{"lat":1,"lon":2,"fixTime":"2024-03-01T12:00:00Z"}`))
	if len(got) != 1 {
		t.Fatal("expected one position")
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	if got[0].LastSeen != want {
		t.Errorf("fixTime lastSeen = %d, want %d", got[0].LastSeen, want)
	}

	got = Positions(decode(t, `{"lat":1,"lon":2,"timestamp":1700000000000}`))
	if got[0].LastSeen != 1700000000000 {
		t.Errorf("numeric timestamp = %d, want 1700000000000", got[0].LastSeen)
	}

	got = Positions(decode(t, `{"lat":1,"lon":2,"time":"1700000000001"}`))
	if got[0].LastSeen != 1700000000001 {
		t.Errorf("numeric string timestamp = %d, want 1700000000001", got[0].LastSeen)
	}

	got = Positions(decode(t, `{"lat":1,"lon":2,"timestamp":"garbage"}`))
	if got[0].LastSeen < before {
		t.Errorf("unparseable timestamp should default to now, got %d", got[0].LastSeen)
	}
}

func TestPositionsFromFormStrings(t *testing.T) {
	// Form and query decoding hand every value over as a string.
	payload := map[string]any{
		"device_id": "dev-9",
		"lat":       "13.75",
		"lon":       "100.5",
		"batt":      "0.42",
	}
	got := Positions(payload)
	if len(got) != 1 {
		t.Fatalf("got %d positions, want 1", len(got))
	}
	if got[0].Lat != 13.75 || got[0].Lon != 100.5 || got[0].Batt != 42 {
		t.Errorf("got (%v,%v,batt=%d), want (13.75,100.5,42)", got[0].Lat, got[0].Lon, got[0].Batt)
	}
}

func TestBoxesShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"single object", `{"lat":1,"lng":2}`, 1},
		{"array", `[{"lat":1,"lng":2},{"lat":3,"lng":4}]`, 2},
		{"boxes wrapper", `{"boxes":[{"lat":1,"lng":2}]}`, 1},
		{"invalid filtered from batch", `[{"lat":1,"lng":2},{"name":"x"},{"lat":"oops","lng":2}]`, 1},
		{"scalar payload", `"nope"`, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Boxes(decode(t, c.raw)); len(got) != c.want {
				t.Errorf("got %d updates, want %d", len(got), c.want)
			}
		})
	}
}

func TestBoxesFieldsAndClamps(t *testing.T) {
	payload := decode(t, `{
		"id":"box-1","lat":13.1,"lon":100.9,"name":"North gate","note":"roof",
		"batteryPercent":999,"powerbankMah":2000000,"loadW":0.01
	}`)
	got := Boxes(payload)
	if len(got) != 1 {
		t.Fatal("expected one update")
	}
	u := got[0]
	if u.ID != "box-1" {
		t.Errorf("id = %q, want box-1", u.ID)
	}
	if *u.Lat != 13.1 || *u.Lng != 100.9 {
		t.Errorf("coords = (%v,%v), want (13.1,100.9)", *u.Lat, *u.Lng)
	}
	if *u.BatteryPercent != 150 {
		t.Errorf("battery = %d, want clamp to 150", *u.BatteryPercent)
	}
	if *u.PowerbankMah != 1_000_000 {
		t.Errorf("powerbank = %d, want clamp to 1000000", *u.PowerbankMah)
	}
	if *u.LoadW != 0.1 {
		t.Errorf("loadW = %v, want clamp to 0.1", *u.LoadW)
	}
	if u.Name == nil || *u.Name != "North gate" {
		t.Error("name not extracted")
	}
	if u.Note == nil || *u.Note != "roof" {
		t.Error("note not extracted")
	}
}

func TestBoxesPartialFieldsStayNil(t *testing.T) {
	got := Boxes(decode(t, `{"id":"A","lat":1,"lng":2}`))
	if len(got) != 1 {
		t.Fatal("expected one update")
	}
	u := got[0]
	if u.Name != nil || u.Note != nil || u.BatteryPercent != nil || u.PowerbankMah != nil || u.LoadW != nil {
		t.Error("fields absent from the payload must stay nil so merges preserve them")
	}
}

func TestBoxesGeneratedID(t *testing.T) {
	got := Boxes(decode(t, `{"lat":1,"lng":2}`))
	if len(got) != 1 || got[0].ID == "" {
		t.Fatal("missing id must be generated")
	}
	again := Boxes(decode(t, `{"lat":1,"lng":2}`))
	if got[0].ID == again[0].ID {
		t.Error("generated ids must be unique")
	}
}

func TestBoxesNumericID(t *testing.T) {
	got := Boxes(decode(t, `{"id":42,"lat":1,"lng":2}`))
	if len(got) != 1 || got[0].ID != "42" {
		t.Fatalf("numeric id should stringify, got %+v", got)
	}
}
