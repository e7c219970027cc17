package profile

import (
	"errors"
	"testing"
)

type fakeStore struct {
	mappings map[string]string
	widths   map[string]int
	saved    map[string]string
	err      error
}

func (f *fakeStore) Lookup(deviceName string) (string, int, bool, error) {
	if f.err != nil {
		return "", 0, false, f.err
	}
	m, ok := f.mappings[deviceName]
	return m, f.widths[deviceName], ok, nil
}

func (f *fakeStore) Save(deviceName, model string, tapeWidthMm int) error {
	if f.saved == nil {
		f.saved = map[string]string{}
	}
	f.saved[deviceName] = model
	return nil
}

func TestResolveAutoMatch(t *testing.T) {
	tests := []struct {
		name       string
		deviceName string
		wantModel  string
		wantBytes  uint16
		wantRot    bool
		wantFamily Family
	}{
		{name: "M260 with suffix", deviceName: "M260_AABB", wantModel: "M260", wantBytes: 72, wantRot: false, wantFamily: FamilyEscpos},
		{name: "M110 lower case", deviceName: "m110-1234", wantModel: "M110", wantBytes: 48, wantFamily: FamilyEscpos},
		{name: "D30 with suffix", deviceName: "D30-1234", wantModel: "D30", wantRot: true, wantBytes: 12, wantFamily: FamilyRotated},
		{name: "shipping PM241", deviceName: "PM-241-BT", wantModel: "PM241", wantBytes: 104, wantFamily: FamilyTspl},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p, err := Resolve(tc.deviceName, "", 0, nil)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tc.deviceName, err)
			}
			if p.Model != tc.wantModel || p.WidthBytes != tc.wantBytes || p.Rotated != tc.wantRot || p.Family != tc.wantFamily {
				t.Fatalf("Resolve(%q) = %+v", tc.deviceName, p)
			}
		})
	}
}

func TestResolveAmbiguousDevice(t *testing.T) {
	_, err := Resolve("XYZPrinter", "", 0, nil)
	var ambErr *AmbiguousDeviceError
	if !errors.As(err, &ambErr) {
		t.Fatalf("Resolve(XYZPrinter) error = %v, want AmbiguousDeviceError", err)
	}
	if ambErr.DeviceName != "XYZPrinter" {
		t.Fatalf("AmbiguousDeviceError carries %q, want XYZPrinter", ambErr.DeviceName)
	}
}

func TestResolveExplicitOverridesEverything(t *testing.T) {
	store := &fakeStore{mappings: map[string]string{"M260_AABB": "D30"}}

	// Explicit model wins over both the mapping and the name pattern.
	p, err := Resolve("M260_AABB", "M110", 0, store)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if p.Model != "M110" {
		t.Fatalf("explicit override ignored, got %s", p.Model)
	}
}

func TestResolveMappingBeatsAutoMatch(t *testing.T) {
	store := &fakeStore{mappings: map[string]string{"M260_AABB": "D30"}}

	p, err := Resolve("M260_AABB", "", 0, store)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if p.Model != "D30" {
		t.Fatalf("persisted mapping ignored, got %s", p.Model)
	}
}

func TestResolveStaleMappingFallsBack(t *testing.T) {
	store := &fakeStore{mappings: map[string]string{"M260_AABB": "GONE900"}}

	p, err := Resolve("M260_AABB", "", 0, store)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if p.Model != "M260" {
		t.Fatalf("stale mapping should fall back to auto match, got %s", p.Model)
	}
}

func TestResolveUnknownExplicitModel(t *testing.T) {
	_, err := Resolve("whatever", "NOPE123", 0, nil)
	if err == nil {
		t.Fatal("expected error for unknown explicit model")
	}
}

func TestTapeWidthPresets(t *testing.T) {
	tests := []struct {
		name      string
		width     int
		wantBytes uint16
		wantErr   bool
	}{
		{name: "12mm", width: 12, wantBytes: 12},
		{name: "15mm", width: 15, wantBytes: 16},
		{name: "default keeps profile", width: 0, wantBytes: 12},
		{name: "unsupported width", width: 24, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p, err := Resolve("P12_XY", "", tc.width, nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if p.WidthBytes != tc.wantBytes {
				t.Fatalf("WidthBytes = %d, want %d", p.WidthBytes, tc.wantBytes)
			}
			if p.LabelHeightPreset() == 0 {
				t.Fatal("tape profile should expose a label height preset")
			}
		})
	}
}

func TestTapeWidthDoesNotAffectNonTapeModels(t *testing.T) {
	p, err := Resolve("M260_AABB", "", 15, nil)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if p.WidthBytes != 72 || p.TapeWidthMm != 0 {
		t.Fatalf("tape width leaked into non-tape profile: %+v", p)
	}
	if p.LabelHeightPreset() != 0 {
		t.Fatal("non-tape profile should not expose a height preset")
	}
}

func TestMatchesKnownDevice(t *testing.T) {
	if !MatchesKnownDevice("M220_01") {
		t.Fatal("M220_01 should match")
	}
	if MatchesKnownDevice("JBL Speaker") {
		t.Fatal("JBL Speaker should not match")
	}
}

func TestWidthDots(t *testing.T) {
	p, _ := ByModel("M260")
	if p.WidthDots() != 576 {
		t.Fatalf("M260 WidthDots = %d, want 576", p.WidthDots())
	}
}
