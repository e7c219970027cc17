package profile

import (
	"fmt"
	"regexp"
)

// Family identifies the wire protocol a printer model speaks.
type Family int

const (
	// FamilyEscpos covers the M-series: plain ESC/POS raster with
	// init/align/density commands and a feed trailer.
	FamilyEscpos Family = iota

	// FamilyRotated covers the D-series: the head feeds perpendicular to
	// the label, pixel data is pre-rotated and several firmwares require
	// init+header in the same write as the raster data.
	FamilyRotated

	// FamilyTspl covers tape and shipping printers speaking TSPL.
	FamilyTspl
)

func (f Family) String() string {
	switch f {
	case FamilyRotated:
		return "rotated"
	case FamilyTspl:
		return "tspl"
	default:
		return "escpos"
	}
}

// Alignment controls horizontal placement of a narrower bitmap inside the
// printable width.
type Alignment int

const (
	AlignCenter Alignment = iota
	AlignLeft
)

// Profile is the resolved, immutable description of one printer model.
// Models differ by configuration, not behavior: the command builder
// dispatches on Family, everything else is data.
type Profile struct {
	Model               string
	WidthBytes          uint16 // printable width in bytes (8 dots per byte)
	DPI                 uint16
	Rotated             bool
	Family              Family
	Alignment           Alignment
	TapeWidthMm         uint16 // 0 for non-tape models
	CombinedHeaderWrite bool   // rotated family: send init+header with pixel data
}

// WidthDots returns the printable width in dots.
func (p Profile) WidthDots() int {
	return int(p.WidthBytes) * 8
}

// LabelHeightPreset returns the default label height in dots for tape
// models (derived from the tape width) and 0 for everything else. The
// preset only changes defaults handed to the caller; encoding is
// unaffected.
func (p Profile) LabelHeightPreset() int {
	if p.TapeWidthMm == 0 {
		return 0
	}
	// mm → dots at the profile's DPI
	return int(float64(p.TapeWidthMm) * float64(p.DPI) / 25.4)
}

// AmbiguousDeviceError reports a device name no pattern recognized. It is
// not fatal: the caller is expected to ask the user to pick a model and
// persist the choice as a device mapping.
type AmbiguousDeviceError struct {
	DeviceName string
}

func (e *AmbiguousDeviceError) Error() string {
	return fmt.Sprintf("unrecognized printer device %q: explicit model selection required", e.DeviceName)
}

// MappingStore is the persisted device-name → model association,
// consulted between the explicit override and pattern auto-match steps.
type MappingStore interface {
	// Lookup returns the stored model for a device name, ok=false when
	// no mapping exists.
	Lookup(deviceName string) (model string, tapeWidthMm int, ok bool, err error)

	// Save stores (or replaces) the mapping for a device name.
	Save(deviceName, model string, tapeWidthMm int) error
}

type modelEntry struct {
	profile Profile
	pattern *regexp.Regexp
}

// Known model table. Patterns are matched case-insensitively against the
// advertised device name; device names usually carry a suffix like
// "M260_AABB" or "D30-1234".
var models = []modelEntry{
	{
		profile: Profile{Model: "M110", WidthBytes: 48, DPI: 203, Family: FamilyEscpos, Alignment: AlignCenter},
		pattern: regexp.MustCompile(`(?i)^M110`),
	},
	{
		profile: Profile{Model: "M120", WidthBytes: 48, DPI: 203, Family: FamilyEscpos, Alignment: AlignCenter},
		pattern: regexp.MustCompile(`(?i)^M120`),
	},
	{
		profile: Profile{Model: "M200", WidthBytes: 72, DPI: 203, Family: FamilyEscpos, Alignment: AlignCenter},
		pattern: regexp.MustCompile(`(?i)^M200`),
	},
	{
		profile: Profile{Model: "M220", WidthBytes: 72, DPI: 203, Family: FamilyEscpos, Alignment: AlignCenter},
		pattern: regexp.MustCompile(`(?i)^M220`),
	},
	{
		profile: Profile{Model: "M260", WidthBytes: 72, DPI: 203, Family: FamilyEscpos, Alignment: AlignCenter},
		pattern: regexp.MustCompile(`(?i)^M260`),
	},
	{
		// D-series feeds sideways; firmware auto-centers, raw full-bleed rows.
		profile: Profile{Model: "D30", WidthBytes: 12, DPI: 203, Rotated: true, Family: FamilyRotated, Alignment: AlignLeft, CombinedHeaderWrite: true},
		pattern: regexp.MustCompile(`(?i)^D30`),
	},
	{
		profile: Profile{Model: "D11", WidthBytes: 12, DPI: 203, Rotated: true, Family: FamilyRotated, Alignment: AlignLeft, CombinedHeaderWrite: true},
		pattern: regexp.MustCompile(`(?i)^D11\b`),
	},
	{
		profile: Profile{Model: "D110", WidthBytes: 12, DPI: 203, Rotated: true, Family: FamilyRotated, Alignment: AlignLeft, CombinedHeaderWrite: true},
		pattern: regexp.MustCompile(`(?i)^D110`),
	},
	{
		// Tape models: TSPL, threshold dithering enforced by the orchestrator.
		profile: Profile{Model: "P12", WidthBytes: 12, DPI: 203, Family: FamilyTspl, Alignment: AlignLeft, TapeWidthMm: 12},
		pattern: regexp.MustCompile(`(?i)^P12`),
	},
	{
		profile: Profile{Model: "P15", WidthBytes: 16, DPI: 203, Family: FamilyTspl, Alignment: AlignLeft, TapeWidthMm: 15},
		pattern: regexp.MustCompile(`(?i)^P15`),
	},
	{
		// Shipping label printers, 4x6 class.
		profile: Profile{Model: "PM241", WidthBytes: 104, DPI: 203, Family: FamilyTspl, Alignment: AlignCenter},
		pattern: regexp.MustCompile(`(?i)^PM[-_]?241`),
	},
	{
		profile: Profile{Model: "D520", WidthBytes: 104, DPI: 203, Family: FamilyTspl, Alignment: AlignCenter},
		pattern: regexp.MustCompile(`(?i)^D520`),
	},
}

// ByModel returns the profile for an exact model name (case-sensitive,
// model names are canonical upper-case).
func ByModel(model string) (Profile, bool) {
	for _, e := range models {
		if e.profile.Model == model {
			return e.profile, true
		}
	}
	return Profile{}, false
}

// KnownModels lists the canonical model names, for disambiguation UIs.
func KnownModels() []string {
	names := make([]string, 0, len(models))
	for _, e := range models {
		names = append(names, e.profile.Model)
	}
	return names
}

// MatchesKnownDevice reports whether a device name matches any known
// model pattern. The BLE scanner uses this as its default filter.
func MatchesKnownDevice(deviceName string) bool {
	for _, e := range models {
		if e.pattern.MatchString(deviceName) {
			return true
		}
	}
	return false
}

// Resolve turns a device name plus optional explicit model override into
// a concrete profile.
//
// Resolution order: explicit override > persisted device mapping >
// pattern auto-match > AmbiguousDeviceError. tapeWidthMm (12 or 15, 0 =
// keep default) adjusts tape-family profiles only.
func Resolve(deviceName, explicitModel string, tapeWidthMm int, store MappingStore) (Profile, error) {
	if explicitModel != "" {
		p, ok := ByModel(explicitModel)
		if !ok {
			return Profile{}, fmt.Errorf("unknown printer model %q", explicitModel)
		}
		return applyTapeWidth(p, tapeWidthMm)
	}

	if store != nil && deviceName != "" {
		model, mappedWidth, ok, err := store.Lookup(deviceName)
		if err != nil {
			return Profile{}, fmt.Errorf("device mapping lookup failed: %w", err)
		}
		if ok {
			p, found := ByModel(model)
			if !found {
				// マッピングが古いモデル名を指している場合はオートマッチへフォールバック
				return autoMatch(deviceName, tapeWidthMm)
			}
			if tapeWidthMm == 0 {
				tapeWidthMm = mappedWidth
			}
			return applyTapeWidth(p, tapeWidthMm)
		}
	}

	return autoMatch(deviceName, tapeWidthMm)
}

func autoMatch(deviceName string, tapeWidthMm int) (Profile, error) {
	for _, e := range models {
		if e.pattern.MatchString(deviceName) {
			return applyTapeWidth(e.profile, tapeWidthMm)
		}
	}
	return Profile{}, &AmbiguousDeviceError{DeviceName: deviceName}
}

func applyTapeWidth(p Profile, tapeWidthMm int) (Profile, error) {
	if p.TapeWidthMm == 0 || tapeWidthMm == 0 {
		return p, nil
	}
	switch tapeWidthMm {
	case 12:
		p.TapeWidthMm = 12
		p.WidthBytes = 12
	case 15:
		p.TapeWidthMm = 15
		p.WidthBytes = 16
	default:
		return Profile{}, fmt.Errorf("unsupported tape width %dmm (supported: 12, 15)", tapeWidthMm)
	}
	return p, nil
}
