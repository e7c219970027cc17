package localdb

import (
	"database/sql"
	"fmt"

	"github.com/nantokaworks/labelprint/internal/shared/logger"
	"go.uber.org/zap"
)

// DeviceMappings persists device-name → model associations. It
// implements profile.MappingStore.
type DeviceMappings struct {
	db *sql.DB
}

func NewDeviceMappings(db *sql.DB) *DeviceMappings {
	return &DeviceMappings{db: db}
}

// Lookup returns the stored model for a device name.
func (m *DeviceMappings) Lookup(deviceName string) (string, int, bool, error) {
	var model string
	var tapeWidth int
	err := m.db.QueryRow(
		`SELECT model, tape_width_mm FROM device_mappings WHERE device_name = ?`,
		deviceName,
	).Scan(&model, &tapeWidth)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to look up device mapping: %w", err)
	}
	return model, tapeWidth, true, nil
}

// Save stores the mapping chosen by the user for an unrecognized device.
func (m *DeviceMappings) Save(deviceName, model string, tapeWidthMm int) error {
	_, err := m.db.Exec(
		`INSERT OR REPLACE INTO device_mappings (device_name, model, tape_width_mm, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)`,
		deviceName, model, tapeWidthMm,
	)
	if err != nil {
		logger.Error("Failed to save device mapping",
			zap.String("device", deviceName), zap.String("model", model), zap.Error(err))
		return fmt.Errorf("failed to save device mapping: %w", err)
	}
	logger.Info("Device mapping saved",
		zap.String("device", deviceName), zap.String("model", model))
	return nil
}

// Mapping is one persisted device-name → model row.
type Mapping struct {
	DeviceName  string `json:"device_name"`
	Model       string `json:"model"`
	TapeWidthMm int    `json:"tape_width_mm"`
}

// List returns all stored mappings, for the settings UI.
func (m *DeviceMappings) List() ([]Mapping, error) {
	rows, err := m.db.Query(`SELECT device_name, model, tape_width_mm FROM device_mappings ORDER BY device_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list device mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var e Mapping
		if err := rows.Scan(&e.DeviceName, &e.Model, &e.TapeWidthMm); err != nil {
			return nil, fmt.Errorf("failed to scan device mapping row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a mapping (用: モデル選択のやり直し).
func (m *DeviceMappings) Delete(deviceName string) error {
	_, err := m.db.Exec(`DELETE FROM device_mappings WHERE device_name = ?`, deviceName)
	if err != nil {
		return fmt.Errorf("failed to delete device mapping: %w", err)
	}
	return nil
}
