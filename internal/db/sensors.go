package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sensor is a registered wireless vibration sensor.
type Sensor struct {
	Serial          string  `json:"serial"`
	Name            string  `json:"name"`
	ExpectedSamples int     `json:"expected_samples"`
	SampleRateHz    float64 `json:"sample_rate_hz"`
	Enabled         bool    `json:"enabled"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
}

const sensorColumns = `serial, name, expected_samples, sample_rate_hz, enabled, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSensor(row scanner) (Sensor, error) {
	var s Sensor
	var enabled int
	if err := row.Scan(&s.Serial, &s.Name, &s.ExpectedSamples, &s.SampleRateHz, &enabled, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Sensor{}, err
	}
	s.Enabled = enabled == 1
	return s, nil
}

// ListSensors returns every registered sensor ordered by serial.
func (db *DB) ListSensors() ([]Sensor, error) {
	rows, err := db.Query(`SELECT ` + sensorColumns + ` FROM sensors ORDER BY serial ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	sensors := []Sensor{}
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, s)
	}
	return sensors, rows.Err()
}

// GetSensor returns the sensor with serial, or nil if it is not registered.
func (db *DB) GetSensor(serial string) (*Sensor, error) {
	s, err := scanSensor(db.QueryRow(`SELECT `+sensorColumns+` FROM sensors WHERE serial = ?`, serial))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor: %w", err)
	}
	return &s, nil
}

// UpsertSensor registers s or updates the existing row with the same serial.
// CreatedAt is kept from the first registration.
func (db *DB) UpsertSensor(s *Sensor) error {
	s.Serial = strings.TrimSpace(s.Serial)
	if s.Serial == "" {
		return fmt.Errorf("sensor serial is required")
	}
	if s.ExpectedSamples < 0 {
		return fmt.Errorf("expected_samples must be non-negative, got %d", s.ExpectedSamples)
	}
	if s.SampleRateHz < 0 {
		return fmt.Errorf("sample_rate_hz must be non-negative, got %g", s.SampleRateHz)
	}

	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO sensors (serial, name, expected_samples, sample_rate_hz, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			name = excluded.name,
			expected_samples = excluded.expected_samples,
			sample_rate_hz = excluded.sample_rate_hz,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		s.Serial, s.Name, s.ExpectedSamples, s.SampleRateHz, boolToInt(s.Enabled), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert sensor: %w", err)
	}

	stored, err := db.GetSensor(s.Serial)
	if err != nil {
		return err
	}
	if stored != nil {
		*s = *stored
	}
	return nil
}

// DeleteSensor removes a sensor. Its attempts stay in the journal.
func (db *DB) DeleteSensor(serial string) error {
	result, err := db.Exec(`DELETE FROM sensors WHERE serial = ?`, serial)
	if err != nil {
		return fmt.Errorf("failed to delete sensor: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sensor %s: %w", serial, ErrNotFound)
	}
	return nil
}
