package config

import (
	"fmt"
	"strings"
	"time"
)

// Supported PARKING_STORE values.
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// ParkingConfig holds the facility settings.  Zero durations mean "use the
// built-in policy default".
type ParkingConfig struct {
	TotalSpots    int            // PARKING_TOTAL_SPOTS, size of the spot pool
	SweepInterval time.Duration  // PARKING_SWEEP_INTERVAL, auto-cancel cadence
	GracePeriod   time.Duration  // PARKING_GRACE_PERIOD
	Store         string         // PARKING_STORE, memory or mysql
	Location      *time.Location // PARKING_TIMEZONE, facility wall clock
	EventsQueue   string         // PARKING_EVENTS_QUEUE, broker queue for lifecycle events
	NotifyLogDir  string         // PARKING_NOTIFY_LOG_DIR, where the consumer writes
}

// LoadParkingConfig reads the PARKING_* variables.  Unlike Load it returns
// an error so that callers and tests can react to bad values.
func LoadParkingConfig() (ParkingConfig, error) {
	c := ParkingConfig{
		TotalSpots:    envInt("PARKING_TOTAL_SPOTS", 100),
		SweepInterval: envDur("PARKING_SWEEP_INTERVAL", time.Minute),
		GracePeriod:   envDur("PARKING_GRACE_PERIOD", 15*time.Minute),
		Store:         strings.ToLower(envStr("PARKING_STORE", StoreMemory)),
		EventsQueue:   envStr("PARKING_EVENTS_QUEUE", "parking.events"),
		NotifyLogDir:  envStr("PARKING_NOTIFY_LOG_DIR", "logs"),
	}
	if c.TotalSpots < 1 {
		return c, fmt.Errorf("PARKING_TOTAL_SPOTS must be positive, got %d", c.TotalSpots)
	}
	if c.SweepInterval <= 0 {
		return c, fmt.Errorf("PARKING_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.GracePeriod < 0 {
		return c, fmt.Errorf("PARKING_GRACE_PERIOD must not be negative, got %s", c.GracePeriod)
	}
	switch c.Store {
	case StoreMemory, StoreMySQL:
	default:
		return c, fmt.Errorf("PARKING_STORE must be %q or %q, got %q", StoreMemory, StoreMySQL, c.Store)
	}
	loc, err := time.LoadLocation(envStr("PARKING_TIMEZONE", "Local"))
	if err != nil {
		return c, fmt.Errorf("PARKING_TIMEZONE: %w", err)
	}
	c.Location = loc
	return c, nil
}
