package model

import "time"

// ParkingSession records one physical stay from entry to exit.
//
// Fields:
//  Code            – 6-digit parking code handed to the driver.
//  SpotID          – spot the vehicle occupies.
//  UserID          – subscriber who parked.
//  Date            – calendar day of entry.
//  StartedAt       – actual entry time.
//  EstimatedEnd    – expected exit time; advanced by extensions.
//  EndedAt         – actual exit time, nil while the session is open.
//  Ordered         – session originated from a reservation.
//  ReservationCode – reservation that was activated, when Ordered.
//  Late            – exit happened after EstimatedEnd.
//  Extended        – EstimatedEnd was moved at least once.
type ParkingSession struct {
	Code            int        // parking_sessions.code
	SpotID          int        // parking_sessions.spot_id
	UserID          uint64     // parking_sessions.user_id
	Date            time.Time  // parking_sessions.entry_date
	StartedAt       time.Time  // parking_sessions.started_at
	EstimatedEnd    time.Time  // parking_sessions.estimated_end
	EndedAt         *time.Time // parking_sessions.ended_at (nullable)
	Ordered         bool       // parking_sessions.is_ordered
	ReservationCode *int64     // parking_sessions.reservation_code (nullable)
	Late            bool       // parking_sessions.is_late
	Extended        bool       // parking_sessions.is_extended
}

// Open reports whether the vehicle is still parked.
func (s ParkingSession) Open() bool { return s.EndedAt == nil }
