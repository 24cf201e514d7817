package model

// Spot is one physical parking space. Spots are numbered 1..N and are
// never created or removed after the pool has been initialised.
type Spot struct {
	ID       int  // parking_spots.id
	Occupied bool // parking_spots.is_occupied
}
