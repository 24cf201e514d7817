package model

import "time"

// Role identifies what a user may do at the facility. The values match
// the users.role column.
type Role string

const (
	RoleSubscriber Role = "sub" // regular subscriber: reserves, enters, exits
	RoleAttendant  Role = "emp" // attendant: registers subscribers, assisted extensions
	RoleManager    Role = "mng" // manager: everything an attendant can do plus reports
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSubscriber, RoleAttendant, RoleManager:
		return true
	}
	return false
}

// Staff reports whether r may act on behalf of other users.
func (r Role) Staff() bool { return r == RoleAttendant || r == RoleManager }

// User represents a subscriber or staff member as stored in the `users`
// table.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Username     – unique login / subscriber code.
//  Name         – display name.
//  Email        – contact address used for notifications.
//  Phone        – contact number used for notifications.
//  CarNumber    – licence plate of the subscriber's vehicle.
//  PasswordHash – bcrypt hashed password.
//  Role         – sub, emp or mng.
//  CreatedAt    – timestamp of creation.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username
	Name         string    // users.name
	Email        string    // users.email
	Phone        string    // users.phone
	CarNumber    string    // users.car_number
	PasswordHash string    // users.password_hash
	Role         Role      // users.role
	CreatedAt    time.Time // users.created_at
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the token is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
}
