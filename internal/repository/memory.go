package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/parkb/internal/model"
)

// MemoryStore keeps the whole facility state in process memory. Each InTx
// call holds the store lock for its full duration and works on a copy of
// the state; the copy replaces the live state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	spots        map[int]model.Spot
	reservations map[int64]model.Reservation
	sessions     []model.ParkingSession
	users        map[uint64]model.User
	tokens       map[string]model.RefreshToken

	nextReservation int64
	nextUser        uint64
	nextToken       uint64
}

// NewMemoryStore returns an empty store. Call EnsureSpots inside a
// transaction to create the spot pool.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		spots:           map[int]model.Spot{},
		reservations:    map[int64]model.Reservation{},
		users:           map[uint64]model.User{},
		tokens:          map[string]model.RefreshToken{},
		nextReservation: 1,
		nextUser:        1,
		nextToken:       1,
	}}
}

// InTx runs fn against a private copy of the state and publishes the copy
// when fn returns nil.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *memState) clone() *memState {
	c := *st
	c.spots = make(map[int]model.Spot, len(st.spots))
	for k, v := range st.spots {
		c.spots[k] = v
	}
	c.reservations = make(map[int64]model.Reservation, len(st.reservations))
	for k, v := range st.reservations {
		c.reservations[k] = v
	}
	c.sessions = append([]model.ParkingSession(nil), st.sessions...)
	c.users = make(map[uint64]model.User, len(st.users))
	for k, v := range st.users {
		c.users[k] = v
	}
	c.tokens = make(map[string]model.RefreshToken, len(st.tokens))
	for k, v := range st.tokens {
		c.tokens[k] = v
	}
	return &c
}

// memTx implements Tx over a memState. Pointer fields stored in records
// are copied on write so that a discarded transaction cannot leak into the
// live state through shared pointers.
type memTx struct{ st *memState }

// ---- spots ----

func (t *memTx) EnsureSpots(_ context.Context, n int) error {
	for id := 1; id <= n; id++ {
		if _, ok := t.st.spots[id]; !ok {
			t.st.spots[id] = model.Spot{ID: id}
		}
	}
	return nil
}

func (t *memTx) ListSpots(_ context.Context) ([]model.Spot, error) {
	out := make([]model.Spot, 0, len(t.st.spots))
	for _, sp := range t.st.spots {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) SpotByID(_ context.Context, id int) (model.Spot, error) {
	sp, ok := t.st.spots[id]
	if !ok {
		return model.Spot{}, ErrNotFound
	}
	return sp, nil
}

func (t *memTx) SetSpotOccupied(_ context.Context, id int, occupied bool) error {
	sp, ok := t.st.spots[id]
	if !ok {
		return ErrNotFound
	}
	sp.Occupied = occupied
	t.st.spots[id] = sp
	return nil
}

// ---- reservations ----

func (t *memTx) CreateReservation(_ context.Context, r *model.Reservation) error {
	if r.Code == 0 {
		for {
			r.Code = t.st.nextReservation
			t.st.nextReservation++
			if _, taken := t.st.reservations[r.Code]; !taken {
				break
			}
		}
	} else if _, taken := t.st.reservations[r.Code]; taken {
		return ErrDuplicate
	}
	t.st.reservations[r.Code] = copyReservation(*r)
	return nil
}

func (t *memTx) ReservationByCode(_ context.Context, code int64) (model.Reservation, error) {
	r, ok := t.st.reservations[code]
	if !ok {
		return model.Reservation{}, ErrNotFound
	}
	return copyReservation(r), nil
}

func (t *memTx) HoldingReservations(_ context.Context, from, to time.Time) ([]model.Reservation, error) {
	from, to = model.Midnight(from), model.Midnight(to)
	var out []model.Reservation
	for _, r := range t.st.reservations {
		d := model.Midnight(r.Date)
		if !r.Status.Holding() || d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, copyReservation(r))
	}
	sortReservations(out)
	return out, nil
}

func (t *memTx) UpdateReservationStatus(_ context.Context, code int64, from []model.ReservationStatus, to model.ReservationStatus) (bool, error) {
	r, ok := t.st.reservations[code]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = to
			t.st.reservations[code] = r
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) AssignReservationSpot(_ context.Context, code int64, spotID int) error {
	r, ok := t.st.reservations[code]
	if !ok {
		return ErrNotFound
	}
	id := spotID
	r.SpotID = &id
	t.st.reservations[code] = r
	return nil
}

func (t *memTx) OverduePreorders(_ context.Context, day, cutoff time.Time) ([]model.Reservation, error) {
	day = model.Midnight(day)
	var out []model.Reservation
	for _, r := range t.st.reservations {
		if r.Status != model.StatusPreorder || r.SpotID == nil {
			continue
		}
		if !model.Midnight(r.Date).Equal(day) || r.StartAt().After(cutoff) {
			continue
		}
		out = append(out, copyReservation(r))
	}
	sortReservations(out)
	return out, nil
}

func (t *memTx) ReservationsByUser(_ context.Context, userID uint64) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range t.st.reservations {
		if r.UserID == userID {
			out = append(out, copyReservation(r))
		}
	}
	sortReservations(out)
	return out, nil
}

func copyReservation(r model.Reservation) model.Reservation {
	if r.SpotID != nil {
		id := *r.SpotID
		r.SpotID = &id
	}
	return r
}

func sortReservations(rs []model.Reservation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Code < rs[j].Code })
}

// ---- sessions ----

func (t *memTx) CreateSession(_ context.Context, s *model.ParkingSession) error {
	for _, cur := range t.st.sessions {
		if cur.Open() && (cur.Code == s.Code || cur.SpotID == s.SpotID) {
			return ErrDuplicate
		}
	}
	t.st.sessions = append(t.st.sessions, copySession(*s))
	return nil
}

func (t *memTx) openSession(match func(model.ParkingSession) bool) (model.ParkingSession, error) {
	for _, s := range t.st.sessions {
		if s.Open() && match(s) {
			return copySession(s), nil
		}
	}
	return model.ParkingSession{}, ErrNotFound
}

func (t *memTx) OpenSessionByCode(_ context.Context, code int) (model.ParkingSession, error) {
	return t.openSession(func(s model.ParkingSession) bool { return s.Code == code })
}

func (t *memTx) OpenSessionBySpot(_ context.Context, spotID int) (model.ParkingSession, error) {
	return t.openSession(func(s model.ParkingSession) bool { return s.SpotID == spotID })
}

func (t *memTx) OpenSessionByReservation(_ context.Context, reservationCode int64) (model.ParkingSession, error) {
	return t.openSession(func(s model.ParkingSession) bool {
		return s.ReservationCode != nil && *s.ReservationCode == reservationCode
	})
}

func (t *memTx) OpenSessionByUser(_ context.Context, userID uint64) (model.ParkingSession, error) {
	return t.openSession(func(s model.ParkingSession) bool { return s.UserID == userID })
}

func (t *memTx) CloseSession(_ context.Context, code int, endedAt time.Time, late bool) error {
	for i, s := range t.st.sessions {
		if s.Open() && s.Code == code {
			e := endedAt
			s.EndedAt = &e
			s.Late = late
			t.st.sessions[i] = s
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) ExtendSession(_ context.Context, code int, estimatedEnd time.Time) error {
	for i, s := range t.st.sessions {
		if s.Open() && s.Code == code {
			s.EstimatedEnd = estimatedEnd
			s.Extended = true
			t.st.sessions[i] = s
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) ListOpenSessions(_ context.Context) ([]model.ParkingSession, error) {
	var out []model.ParkingSession
	for _, s := range t.st.sessions {
		if s.Open() {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpotID < out[j].SpotID })
	return out, nil
}

// SessionsByUser returns the user's sessions, newest entry first. A limit
// of zero or less means no limit.
func (t *memTx) SessionsByUser(_ context.Context, userID uint64, limit int) ([]model.ParkingSession, error) {
	var out []model.ParkingSession
	for i := len(t.st.sessions) - 1; i >= 0; i-- {
		s := t.st.sessions[i]
		if s.UserID != userID {
			continue
		}
		out = append(out, copySession(s))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func copySession(s model.ParkingSession) model.ParkingSession {
	if s.EndedAt != nil {
		e := *s.EndedAt
		s.EndedAt = &e
	}
	if s.ReservationCode != nil {
		c := *s.ReservationCode
		s.ReservationCode = &c
	}
	return s
}

// ---- users ----

func (t *memTx) CreateUser(_ context.Context, u *model.User) error {
	for _, cur := range t.st.users {
		if cur.Username == u.Username {
			return ErrDuplicate
		}
	}
	u.ID = t.st.nextUser
	t.st.nextUser++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	t.st.users[u.ID] = *u
	return nil
}

func (t *memTx) UserByID(_ context.Context, id uint64) (model.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (t *memTx) UserByUsername(_ context.Context, username string) (model.User, error) {
	for _, u := range t.st.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, ErrNotFound
}

func (t *memTx) UpdateContact(_ context.Context, id uint64, phone, email string) error {
	u, ok := t.st.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Phone = strings.TrimSpace(phone)
	u.Email = strings.ToLower(strings.TrimSpace(email))
	t.st.users[id] = u
	return nil
}

// ---- refresh tokens ----

func (t *memTx) StoreRefresh(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	if _, taken := t.st.tokens[tokenHash]; taken {
		return ErrDuplicate
	}
	t.st.tokens[tokenHash] = model.RefreshToken{
		ID:        t.st.nextToken,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: exp,
	}
	t.st.nextToken++
	return nil
}

func (t *memTx) ValidateRefresh(_ context.Context, tokenHash string, now time.Time) (uint64, error) {
	tok, ok := t.st.tokens[tokenHash]
	if !ok || tok.RevokedAt != nil || now.After(tok.ExpiresAt) {
		return 0, ErrNotFound
	}
	return tok.UserID, nil
}

func (t *memTx) RevokeByHash(_ context.Context, tokenHash string) error {
	tok, ok := t.st.tokens[tokenHash]
	if !ok || tok.RevokedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	tok.RevokedAt = &now
	t.st.tokens[tokenHash] = tok
	return nil
}

func (t *memTx) RevokeAllForUser(_ context.Context, userID uint64) error {
	now := time.Now().UTC()
	for h, tok := range t.st.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			at := now
			tok.RevokedAt = &at
			t.st.tokens[h] = tok
		}
	}
	return nil
}
