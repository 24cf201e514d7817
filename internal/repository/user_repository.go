package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/parkb/internal/model"
)

const userColumns = `id, username, name, email, phone, car_number, password_hash, role, created_at`

// CreateUser inserts u and stores the generated id in u.ID. Usernames are
// trimmed; a taken username yields ErrDuplicate.
func (t *mysqlTx) CreateUser(ctx context.Context, u *model.User) error {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (username, name, email, phone, car_number, password_hash, role) VALUES (?,?,?,?,?,?,?)`,
		u.Username, u.Name, u.Email, u.Phone, u.CarNumber, u.PasswordHash, string(u.Role))
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

func (t *mysqlTx) scanUser(row rowScanner) (model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Phone, &u.CarNumber, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		return model.User{}, notFound(err)
	}
	u.Role = model.Role(role)
	u.CreatedAt = u.CreatedAt.In(t.loc)
	return u, nil
}

// UserByUsername fetches a user by login name.
func (t *mysqlTx) UserByUsername(ctx context.Context, username string) (model.User, error) {
	return t.scanUser(t.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? LIMIT 1`, strings.TrimSpace(username)))
}

// UserByID fetches a user by id.
func (t *mysqlTx) UserByID(ctx context.Context, id uint64) (model.User, error) {
	return t.scanUser(t.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1`, id))
}

// UpdateContact sets phone and email. MySQL reports zero affected rows
// when the values are unchanged, so a miss is confirmed with a lookup.
func (t *mysqlTx) UpdateContact(ctx context.Context, id uint64, phone, email string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET phone = ?, email = ? WHERE id = ?`,
		strings.TrimSpace(phone), strings.ToLower(strings.TrimSpace(email)), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err := t.UserByID(ctx, id)
		return err
	}
	return nil
}
