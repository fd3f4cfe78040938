package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-placement/internal/db"
	"github.com/mind-engage/mindengage-placement/internal/exam"
)

const bcryptCost = 12

var Roles = []string{"student", "teacher", "admin"}

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	PasswordHash string `json:"-"`
}

// UserInput is one row of a bulk upsert. Password is required for new users.
type UserInput struct {
	Username string `json:"username" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=student teacher admin"`
	Password string `json:"password,omitempty"`
}

type UserStore interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	RoleOf(ctx context.Context, id int64) (string, error)
	Upsert(ctx context.Context, rows []UserInput) (inserted, updated int, err error)
	List(ctx context.Context, role string) ([]User, error)
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcryptCost)
	return string(b), err
}

func validRole(r string) bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

// SQLUsers reads and writes the users table.
type SQLUsers struct {
	db     *sql.DB
	driver db.Driver
	now    func() time.Time
}

func NewSQLUsers(h *sql.DB, driver db.Driver) *SQLUsers {
	return &SQLUsers{db: h, driver: driver, now: time.Now}
}

func (s *SQLUsers) q(query string) string { return db.Rebind(s.driver, query) }

func (s *SQLUsers) FindByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, username, role, password_hash FROM users WHERE username=?`), username).
		Scan(&u.ID, &u.Username, &u.Role, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", username, exam.ErrNotFound)
	}
	return u, err
}

func (s *SQLUsers) RoleOf(ctx context.Context, id int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT role FROM users WHERE id=?`), id).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", id, exam.ErrNotFound)
	}
	return role, err
}

func (s *SQLUsers) List(ctx context.Context, role string) ([]User, error) {
	query, args := `SELECT id, username, role FROM users ORDER BY username`, []any{}
	if role != "" {
		query, args = `SELECT id, username, role FROM users WHERE role=? ORDER BY username`, []any{role}
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Upsert inserts or updates users by username in one transaction.
// An existing user keeps the stored hash when no password is given.
func (s *SQLUsers) Upsert(ctx context.Context, rows []UserInput) (inserted, updated int, err error) {
	hashes := make([]string, len(rows))
	for i, r := range rows {
		if r.Role == "" {
			rows[i].Role = "student"
		}
		if !validRole(rows[i].Role) {
			return 0, 0, exam.NewValidationError("invalid role: " + r.Role)
		}
		if r.Password != "" {
			if hashes[i], err = HashPassword(r.Password); err != nil {
				return 0, 0, err
			}
		}
	}
	now := s.now().Unix()
	err = db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		for i, r := range rows {
			var id int64
			err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM users WHERE username=?`), r.Username).Scan(&id)
			switch {
			case err == nil:
				if hashes[i] != "" {
					_, err = tx.ExecContext(ctx, s.q(`UPDATE users SET role=?, password_hash=? WHERE id=?`), r.Role, hashes[i], id)
				} else {
					_, err = tx.ExecContext(ctx, s.q(`UPDATE users SET role=? WHERE id=?`), r.Role, id)
				}
				if err != nil {
					return err
				}
				updated++
			case errors.Is(err, sql.ErrNoRows):
				if hashes[i] == "" {
					return exam.NewValidationError("password required for new user: " + r.Username)
				}
				if _, err := tx.ExecContext(ctx,
					s.q(`INSERT INTO users (username, password_hash, role, created_at) VALUES (?,?,?,?)`),
					r.Username, hashes[i], r.Role, now); err != nil {
					return err
				}
				inserted++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

// Subject renders a user id as a token subject.
func Subject(id int64) string { return strconv.FormatInt(id, 10) }
