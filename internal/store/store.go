package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store wraps the Postgres connection. All methods are context-scoped; rows
// never leave a method as live handles, only as the record values below.
type Store struct {
	DB *sql.DB
}

// New opens a connection from a DSN and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// User is an authenticated account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// StoreEntity marks User as a persistence row. Rows must not be published on
// event queues; pass IDs or DTOs instead.
func (User) StoreEntity() {}

// Workspace groups bots and collections for one owner.
type Workspace struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

func (Workspace) StoreEntity() {}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	u := User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash, created_at) VALUES ($1,$2,$3,$4)
`, u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	var u User
	err := s.DB.QueryRowContext(ctx, `
SELECT id, email, password_hash, created_at FROM users WHERE email = $1
`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("get user: %w", err)
	}
	return u, true, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, bool, error) {
	var u User
	err := s.DB.QueryRowContext(ctx, `
SELECT id, email, password_hash, created_at FROM users WHERE id = $1
`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("get user: %w", err)
	}
	return u, true, nil
}

func (s *Store) CreateWorkspace(ctx context.Context, ownerID, name string) (Workspace, error) {
	w := Workspace{ID: uuid.NewString(), OwnerID: ownerID, Name: name, CreatedAt: time.Now()}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO workspaces (id, owner_id, name, created_at) VALUES ($1,$2,$3,$4)
`, w.ID, w.OwnerID, w.Name, w.CreatedAt)
	if err != nil {
		return Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	return w, nil
}

func (s *Store) ListWorkspaces(ctx context.Context, ownerID string) ([]Workspace, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, owner_id, name, created_at FROM workspaces WHERE owner_id = $1 ORDER BY created_at
`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()
	var out []Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.Name, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
