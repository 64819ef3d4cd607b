package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	// ErrPrincipalNotFound indicates no principal matches the lookup.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalExists indicates the principal name is already taken.
	ErrPrincipalExists = errors.New("principal already exists")
	// ErrNodeNotFound indicates the node does not exist.
	ErrNodeNotFound = errors.New("node not found")
	// ErrBadCredentials indicates the name/password pair does not match.
	ErrBadCredentials = errors.New("invalid credentials")
)

// Principal is an authenticatable identity. SessionKey mirrors the
// opaque wire token 1:1; a nil key means no live session credential.
type Principal struct {
	ID           int64
	Name         string
	PasswordHash string
	SessionKey   *string
}

// Node is a generic stored record addressed by handlers.
type Node struct {
	ID        int64
	Type      string
	OwnerID   *int64
	Data      map[string]any
	CreatedAt int64
	UpdatedAt int64
}

// Store wraps the SQLite database holding principals and nodes.
type Store struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (SQLite single-writer)
}

// Open opens the SQLite database at the given path and initializes the
// schema if needed.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// WAL allows multiple readers alongside the single writer
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}

	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := writeConn.Exec(pragma); err != nil {
			conn.Close()
			writeConn.Close()
			return nil, fmt.Errorf("failed to apply %q on write connection: %w", pragma, err)
		}
	}

	s := &Store{conn: conn, writeConn: writeConn}

	if err := s.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes both database connections.
func (s *Store) Close() error {
	s.writeConn.Close()
	return s.conn.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS principals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		session_key TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_principals_session_key ON principals(session_key);

	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		owner_id INTEGER REFERENCES principals(id) ON DELETE SET NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
	`
	_, err := s.writeConn.Exec(schema)
	return err
}

// CreatePrincipal creates a principal with a bcrypt-hashed password.
func (s *Store) CreatePrincipal(name, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := s.writeConn.Exec(
		"INSERT INTO principals (name, password_hash, created_at) VALUES (?, ?, ?)",
		name, string(hash), time.Now().UnixMilli(),
	)
	if err != nil {
		// UNIQUE constraint on name
		return 0, fmt.Errorf("%w: %s", ErrPrincipalExists, name)
	}

	return result.LastInsertId()
}

// PrincipalByName returns the principal with the given name.
func (s *Store) PrincipalByName(name string) (*Principal, error) {
	row := s.conn.QueryRow(
		"SELECT id, name, password_hash, session_key FROM principals WHERE name = ?", name)
	return scanPrincipal(row)
}

// VerifyCredentials checks a name/password pair and returns the matching
// principal. Returns ErrBadCredentials for both unknown names and wrong
// passwords so callers cannot distinguish the two.
func (s *Store) VerifyCredentials(name, password string) (*Principal, error) {
	p, err := s.PrincipalByName(name)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}

	return p, nil
}

// PrincipalsBySessionKey returns every principal whose stored session
// key equals the candidate, ordered by id. This is a direct lookup with
// no ownership check: the caller is by definition not yet
// authenticated, so per-record access control cannot apply.
func (s *Store) PrincipalsBySessionKey(key string) ([]*Principal, error) {
	rows, err := s.conn.Query(
		"SELECT id, name, password_hash, session_key FROM principals WHERE session_key = ? ORDER BY id", key)
	if err != nil {
		return nil, fmt.Errorf("session key lookup failed: %w", err)
	}
	defer rows.Close()

	var principals []*Principal
	for rows.Next() {
		p := &Principal{}
		if err := rows.Scan(&p.ID, &p.Name, &p.PasswordHash, &p.SessionKey); err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

// SetSessionKey binds a freshly issued token to a principal.
func (s *Store) SetSessionKey(principalID int64, key string) error {
	result, err := s.writeConn.Exec(
		"UPDATE principals SET session_key = ? WHERE id = ?", key, principalID)
	if err != nil {
		return fmt.Errorf("failed to set session key: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// ClearSessionKey invalidates a principal's session key. Replaying the
// old token fails afterwards.
func (s *Store) ClearSessionKey(principalID int64) error {
	result, err := s.writeConn.Exec(
		"UPDATE principals SET session_key = NULL WHERE id = ?", principalID)
	if err != nil {
		return fmt.Errorf("failed to clear session key: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// CreateNode stores a new node and returns its id.
func (s *Store) CreateNode(nodeType string, data map[string]any, ownerID *int64) (int64, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode node data: %w", err)
	}

	now := time.Now().UnixMilli()
	result, err := s.writeConn.Exec(
		"INSERT INTO nodes (type, owner_id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		nodeType, ownerID, string(encoded), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create node: %w", err)
	}

	return result.LastInsertId()
}

// GetNode returns a node by id.
func (s *Store) GetNode(id int64) (*Node, error) {
	row := s.conn.QueryRow(
		"SELECT id, type, owner_id, data, created_at, updated_at FROM nodes WHERE id = ?", id)
	return scanNode(row)
}

// UpdateNode replaces a node's data.
func (s *Store) UpdateNode(id int64, data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode node data: %w", err)
	}

	result, err := s.writeConn.Exec(
		"UPDATE nodes SET data = ?, updated_at = ? WHERE id = ?",
		string(encoded), time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// DeleteNode removes a node.
func (s *Store) DeleteNode(id int64) error {
	result, err := s.writeConn.Exec("DELETE FROM nodes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// ListNodes returns nodes, optionally filtered by type, ordered by id.
func (s *Store) ListNodes(nodeType string) ([]*Node, error) {
	var rows *sql.Rows
	var err error
	if nodeType == "" {
		rows, err = s.conn.Query(
			"SELECT id, type, owner_id, data, created_at, updated_at FROM nodes ORDER BY id")
	} else {
		rows, err = s.conn.Query(
			"SELECT id, type, owner_id, data, created_at, updated_at FROM nodes WHERE type = ? ORDER BY id", nodeType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		node, err := scanNodeRows(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func scanPrincipal(row *sql.Row) (*Principal, error) {
	p := &Principal{}
	err := row.Scan(&p.ID, &p.Name, &p.PasswordHash, &p.SessionKey)
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanNode(row *sql.Row) (*Node, error) {
	n := &Node{}
	var data string
	err := row.Scan(&n.ID, &n.Type, &n.OwnerID, &data, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
		return nil, fmt.Errorf("corrupt node data for node %d: %w", n.ID, err)
	}
	return n, nil
}

func scanNodeRows(rows *sql.Rows) (*Node, error) {
	n := &Node{}
	var data string
	if err := rows.Scan(&n.ID, &n.Type, &n.OwnerID, &data, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
		return nil, fmt.Errorf("corrupt node data for node %d: %w", n.ID, err)
	}
	return n, nil
}
