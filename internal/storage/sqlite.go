package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qmpie/internal/chat"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliverables (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id     TEXT NOT NULL,
		phase          TEXT NOT NULL DEFAULT 'final',
		prompt_version TEXT NOT NULL DEFAULT '',
		title          TEXT NOT NULL DEFAULT '',
		markdown       TEXT NOT NULL,
		created_at     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliverables_session ON deliverables(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Deliverable Operations ---

func (s *SQLiteStore) SaveDeliverable(d Deliverable) (int64, error) {
	if strings.TrimSpace(d.Markdown) == "" {
		return 0, fmt.Errorf("deliverable markdown is empty")
	}
	if strings.TrimSpace(d.CreatedAt) == "" {
		d.CreatedAt = nowUTC()
	}
	if d.Phase == "" {
		d.Phase = "final"
	}
	res, err := s.db.Exec(`
		INSERT INTO deliverables (session_id, phase, prompt_version, title, markdown, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.Phase, d.PromptVersion, d.Title, d.Markdown, d.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert deliverable: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("deliverable id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetDeliverable(id int64) (Deliverable, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, phase, prompt_version, title, markdown, created_at
		FROM deliverables WHERE id=?`, id)

	var d Deliverable
	err := row.Scan(&d.ID, &d.SessionID, &d.Phase, &d.PromptVersion, &d.Title, &d.Markdown, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Deliverable{}, fmt.Errorf("deliverable %d: %w", id, ErrNotFound)
		}
		return Deliverable{}, fmt.Errorf("load deliverable: %w", err)
	}
	return d, nil
}

// ListDeliverables returns the newest deliverables first; limit <= 0 means all.
func (s *SQLiteStore) ListDeliverables(limit int) ([]Deliverable, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, phase, prompt_version, title, markdown, created_at
		FROM deliverables ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliverables: %w", err)
	}
	defer rows.Close()

	var out []Deliverable
	for rows.Next() {
		var d Deliverable
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Phase, &d.PromptVersion, &d.Title, &d.Markdown, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deliverable: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteDeliverable(id int64) error {
	res, err := s.db.Exec("DELETE FROM deliverables WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete deliverable: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deliverable %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Transcript Operations ---

func (s *SQLiteStore) AppendTurn(sessionID string, turn chat.Turn) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, turn.Role, turn.Content, nowUTC())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadTurns(sessionID string) ([]chat.Turn, error) {
	rows, err := s.db.Query(`
		SELECT role, content FROM turns WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []chat.Turn
	for rows.Next() {
		var t chat.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Helpers ---

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
