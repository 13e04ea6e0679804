package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "whatyousayin/pkg/database"
	"whatyousayin/pkg/interfaces"
	"whatyousayin/pkg/types"
)

// Manager implements interfaces.Store on SQLite. All mutations are
// funneled through a single writer goroutine; reads run concurrently
// against the WAL.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and starts the writer
// loop. Callers must run migrations before first use.
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// DB exposes the underlying handle for migrations.
func (m *Manager) DB() *sql.DB {
	return m.db
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// Close stops the writer loop and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}

// CreateUser inserts a new account. The uniqueness checks run inside
// the writer loop, so check-then-insert is race-free.
func (m *Manager) CreateUser(ctx context.Context, username, email, hashedPassword string) (*types.User, error) {
	user := &types.User{
		Username:       username,
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      time.Now().UTC(),
	}

	err := m.executeWrite(func(db *sql.DB) error {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&count); err != nil {
			return fmt.Errorf("failed to check username: %w", err)
		}
		if count > 0 {
			return interfaces.ErrUsernameTaken
		}
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&count); err != nil {
			return fmt.Errorf("failed to check email: %w", err)
		}
		if count > 0 {
			return interfaces.ErrEmailTaken
		}

		res, err := db.ExecContext(ctx,
			`INSERT INTO users (username, email, hashed_password, created_at) VALUES (?, ?, ?, ?)`,
			user.Username, user.Email, user.HashedPassword, user.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		user.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByUsername loads a full user record, password hash included.
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	var user types.User
	err := m.db.QueryRowContext(ctx,
		`SELECT id, username, email, hashed_password, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.HashedPassword, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// ResolveUser maps a username to its id.
func (m *Manager) ResolveUser(ctx context.Context, username string) (int64, error) {
	var id int64
	err := m.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, interfaces.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve user: %w", err)
	}
	return id, nil
}

// CreateRoom inserts a room with a unique name.
func (m *Manager) CreateRoom(ctx context.Context, name, description string, isPublic bool, createdBy int64) (*types.Room, error) {
	room := &types.Room{
		Name:        name,
		Description: description,
		IsPublic:    isPublic,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}

	err := m.executeWrite(func(db *sql.DB) error {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE name = ?`, name).Scan(&count); err != nil {
			return fmt.Errorf("failed to check room name: %w", err)
		}
		if count > 0 {
			return interfaces.ErrRoomNameTaken
		}

		res, err := db.ExecContext(ctx,
			`INSERT INTO rooms (name, description, is_public, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
			room.Name, room.Description, room.IsPublic, room.CreatedBy, room.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert room: %w", err)
		}
		room.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom loads one room by id.
func (m *Manager) GetRoom(ctx context.Context, roomID int64) (*types.Room, error) {
	var room types.Room
	var description sql.NullString
	err := m.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_public, created_by, created_at FROM rooms WHERE id = ?`,
		roomID,
	).Scan(&room.ID, &room.Name, &description, &room.IsPublic, &room.CreatedBy, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	room.Description = description.String
	return &room, nil
}

// RoomExists reports existence, visibility and name in one lookup for
// connection-time authorization.
func (m *Manager) RoomExists(ctx context.Context, roomID int64) (bool, bool, string, error) {
	var isPublic bool
	var name string
	err := m.db.QueryRowContext(ctx, `SELECT is_public, name FROM rooms WHERE id = ?`, roomID).Scan(&isPublic, &name)
	if err == sql.ErrNoRows {
		return false, false, "", nil
	}
	if err != nil {
		return false, false, "", fmt.Errorf("failed to check room: %w", err)
	}
	return true, isPublic, name, nil
}

// ListPublicRooms returns public rooms in creation order.
func (m *Manager) ListPublicRooms(ctx context.Context, skip, limit int) ([]*types.Room, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, description, is_public, created_by, created_at
		FROM rooms
		WHERE is_public = 1
		ORDER BY id
		LIMIT ? OFFSET ?
	`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		var room types.Room
		var description sql.NullString
		if err := rows.Scan(&room.ID, &room.Name, &description, &room.IsPublic, &room.CreatedBy, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		room.Description = description.String
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

// InsertMessage persists a message and returns the assigned id and
// creation timestamp. The timestamp is generated here so callers can
// broadcast the exact persisted value.
func (m *Manager) InsertMessage(ctx context.Context, content string, roomID int64, userID int64, replyToID *int64) (int64, time.Time, error) {
	createdAt := time.Now().UTC()
	var id int64

	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO messages (content, room_id, user_id, reply_to_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			content, roomID, userID, replyToID, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return id, createdAt, nil
}

// MessageExists reports whether a message exists and its owning room.
// Direct messages have no room; those report roomID 0.
func (m *Manager) MessageExists(ctx context.Context, messageID int64) (bool, int64, error) {
	var roomID sql.NullInt64
	err := m.db.QueryRowContext(ctx, `SELECT room_id FROM messages WHERE id = ?`, messageID).Scan(&roomID)
	if err == sql.ErrNoRows {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to check message: %w", err)
	}
	return true, roomID.Int64, nil
}

// ListRoomMessages returns a room's history in chronological order with
// author usernames resolved.
func (m *Manager) ListRoomMessages(ctx context.Context, roomID int64, skip, limit int) ([]*types.ChatMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.room_id, m.user_id, u.username, m.reply_to_id, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.created_at, m.id
		LIMIT ? OFFSET ?
	`, roomID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		var msgRoomID, replyToID sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.Content, &msgRoomID, &msg.UserID, &msg.Username, &replyToID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if msgRoomID.Valid {
			msg.RoomID = &msgRoomID.Int64
		}
		if replyToID.Valid {
			msg.ReplyToID = &replyToID.Int64
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// HealthCheck verifies connectivity and basic read access.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}
