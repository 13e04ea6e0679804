package database

import (
	"context"
	"database/sql"
	"fmt"
)

// systemUsername owns the seeded rooms. The account is not loginable;
// its stored hash is an unmatchable placeholder.
const systemUsername = "system"

type seedRoom struct {
	name        string
	description string
	isPublic    bool
}

var defaultRooms = []seedRoom{
	{"Nassau Vibes", "General chat for Nassau locals and visitors", true},
	{"Island Life", "Share your island experiences and stories", true},
	{"Sports Talk", "Discuss Bahamian sports and international games", true},
	{"Music Corner", "Junkanoo, rake-n-scrape, and everything music", true},
	{"Food & Culture", "Bahamian cuisine, recipes, and cultural discussions", true},
	{"Tech & Gaming", "Technology news and gaming discussions", true},
}

// SeedDefaultRooms populates the default room set on first start. A
// non-empty rooms table skips seeding entirely.
func (m *Manager) SeedDefaultRooms(ctx context.Context) error {
	return m.executeWrite(func(db *sql.DB) error {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count rooms: %w", err)
		}
		if count > 0 {
			return nil
		}

		systemID, err := ensureSystemUser(ctx, db)
		if err != nil {
			return err
		}

		for _, room := range defaultRooms {
			_, err := db.ExecContext(ctx,
				`INSERT INTO rooms (name, description, is_public, created_by) VALUES (?, ?, ?, ?)`,
				room.name, room.description, room.isPublic, systemID,
			)
			if err != nil {
				return fmt.Errorf("failed to seed room %s: %w", room.name, err)
			}
		}

		m.log.Info("seeded default rooms", "count", len(defaultRooms))
		return nil
	})
}

func ensureSystemUser(ctx context.Context, db *sql.DB) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, systemUsername).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up system user: %w", err)
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO users (username, email, hashed_password) VALUES (?, ?, ?)`,
		systemUsername, "system@whatyousayin.com", "!locked",
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create system user: %w", err)
	}
	return res.LastInsertId()
}
