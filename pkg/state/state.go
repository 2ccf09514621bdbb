// Package state manages the client's persistent local state: identity
// and config values, per-conversation read positions and which
// transport last worked against a given server.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/omnivibe/wavelink/pkg/session"
)

// State manages client-side persistent state
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// Open opens or creates the client state database
func Open(path string) (*State, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Configure for better reliability
	db.SetMaxOpenConns(1) // Client only needs one connection
	db.SetMaxIdleConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	state := &State{
		db:  db,
		dir: dir,
	}

	if err := state.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return state, nil
}

// initSchema creates all tables and indexes if they don't exist
func (s *State) initSchema() error {
	schema := `
-- Config table (key/value)
CREATE TABLE IF NOT EXISTS Config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

-- ReadState tracks the newest message timestamp seen per conversation
CREATE TABLE IF NOT EXISTS ReadState (
	conversation_id TEXT PRIMARY KEY,
	last_read_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

-- ConnectionHistory remembers which transport last worked per server
CREATE TABLE IF NOT EXISTS ConnectionHistory (
	server_address TEXT PRIMARY KEY,
	last_successful_scheme TEXT NOT NULL,
	last_success_at INTEGER NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastIdentity returns the identity last used to connect. The zero
// value means no one has logged in from this client yet.
func (s *State) GetLastIdentity() session.Identity {
	userID, _ := s.GetConfig("last_user_id")
	username, _ := s.GetConfig("last_username")
	return session.Identity{UserID: userID, Username: username}
}

// SetLastIdentity stores the identity used to connect
func (s *State) SetLastIdentity(id session.Identity) error {
	if err := s.SetConfig("last_user_id", id.UserID); err != nil {
		return err
	}
	return s.SetConfig("last_username", id.Username)
}

// GetReadState returns the newest message timestamp (milliseconds) seen
// in a conversation. Returns 0 if no state exists (never read)
func (s *State) GetReadState(conversationID string) (int64, error) {
	var lastReadAt int64
	err := s.db.QueryRow(`
		SELECT last_read_at
		FROM ReadState
		WHERE conversation_id = ?
	`, conversationID).Scan(&lastReadAt)

	if err == sql.ErrNoRows {
		return 0, nil // Never read
	}
	if err != nil {
		return 0, err
	}

	return lastReadAt, nil
}

// UpdateReadState updates the read position for a conversation. Older
// timestamps never move the position backwards.
func (s *State) UpdateReadState(conversationID string, timestamp int64) error {
	current, err := s.GetReadState(conversationID)
	if err != nil {
		return err
	}
	if timestamp <= current {
		return nil
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO ReadState (conversation_id, last_read_at, updated_at)
		VALUES (?, ?, ?)
	`, conversationID, timestamp, time.Now().Unix())

	return err
}

// GetLastSuccessfulScheme retrieves the transport that last worked for
// a server, "" when there is no history.
func (s *State) GetLastSuccessfulScheme(serverAddress string) (string, error) {
	var scheme string
	err := s.db.QueryRow(`
		SELECT last_successful_scheme
		FROM ConnectionHistory
		WHERE server_address = ?
	`, serverAddress).Scan(&scheme)

	if err == sql.ErrNoRows {
		return "", nil // No history for this server
	}
	return scheme, err
}

// SaveSuccessfulConnection records the transport that worked for a server
func (s *State) SaveSuccessfulConnection(serverAddress string, scheme string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_address, last_successful_scheme, last_success_at)
		VALUES (?, ?, ?)
	`, serverAddress, scheme, now)
	return err
}

// GetFirstRun checks if this is the first time running the client
func (s *State) GetFirstRun() bool {
	val, _ := s.GetConfig("first_run_complete")
	return val != "true"
}

// SetFirstRunComplete marks first run as complete
func (s *State) SetFirstRunComplete() error {
	return s.SetConfig("first_run_complete", "true")
}

// GetLastSeenTimestamp returns the timestamp when the client was last active (in milliseconds)
// Returns 0 if no timestamp has been stored
func (s *State) GetLastSeenTimestamp() int64 {
	timestampStr, _ := s.GetConfig("last_seen_timestamp")
	if timestampStr == "" {
		return 0
	}
	var timestamp int64
	if _, err := fmt.Sscanf(timestampStr, "%d", &timestamp); err != nil {
		return 0
	}
	return timestamp
}

// SetLastSeenTimestamp stores the current timestamp as the last active time (in milliseconds)
func (s *State) SetLastSeenTimestamp(timestamp int64) error {
	return s.SetConfig("last_seen_timestamp", fmt.Sprintf("%d", timestamp))
}

// UpdateLastSeenTimestamp updates the last seen timestamp to now
func (s *State) UpdateLastSeenTimestamp() error {
	return s.SetLastSeenTimestamp(time.Now().UnixMilli())
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
