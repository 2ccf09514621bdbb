package state

import (
	"path/filepath"
	"testing"

	"github.com/omnivibe/wavelink/pkg/session"
)

func openTestState(t *testing.T) *State {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "client", "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestState(t)

	val, err := s.GetConfig("missing")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if val != "" {
		t.Errorf("missing key = %q, want empty", val)
	}

	if err := s.SetConfig("theme", "dark"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := s.SetConfig("theme", "light"); err != nil {
		t.Fatalf("SetConfig overwrite: %v", err)
	}
	val, err = s.GetConfig("theme")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if val != "light" {
		t.Errorf("theme = %q, want light", val)
	}
}

func TestLastIdentity(t *testing.T) {
	s := openTestState(t)

	if got := s.GetLastIdentity(); got != (session.Identity{}) {
		t.Errorf("fresh state identity = %+v", got)
	}

	id := session.Identity{UserID: "u1", Username: "alice"}
	if err := s.SetLastIdentity(id); err != nil {
		t.Fatalf("SetLastIdentity: %v", err)
	}
	got := s.GetLastIdentity()
	if got.UserID != "u1" || got.Username != "alice" {
		t.Errorf("identity = %+v", got)
	}
}

func TestReadState(t *testing.T) {
	s := openTestState(t)

	ts, err := s.GetReadState("u1_u2")
	if err != nil {
		t.Fatalf("GetReadState: %v", err)
	}
	if ts != 0 {
		t.Errorf("unread conversation = %d, want 0", ts)
	}

	if err := s.UpdateReadState("u1_u2", 1000); err != nil {
		t.Fatalf("UpdateReadState: %v", err)
	}
	if err := s.UpdateReadState("u1_u2", 2000); err != nil {
		t.Fatalf("UpdateReadState: %v", err)
	}
	// Stale receipts never move the position backwards.
	if err := s.UpdateReadState("u1_u2", 1500); err != nil {
		t.Fatalf("UpdateReadState stale: %v", err)
	}

	ts, err = s.GetReadState("u1_u2")
	if err != nil {
		t.Fatalf("GetReadState: %v", err)
	}
	if ts != 2000 {
		t.Errorf("read state = %d, want 2000", ts)
	}

	// Conversations are independent.
	ts, _ = s.GetReadState("u1_u3")
	if ts != 0 {
		t.Errorf("other conversation = %d, want 0", ts)
	}
}

func TestConnectionHistory(t *testing.T) {
	s := openTestState(t)

	scheme, err := s.GetLastSuccessfulScheme("chat.example.com:5000")
	if err != nil {
		t.Fatalf("GetLastSuccessfulScheme: %v", err)
	}
	if scheme != "" {
		t.Errorf("no-history scheme = %q", scheme)
	}

	if err := s.SaveSuccessfulConnection("chat.example.com:5000", "ws"); err != nil {
		t.Fatalf("SaveSuccessfulConnection: %v", err)
	}
	if err := s.SaveSuccessfulConnection("chat.example.com:5000", "poll"); err != nil {
		t.Fatalf("SaveSuccessfulConnection: %v", err)
	}

	scheme, err = s.GetLastSuccessfulScheme("chat.example.com:5000")
	if err != nil {
		t.Fatalf("GetLastSuccessfulScheme: %v", err)
	}
	if scheme != "poll" {
		t.Errorf("scheme = %q, want poll", scheme)
	}
}

func TestFirstRun(t *testing.T) {
	s := openTestState(t)

	if !s.GetFirstRun() {
		t.Error("fresh state is not first run")
	}
	if err := s.SetFirstRunComplete(); err != nil {
		t.Fatalf("SetFirstRunComplete: %v", err)
	}
	if s.GetFirstRun() {
		t.Error("first run flag did not stick")
	}
}

func TestLastSeenTimestamp(t *testing.T) {
	s := openTestState(t)

	if ts := s.GetLastSeenTimestamp(); ts != 0 {
		t.Errorf("fresh state last seen = %d", ts)
	}
	if err := s.SetLastSeenTimestamp(123456789); err != nil {
		t.Fatalf("SetLastSeenTimestamp: %v", err)
	}
	if ts := s.GetLastSeenTimestamp(); ts != 123456789 {
		t.Errorf("last seen = %d", ts)
	}
}

func TestStatePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetConfig("k", "v"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	val, err := s.GetConfig("k")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if val != "v" {
		t.Errorf("persisted value = %q", val)
	}
}
