package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"rownak/pkg/auth"
	"rownak/pkg/models"
)

func provider(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"localId":"uid-1","email":"a@x.com","idToken":"tok"}`)
	}))
}

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	srv := provider(t)
	t.Cleanup(srv.Close)
	file := filepath.Join(t.TempDir(), "session.json")
	return NewManager(auth.New(srv.URL, "k"), file), file
}

func TestSignInFiresChangeAndPersists(t *testing.T) {
	m, file := newManager(t)

	var events []*models.Identity
	unsub := m.OnChange(func(id *models.Identity) { events = append(events, id) })
	defer unsub()
	if len(events) != 1 || events[0] != nil {
		t.Fatalf("expected immediate nil event, got %v", events)
	}

	if err := m.SignIn(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if len(events) != 2 || events[1] == nil || events[1].UID != "uid-1" {
		t.Fatalf("change event wrong: %+v", events)
	}
	if m.Current() == nil {
		t.Fatalf("no current identity after sign in")
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
}

func TestSignOutFiresNilAndClearsFile(t *testing.T) {
	m, file := newManager(t)
	if err := m.SignIn(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}

	var last *models.Identity = &models.Identity{UID: "sentinel"}
	unsub := m.OnChange(func(id *models.Identity) { last = id })
	defer unsub()

	m.SignOut()
	if last != nil {
		t.Fatalf("expected nil identity on sign out, got %+v", last)
	}
	if m.Current() != nil {
		t.Fatalf("identity survived sign out")
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Fatalf("session file survived sign out")
	}
}

func TestRestorePicksUpPersistedSession(t *testing.T) {
	m, file := newManager(t)
	if err := m.SignIn(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}

	// A fresh manager over the same file, as after a process restart.
	m2 := NewManager(nil, file)
	m2.Restore()
	id := m2.Current()
	if id == nil || id.UID != "uid-1" {
		t.Fatalf("restore failed: %+v", id)
	}
}

func TestRestoreWithNoFileIsSilent(t *testing.T) {
	m := NewManager(nil, filepath.Join(t.TempDir(), "absent.json"))
	m.Restore()
	if m.Current() != nil {
		t.Fatalf("restore invented a session")
	}
}

func TestApplyKeepsUIDAndRefires(t *testing.T) {
	m, _ := newManager(t)
	if err := m.SignIn(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}

	fired := 0
	unsub := m.OnChange(func(*models.Identity) { fired++ })
	defer unsub()

	updated := *m.Current()
	updated.DisplayName = "New Name"
	m.Apply(&updated)

	if fired != 2 { // immediate + apply
		t.Fatalf("expected re-fire on apply, got %d events", fired)
	}
	cur := m.Current()
	if cur.DisplayName != "New Name" || cur.UID != "uid-1" {
		t.Fatalf("apply mangled identity: %+v", cur)
	}
}

func TestApplyWithoutSessionIsNoop(t *testing.T) {
	m := NewManager(nil, filepath.Join(t.TempDir(), "s.json"))
	m.Apply(&models.Identity{UID: "ghost"})
	if m.Current() != nil {
		t.Fatalf("apply created a session from nothing")
	}
}

func TestUnregisteredListenerStopsFiring(t *testing.T) {
	m, _ := newManager(t)
	fired := 0
	unsub := m.OnChange(func(*models.Identity) { fired++ })
	unsub()
	if err := m.SignIn(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("listener fired after unregister: %d", fired)
	}
}
