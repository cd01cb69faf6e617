package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rflorenc/fitsync/internal/db"
	"github.com/rflorenc/fitsync/internal/models"
)

func sealed(id, account string, started time.Time, success bool) *models.MigrationAttempt {
	a := models.NewAttempt(id, account, started)
	a.AddMigrated("weight_kg")
	if !success {
		a.AddError("goals: PUT failed")
	}
	a.AddWarning("preferences: remote kept")
	a.AddConflict(models.SyncConflict{
		Key:         "preferences",
		GuestValue:  []byte(`{"kind":"preferences"}`),
		RemoteValue: []byte(`{"kind":"preferences","data":{"units":"imperial"}}`),
		Resolution:  &models.ConflictResolution{Action: models.ResolutionKeepRemote},
	})
	a.Seal(success, started.Add(time.Second))
	return a
}

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			database, err := db.OpenAndMigrate(filepath.Join(t.TempDir(), "history.db"))
			if err != nil {
				t.Fatalf("OpenAndMigrate: %v", err)
			}
			t.Cleanup(func() { database.Close() })
			return NewSQLiteStore(database)
		},
	}
}

func TestStores(t *testing.T) {
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := mk(t)

			unsealed := models.NewAttempt("open", "acct-1", base)
			if err := s.Append(unsealed); err == nil {
				t.Error("Append accepted an unsealed attempt")
			}

			if err := s.Append(sealed("a1", "acct-1", base, false)); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := s.Append(sealed("a2", "acct-1", base.Add(time.Minute), true)); err != nil {
				t.Fatalf("Append: %v", err)
			}

			list, err := s.List()
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("List returned %d attempts, want 2", len(list))
			}
			if list[0].ID != "a2" || list[1].ID != "a1" {
				t.Errorf("order = %s, %s; want newest first", list[0].ID, list[1].ID)
			}

			got := list[1]
			if got.Success || len(got.Errors) != 1 || len(got.Warnings) != 1 || len(got.MigratedKeys) != 1 {
				t.Errorf("round-tripped attempt = %+v", got)
			}
			if len(got.Conflicts) != 1 || got.Conflicts[0].Resolution == nil || got.Conflicts[0].Resolution.Action != models.ResolutionKeepRemote {
				t.Errorf("conflicts = %+v", got.Conflicts)
			}
			if !got.Sealed() || !got.StartedAt.Equal(base) {
				t.Errorf("sealed=%v started=%v", got.Sealed(), got.StartedAt)
			}

			if !HasSuccess(list, "acct-1") {
				t.Error("HasSuccess(acct-1) = false")
			}
			if HasSuccess(list, "acct-2") {
				t.Error("HasSuccess(acct-2) = true")
			}
		})
	}
}

func TestStores_SubSecondStarts(t *testing.T) {
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			if err := s.Append(sealed("early", "acct-1", base.Add(100*time.Millisecond), true)); err != nil {
				t.Fatal(err)
			}
			if err := s.Append(sealed("late", "acct-1", base.Add(120*time.Millisecond), true)); err != nil {
				t.Fatal(err)
			}
			list, err := s.List()
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 || list[0].ID != "late" || list[1].ID != "early" {
				t.Fatalf("List = %v, want late then early", ids(list))
			}
			if !list[0].StartedAt.Equal(base.Add(120 * time.Millisecond)) {
				t.Errorf("started = %v", list[0].StartedAt)
			}
		})
	}
}

func TestTimeFormat(t *testing.T) {
	got, err := parseTime("2026-10-01T09:00:00.1Z")
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if want := time.Date(2026, 10, 1, 9, 0, 0, int(100*time.Millisecond), time.UTC); !got.Equal(want) {
		t.Errorf("parseTime = %v, want %v", got, want)
	}
	if f := formatTime(got); f != "2026-10-01T09:00:00.100000000Z" {
		t.Errorf("formatTime = %q", f)
	}
}

func ids(list []*models.MigrationAttempt) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	database, err := db.OpenAndMigrate(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewSQLiteStore(database).Append(sealed("a1", "acct-1", time.Now(), true)); err != nil {
		t.Fatal(err)
	}
	database.Close()

	database, err = db.OpenAndMigrate(path)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	list, err := NewSQLiteStore(database).List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "a1" || !list[0].Success {
		t.Errorf("after reopen List = %+v", list)
	}
}
