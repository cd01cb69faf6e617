package migration

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/localstore"
	"github.com/rflorenc/fitsync/internal/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestInventory_HasLocalData(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, s *faultyLocal)
		want  bool
	}{
		{"empty store", func(*testing.T, *faultyLocal) {}, false},
		{"measurement", func(t *testing.T, s *faultyLocal) {
			seed(t, s, guestKey(t, models.KeyWeightKg), encode(t, models.Measurement{Value: 82}, t0))
		}, true},
		{"default preferences only", func(t *testing.T, s *faultyLocal) {
			seed(t, s, guestKey(t, models.KeyPreferences), encode(t, models.DefaultPreferences(), t0))
		}, false},
		{"zero profile only", func(t *testing.T, s *faultyLocal) {
			seed(t, s, guestKey(t, models.KeyProfile), encode(t, models.Profile{}, t0))
		}, false},
		{"undecodable payload", func(t *testing.T, s *faultyLocal) {
			seed(t, s, guestKey(t, models.KeyGoals), []byte("{not json"))
		}, false},
		{"wrong kind under key", func(t *testing.T, s *faultyLocal) {
			seed(t, s, guestKey(t, models.KeyGoals), encode(t, models.Measurement{Value: 3}, t0))
		}, false},
		{"read error counts as absent", func(t *testing.T, s *faultyLocal) {
			seed(t, s, guestKey(t, models.KeyWeightKg), encode(t, models.Measurement{Value: 82}, t0))
			s.failGet[guestKey(t, models.KeyWeightKg)] = errors.New("disk on fire")
		}, false},
		{"account data is not guest data", func(t *testing.T, s *faultyLocal) {
			seed(t, s, accountKey(t, models.KeyWeightKg), encode(t, models.Measurement{Value: 82}, t0))
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newFaultyLocal()
			tc.setup(t, s)
			inv := NewInventory(s, keyspace.NewResolver(), discard)
			if got := inv.HasLocalData(); got != tc.want {
				t.Errorf("HasLocalData() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestInventory_OrderingHazard(t *testing.T) {
	s := localstore.NewMemoryStore()
	seed(t, s, guestKey(t, models.KeyWeightKg), encode(t, models.Measurement{Value: 82}, t0))
	resolver := keyspace.NewResolver()
	inv := NewInventory(s, resolver, discard)

	has, err := inv.HasGuestDataForMigration()
	if err != nil || !has {
		t.Fatalf("before association: HasGuestDataForMigration() = %v, %v; want true, nil", has, err)
	}

	if err := resolver.Associate(acct); err != nil {
		t.Fatal(err)
	}

	// The same guest data must still be visible once an account is set.
	if !inv.HasLocalData() {
		t.Error("HasLocalData() = false after association, want true")
	}
	has, err = inv.HasGuestDataForMigration()
	if !errors.Is(err, ErrAccountAssociated) {
		t.Errorf("after association: err = %v, want ErrAccountAssociated", err)
	}
	if has {
		t.Error("after association: must not answer, got true")
	}
}

func TestInventory_Records(t *testing.T) {
	s := localstore.NewMemoryStore()
	seed(t, s, guestKey(t, models.KeyWeightKg), encode(t, models.Measurement{Value: 82}, t0))
	seed(t, s, guestKey(t, models.KeyGoals), encode(t, models.Goals{DailyCalories: 2200}, t0))
	seed(t, s, guestKey(t, models.KeyPreferences), encode(t, models.DefaultPreferences(), t0))

	recs := NewInventory(s, nil, discard).Records()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Key != models.KeyGoals || recs[1].Key != models.KeyWeightKg {
		t.Errorf("keys = %s, %s; want goals, weight_kg", recs[0].Key, recs[1].Key)
	}
	if !recs[0].LocalModified.Equal(t0) {
		t.Errorf("LocalModified = %v, want %v", recs[0].LocalModified, t0)
	}
	if !recs[0].Migratable() {
		t.Error("record should be migratable")
	}
}
