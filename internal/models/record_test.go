package models

import (
	"testing"
	"time"
)

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name   string
		value  Value
		expect bool
	}{
		{"zero profile", Profile{}, true},
		{"profile with name", Profile{DisplayName: "Sam"}, false},
		{"zero measurement", Measurement{}, true},
		{"weight", Measurement{Value: 82}, false},
		{"default preferences", DefaultPreferences(), true},
		{"zero preferences", Preferences{}, true},
		{"imperial", Preferences{Units: "imperial", Theme: "system", Notifications: true, WeekStartsOn: "monday"}, false},
		{"zero goals", Goals{}, true},
		{"calorie goal", Goals{DailyCalories: 2200}, false},
		{"fresh onboarding", Onboarding{}, true},
		{"one step", Onboarding{CompletedSteps: []string{"sex"}}, false},
		{"zero metrics", BodyMetrics{}, true},
		{"waist only", BodyMetrics{WaistCm: 80}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.value.IsEmpty(); got != tc.expect {
				t.Errorf("IsEmpty() = %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestEncodeDecodePayload(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := EncodePayload(Goals{DailyCalories: 2100, WeeklyWorkouts: 3}, at)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	p, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Kind != KindGoals {
		t.Errorf("Kind = %q, want %q", p.Kind, KindGoals)
	}
	if !p.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", p.UpdatedAt, at)
	}
	g, ok := p.Value.(Goals)
	if !ok {
		t.Fatalf("Value is %T, want Goals", p.Value)
	}
	if g.DailyCalories != 2100 || g.WeeklyWorkouts != 3 {
		t.Errorf("Goals = %+v", g)
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "not json"},
		{"unknown kind", `{"kind":"sleep","data":{}}`},
		{"bad data", `{"kind":"goals","data":{"daily_calories":"lots"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodePayload([]byte(tc.raw)); err == nil {
				t.Errorf("DecodePayload(%s) returned nil error", tc.raw)
			}
		})
	}
}

func TestDecodePayloadFor_KindMismatch(t *testing.T) {
	raw, err := EncodePayload(Measurement{Value: 80}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodePayloadFor(KeyWeightKg, raw); err != nil {
		t.Errorf("DecodePayloadFor(weight_kg) = %v, want nil", err)
	}
	if _, err := DecodePayloadFor(KeyProfile, raw); err == nil {
		t.Error("DecodePayloadFor(profile) with measurement payload should fail")
	}
	if _, err := DecodePayloadFor("sleep_log", raw); err == nil {
		t.Error("DecodePayloadFor(unknown key) should fail")
	}
}

func TestLogicalKeys_Stable(t *testing.T) {
	a := LogicalKeys()
	b := LogicalKeys()
	if len(a) != 6 {
		t.Fatalf("LogicalKeys() returned %d keys, want 6", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("LogicalKeys order differs at %d: %q vs %q", i, a[i], b[i])
		}
		if _, ok := KindOf(a[i]); !ok {
			t.Errorf("KindOf(%q) not registered", a[i])
		}
	}
}
