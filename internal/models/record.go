package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Kind identifies the shape of a stored payload.
type Kind string

const (
	KindProfile     Kind = "profile"
	KindBodyMetrics Kind = "body_metrics"
	KindMeasurement Kind = "measurement"
	KindPreferences Kind = "preferences"
	KindGoals       Kind = "goals"
	KindOnboarding  Kind = "onboarding"
)

// Logical keys of user data that can exist before sign-in.
const (
	KeyProfile     = "profile"
	KeyBodyMetrics = "body_metrics"
	KeyWeightKg    = "weight_kg"
	KeyPreferences = "preferences"
	KeyGoals       = "goals"
	KeyOnboarding  = "onboarding"
)

// catalog maps each logical key to the kind of payload stored under it.
var catalog = map[string]Kind{
	KeyProfile:     KindProfile,
	KeyBodyMetrics: KindBodyMetrics,
	KeyWeightKg:    KindMeasurement,
	KeyPreferences: KindPreferences,
	KeyGoals:       KindGoals,
	KeyOnboarding:  KindOnboarding,
}

// LogicalKeys returns every known logical key in a stable order.
func LogicalKeys() []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KindOf returns the payload kind registered for a logical key.
func KindOf(key string) (Kind, bool) {
	k, ok := catalog[key]
	return k, ok
}

// Value is one typed user-data payload.
type Value interface {
	Kind() Kind
	// IsEmpty reports whether the value is zero or equal to the product default.
	IsEmpty() bool
}

// Profile holds the basic personal details collected during onboarding.
type Profile struct {
	DisplayName   string  `json:"display_name,omitempty"`
	Sex           string  `json:"sex,omitempty"`
	BirthDate     string  `json:"birth_date,omitempty"` // YYYY-MM-DD
	HeightCm      float64 `json:"height_cm,omitempty"`
	ActivityLevel string  `json:"activity_level,omitempty"`
}

func (Profile) Kind() Kind { return KindProfile }

func (p Profile) IsEmpty() bool { return p == Profile{} }

// BodyMetrics is the latest body composition snapshot.
type BodyMetrics struct {
	WeightKg   float64 `json:"weight_kg,omitempty"`
	BodyFatPct float64 `json:"body_fat_pct,omitempty"`
	WaistCm    float64 `json:"waist_cm,omitempty"`
}

func (BodyMetrics) Kind() Kind { return KindBodyMetrics }

func (m BodyMetrics) IsEmpty() bool { return m == BodyMetrics{} }

// Measurement is a single scalar reading such as weight_kg.
type Measurement struct {
	Value float64 `json:"value"`
}

func (Measurement) Kind() Kind { return KindMeasurement }

func (m Measurement) IsEmpty() bool { return m.Value == 0 }

// Preferences are app settings. Values equal to DefaultPreferences are not
// worth migrating.
type Preferences struct {
	Units         string `json:"units,omitempty"` // "metric" or "imperial"
	Theme         string `json:"theme,omitempty"`
	Notifications bool   `json:"notifications"`
	WeekStartsOn  string `json:"week_starts_on,omitempty"`
}

// DefaultPreferences returns the settings a fresh install starts with.
func DefaultPreferences() Preferences {
	return Preferences{Units: "metric", Theme: "system", Notifications: true, WeekStartsOn: "monday"}
}

func (Preferences) Kind() Kind { return KindPreferences }

func (p Preferences) IsEmpty() bool {
	return p == Preferences{} || p == DefaultPreferences()
}

// Goals are the user's nutrition and training targets.
type Goals struct {
	TargetWeightKg float64 `json:"target_weight_kg,omitempty"`
	DailyCalories  int     `json:"daily_calories,omitempty"`
	ProteinGrams   int     `json:"protein_grams,omitempty"`
	WeeklyWorkouts int     `json:"weekly_workouts,omitempty"`
}

func (Goals) Kind() Kind { return KindGoals }

func (g Goals) IsEmpty() bool { return g == Goals{} }

// Onboarding tracks how far the user got through the setup wizard.
type Onboarding struct {
	CompletedSteps []string `json:"completed_steps,omitempty"`
	Completed      bool     `json:"completed"`
}

func (Onboarding) Kind() Kind { return KindOnboarding }

func (o Onboarding) IsEmpty() bool { return !o.Completed && len(o.CompletedSteps) == 0 }

// Payload is a decoded stored value together with its modification time.
type Payload struct {
	Kind      Kind
	UpdatedAt time.Time
	Value     Value
}

// IsEmpty reports whether the payload carries nothing worth keeping.
func (p *Payload) IsEmpty() bool {
	return p == nil || p.Value == nil || p.Value.IsEmpty()
}

// envelope is the on-disk and on-wire representation of a payload.
type envelope struct {
	Kind      Kind            `json:"kind"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// EncodePayload serializes a value into the stored envelope format.
func EncodePayload(v Value, updatedAt time.Time) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", v.Kind(), err)
	}
	return json.Marshal(envelope{Kind: v.Kind(), UpdatedAt: updatedAt.UTC(), Data: data})
}

// DecodePayload parses a stored envelope into its typed value.
func DecodePayload(raw []byte) (*Payload, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	v, err := newValue(env.Kind)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return nil, fmt.Errorf("parsing %s data: %w", env.Kind, err)
		}
	}
	return &Payload{Kind: env.Kind, UpdatedAt: env.UpdatedAt, Value: deref(v)}, nil
}

// DecodePayloadFor decodes raw and checks it has the kind registered for key.
func DecodePayloadFor(key string, raw []byte) (*Payload, error) {
	want, ok := KindOf(key)
	if !ok {
		return nil, fmt.Errorf("unknown logical key %q", key)
	}
	p, err := DecodePayload(raw)
	if err != nil {
		return nil, err
	}
	if p.Kind != want {
		return nil, fmt.Errorf("key %q holds %s payload, want %s", key, p.Kind, want)
	}
	return p, nil
}

func newValue(kind Kind) (any, error) {
	switch kind {
	case KindProfile:
		return &Profile{}, nil
	case KindBodyMetrics:
		return &BodyMetrics{}, nil
	case KindMeasurement:
		return &Measurement{}, nil
	case KindPreferences:
		return &Preferences{}, nil
	case KindGoals:
		return &Goals{}, nil
	case KindOnboarding:
		return &Onboarding{}, nil
	}
	return nil, fmt.Errorf("unknown payload kind %q", kind)
}

func deref(v any) Value {
	switch t := v.(type) {
	case *Profile:
		return *t
	case *BodyMetrics:
		return *t
	case *Measurement:
		return *t
	case *Preferences:
		return *t
	case *Goals:
		return *t
	case *Onboarding:
		return *t
	}
	return nil
}

// MigrationRecord is one logical unit of user data considered for migration.
type MigrationRecord struct {
	Key            string     `json:"key"`
	GuestValue     []byte     `json:"guest_value,omitempty"`
	RemoteValue    []byte     `json:"remote_value,omitempty"`
	LocalModified  time.Time  `json:"last_local_modified"`
	RemoteModified *time.Time `json:"last_remote_modified,omitempty"`
}

// Migratable reports whether the record has a guest value to move.
func (r *MigrationRecord) Migratable() bool {
	return len(r.GuestValue) > 0
}
