package migration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/rflorenc/fitsync/internal/models"
)

// Strategy decides which side wins when a guest record and its remote copy
// disagree.
type Strategy string

const (
	StrategyRemoteWins Strategy = "remote_wins"
	StrategyLocalWins  Strategy = "local_wins"
	StrategyNewerWins  Strategy = "newer_wins"
	StrategyMerge      Strategy = "merge"
)

// ParseStrategy validates a strategy name. An empty name is remote_wins.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyRemoteWins, nil
	case StrategyRemoteWins, StrategyLocalWins, StrategyNewerWins, StrategyMerge:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Policy maps logical keys to strategies.
type Policy struct {
	Default   Strategy
	Overrides map[string]Strategy
}

// DefaultPolicy keeps the remote copy, except for point-in-time body
// measurements where the fresher reading is always the right one.
func DefaultPolicy() Policy {
	return Policy{
		Default: StrategyRemoteWins,
		Overrides: map[string]Strategy{
			models.KeyWeightKg:    StrategyNewerWins,
			models.KeyBodyMetrics: StrategyNewerWins,
		},
	}
}

// NewPolicy builds a Policy from configuration strings.
func NewPolicy(def string, overrides map[string]string) (Policy, error) {
	d, err := ParseStrategy(def)
	if err != nil {
		return Policy{}, err
	}
	p := Policy{Default: d, Overrides: make(map[string]Strategy, len(overrides))}
	for key, name := range overrides {
		if _, ok := models.KindOf(key); !ok {
			return Policy{}, fmt.Errorf("conflict override for unknown key %q", key)
		}
		s, err := ParseStrategy(name)
		if err != nil {
			return Policy{}, fmt.Errorf("conflict override for %q: %w", key, err)
		}
		p.Overrides[key] = s
	}
	return p, nil
}

// StrategyFor returns the strategy that applies to key.
func (p Policy) StrategyFor(key string) Strategy {
	if s, ok := p.Overrides[key]; ok {
		return s
	}
	if p.Default == "" {
		return StrategyRemoteWins
	}
	return p.Default
}

// Decision is the outcome of resolving one conflict. Warning is set when
// the choice was not clear cut.
type Decision struct {
	Resolution models.ConflictResolution
	Warning    string
}

// Resolve picks a winner for key given the local and remote payloads. It is
// a pure function of its inputs.
func (p Policy) Resolve(key string, local, remote []byte) Decision {
	remoteP, err := models.DecodePayloadFor(key, remote)
	if err != nil {
		return keepRemote(fmt.Sprintf("%s: remote copy not understood, keeping it: %v", key, err))
	}
	localP, err := models.DecodePayloadFor(key, local)
	if err != nil {
		return keepRemote(fmt.Sprintf("%s: local copy not understood, keeping remote: %v", key, err))
	}
	if localP.IsEmpty() {
		return Decision{Resolution: models.ConflictResolution{Action: models.ResolutionKeepRemote, Reason: "local copy is empty"}}
	}
	if remoteP.IsEmpty() {
		return Decision{Resolution: models.ConflictResolution{Action: models.ResolutionKeepLocal, Reason: "remote copy is empty"}}
	}

	strategy := p.StrategyFor(key)
	switch strategy {
	case StrategyLocalWins:
		return Decision{Resolution: models.ConflictResolution{Action: models.ResolutionKeepLocal, Reason: string(strategy)}}

	case StrategyNewerWins:
		switch {
		case localP.UpdatedAt.After(remoteP.UpdatedAt):
			return Decision{Resolution: models.ConflictResolution{Action: models.ResolutionKeepLocal, Reason: "local copy is newer"}}
		case remoteP.UpdatedAt.After(localP.UpdatedAt):
			return Decision{Resolution: models.ConflictResolution{Action: models.ResolutionKeepRemote, Reason: "remote copy is newer"}}
		}
		return keepRemote(fmt.Sprintf("%s: both copies changed at %s, keeping remote\n%s",
			key, remoteP.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"), payloadDiff(local, remote)))

	case StrategyMerge:
		merged, ok := mergeValues(localP.Value, remoteP.Value)
		if !ok {
			return keepRemote(fmt.Sprintf("%s: %s values cannot be merged, keeping remote\n%s",
				key, remoteP.Kind, payloadDiff(local, remote)))
		}
		if reflect.DeepEqual(merged, remoteP.Value) {
			return Decision{Resolution: models.ConflictResolution{Action: models.ResolutionKeepRemote, Reason: "merge adds nothing to remote"}}
		}
		at := remoteP.UpdatedAt
		if localP.UpdatedAt.After(at) {
			at = localP.UpdatedAt
		}
		raw, err := models.EncodePayload(merged, at)
		if err != nil {
			return keepRemote(fmt.Sprintf("%s: encoding merged value failed, keeping remote: %v", key, err))
		}
		return Decision{Resolution: models.ConflictResolution{Action: models.ResolutionMerge, Merged: raw, Reason: string(strategy)}}
	}

	return Decision{Resolution: models.ConflictResolution{Action: models.ResolutionKeepRemote, Reason: string(StrategyRemoteWins)}}
}

func keepRemote(warning string) Decision {
	return Decision{
		Resolution: models.ConflictResolution{Action: models.ResolutionKeepRemote, Reason: "ambiguous"},
		Warning:    warning,
	}
}

// SameContent reports whether two payloads carry equal values, ignoring
// their timestamps.
func SameContent(key string, a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	pa, err := models.DecodePayloadFor(key, a)
	if err != nil {
		return false
	}
	pb, err := models.DecodePayloadFor(key, b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(pa.Value, pb.Value)
}

// mergeValues fills empty remote fields from local. Remote fields that are
// set always win.
func mergeValues(local, remote models.Value) (models.Value, bool) {
	switch r := remote.(type) {
	case models.Profile:
		l := local.(models.Profile)
		r.DisplayName = firstString(r.DisplayName, l.DisplayName)
		r.Sex = firstString(r.Sex, l.Sex)
		r.BirthDate = firstString(r.BirthDate, l.BirthDate)
		r.HeightCm = firstFloat(r.HeightCm, l.HeightCm)
		r.ActivityLevel = firstString(r.ActivityLevel, l.ActivityLevel)
		return r, true
	case models.BodyMetrics:
		l := local.(models.BodyMetrics)
		r.WeightKg = firstFloat(r.WeightKg, l.WeightKg)
		r.BodyFatPct = firstFloat(r.BodyFatPct, l.BodyFatPct)
		r.WaistCm = firstFloat(r.WaistCm, l.WaistCm)
		return r, true
	case models.Goals:
		l := local.(models.Goals)
		r.TargetWeightKg = firstFloat(r.TargetWeightKg, l.TargetWeightKg)
		r.DailyCalories = firstInt(r.DailyCalories, l.DailyCalories)
		r.ProteinGrams = firstInt(r.ProteinGrams, l.ProteinGrams)
		r.WeeklyWorkouts = firstInt(r.WeeklyWorkouts, l.WeeklyWorkouts)
		return r, true
	case models.Onboarding:
		l := local.(models.Onboarding)
		steps := make(map[string]bool)
		for _, s := range r.CompletedSteps {
			steps[s] = true
		}
		for _, s := range l.CompletedSteps {
			steps[s] = true
		}
		r.CompletedSteps = make([]string, 0, len(steps))
		for s := range steps {
			r.CompletedSteps = append(r.CompletedSteps, s)
		}
		sort.Strings(r.CompletedSteps)
		r.Completed = r.Completed || l.Completed
		return r, true
	}
	return nil, false
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstFloat(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// payloadDiff renders a unified diff of two payloads for warnings.
func payloadDiff(local, remote []byte) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(indent(local)),
		B:        difflib.SplitLines(indent(remote)),
		FromFile: "local",
		ToFile:   "remote",
		Context:  1,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return strings.TrimRight(text, "\n")
}

func indent(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw) + "\n"
	}
	buf.WriteByte('\n')
	return buf.String()
}
