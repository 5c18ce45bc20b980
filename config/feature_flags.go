package config

import (
	"errors"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Flag names. Each reads FEATURE_<NAME> with dots as underscores, taking
// true, false or a rollout percentage 0..100.
const (
	// Reply chunks end after whitespace instead of at the exact rune limit.
	FeatureWordBoundarySplit = "chat.word_boundary_split"

	FeatureFirstCourseBonus = "scoring.first_course_bonus"

	// stats_comando_* and ultima_actividad_* counters.
	FeatureCommandCounters = "stats.command_counters"

	// `sistema penalizar`.
	FeaturePenalties = "system.penalties"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one flag and its rollout.
type Feature struct {
	Name        string
	Description string

	// RolloutPercent 0 is off, 100 is on for everyone.
	RolloutPercent int
}

// FeatureContext is who is asking.
type FeatureContext struct {
	ActorID     string
	IsModerator bool
}

// FeatureFlags holds the process flags. A partial rollout picks actors by
// a hash of flag and actor id, so an actor keeps its answer between runs.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]Feature
}

// LoadFeatureFlags reads the defaults and their FEATURE_* overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := newFeatureFlags()
	for name, f := range ff.features {
		raw := strings.TrimSpace(os.Getenv(featureEnvKey(name)))
		if raw == "" {
			continue
		}
		if on, err := strconv.ParseBool(raw); err == nil {
			f.RolloutPercent = 0
			if on {
				f.RolloutPercent = 100
			}
		} else if p, err := strconv.Atoi(raw); err == nil && p >= 0 && p <= 100 {
			f.RolloutPercent = p
		}
		ff.features[name] = f
	}
	return ff
}

func newFeatureFlags() *FeatureFlags {
	defaults := []Feature{
		{FeatureWordBoundarySplit, "Split long replies at spaces and newlines", 0},
		{FeatureFirstCourseBonus, "Bonus points for creating a first course", 100},
		{FeatureCommandCounters, "Persist command usage counters and last activity", 100},
		{FeaturePenalties, "Moderators can deduct points", 100},
	}
	ff := &FeatureFlags{features: make(map[string]Feature, len(defaults))}
	for _, f := range defaults {
		ff.features[f.Name] = f
	}
	return ff
}

// "system.penalties" -> "FEATURE_SYSTEM_PENALTIES"
func featureEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled answers for one actor. Moderators see every known flag on.
// A nil or anonymous context counts any partial rollout as on.
func (ff *FeatureFlags) IsEnabled(name string, fc *FeatureContext) bool {
	ff.mu.RLock()
	f, ok := ff.features[name]
	ff.mu.RUnlock()

	switch {
	case !ok:
		return false
	case fc != nil && fc.IsModerator:
		return true
	case f.RolloutPercent <= 0:
		return false
	case f.RolloutPercent >= 100 || fc == nil || fc.ActorID == "":
		return true
	}
	return rolloutBucket(name, fc.ActorID) < f.RolloutPercent
}

// Enabled is IsEnabled for process-wide switches.
func (ff *FeatureFlags) Enabled(name string) bool {
	return ff.IsEnabled(name, nil)
}

// ForActor binds name to a per-actor predicate for components that only
// know actor ids.
func (ff *FeatureFlags) ForActor(name string, isModerator func(string) bool) func(actorID string) bool {
	return func(actorID string) bool {
		fc := &FeatureContext{ActorID: actorID}
		if isModerator != nil {
			fc.IsModerator = isModerator(actorID)
		}
		return ff.IsEnabled(name, fc)
	}
}

func rolloutBucket(name, actorID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(actorID))
	return int(h.Sum32() % 100)
}

// SetRolloutPercent changes a flag at runtime.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.RolloutPercent = percent
	ff.features[name] = f
	return nil
}

// GetAllFeatures returns a copy of every flag.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		out[k] = v
	}
	return out
}

// Summary renders "name=percent" pairs in name order for the startup log.
func (ff *FeatureFlags) Summary() string {
	all := ff.GetAllFeatures()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + strconv.Itoa(all[name].RolloutPercent)
	}
	return strings.Join(parts, " ")
}
