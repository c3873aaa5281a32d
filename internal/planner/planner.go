// Package planner implements the per-iteration decision the agent loop
// acts on: which mission to run, or which autonomous mode, or whether to
// wait or pause instead.
package planner

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jaakkos/koanctl/internal/domain"
	"github.com/jaakkos/koanctl/internal/missions"
)

// Kind discriminates the planner's decision variants.
type Kind int

const (
	KindMission Kind = iota
	KindAutonomous
	KindContemplative
	KindFocusWait
	KindScheduleWait
	KindWaitPause
	KindError
)

// Decision is the planner's tagged-variant output for one iteration.
type Decision struct {
	Kind Kind

	Project        string
	MissionTitle   string
	AutonomousMode domain.AutonomousMode
	FocusArea      string

	WaitRemaining time.Duration
	PauseReason   domain.PauseReason

	ErrorMessage string

	DisplayLines     []string
	AvailablePercent float64
}

// SchedulePredicate reports whether the current time is within allowed
// working hours; nil means "always allowed".
type SchedulePredicate func(now time.Time) bool

// FocusState carries an optional externally-maintained focus session: a
// project the human has asked the loop to concentrate on, with a
// remaining duration.
type FocusState struct {
	Project   string
	Remaining time.Duration
}

// Input bundles everything the planner reads for one iteration.
type Input struct {
	Now               time.Time
	RunNumber         int
	MaxRunsPerIter    int
	Projects          []string
	LastProject       string
	MissionsContent   string
	Usage             domain.UsageState
	MaxMissionsPerRun int
	Focus             *FocusState
	Schedule          SchedulePredicate
	Rand              *rand.Rand
}

// reviewThreshold is the available-quota fraction below which review mode
// is chosen; deepProbability is the chance of deep mode when more than 60%
// of the quota is available.
const (
	reviewThreshold = 0.25
	deepProbability = 0.15
)

// Plan chooses the next action for one loop iteration.
func Plan(in Input) Decision {
	if len(in.Projects) == 0 {
		return Decision{Kind: KindError, ErrorMessage: "no projects configured"}
	}

	available := AvailablePercent(in.Usage, in.MaxMissionsPerRun, in.Now)
	display := []string{fmt.Sprintf("quota available: %.0f%%", available*100)}

	if available <= 0 {
		return Decision{Kind: KindWaitPause, PauseReason: domain.PauseReasonQuota, DisplayLines: display, AvailablePercent: available}
	}
	if in.RunNumber >= in.MaxRunsPerIter {
		return Decision{Kind: KindWaitPause, PauseReason: domain.PauseReasonMaxRuns, DisplayLines: display, AvailablePercent: available}
	}

	if in.Focus != nil && in.Focus.Remaining > 0 {
		return Decision{Kind: KindFocusWait, WaitRemaining: in.Focus.Remaining, DisplayLines: display, AvailablePercent: available}
	}

	if in.Schedule != nil && !in.Schedule(in.Now) {
		return Decision{Kind: KindScheduleWait, DisplayLines: display, AvailablePercent: available}
	}

	project := selectProject(in)

	next := missions.ExtractNextPending(in.MissionsContent, project)
	if next != "" {
		title := missions.CleanMissionDisplay(next, 4096)
		return Decision{Kind: KindMission, Project: project, MissionTitle: title, DisplayLines: display, AvailablePercent: available}
	}

	// No project-scoped pending mission; fall back to any pending mission
	// regardless of tag before resorting to autonomous work.
	if anyNext := missions.ExtractNextPending(in.MissionsContent, ""); anyNext != "" {
		title := missions.CleanMissionDisplay(anyNext, 4096)
		taggedProject := missions.ExtractProjectTag(anyNext)
		return Decision{Kind: KindMission, Project: taggedProject, MissionTitle: title, DisplayLines: display, AvailablePercent: available}
	}

	mode := selectAutonomousMode(in, available)
	return Decision{Kind: KindAutonomous, Project: project, AutonomousMode: mode, FocusArea: project, DisplayLines: display, AvailablePercent: available}
}

// selectProject applies the project selection policy: a pending mission
// with a project tag wins; otherwise round-robin from LastProject.
func selectProject(in Input) string {
	sections := missions.ParseSections(in.MissionsContent)
	for _, item := range sections["pending"] {
		tag := missions.ExtractProjectTag(item)
		if tag != "" && tag != domain.DefaultProject {
			for _, p := range in.Projects {
				if strings.EqualFold(p, tag) {
					return p
				}
			}
		}
	}
	return roundRobin(in.Projects, in.LastProject)
}

// roundRobin returns the project immediately after last in the list,
// wrapping around; it returns the first project if last is unknown.
func roundRobin(projects []string, last string) string {
	for i, p := range projects {
		if strings.EqualFold(p, last) {
			return projects[(i+1)%len(projects)]
		}
	}
	return projects[0]
}

// selectAutonomousMode picks review/implement/deep per the quota-driven
// policy: review when quota is thin, occasionally deep when quota is
// ample, implement otherwise.
func selectAutonomousMode(in Input, available float64) domain.AutonomousMode {
	if available < reviewThreshold {
		return domain.ModeReview
	}
	r := in.Rand
	if r == nil {
		r = rand.New(rand.NewSource(in.Now.UnixNano()))
	}
	if available > 0.6 && r.Float64() < deepProbability {
		return domain.ModeDeep
	}
	return domain.ModeImplement
}

// ContemplativeChance is the probability MaybeContemplative uses to decide
// on a read-only reflection session. The loop's pause handler does not use
// it; it applies its own 50% chance.
const ContemplativeChance = 0.05

// MaybeContemplative decides whether an idle cycle should run a
// contemplative reflection for the given project.
func MaybeContemplative(project string, r *rand.Rand) (Decision, bool) {
	if r.Float64() >= ContemplativeChance {
		return Decision{}, false
	}
	return Decision{Kind: KindContemplative, Project: project}, true
}
