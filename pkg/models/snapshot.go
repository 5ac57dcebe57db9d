package models

import "time"

// SourceStatus records how a single collector fared during one monitor
// cycle. A failed source is an explicit marker, so downstream rules can
// tell "no data" apart from "value is legitimately zero".
type SourceStatus struct {
	Collector string        `json:"collector"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// TaskStats summarizes the tenant's task state.
type TaskStats struct {
	Created24h int `json:"created_24h"`
	Due        int `json:"due"`
	Overdue    int `json:"overdue"`
}

// SleepStats holds nightly sleep hours for the trailing week, most recent last.
type SleepStats struct {
	HoursLast7d []float64 `json:"hours_last_7d"`
}

// Average returns the mean nightly hours, or 0 when no nights are recorded.
func (s *SleepStats) Average() float64 {
	if len(s.HoursLast7d) == 0 {
		return 0
	}
	var sum float64
	for _, h := range s.HoursLast7d {
		sum += h
	}
	return sum / float64(len(s.HoursLast7d))
}

// ActivityStats holds daily active minutes for the trailing week.
type ActivityStats struct {
	MinutesLast7d []float64 `json:"minutes_last_7d"`
}

// Average returns the mean daily active minutes.
func (a *ActivityStats) Average() float64 {
	if len(a.MinutesLast7d) == 0 {
		return 0
	}
	var sum float64
	for _, m := range a.MinutesLast7d {
		sum += m
	}
	return sum / float64(len(a.MinutesLast7d))
}

// MoodStats summarizes recent mood log entries.
type MoodStats struct {
	CurrentMood   string `json:"current_mood,omitempty"`
	EnergyLevel   int    `json:"energy_level"`
	Entries24h    int    `json:"entries_24h"`
	Negative24h   int    `json:"negative_24h"`
	Interactions3d int   `json:"interactions_3d"`
}

// CalendarStats summarizes the upcoming schedule.
type CalendarStats struct {
	Events24h          int `json:"events_24h"`
	NextMeetingMinutes int `json:"next_meeting_minutes"`
	FreeBlocks24h      int `json:"free_blocks_24h"`
}

// GoalTrajectory is the monitored trend of a tracked goal.
type GoalTrajectory string

const (
	GoalOnTrack  GoalTrajectory = "on_track"
	GoalAtRisk   GoalTrajectory = "at_risk"
	GoalOffTrack GoalTrajectory = "off_track"
)

// GoalStatus is one tracked goal with its current trajectory.
type GoalStatus struct {
	Name       string         `json:"name"`
	Category   string         `json:"category,omitempty"`
	Trajectory GoalTrajectory `json:"trajectory"`
}

// GoalStats holds the tenant's tracked goals.
type GoalStats struct {
	Goals []GoalStatus `json:"goals"`
}

// IntegrationStats reports which external integrations are connected and
// when each last synced.
type IntegrationStats struct {
	Connected []string             `json:"connected"`
	LastSync  map[string]time.Time `json:"last_sync,omitempty"`
}

// SystemStats summarizes the agent's own recent behavior.
type SystemStats struct {
	Executions24h    int     `json:"executions_24h"`
	SuccessRate      float64 `json:"success_rate"`
	ApprovalRate     float64 `json:"approval_rate"`
	HandlerErrorRate float64 `json:"handler_error_rate"`
	QueueDepth       int     `json:"queue_depth"`
}

// Snapshot is the aggregated monitor output for one cycle. A nil section
// pointer means that collector did not produce data; Sources says why.
type Snapshot struct {
	TenantID     string                  `json:"tenant_id"`
	TakenAt      time.Time               `json:"taken_at"`
	Tasks        *TaskStats              `json:"tasks,omitempty"`
	Sleep        *SleepStats             `json:"sleep,omitempty"`
	Activity     *ActivityStats          `json:"activity,omitempty"`
	Mood         *MoodStats              `json:"mood,omitempty"`
	Calendar     *CalendarStats          `json:"calendar,omitempty"`
	Goals        *GoalStats              `json:"goals,omitempty"`
	Integrations *IntegrationStats       `json:"integrations,omitempty"`
	System       *SystemStats            `json:"system,omitempty"`
	Sources      map[string]SourceStatus `json:"sources"`
}
