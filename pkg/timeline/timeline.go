// Package timeline generates backwards-planned grant timelines: milestones
// counted backward from a fixed deadline rather than forward from a start
// date. Generate is a pure function; the clock is a parameter, never read.
package timeline

import (
	"time"

	"github.com/pkg/errors"
)

type RiskLevel string

const (
	LowRisk    RiskLevel = "low"
	MediumRisk RiskLevel = "medium"
	HighRisk   RiskLevel = "high"
)

type MilestoneStatus string

const (
	NotStartedStatus MilestoneStatus = "not_started"
	InProgressStatus MilestoneStatus = "in_progress"
	CompletedStatus  MilestoneStatus = "completed"
	OverdueStatus    MilestoneStatus = "overdue"
)

// Milestone is one backwards-planned checkpoint.
type Milestone struct {
	OffsetDays int       `json:"offset_days"`
	Title      string    `json:"title"`
	Tasks      []string  `json:"task_list"`
	Date       time.Time `json:"date"`
}

// StatusAt derives the milestone's status; overdue is never stored.
func (m Milestone) StatusAt(now time.Time, started, completed bool) MilestoneStatus {
	if completed {
		return CompletedStatus
	}
	if now.After(m.Date) {
		return OverdueStatus
	}
	if started {
		return InProgressStatus
	}
	return NotStartedStatus
}

// Plan is the generated milestone sequence plus its risk classification.
type Plan struct {
	Deadline   time.Time   `json:"deadline"`
	Start      time.Time   `json:"start"`
	Milestones []Milestone `json:"milestones"`
	Risk       RiskLevel   `json:"risk_level"`
}

// checkpoint is the fixed backwards-planning template. Offsets descend so
// milestone dates ascend.
type checkpoint struct {
	offsetDays int
	title      string
	tasks      []string
}

var checkpoints = []checkpoint{
	{90, "Strategy & Research", []string{
		"Confirm eligibility and fit",
		"Research funder priorities and past awards",
		"Define project goals and outcomes",
		"Identify internal stakeholders",
	}},
	{60, "Drafting & Review", []string{
		"Draft narrative sections",
		"Build project budget",
		"Collect letters of support",
		"Internal review of first draft",
	}},
	{30, "Finalization", []string{
		"Incorporate review feedback",
		"Finalize budget and attachments",
		"Executive sign-off",
	}},
	{7, "Submission Prep", []string{
		"Final proofread",
		"Verify portal credentials and forms",
		"Submit with buffer for technical issues",
	}},
}

// Generate plans backward from deadline. start is the beginning of the
// runway and now the moment of generation; completion in [0,1] is the
// caller-reported share of work done. Checkpoints whose date falls before
// now are omitted, not clamped: an 80-day runway simply has no 90-day
// milestone.
func Generate(deadline, start, now time.Time, completion float64) (Plan, error) {
	if !deadline.After(start) {
		return Plan{}, errors.New("deadline must be after start")
	}
	if completion < 0 || completion > 1 {
		return Plan{}, errors.Errorf("completion %v out of [0,1]", completion)
	}
	plan := Plan{Deadline: deadline, Start: start}
	for _, cp := range checkpoints {
		date := deadline.AddDate(0, 0, -cp.offsetDays)
		if date.Before(now) {
			continue
		}
		plan.Milestones = append(plan.Milestones, Milestone{
			OffsetDays: cp.offsetDays,
			Title:      cp.title,
			Tasks:      append([]string(nil), cp.tasks...),
			Date:       date,
		})
	}
	plan.Risk = riskLevel(deadline, start, now, completion)
	return plan, nil
}

// Risk escalates when little runway remains and completion lags the share
// of runway already spent.
func riskLevel(deadline, start, now time.Time, completion float64) RiskLevel {
	total := deadline.Sub(start)
	if total <= 0 {
		return HighRisk
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}
	elapsedFrac := float64(elapsed) / float64(total)
	remainingFrac := 1 - elapsedFrac
	behind := elapsedFrac - completion

	switch {
	case remainingFrac < 0.1 && completion < 0.9:
		return HighRisk
	case remainingFrac < 0.25 && behind > 0.25:
		return HighRisk
	case behind > 0.25:
		return MediumRisk
	case remainingFrac < 0.25 && behind > 0:
		return MediumRisk
	}
	return LowRisk
}
