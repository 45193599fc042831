package timeline_test

import (
	"testing"
	"time"

	"github.com/Tight5/Zero-Gate-sub000/pkg/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestGenerate_FullRunway(t *testing.T) {
	deadline := today.AddDate(0, 0, 100)
	plan, err := timeline.Generate(deadline, today, today, 0)
	require.NoError(t, err)

	require.Len(t, plan.Milestones, 4)
	offsets := []int{90, 60, 30, 7}
	for i, m := range plan.Milestones {
		assert.Equal(t, offsets[i], m.OffsetDays)
		assert.Equal(t, deadline.AddDate(0, 0, -offsets[i]), m.Date)
		assert.NotEmpty(t, m.Title)
		assert.NotEmpty(t, m.Tasks)
	}
	// Dates strictly increase as offsets decrease.
	for i := 1; i < len(plan.Milestones); i++ {
		assert.True(t, plan.Milestones[i].Date.After(plan.Milestones[i-1].Date))
	}
	assert.Equal(t, timeline.LowRisk, plan.Risk)
}

func TestGenerate_ShortRunwayOmitsEarlyMilestones(t *testing.T) {
	// 20-day runway: the 90- and 60-day checkpoints fall before today and
	// are omitted, not clamped.
	deadline := today.AddDate(0, 0, 20)
	plan, err := timeline.Generate(deadline, today, today, 0)
	require.NoError(t, err)

	for _, m := range plan.Milestones {
		assert.NotEqual(t, 90, m.OffsetDays)
		assert.NotEqual(t, 60, m.OffsetDays)
		assert.False(t, m.Date.Before(today))
	}
	require.Len(t, plan.Milestones, 1)
	assert.Equal(t, 7, plan.Milestones[0].OffsetDays)
}

func TestGenerate_IsPure(t *testing.T) {
	deadline := today.AddDate(0, 0, 45)
	first, err := timeline.Generate(deadline, today, today.AddDate(0, 0, 10), 0.3)
	require.NoError(t, err)
	second, err := timeline.Generate(deadline, today, today.AddDate(0, 0, 10), 0.3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerate_Validation(t *testing.T) {
	_, err := timeline.Generate(today, today.AddDate(0, 0, 1), today, 0)
	assert.Error(t, err)
	_, err = timeline.Generate(today.AddDate(0, 0, 10), today, today, 1.5)
	assert.Error(t, err)
}

func TestGenerate_RiskEscalation(t *testing.T) {
	deadline := today.AddDate(0, 0, 100)
	tests := []struct {
		name       string
		now        time.Time
		completion float64
		expected   timeline.RiskLevel
	}{
		{"on track early", today.AddDate(0, 0, 10), 0.1, timeline.LowRisk},
		{"far behind mid-runway", today.AddDate(0, 0, 50), 0.1, timeline.MediumRisk},
		{"behind with little runway", today.AddDate(0, 0, 80), 0.4, timeline.HighRisk},
		{"final stretch incomplete", today.AddDate(0, 0, 95), 0.5, timeline.HighRisk},
		{"final stretch nearly done", today.AddDate(0, 0, 95), 0.95, timeline.LowRisk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := timeline.Generate(deadline, today, tt.now, tt.completion)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, plan.Risk)
		})
	}
}

func TestMilestone_StatusAt(t *testing.T) {
	m := timeline.Milestone{OffsetDays: 30, Date: today.AddDate(0, 0, 10)}

	assert.Equal(t, timeline.NotStartedStatus, m.StatusAt(today, false, false))
	assert.Equal(t, timeline.InProgressStatus, m.StatusAt(today, true, false))
	assert.Equal(t, timeline.CompletedStatus, m.StatusAt(today, false, true))
	// Overdue is derived from the clock, never stored.
	assert.Equal(t, timeline.OverdueStatus, m.StatusAt(today.AddDate(0, 0, 11), true, false))
	assert.Equal(t, timeline.CompletedStatus, m.StatusAt(today.AddDate(0, 0, 11), false, true))
}
