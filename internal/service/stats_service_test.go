package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/helpdesk-service/internal/model"
)

func TestStatsScopedByRole(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.user(t, "rosa", model.RoleRequester)
	other := e.user(t, "pedro", model.RoleRequester)
	admin := e.user(t, "admin", model.RoleAdmin)

	for i := 0; i < 2; i++ {
		_, err := e.tickets.Create(ctx, r, validInput())
		require.NoError(t, err)
	}
	in := validInput()
	in.Priority = model.PriorityUrgent
	in.Department = model.DepartmentFinance
	tk, err := e.tickets.Create(ctx, other, in)
	require.NoError(t, err)
	_, err = e.tickets.Update(ctx, admin, tk.ID, mustPatch(t, `{"status":"Cerrado"}`))
	require.NoError(t, err)

	own, err := e.stats.Stats(ctx, r)
	require.NoError(t, err)
	assert.EqualValues(t, 2, own.Total)
	assert.EqualValues(t, 2, own.Open)
	assert.Equal(t, map[string]int64{"Media": 2}, own.ByPriority)

	all, err := e.stats.Stats(ctx, admin)
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	assert.EqualValues(t, 1, all.Closed)
	assert.EqualValues(t, 1, all.ByDepartment["Finanzas"])
	assert.Len(t, all.Trend, trendDays)
}

func TestStatsAreCached(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	admin := e.user(t, "admin", model.RoleAdmin)

	first, err := e.stats.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Zero(t, first.Total)

	_, err = e.tickets.Create(ctx, admin, validInput())
	require.NoError(t, err)

	cached, err := e.stats.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Same(t, first, cached)
}

func TestDailyTrend(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	created := []time.Time{
		now.Add(-time.Hour),
		now.Add(-2 * time.Hour),
		now.AddDate(0, 0, -6),
		now.AddDate(0, 0, -20),
	}
	trend := dailyTrend(created, now, 7)
	require.Len(t, trend, 7)
	assert.Equal(t, DayCount{Date: "2024-03-04", Count: 1}, trend[0])
	assert.Equal(t, DayCount{Date: "2024-03-10", Count: 2}, trend[6])
	for _, d := range trend[1:6] {
		assert.Zero(t, d.Count)
	}
}

func TestAverageResolutionHours(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	closedA := base.Add(4 * time.Hour)
	closedB := base.Add(10 * time.Hour)
	got := averageResolutionHours([]model.Ticket{
		{CreatedAt: base, ClosedAt: &closedA},
		{CreatedAt: base, ClosedAt: &closedB},
		{CreatedAt: base},
	})
	assert.Equal(t, 7.0, got)
	assert.Zero(t, averageResolutionHours(nil))
}
