package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/policy"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

const (
	trendDays   = 7
	averageDays = 30
)

type Stats struct {
	Total              int64            `json:"total"`
	Open               int64            `json:"open"`
	InProgress         int64            `json:"in_progress"`
	Closed             int64            `json:"closed"`
	ByStatus           map[string]int64 `json:"by_status"`
	ByPriority         map[string]int64 `json:"by_priority"`
	ByDepartment       map[string]int64 `json:"by_department"`
	AvgResolutionHours float64          `json:"avg_resolution_hours"`
	Trend              []DayCount       `json:"trend"`
	DailyAverage30d    float64          `json:"daily_average_30d"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// StatsService считает агрегаты в том же scope, что и список тикетов.
type StatsService struct {
	tickets *store.TicketStore
	cache   StatsCache
	log     *slog.Logger
	now     func() time.Time
}

func NewStatsService(tickets *store.TicketStore, cache StatsCache, log *slog.Logger) *StatsService {
	return &StatsService{
		tickets: tickets,
		cache:   cache,
		log:     log.With("component", "stats_service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *StatsService) Stats(ctx context.Context, actor *model.User) (*Stats, error) {
	a := policy.ActorOf(actor)
	key := fmt.Sprintf("%s:%d", a.Role, a.ID)
	if v, ok := s.cache.Get(ctx, key); ok {
		return v, nil
	}
	v, err := s.compute(ctx, policy.Scope(a))
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, v)
	return v, nil
}

func (s *StatsService) compute(ctx context.Context, scope policy.TicketScope) (*Stats, error) {
	st := &Stats{}
	var err error
	if st.ByStatus, err = s.tickets.CountBy(ctx, scope, "status"); err != nil {
		return nil, err
	}
	if st.ByPriority, err = s.tickets.CountBy(ctx, scope, "priority"); err != nil {
		return nil, err
	}
	if st.ByDepartment, err = s.tickets.CountBy(ctx, scope, "department"); err != nil {
		return nil, err
	}
	for _, n := range st.ByStatus {
		st.Total += n
	}
	st.Open = st.ByStatus[string(model.TicketStatusNew)]
	st.InProgress = st.ByStatus[string(model.TicketStatusInProgress)]
	st.Closed = st.ByStatus[string(model.TicketStatusResolved)] + st.ByStatus[string(model.TicketStatusClosed)]

	closed, err := s.tickets.ClosedPeriods(ctx, scope)
	if err != nil {
		return nil, err
	}
	st.AvgResolutionHours = averageResolutionHours(closed)

	now := s.now()
	created, err := s.tickets.CreatedSince(ctx, scope, now.AddDate(0, 0, -averageDays))
	if err != nil {
		return nil, err
	}
	st.Trend = dailyTrend(created, now, trendDays)
	st.DailyAverage30d = round2(float64(len(created)) / averageDays)
	return st, nil
}

func averageResolutionHours(closed []model.Ticket) float64 {
	var sum float64
	var n int
	for _, t := range closed {
		if t.ClosedAt == nil {
			continue
		}
		sum += t.ClosedAt.Sub(t.CreatedAt).Hours()
		n++
	}
	if n == 0 {
		return 0
	}
	return round2(sum / float64(n))
}

// dailyTrend — созданные тикеты по дням (UTC) за последние days дней, от старых к новым, включая сегодня.
func dailyTrend(created []time.Time, now time.Time, days int) []DayCount {
	counts := make(map[string]int64, days)
	for _, c := range created {
		counts[c.UTC().Format(time.DateOnly)]++
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]DayCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := today.AddDate(0, 0, -i).Format(time.DateOnly)
		out = append(out, DayCount{Date: d, Count: counts[d]})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
