package insights

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/campuspilot/internal/backend"
)

// Dashboard sections.
const (
	SectionBalance      = "balance"
	SectionTodayClasses = "today_classes"
	SectionRecentScores = "recent_scores"
	SectionWeeklyTasks  = "weekly_tasks"
)

const recentScoreLimit = 2

// Source loads the records behind the dashboard.
type Source interface {
	ListTransactions(ctx context.Context, uid string) ([]backend.Transaction, error)
	ListClasses(ctx context.Context, uid string) ([]backend.Class, error)
	ListScores(ctx context.Context, uid string) ([]backend.Score, error)
	ListTasks(ctx context.Context, uid string) ([]backend.Task, error)
}

// Dashboard is the overview for one user. A section whose load failed keeps its zero
// value and records the failure in Errors.
type Dashboard struct {
	Balance         float64
	LastTransaction *backend.Transaction
	Today           string
	TodayClasses    []backend.Class
	RecentScores    []backend.Score
	WeeklyCompleted []DayCount
	Errors          map[string]error
	UpdatedAt       time.Time
}

// Failed reports whether any section failed to load.
func (dashboard Dashboard) Failed() bool {
	return len(dashboard.Errors) > 0
}

// LoadDashboard runs the four section loads concurrently and waits for all of them.
// One failing section never prevents the others from being filled.
func LoadDashboard(ctx context.Context, source Source, uid string, now time.Time, logger *zap.Logger) Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	dashboard := Dashboard{
		Today:     Weekdays[now.Weekday()],
		Errors:    map[string]error{},
		UpdatedAt: now,
	}
	var mutex sync.Mutex
	record := func(section string, err error) {
		mutex.Lock()
		defer mutex.Unlock()
		dashboard.Errors[section] = fmt.Errorf("insights.dashboard.%s: %w", section, err)
		logger.Warn("dashboard section failed",
			zap.String("code", "insights.dashboard.section_failed"),
			zap.String("section", section),
			zap.Error(err),
		)
	}

	var group sync.WaitGroup
	group.Go(func() {
		transactions, err := source.ListTransactions(ctx, uid)
		if err != nil {
			record(SectionBalance, err)
			return
		}
		totals := ComputeTotals(transactions)
		mutex.Lock()
		dashboard.Balance = totals.Balance
		if len(transactions) > 0 {
			last := transactions[0]
			dashboard.LastTransaction = &last
		}
		mutex.Unlock()
	})
	group.Go(func() {
		classes, err := source.ListClasses(ctx, uid)
		if err != nil {
			record(SectionTodayClasses, err)
			return
		}
		today := ClassesOn(classes, now.Weekday())
		mutex.Lock()
		dashboard.TodayClasses = today
		mutex.Unlock()
	})
	group.Go(func() {
		scores, err := source.ListScores(ctx, uid)
		if err != nil {
			record(SectionRecentScores, err)
			return
		}
		if len(scores) > recentScoreLimit {
			scores = scores[:recentScoreLimit]
		}
		mutex.Lock()
		dashboard.RecentScores = scores
		mutex.Unlock()
	})
	group.Go(func() {
		tasks, err := source.ListTasks(ctx, uid)
		if err != nil {
			record(SectionWeeklyTasks, err)
			return
		}
		weekly := WeeklyCompleted(tasks)
		mutex.Lock()
		dashboard.WeeklyCompleted = weekly
		mutex.Unlock()
	})
	group.Wait()
	return dashboard
}
