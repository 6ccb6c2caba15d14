package insights

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/campuspilot/internal/backend"
)

func TestComputeTotals(t *testing.T) {
	testCases := []struct {
		name         string
		transactions []backend.Transaction
		expected     Totals
	}{
		{name: "empty", expected: Totals{}},
		{
			name: "mixed",
			transactions: []backend.Transaction{
				{Type: backend.TransactionIncome, Amount: 500},
				{Type: backend.TransactionExpense, Amount: 120.5},
				{Type: backend.TransactionExpense, Amount: 79.5},
				{Type: "refund", Amount: 1000},
			},
			expected: Totals{Income: 500, Expense: 200, Balance: 300},
		},
		{
			name:         "overspent",
			transactions: []backend.Transaction{{Type: backend.TransactionExpense, Amount: 40}},
			expected:     Totals{Expense: 40, Balance: -40},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if totals := ComputeTotals(testCase.transactions); totals != testCase.expected {
				t.Fatalf("expected %+v, got %+v", testCase.expected, totals)
			}
		})
	}
}

func TestExpensesByCategory(t *testing.T) {
	transactions := []backend.Transaction{
		{Type: backend.TransactionExpense, Category: "Food", Amount: 10},
		{Type: backend.TransactionIncome, Category: "Salary", Amount: 900},
		{Type: backend.TransactionExpense, Amount: 5},
		{Type: backend.TransactionExpense, Category: "Food", Amount: 2.5},
		{Type: backend.TransactionExpense, Category: "Books", Amount: 0},
		{Type: backend.TransactionExpense, Category: "  ", Amount: 1},
	}
	totals := ExpensesByCategory(transactions)
	expected := []CategoryTotal{{Category: "Food", Amount: 12.5}, {Category: UncategorizedExpense, Amount: 6}}
	if len(totals) != len(expected) {
		t.Fatalf("expected %d categories, got %+v", len(expected), totals)
	}
	for index := range expected {
		if totals[index] != expected[index] {
			t.Fatalf("row %d: expected %+v, got %+v", index, expected[index], totals[index])
		}
	}
}

func TestMonthly(t *testing.T) {
	transactions := []backend.Transaction{
		{Type: backend.TransactionIncome, Amount: 100, Date: "2025-01-15"},
		{Type: backend.TransactionExpense, Amount: 30, Date: "2025-01-20T10:00:00Z"},
		{Type: backend.TransactionExpense, Amount: 7, Date: "2025-12-31T23:00:00.000Z"},
		{Type: backend.TransactionIncome, Amount: 999, Date: "2024-01-15"},
		{Type: backend.TransactionIncome, Amount: 999, Date: "not a date"},
		{Type: backend.TransactionIncome, Amount: 999},
	}
	rows := Monthly(transactions, 2025)
	if len(rows) != 12 {
		t.Fatalf("expected 12 rows, got %d", len(rows))
	}
	if rows[0].Month != "Jan" || rows[0].Income != 100 || rows[0].Expense != 30 {
		t.Fatalf("unexpected January row %+v", rows[0])
	}
	if rows[11].Month != "Dec" || rows[11].Expense != 7 {
		t.Fatalf("unexpected December row %+v", rows[11])
	}
	for _, row := range rows[1:11] {
		if row.Income != 0 || row.Expense != 0 {
			t.Fatalf("expected empty row, got %+v", row)
		}
	}
}

func TestWeeklyCompleted(t *testing.T) {
	tasks := []backend.Task{
		{Day: "Mon", Status: backend.TaskCompleted},
		{Day: "Mon", Status: backend.TaskCompleted},
		{Day: "Mon", Status: backend.TaskPending},
		{Day: "Sun", Status: backend.TaskCompleted},
		{Day: "Someday", Status: backend.TaskCompleted},
	}
	counts := WeeklyCompleted(tasks)
	if len(counts) != 7 || counts[0].Day != "Sun" || counts[6].Day != "Sat" {
		t.Fatalf("expected Sun..Sat rows, got %+v", counts)
	}
	if counts[0].Completed != 1 || counts[1].Completed != 2 || counts[2].Completed != 0 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestClassesOnAndCountTasks(t *testing.T) {
	classes := []backend.Class{{Subject: "Math", Day: "Wed"}, {Subject: "Art", Day: "Thu"}, {Subject: "Physics", Day: "Wed"}}
	wednesday := ClassesOn(classes, time.Wednesday)
	if len(wednesday) != 2 || wednesday[0].Subject != "Math" || wednesday[1].Subject != "Physics" {
		t.Fatalf("unexpected classes %+v", wednesday)
	}
	if len(ClassesOn(classes, time.Sunday)) != 0 {
		t.Fatalf("expected no classes on Sunday")
	}

	counts := CountTasks([]backend.Task{{Status: backend.TaskCompleted}, {Status: backend.TaskPending}, {Status: backend.TaskPending}})
	if counts != (TaskCounts{Total: 3, Completed: 1, Pending: 2}) {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

type stubSource struct {
	transactions    []backend.Transaction
	classes         []backend.Class
	scores          []backend.Score
	tasks           []backend.Task
	transactionsErr error
	classesErr      error
	scoresErr       error
	tasksErr        error
}

func (source stubSource) ListTransactions(ctx context.Context, uid string) ([]backend.Transaction, error) {
	return source.transactions, source.transactionsErr
}

func (source stubSource) ListClasses(ctx context.Context, uid string) ([]backend.Class, error) {
	return source.classes, source.classesErr
}

func (source stubSource) ListScores(ctx context.Context, uid string) ([]backend.Score, error) {
	return source.scores, source.scoresErr
}

func (source stubSource) ListTasks(ctx context.Context, uid string) ([]backend.Task, error) {
	return source.tasks, source.tasksErr
}

func TestLoadDashboard(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	source := stubSource{
		transactions: []backend.Transaction{
			{ID: "t2", Type: backend.TransactionExpense, Amount: 20},
			{ID: "t1", Type: backend.TransactionIncome, Amount: 50},
		},
		classes: []backend.Class{{Subject: "Math", Day: "Wed"}, {Subject: "Art", Day: "Fri"}},
		scores:  []backend.Score{{Subject: "science", Score: 4}, {Subject: "math", Score: 3}, {Subject: "art", Score: 1}},
		tasks:   []backend.Task{{Day: "Wed", Status: backend.TaskCompleted}},
	}
	dashboard := LoadDashboard(context.Background(), source, "u1", now, nil)
	if dashboard.Failed() {
		t.Fatalf("unexpected failures %+v", dashboard.Errors)
	}
	if dashboard.Balance != 30 {
		t.Fatalf("expected balance 30, got %v", dashboard.Balance)
	}
	if dashboard.LastTransaction == nil || dashboard.LastTransaction.ID != "t2" {
		t.Fatalf("expected last transaction t2, got %+v", dashboard.LastTransaction)
	}
	if dashboard.Today != "Wed" || len(dashboard.TodayClasses) != 1 || dashboard.TodayClasses[0].Subject != "Math" {
		t.Fatalf("unexpected today classes %+v", dashboard.TodayClasses)
	}
	if len(dashboard.RecentScores) != 2 || dashboard.RecentScores[0].Subject != "science" {
		t.Fatalf("expected two most recent scores, got %+v", dashboard.RecentScores)
	}
	if dashboard.WeeklyCompleted[3].Completed != 1 {
		t.Fatalf("expected one completed task on Wednesday, got %+v", dashboard.WeeklyCompleted)
	}
	if !dashboard.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated at %v", now)
	}
}

func TestLoadDashboardKeepsOtherSectionsWhenOneFails(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	outage := errors.New("backend unavailable")
	source := stubSource{
		transactionsErr: outage,
		classes:         []backend.Class{{Subject: "Math", Day: "Wed"}},
		scoresErr:       outage,
		tasks:           []backend.Task{{Day: "Mon", Status: backend.TaskCompleted}},
	}
	core, logs := observer.New(zapcore.WarnLevel)
	dashboard := LoadDashboard(context.Background(), source, "u1", now, zap.New(core))

	if len(dashboard.Errors) != 2 {
		t.Fatalf("expected two failed sections, got %+v", dashboard.Errors)
	}
	if !errors.Is(dashboard.Errors[SectionBalance], outage) || !errors.Is(dashboard.Errors[SectionRecentScores], outage) {
		t.Fatalf("expected wrapped outage errors, got %+v", dashboard.Errors)
	}
	if dashboard.Balance != 0 || dashboard.LastTransaction != nil {
		t.Fatalf("expected empty balance section")
	}
	if len(dashboard.TodayClasses) != 1 || dashboard.WeeklyCompleted[1].Completed != 1 {
		t.Fatalf("expected healthy sections filled, got %+v", dashboard)
	}
	if logs.FilterField(zap.String("code", "insights.dashboard.section_failed")).Len() != 2 {
		t.Fatalf("expected two logged section failures")
	}
}
