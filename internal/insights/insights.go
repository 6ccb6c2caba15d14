// Package insights derives the budget, timetable and planner summaries shown on the dashboard.
package insights

import (
	"strings"
	"time"

	"github.com/tyemirov/campuspilot/internal/backend"
)

// UncategorizedExpense names the bucket for expenses without a category.
const UncategorizedExpense = "Other"

// Weekdays lists day abbreviations in time.Weekday order.
var Weekdays = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Months lists month abbreviations in calendar order.
var Months = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

var transactionDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Totals summarises a transaction list.
type Totals struct {
	Income  float64
	Expense float64
	Balance float64
}

// CategoryTotal is the expense total of one category.
type CategoryTotal struct {
	Category string
	Amount   float64
}

// MonthTotals is the income and expense of one calendar month.
type MonthTotals struct {
	Month   string
	Income  float64
	Expense float64
}

// DayCount is the number of completed tasks planned on a weekday.
type DayCount struct {
	Day       string
	Completed int
}

// TaskCounts summarises a task list.
type TaskCounts struct {
	Total     int
	Completed int
	Pending   int
}

// ComputeTotals sums income and expense; balance is income minus expense.
func ComputeTotals(transactions []backend.Transaction) Totals {
	var totals Totals
	for _, transaction := range transactions {
		switch transaction.Type {
		case backend.TransactionIncome:
			totals.Income += transaction.Amount
		case backend.TransactionExpense:
			totals.Expense += transaction.Amount
		}
	}
	totals.Balance = totals.Income - totals.Expense
	return totals
}

// ExpensesByCategory groups expenses by category in first-appearance order and drops non-positive totals.
func ExpensesByCategory(transactions []backend.Transaction) []CategoryTotal {
	order := []string{}
	sums := map[string]float64{}
	for _, transaction := range transactions {
		if transaction.Type != backend.TransactionExpense {
			continue
		}
		category := strings.TrimSpace(transaction.Category)
		if category == "" {
			category = UncategorizedExpense
		}
		if _, seen := sums[category]; !seen {
			order = append(order, category)
		}
		sums[category] += transaction.Amount
	}
	totals := make([]CategoryTotal, 0, len(order))
	for _, category := range order {
		if sums[category] <= 0 {
			continue
		}
		totals = append(totals, CategoryTotal{Category: category, Amount: sums[category]})
	}
	return totals
}

// Monthly returns twelve rows for the year; transactions with unparsable or other-year dates are skipped.
func Monthly(transactions []backend.Transaction, year int) []MonthTotals {
	rows := make([]MonthTotals, len(Months))
	for index, month := range Months {
		rows[index].Month = month
	}
	for _, transaction := range transactions {
		date, ok := ParseTransactionDate(transaction.Date)
		if !ok || date.Year() != year {
			continue
		}
		row := &rows[date.Month()-1]
		switch transaction.Type {
		case backend.TransactionIncome:
			row.Income += transaction.Amount
		case backend.TransactionExpense:
			row.Expense += transaction.Amount
		}
	}
	return rows
}

// ParseTransactionDate accepts RFC 3339 timestamps and plain dates.
func ParseTransactionDate(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range transactionDateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// WeeklyCompleted counts completed tasks per weekday, Sunday first.
func WeeklyCompleted(tasks []backend.Task) []DayCount {
	counts := make([]DayCount, len(Weekdays))
	positions := make(map[string]int, len(Weekdays))
	for index, day := range Weekdays {
		counts[index].Day = day
		positions[day] = index
	}
	for _, task := range tasks {
		if task.Status != backend.TaskCompleted {
			continue
		}
		if position, ok := positions[task.Day]; ok {
			counts[position].Completed++
		}
	}
	return counts
}

// ClassesOn returns the classes scheduled on the weekday.
func ClassesOn(classes []backend.Class, weekday time.Weekday) []backend.Class {
	day := Weekdays[weekday]
	scheduled := []backend.Class{}
	for _, class := range classes {
		if class.Day == day {
			scheduled = append(scheduled, class)
		}
	}
	return scheduled
}

// CountTasks reports total, completed and pending task counts.
func CountTasks(tasks []backend.Task) TaskCounts {
	counts := TaskCounts{Total: len(tasks)}
	for _, task := range tasks {
		if task.Status == backend.TaskCompleted {
			counts.Completed++
		}
	}
	counts.Pending = counts.Total - counts.Completed
	return counts
}
