package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tyemirov/campuspilot/internal/backend"
	"github.com/tyemirov/campuspilot/internal/insights"
)

var (
	errInvalidTransactionType = errors.New("cli.invalid_type: --type must be income or expense")
	errInvalidAmount          = errors.New("cli.invalid_amount: --amount must be greater than zero")
	errInvalidDay             = errors.New("cli.invalid_day: --day must be one of Sun, Mon, Tue, Wed, Thu, Fri, Sat")
	errMissingSubject         = errors.New("cli.missing_subject: --subject must be provided")
)

func normalizeDay(day string) (string, error) {
	trimmed := strings.TrimSpace(day)
	for _, weekday := range insights.Weekdays {
		if strings.EqualFold(weekday, trimmed) {
			return weekday, nil
		}
	}
	return "", errInvalidDay
}

// transactionTypeFilter returns the normalized type, or "" when every type is listed.
func transactionTypeFilter(transactionType string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(transactionType))
	switch normalized {
	case "", backend.TransactionIncome, backend.TransactionExpense:
		return normalized, nil
	default:
		return "", errInvalidTransactionType
	}
}

func filterTransactions(transactions []backend.Transaction, transactionType string) []backend.Transaction {
	if transactionType == "" {
		return transactions
	}
	return slices.DeleteFunc(slices.Clone(transactions), func(transaction backend.Transaction) bool {
		return transaction.Type != transactionType
	})
}

func filterClassesBySubject(classes []backend.Class, subject string) []backend.Class {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return classes
	}
	return slices.DeleteFunc(slices.Clone(classes), func(class backend.Class) bool {
		return !strings.EqualFold(strings.TrimSpace(class.Subject), trimmed)
	})
}

func newTransactionsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "transactions",
		Short: "Budget entries",
	}

	list := &cobra.Command{Use: "list", Short: "List transactions, newest first", Args: cobra.NoArgs}
	list.Flags().String("type", "", "Only income or only expense entries")
	command.AddCommand(sessionCommand(list, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		typeFlag, _ := command.Flags().GetString("type")
		transactionType, err := transactionTypeFilter(typeFlag)
		if err != nil {
			return err
		}
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		transactions, err := runtime.manager.Client().ListTransactions(command.Context(), current.UID)
		if err != nil {
			return err
		}
		listed := filterTransactions(transactions, transactionType)
		rows := make([][]string, 0, len(listed))
		for _, transaction := range listed {
			rows = append(rows, []string{transaction.Date, transaction.Type, transaction.Category, formatAmount(transaction.Amount), transaction.Note})
		}
		if err := runtime.printer.Table([]string{"Date", "Type", "Category", "Amount", "Note"}, rows); err != nil {
			return err
		}
		totals := insights.ComputeTotals(transactions)
		runtime.printer.Info("Income %s  Expense %s  Balance %s", formatAmount(totals.Income), formatAmount(totals.Expense), formatAmount(totals.Balance))
		return nil
	}))

	add := &cobra.Command{Use: "add", Short: "Record income or an expense", Args: cobra.NoArgs}
	add.Flags().String("type", backend.TransactionExpense, "income or expense")
	add.Flags().String("category", "", "Category (expenses without one count as Other)")
	add.Flags().Float64("amount", 0, "Amount")
	add.Flags().String("note", "", "Note")
	add.Flags().String("date", "", "Date (YYYY-MM-DD); defaults to now")
	command.AddCommand(sessionCommand(add, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		transactionType, _ := command.Flags().GetString("type")
		if transactionType != backend.TransactionIncome && transactionType != backend.TransactionExpense {
			return errInvalidTransactionType
		}
		amount, _ := command.Flags().GetFloat64("amount")
		if amount <= 0 {
			return errInvalidAmount
		}
		category, _ := command.Flags().GetString("category")
		note, _ := command.Flags().GetString("note")
		date, _ := command.Flags().GetString("date")
		created, err := runtime.manager.Client().AddTransaction(command.Context(), backend.Transaction{
			UID:      current.UID,
			Type:     transactionType,
			Category: strings.TrimSpace(category),
			Amount:   amount,
			Note:     note,
			Date:     strings.TrimSpace(date),
		})
		if err != nil {
			return err
		}
		runtime.printer.Success("Recorded %s of %s (%s)", created.Type, formatAmount(created.Amount), created.ID)
		return nil
	}))

	summary := &cobra.Command{Use: "summary", Short: "Expense breakdown and monthly income/expense", Args: cobra.NoArgs}
	summary.Flags().Int("year", 0, "Year for the monthly table; defaults to the current year")
	command.AddCommand(sessionCommand(summary, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		transactions, err := runtime.manager.Client().ListTransactions(command.Context(), current.UID)
		if err != nil {
			return err
		}
		year, _ := command.Flags().GetInt("year")
		if year == 0 {
			year = currentTime().Year()
		}

		runtime.printer.Header("Expenses by category")
		categoryRows := [][]string{}
		for _, category := range insights.ExpensesByCategory(transactions) {
			categoryRows = append(categoryRows, []string{category.Category, formatAmount(category.Amount)})
		}
		if err := runtime.printer.Table([]string{"Category", "Amount"}, categoryRows); err != nil {
			return err
		}

		runtime.printer.Header(fmt.Sprintf("Monthly %d", year))
		monthRows := [][]string{}
		for _, month := range insights.Monthly(transactions, year) {
			monthRows = append(monthRows, []string{month.Month, formatAmount(month.Income), formatAmount(month.Expense)})
		}
		return runtime.printer.Table([]string{"Month", "Income", "Expense"}, monthRows)
	}))
	return command
}

func newClassesCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "classes",
		Short: "Weekly timetable",
	}

	list := &cobra.Command{Use: "list", Short: "List timetable slots", Args: cobra.NoArgs}
	list.Flags().Bool("today", false, "Only classes on today's weekday")
	list.Flags().String("subject", "", "Only classes of this subject (case-insensitive)")
	command.AddCommand(sessionCommand(list, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		classes, err := runtime.manager.Client().ListClasses(command.Context(), current.UID)
		if err != nil {
			return err
		}
		if today, _ := command.Flags().GetBool("today"); today {
			classes = insights.ClassesOn(classes, currentTime().Weekday())
		}
		subject, _ := command.Flags().GetString("subject")
		classes = filterClassesBySubject(classes, subject)
		rows := make([][]string, 0, len(classes))
		for _, class := range classes {
			rows = append(rows, []string{class.Day, class.Time, class.Subject, class.Teacher})
		}
		return runtime.printer.Table([]string{"Day", "Time", "Subject", "Teacher"}, rows)
	}))

	add := &cobra.Command{Use: "add", Short: "Add a timetable slot", Args: cobra.NoArgs}
	add.Flags().String("subject", "", "Subject")
	add.Flags().String("teacher", "", "Teacher")
	add.Flags().String("day", "", "Weekday (Sun..Sat)")
	add.Flags().String("time", "", "Start time (HH:MM)")
	add.Flags().String("color", "", "Display color")
	command.AddCommand(sessionCommand(add, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		subject, _ := command.Flags().GetString("subject")
		if strings.TrimSpace(subject) == "" {
			return errMissingSubject
		}
		dayFlag, _ := command.Flags().GetString("day")
		day, err := normalizeDay(dayFlag)
		if err != nil {
			return err
		}
		teacher, _ := command.Flags().GetString("teacher")
		startTime, _ := command.Flags().GetString("time")
		displayColor, _ := command.Flags().GetString("color")
		created, err := runtime.manager.Client().AddClass(command.Context(), backend.Class{
			UID:     current.UID,
			Subject: strings.TrimSpace(subject),
			Teacher: strings.TrimSpace(teacher),
			Day:     day,
			Time:    strings.TrimSpace(startTime),
			Color:   displayColor,
		})
		if err != nil {
			return err
		}
		runtime.printer.Success("Added %s on %s %s", created.Subject, created.Day, created.Time)
		return nil
	}))
	return command
}

func newTasksCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "tasks",
		Short: "Study planner",
	}

	list := &cobra.Command{Use: "list", Short: "List tasks with completion counts", Args: cobra.NoArgs}
	command.AddCommand(sessionCommand(list, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		tasks, err := runtime.manager.Client().ListTasks(command.Context(), current.UID)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(tasks))
		for _, task := range tasks {
			rows = append(rows, []string{task.ID, task.Subject, task.Priority, task.Day, task.Time, task.Status})
		}
		if err := runtime.printer.Table([]string{"ID", "Subject", "Priority", "Day", "Time", "Status"}, rows); err != nil {
			return err
		}
		counts := insights.CountTasks(tasks)
		runtime.printer.Info("Total %d  Completed %d  Pending %d", counts.Total, counts.Completed, counts.Pending)
		return nil
	}))

	add := &cobra.Command{Use: "add", Short: "Plan a task", Args: cobra.NoArgs}
	add.Flags().String("subject", "", "Subject")
	add.Flags().String("priority", "Medium", "Priority")
	add.Flags().String("day", "", "Weekday (Sun..Sat)")
	add.Flags().String("time", "", "Time (HH:MM)")
	command.AddCommand(sessionCommand(add, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		subject, _ := command.Flags().GetString("subject")
		if strings.TrimSpace(subject) == "" {
			return errMissingSubject
		}
		dayFlag, _ := command.Flags().GetString("day")
		day, err := normalizeDay(dayFlag)
		if err != nil {
			return err
		}
		priority, _ := command.Flags().GetString("priority")
		plannedTime, _ := command.Flags().GetString("time")
		created, err := runtime.manager.Client().AddTask(command.Context(), backend.Task{
			UID:      current.UID,
			Subject:  strings.TrimSpace(subject),
			Priority: strings.TrimSpace(priority),
			Day:      day,
			Time:     strings.TrimSpace(plannedTime),
		})
		if err != nil {
			return err
		}
		runtime.printer.Success("Planned %s (%s)", created.Subject, created.ID)
		return nil
	}))

	for _, transition := range []struct {
		use    string
		short  string
		status string
	}{
		{use: "complete", short: "Mark a task completed", status: backend.TaskCompleted},
		{use: "reopen", short: "Mark a task pending", status: backend.TaskPending},
	} {
		status := transition.status
		statusCommand := &cobra.Command{Use: transition.use + " TASK_ID", Short: transition.short, Args: cobra.ExactArgs(1)}
		command.AddCommand(sessionCommand(statusCommand, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
			if _, err := runtime.requireUser(); err != nil {
				return err
			}
			if err := runtime.manager.Client().SetTaskStatus(command.Context(), arguments[0], status); err != nil {
				return err
			}
			runtime.printer.Success("Task %s is %s", arguments[0], status)
			return nil
		}))
	}

	remove := &cobra.Command{Use: "delete TASK_ID", Short: "Delete a task", Args: cobra.ExactArgs(1)}
	command.AddCommand(sessionCommand(remove, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		if _, err := runtime.requireUser(); err != nil {
			return err
		}
		if err := runtime.manager.Client().DeleteTask(command.Context(), arguments[0]); err != nil {
			return err
		}
		runtime.printer.Success("Deleted task %s", arguments[0])
		return nil
	}))

	weekly := &cobra.Command{Use: "weekly", Short: "Completed tasks per weekday", Args: cobra.NoArgs}
	command.AddCommand(sessionCommand(weekly, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		tasks, err := runtime.manager.Client().ListTasks(command.Context(), current.UID)
		if err != nil {
			return err
		}
		rows := [][]string{}
		for _, day := range insights.WeeklyCompleted(tasks) {
			rows = append(rows, []string{day.Day, strconv.Itoa(day.Completed)})
		}
		return runtime.printer.Table([]string{"Day", "Completed"}, rows)
	}))
	return command
}

func newScoresCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "scores",
		Short: "Saved quiz results, newest first",
		Args:  cobra.NoArgs,
	}
	command.Flags().String("subject", "", "Only results for this subject")
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		scores, err := runtime.manager.Client().ListScores(command.Context(), current.UID)
		if err != nil {
			return err
		}
		if subject, _ := command.Flags().GetString("subject"); subject != "" {
			scores = slices.DeleteFunc(scores, func(score backend.Score) bool {
				return !strings.EqualFold(score.Subject, subject)
			})
		}
		rows := make([][]string, 0, len(scores))
		for _, score := range scores {
			rows = append(rows, []string{score.Date, score.Subject, score.Difficulty, fmt.Sprintf("%d/%d", score.Score, score.Total)})
		}
		return runtime.printer.Table([]string{"Date", "Subject", "Difficulty", "Score"}, rows)
	})
}
