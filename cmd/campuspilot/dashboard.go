package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tyemirov/campuspilot/internal/insights"
)

func newDashboardCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "dashboard",
		Short: "Balance, today's classes, recent scores and weekly progress",
		Args:  cobra.NoArgs,
	}
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		dashboard := insights.LoadDashboard(command.Context(), runtime.manager.Client(), current.UID, currentTime(), runtime.logger)
		out := runtime.printer

		out.Header("Balance")
		if sectionErr, failed := dashboard.Errors[insights.SectionBalance]; failed {
			out.Failure("unavailable: %v", sectionErr)
		} else {
			balance := color.GreenString(formatAmount(dashboard.Balance))
			if dashboard.Balance < 0 {
				balance = color.RedString(formatAmount(dashboard.Balance))
			}
			out.Info("%s", balance)
			if last := dashboard.LastTransaction; last != nil {
				out.Info("Last: %s %s %s on %s", last.Type, last.Category, formatAmount(last.Amount), last.Date)
			}
		}

		out.Header(fmt.Sprintf("Classes today (%s)", dashboard.Today))
		if sectionErr, failed := dashboard.Errors[insights.SectionTodayClasses]; failed {
			out.Failure("unavailable: %v", sectionErr)
		} else if len(dashboard.TodayClasses) == 0 {
			out.Info("No classes today")
		} else {
			rows := make([][]string, 0, len(dashboard.TodayClasses))
			for _, class := range dashboard.TodayClasses {
				rows = append(rows, []string{class.Time, class.Subject, class.Teacher})
			}
			if err := out.Table([]string{"Time", "Subject", "Teacher"}, rows); err != nil {
				return err
			}
		}

		out.Header("Recent scores")
		if sectionErr, failed := dashboard.Errors[insights.SectionRecentScores]; failed {
			out.Failure("unavailable: %v", sectionErr)
		} else if len(dashboard.RecentScores) == 0 {
			out.Info("No quizzes taken yet")
		} else {
			for _, score := range dashboard.RecentScores {
				out.Info("%s (%s): %d/%d", score.Subject, score.Difficulty, score.Score, score.Total)
			}
		}

		out.Header("Completed this week")
		if sectionErr, failed := dashboard.Errors[insights.SectionWeeklyTasks]; failed {
			out.Failure("unavailable: %v", sectionErr)
		} else {
			header := make([]string, 0, len(dashboard.WeeklyCompleted))
			row := make([]string, 0, len(dashboard.WeeklyCompleted))
			for _, day := range dashboard.WeeklyCompleted {
				header = append(header, day.Day)
				row = append(row, strconv.Itoa(day.Completed))
			}
			if err := out.Table(header, [][]string{row}); err != nil {
				return err
			}
		}
		return nil
	})
}
