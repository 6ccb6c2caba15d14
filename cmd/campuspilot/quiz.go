package main

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tyemirov/campuspilot/internal/quiz"
)

var errQuizAborted = errors.New("quiz.aborted: input ended before the quiz was finished")

func newQuizCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "quiz",
		Short: "Take a multiple-choice quiz; the score is saved when every question is answered",
		Args:  cobra.NoArgs,
	}
	command.Flags().String("subject", "general", "Subject (see `campuspilot quiz subjects`)")
	command.Flags().String("difficulty", quiz.DifficultyEasy, "easy, medium or hard")
	command.Flags().Int("amount", quiz.DefaultAmount, "Number of questions")

	subjects := &cobra.Command{
		Use:   "subjects",
		Short: "List quiz subjects",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			rows := [][]string{}
			for _, subject := range quiz.Subjects() {
				rows = append(rows, []string{subject, strconv.Itoa(quiz.Categories[subject])})
			}
			return newPrinter(command.OutOrStdout(), command.ErrOrStderr()).Table([]string{"Subject", "Category"}, rows)
		},
	}
	command.AddCommand(subjects)

	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		subject, _ := command.Flags().GetString("subject")
		difficulty, _ := command.Flags().GetString("difficulty")
		amount, _ := command.Flags().GetInt("amount")

		ctx := command.Context()
		quizSession := quiz.NewSession(current.UID, buildQuestionSource(runtime.configuration, runtime.logger), runtime.manager.Client(), runtime.logger)
		if err := quizSession.Start(ctx, quiz.Request{Subject: subject, Difficulty: difficulty, Amount: amount}); err != nil {
			return err
		}

		out := runtime.printer
		scanner := bufio.NewScanner(command.InOrStdin())
		questions := quizSession.Questions()
		var lastOutcome quiz.Outcome
		var saveErr error
		for index, question := range questions {
			out.Header(fmt.Sprintf("Question %d of %d", index+1, len(questions)))
			out.Info("%s", question.Prompt)
			for optionIndex, option := range question.Options {
				out.Info("  %d) %s", optionIndex+1, option)
			}
			choice, err := readChoice(scanner, out, len(question.Options))
			if err != nil {
				return err
			}
			lastOutcome, saveErr = quizSession.Answer(ctx, index, question.Options[choice])
			if saveErr != nil && !lastOutcome.Completed {
				return saveErr
			}
			if lastOutcome.Correct {
				out.Success("Correct")
			} else {
				out.Failure("Wrong; the answer is %s", question.Correct)
			}
		}

		score, total := quizSession.Score()
		out.Header("Result")
		out.Info("Score: %d/%d", score, total)
		if lastOutcome.Saved {
			out.Success("Score saved")
			return nil
		}
		if saveErr != nil {
			if retryErr := quizSession.Save(ctx); retryErr != nil {
				out.Warning("Score not saved: %v", retryErr)
				return nil
			}
			out.Success("Score saved")
		}
		return nil
	})
}

// readChoice reads a 1-based option number and returns it 0-based.
func readChoice(scanner *bufio.Scanner, out *printer, optionCount int) (int, error) {
	for {
		fmt.Fprintf(out.out, "Answer [1-%d]: ", optionCount)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, fmt.Errorf("quiz.read_answer: %w", err)
			}
			return 0, errQuizAborted
		}
		choice, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err == nil && choice >= 1 && choice <= optionCount {
			return choice - 1, nil
		}
		out.Warning("Enter a number between 1 and %d", optionCount)
	}
}
