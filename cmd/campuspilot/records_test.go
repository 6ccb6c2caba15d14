package main

import (
	"errors"
	"testing"

	"github.com/tyemirov/campuspilot/internal/backend"
)

func TestTransactionTypeFilter(t *testing.T) {
	testCases := []struct {
		name          string
		input         string
		expected      string
		expectedError error
	}{
		{name: "empty lists everything", input: "", expected: ""},
		{name: "income", input: "income", expected: backend.TransactionIncome},
		{name: "case and spacing", input: " Expense ", expected: backend.TransactionExpense},
		{name: "unknown", input: "gift", expectedError: errInvalidTransactionType},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			filter, err := transactionTypeFilter(testCase.input)
			if !errors.Is(err, testCase.expectedError) {
				t.Fatalf("expected error %v, got %v", testCase.expectedError, err)
			}
			if filter != testCase.expected {
				t.Fatalf("expected filter %q, got %q", testCase.expected, filter)
			}
		})
	}
}

func TestFilterTransactionsKeepsOrder(t *testing.T) {
	transactions := []backend.Transaction{
		{ID: "t3", Type: backend.TransactionExpense},
		{ID: "t2", Type: backend.TransactionIncome},
		{ID: "t1", Type: backend.TransactionExpense},
	}
	expenses := filterTransactions(transactions, backend.TransactionExpense)
	if len(expenses) != 2 || expenses[0].ID != "t3" || expenses[1].ID != "t1" {
		t.Fatalf("unexpected expenses %+v", expenses)
	}
	if len(transactions) != 3 || transactions[1].ID != "t2" {
		t.Fatalf("expected input untouched, got %+v", transactions)
	}
	if all := filterTransactions(transactions, ""); len(all) != 3 {
		t.Fatalf("expected all transactions, got %+v", all)
	}
}

func TestFilterClassesBySubject(t *testing.T) {
	classes := []backend.Class{
		{Subject: "Math", Day: "Mon"},
		{Subject: "Art", Day: "Tue"},
		{Subject: " math ", Day: "Thu"},
	}
	filtered := filterClassesBySubject(classes, "MATH")
	if len(filtered) != 2 || filtered[0].Day != "Mon" || filtered[1].Day != "Thu" {
		t.Fatalf("unexpected classes %+v", filtered)
	}
	if all := filterClassesBySubject(classes, "  "); len(all) != 3 {
		t.Fatalf("expected all classes for blank subject, got %+v", all)
	}
}
