package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type transactionEnvelope struct {
	Success     bool         `json:"success"`
	Transaction *Transaction `json:"transaction"`
}

type classEnvelope struct {
	Success bool   `json:"success"`
	Class   *Class `json:"class"`
}

type scoresEnvelope struct {
	Scores []Score `json:"scores"`
}

type taskStatusPayload struct {
	Status string `json:"status"`
}

func requireIdentifier(operation string, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("backend.%s: %w", operation, ErrMissingIdentifier)
	}
	return nil
}

// MirrorUser writes the user record to the backend user collection.
func (client *Client) MirrorUser(ctx context.Context, record UserRecord) error {
	if err := requireIdentifier("mirror_user", record.UID); err != nil {
		return err
	}
	return client.do(ctx, "mirror_user", http.MethodPost, "/users", nil, record, nil)
}

// ListTransactions returns the user's budget entries.
func (client *Client) ListTransactions(ctx context.Context, uid string) ([]Transaction, error) {
	if err := requireIdentifier("list_transactions", uid); err != nil {
		return nil, err
	}
	var transactions []Transaction
	if err := client.do(ctx, "list_transactions", http.MethodGet, "/transactions/"+url.PathEscape(uid), nil, nil, &transactions); err != nil {
		return nil, err
	}
	return transactions, nil
}

// AddTransaction stores a budget entry and returns it with its id.
func (client *Client) AddTransaction(ctx context.Context, transaction Transaction) (Transaction, error) {
	if err := requireIdentifier("add_transaction", transaction.UID); err != nil {
		return Transaction{}, err
	}
	var envelope transactionEnvelope
	if err := client.do(ctx, "add_transaction", http.MethodPost, "/transactions", nil, transaction, &envelope); err != nil {
		return Transaction{}, err
	}
	if !envelope.Success || envelope.Transaction == nil {
		return Transaction{}, fmt.Errorf("backend.add_transaction: %w", ErrUnexpectedResponse)
	}
	return *envelope.Transaction, nil
}

// ListClasses returns the user's timetable.
func (client *Client) ListClasses(ctx context.Context, uid string) ([]Class, error) {
	if err := requireIdentifier("list_classes", uid); err != nil {
		return nil, err
	}
	var classes []Class
	if err := client.do(ctx, "list_classes", http.MethodGet, "/classes", url.Values{"uid": {uid}}, nil, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// AddClass stores a timetable slot.
func (client *Client) AddClass(ctx context.Context, class Class) (Class, error) {
	if err := requireIdentifier("add_class", class.UID); err != nil {
		return Class{}, err
	}
	var envelope classEnvelope
	if err := client.do(ctx, "add_class", http.MethodPost, "/classes", nil, class, &envelope); err != nil {
		return Class{}, err
	}
	if !envelope.Success || envelope.Class == nil {
		return Class{}, fmt.Errorf("backend.add_class: %w", ErrUnexpectedResponse)
	}
	return *envelope.Class, nil
}

// ListTasks returns the user's study-planner tasks.
func (client *Client) ListTasks(ctx context.Context, uid string) ([]Task, error) {
	if err := requireIdentifier("list_tasks", uid); err != nil {
		return nil, err
	}
	var tasks []Task
	if err := client.do(ctx, "list_tasks", http.MethodGet, "/tasks", url.Values{"uid": {uid}}, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// AddTask stores a task.
func (client *Client) AddTask(ctx context.Context, task Task) (Task, error) {
	if err := requireIdentifier("add_task", task.UID); err != nil {
		return Task{}, err
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	var created Task
	if err := client.do(ctx, "add_task", http.MethodPost, "/tasks", nil, task, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// SetTaskStatus updates a task's status.
func (client *Client) SetTaskStatus(ctx context.Context, id string, status string) error {
	if err := requireIdentifier("set_task_status", id); err != nil {
		return err
	}
	return client.do(ctx, "set_task_status", http.MethodPut, "/tasks/"+url.PathEscape(id), nil, taskStatusPayload{Status: status}, nil)
}

// DeleteTask removes a task.
func (client *Client) DeleteTask(ctx context.Context, id string) error {
	if err := requireIdentifier("delete_task", id); err != nil {
		return err
	}
	return client.do(ctx, "delete_task", http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// SaveScore stores a quiz result.
func (client *Client) SaveScore(ctx context.Context, score Score) error {
	if err := requireIdentifier("save_score", score.UID); err != nil {
		return err
	}
	return client.do(ctx, "save_score", http.MethodPost, "/scores", nil, score, nil)
}

// ListScores returns the user's saved quiz results, newest first.
func (client *Client) ListScores(ctx context.Context, uid string) ([]Score, error) {
	if err := requireIdentifier("list_scores", uid); err != nil {
		return nil, err
	}
	var envelope scoresEnvelope
	if err := client.do(ctx, "list_scores", http.MethodGet, "/scores/"+url.PathEscape(uid), nil, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Scores, nil
}
