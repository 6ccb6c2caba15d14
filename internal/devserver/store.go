package devserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tyemirov/campuspilot/internal/backend"
	"github.com/tyemirov/campuspilot/internal/identity"
)

var (
	// ErrRecordNotFound indicates a missing record or one owned by another user.
	ErrRecordNotFound = errors.New("devserver_store.not_found")

	errEmptyStoreURL = errors.New("devserver_store.empty_database_url")
)

// Store persists the development backend collections using GORM.
type Store struct {
	db          *gorm.DB
	driverLabel string
	clock       identity.Clock
	newID       func() string
}

type userRow struct {
	UID         string `gorm:"column:uid;primaryKey"`
	Name        string `gorm:"column:name;not null;default:''"`
	Email       string `gorm:"column:email;not null;default:''"`
	PhotoURL    string `gorm:"column:photo_url;not null;default:''"`
	JoinedAt    string `gorm:"column:created_at;not null;default:''"`
	UpdatedUnix int64  `gorm:"column:updated_unix;not null"`
}

func (userRow) TableName() string {
	return "users"
}

type transactionRow struct {
	ID          string  `gorm:"column:id;primaryKey"`
	UID         string  `gorm:"column:uid;index;not null"`
	Type        string  `gorm:"column:type;not null"`
	Category    string  `gorm:"column:category;not null;default:''"`
	Amount      float64 `gorm:"column:amount;not null"`
	Note        string  `gorm:"column:note;not null;default:''"`
	Date        string  `gorm:"column:date;not null;default:''"`
	CreatedUnix int64   `gorm:"column:created_unix;not null"`
}

func (transactionRow) TableName() string {
	return "transactions"
}

type classRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	UID         string `gorm:"column:uid;index;not null"`
	Subject     string `gorm:"column:subject;not null"`
	Teacher     string `gorm:"column:teacher;not null;default:''"`
	Day         string `gorm:"column:day;not null"`
	Time        string `gorm:"column:time;not null;default:''"`
	Color       string `gorm:"column:color;not null;default:''"`
	CreatedUnix int64  `gorm:"column:created_unix;not null"`
}

func (classRow) TableName() string {
	return "classes"
}

type taskRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	UID         string `gorm:"column:uid;index;not null"`
	Subject     string `gorm:"column:subject;not null"`
	Priority    string `gorm:"column:priority;not null;default:''"`
	Day         string `gorm:"column:day;not null;default:''"`
	Time        string `gorm:"column:time;not null;default:''"`
	Status      string `gorm:"column:status;not null"`
	CreatedUnix int64  `gorm:"column:created_unix;not null"`
}

func (taskRow) TableName() string {
	return "tasks"
}

type scoreRow struct {
	ID          string `gorm:"column:id;primaryKey"`
	UID         string `gorm:"column:uid;index;not null"`
	Subject     string `gorm:"column:subject;not null"`
	Difficulty  string `gorm:"column:difficulty;not null;default:''"`
	Score       int    `gorm:"column:score;not null"`
	Total       int    `gorm:"column:total;not null"`
	Date        string `gorm:"column:date;not null"`
	CreatedNano int64  `gorm:"column:created_nano;not null"`
}

func (scoreRow) TableName() string {
	return "scores"
}

// NewStore opens the database and migrates the collections.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("devserver_store.open: %w", errEmptyStoreURL)
	}
	dialector, driverLabel, err := identity.ResolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("devserver_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRow{}, &transactionRow{}, &classRow{}, &taskRow{}, &scoreRow{}); migrateErr != nil {
		return nil, fmt.Errorf("devserver_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &Store{
		db:          gormDB,
		driverLabel: driverLabel,
		clock:       identity.NewSystemClock(),
		newID:       uuid.NewString,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *Store) Driver() string {
	return store.driverLabel
}

// Ping checks the database connection.
func (store *Store) Ping(ctx context.Context) error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("devserver_store.ping.%s: %w", store.driverLabel, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("devserver_store.ping.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Close releases the database connection.
func (store *Store) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertUser inserts or replaces the user record keyed by uid.
func (store *Store) UpsertUser(ctx context.Context, record backend.UserRecord) error {
	row := userRow{
		UID:         record.UID,
		Name:        record.Name,
		Email:       record.Email,
		PhotoURL:    record.PhotoURL,
		JoinedAt:    record.CreatedAt,
		UpdatedUnix: store.clock.Now().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "photo_url", "updated_unix"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("devserver_store.upsert_user.%s: %w", store.driverLabel, err)
	}
	return nil
}

// GetUser returns the user record for the uid.
func (store *Store) GetUser(ctx context.Context, uid string) (backend.UserRecord, error) {
	var row userRow
	if err := store.db.WithContext(ctx).Where("uid = ?", uid).Take(&row).Error; err != nil {
		return backend.UserRecord{}, store.lookupError("get_user", err)
	}
	return backend.UserRecord{UID: row.UID, Name: row.Name, Email: row.Email, PhotoURL: row.PhotoURL, CreatedAt: row.JoinedAt}, nil
}

// ListTransactions returns the user's transactions, newest date first.
func (store *Store) ListTransactions(ctx context.Context, uid string) ([]backend.Transaction, error) {
	var rows []transactionRow
	err := store.db.WithContext(ctx).Where("uid = ?", uid).Order("date DESC").Order("created_unix DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("devserver_store.list_transactions.%s: %w", store.driverLabel, err)
	}
	transactions := make([]backend.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, backend.Transaction{
			ID: row.ID, UID: row.UID, Type: row.Type, Category: row.Category,
			Amount: row.Amount, Note: row.Note, Date: row.Date,
		})
	}
	return transactions, nil
}

// AddTransaction stores a transaction and returns it with its id.
func (store *Store) AddTransaction(ctx context.Context, transaction backend.Transaction) (backend.Transaction, error) {
	now := store.clock.Now()
	if strings.TrimSpace(transaction.Date) == "" {
		transaction.Date = now.UTC().Format(time.RFC3339)
	}
	transaction.ID = store.newID()
	row := transactionRow{
		ID: transaction.ID, UID: transaction.UID, Type: transaction.Type, Category: transaction.Category,
		Amount: transaction.Amount, Note: transaction.Note, Date: transaction.Date, CreatedUnix: now.Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return backend.Transaction{}, fmt.Errorf("devserver_store.add_transaction.%s: %w", store.driverLabel, err)
	}
	return transaction, nil
}

// ListClasses returns the user's timetable in insertion order.
func (store *Store) ListClasses(ctx context.Context, uid string) ([]backend.Class, error) {
	var rows []classRow
	if err := store.db.WithContext(ctx).Where("uid = ?", uid).Order("created_unix ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("devserver_store.list_classes.%s: %w", store.driverLabel, err)
	}
	classes := make([]backend.Class, 0, len(rows))
	for _, row := range rows {
		classes = append(classes, backend.Class{
			ID: row.ID, UID: row.UID, Subject: row.Subject, Teacher: row.Teacher,
			Day: row.Day, Time: row.Time, Color: row.Color,
		})
	}
	return classes, nil
}

// AddClass stores a timetable slot.
func (store *Store) AddClass(ctx context.Context, class backend.Class) (backend.Class, error) {
	class.ID = store.newID()
	row := classRow{
		ID: class.ID, UID: class.UID, Subject: class.Subject, Teacher: class.Teacher,
		Day: class.Day, Time: class.Time, Color: class.Color, CreatedUnix: store.clock.Now().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return backend.Class{}, fmt.Errorf("devserver_store.add_class.%s: %w", store.driverLabel, err)
	}
	return class, nil
}

// ListTasks returns the user's tasks in insertion order.
func (store *Store) ListTasks(ctx context.Context, uid string) ([]backend.Task, error) {
	var rows []taskRow
	if err := store.db.WithContext(ctx).Where("uid = ?", uid).Order("created_unix ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("devserver_store.list_tasks.%s: %w", store.driverLabel, err)
	}
	tasks := make([]backend.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, taskFromRow(row))
	}
	return tasks, nil
}

// AddTask stores a task; a blank status becomes Pending.
func (store *Store) AddTask(ctx context.Context, task backend.Task) (backend.Task, error) {
	if strings.TrimSpace(task.Status) == "" {
		task.Status = backend.TaskPending
	}
	task.ID = store.newID()
	row := taskRow{
		ID: task.ID, UID: task.UID, Subject: task.Subject, Priority: task.Priority,
		Day: task.Day, Time: task.Time, Status: task.Status, CreatedUnix: store.clock.Now().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return backend.Task{}, fmt.Errorf("devserver_store.add_task.%s: %w", store.driverLabel, err)
	}
	return task, nil
}

// GetTask returns one task.
func (store *Store) GetTask(ctx context.Context, id string) (backend.Task, error) {
	var row taskRow
	if err := store.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return backend.Task{}, store.lookupError("get_task", err)
	}
	return taskFromRow(row), nil
}

// SetTaskStatus updates the status of a task owned by uid.
func (store *Store) SetTaskStatus(ctx context.Context, id string, uid string, status string) error {
	result := store.db.WithContext(ctx).Model(&taskRow{}).Where("id = ? AND uid = ?", id, uid).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("devserver_store.set_task_status.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("devserver_store.set_task_status.%s: %w", store.driverLabel, ErrRecordNotFound)
	}
	return nil
}

// DeleteTask removes a task owned by uid.
func (store *Store) DeleteTask(ctx context.Context, id string, uid string) error {
	result := store.db.WithContext(ctx).Where("id = ? AND uid = ?", id, uid).Delete(&taskRow{})
	if result.Error != nil {
		return fmt.Errorf("devserver_store.delete_task.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("devserver_store.delete_task.%s: %w", store.driverLabel, ErrRecordNotFound)
	}
	return nil
}

// AddScore stores a quiz result stamped with the current time.
func (store *Store) AddScore(ctx context.Context, score backend.Score) (backend.Score, error) {
	now := store.clock.Now()
	score.ID = store.newID()
	score.Date = now.UTC().Format(time.RFC3339)
	row := scoreRow{
		ID: score.ID, UID: score.UID, Subject: score.Subject, Difficulty: score.Difficulty,
		Score: score.Score, Total: score.Total, Date: score.Date, CreatedNano: now.UnixNano(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return backend.Score{}, fmt.Errorf("devserver_store.add_score.%s: %w", store.driverLabel, err)
	}
	return score, nil
}

// ListScores returns the user's quiz results, newest first.
func (store *Store) ListScores(ctx context.Context, uid string) ([]backend.Score, error) {
	var rows []scoreRow
	if err := store.db.WithContext(ctx).Where("uid = ?", uid).Order("created_nano DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("devserver_store.list_scores.%s: %w", store.driverLabel, err)
	}
	scores := make([]backend.Score, 0, len(rows))
	for _, row := range rows {
		scores = append(scores, backend.Score{
			ID: row.ID, UID: row.UID, Subject: row.Subject, Difficulty: row.Difficulty,
			Score: row.Score, Total: row.Total, Date: row.Date,
		})
	}
	return scores, nil
}

func taskFromRow(row taskRow) backend.Task {
	return backend.Task{
		ID: row.ID, UID: row.UID, Subject: row.Subject, Priority: row.Priority,
		Day: row.Day, Time: row.Time, Status: row.Status,
	}
}

func (store *Store) lookupError(operation string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("devserver_store.%s.%s: %w", operation, store.driverLabel, ErrRecordNotFound)
	}
	return fmt.Errorf("devserver_store.%s.%s: %w", operation, store.driverLabel, err)
}
