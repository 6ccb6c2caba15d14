package devserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/campuspilot/internal/backend"
)

type apiHandlers struct {
	store   *Store
	metrics *Metrics
	logger  *zap.Logger
}

type taskStatusRequest struct {
	Status string `json:"status"`
}

func (handlers *apiHandlers) register(group *gin.RouterGroup) {
	group.POST("/users", handlers.upsertUser)
	group.GET("/users/:uid", handlers.getUser)
	group.GET("/transactions/:uid", handlers.listTransactions)
	group.POST("/transactions", handlers.addTransaction)
	group.GET("/classes", handlers.listClasses)
	group.POST("/classes", handlers.addClass)
	group.GET("/tasks", handlers.listTasks)
	group.POST("/tasks", handlers.addTask)
	group.PUT("/tasks/:id", handlers.setTaskStatus)
	group.DELETE("/tasks/:id", handlers.deleteTask)
	group.POST("/scores", handlers.addScore)
	group.GET("/scores/:uid", handlers.listScores)
}

// authorizeOwner rejects requests whose uid does not belong to the caller.
func (handlers *apiHandlers) authorizeOwner(contextGin *gin.Context, uid string) (Principal, bool) {
	principal, ok := principalFrom(contextGin)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return Principal{}, false
	}
	if strings.TrimSpace(uid) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "uid is required"})
		return Principal{}, false
	}
	if uid != principal.UID {
		handlers.metrics.recordAuthFailure("uid_mismatch")
		handlers.logger.Warn("uid does not match token",
			zap.String("code", "devserver.auth.uid_mismatch"),
			zap.String("path", contextGin.Request.URL.Path),
			zap.String("token_uid", principal.UID),
			zap.String("request_uid", uid))
		contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "uid mismatch"})
		return Principal{}, false
	}
	return principal, true
}

func (handlers *apiHandlers) bind(contextGin *gin.Context, target any) bool {
	if err := contextGin.ShouldBindJSON(target); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return false
	}
	return true
}

func (handlers *apiHandlers) storeFailure(contextGin *gin.Context, operation string, err error) {
	if errors.Is(err, ErrRecordNotFound) {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	handlers.logger.Error("store operation failed",
		zap.String("code", "devserver.store.failed"),
		zap.String("operation", operation),
		zap.Error(err))
	contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (handlers *apiHandlers) upsertUser(contextGin *gin.Context) {
	var record backend.UserRecord
	if !handlers.bind(contextGin, &record) {
		return
	}
	if _, ok := handlers.authorizeOwner(contextGin, record.UID); !ok {
		return
	}
	if err := handlers.store.UpsertUser(contextGin.Request.Context(), record); err != nil {
		handlers.storeFailure(contextGin, "upsert_user", err)
		return
	}
	handlers.metrics.recordMirror()
	contextGin.JSON(http.StatusOK, gin.H{"success": true})
}

func (handlers *apiHandlers) getUser(contextGin *gin.Context) {
	uid := contextGin.Param("uid")
	if _, ok := handlers.authorizeOwner(contextGin, uid); !ok {
		return
	}
	record, err := handlers.store.GetUser(contextGin.Request.Context(), uid)
	if err != nil {
		handlers.storeFailure(contextGin, "get_user", err)
		return
	}
	contextGin.JSON(http.StatusOK, record)
}

func (handlers *apiHandlers) listTransactions(contextGin *gin.Context) {
	uid := contextGin.Param("uid")
	if _, ok := handlers.authorizeOwner(contextGin, uid); !ok {
		return
	}
	transactions, err := handlers.store.ListTransactions(contextGin.Request.Context(), uid)
	if err != nil {
		handlers.storeFailure(contextGin, "list_transactions", err)
		return
	}
	contextGin.JSON(http.StatusOK, transactions)
}

func (handlers *apiHandlers) addTransaction(contextGin *gin.Context) {
	var transaction backend.Transaction
	if !handlers.bind(contextGin, &transaction) {
		return
	}
	if _, ok := handlers.authorizeOwner(contextGin, transaction.UID); !ok {
		return
	}
	if transaction.Type != backend.TransactionIncome && transaction.Type != backend.TransactionExpense {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "type must be income or expense"})
		return
	}
	if transaction.Amount <= 0 {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	created, err := handlers.store.AddTransaction(contextGin.Request.Context(), transaction)
	if err != nil {
		handlers.storeFailure(contextGin, "add_transaction", err)
		return
	}
	contextGin.JSON(http.StatusCreated, gin.H{"success": true, "transaction": created})
}

func (handlers *apiHandlers) listClasses(contextGin *gin.Context) {
	uid := contextGin.Query("uid")
	if _, ok := handlers.authorizeOwner(contextGin, uid); !ok {
		return
	}
	classes, err := handlers.store.ListClasses(contextGin.Request.Context(), uid)
	if err != nil {
		handlers.storeFailure(contextGin, "list_classes", err)
		return
	}
	contextGin.JSON(http.StatusOK, classes)
}

func (handlers *apiHandlers) addClass(contextGin *gin.Context) {
	var class backend.Class
	if !handlers.bind(contextGin, &class) {
		return
	}
	if _, ok := handlers.authorizeOwner(contextGin, class.UID); !ok {
		return
	}
	if strings.TrimSpace(class.Subject) == "" || strings.TrimSpace(class.Day) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "subject and day are required"})
		return
	}
	created, err := handlers.store.AddClass(contextGin.Request.Context(), class)
	if err != nil {
		handlers.storeFailure(contextGin, "add_class", err)
		return
	}
	contextGin.JSON(http.StatusCreated, gin.H{"success": true, "class": created})
}

func (handlers *apiHandlers) listTasks(contextGin *gin.Context) {
	uid := contextGin.Query("uid")
	if _, ok := handlers.authorizeOwner(contextGin, uid); !ok {
		return
	}
	tasks, err := handlers.store.ListTasks(contextGin.Request.Context(), uid)
	if err != nil {
		handlers.storeFailure(contextGin, "list_tasks", err)
		return
	}
	contextGin.JSON(http.StatusOK, tasks)
}

func (handlers *apiHandlers) addTask(contextGin *gin.Context) {
	var task backend.Task
	if !handlers.bind(contextGin, &task) {
		return
	}
	if _, ok := handlers.authorizeOwner(contextGin, task.UID); !ok {
		return
	}
	if strings.TrimSpace(task.Subject) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}
	if task.Status != "" && !validTaskStatus(task.Status) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be Pending or Completed"})
		return
	}
	created, err := handlers.store.AddTask(contextGin.Request.Context(), task)
	if err != nil {
		handlers.storeFailure(contextGin, "add_task", err)
		return
	}
	contextGin.JSON(http.StatusCreated, created)
}

// setTaskStatus and deleteTask scope the id to the caller, so foreign ids read as missing.
func (handlers *apiHandlers) setTaskStatus(contextGin *gin.Context) {
	principal, ok := principalFrom(contextGin)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var payload taskStatusRequest
	if !handlers.bind(contextGin, &payload) {
		return
	}
	if !validTaskStatus(payload.Status) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be Pending or Completed"})
		return
	}
	if err := handlers.store.SetTaskStatus(contextGin.Request.Context(), contextGin.Param("id"), principal.UID, payload.Status); err != nil {
		handlers.storeFailure(contextGin, "set_task_status", err)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"success": true})
}

func (handlers *apiHandlers) deleteTask(contextGin *gin.Context) {
	principal, ok := principalFrom(contextGin)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := handlers.store.DeleteTask(contextGin.Request.Context(), contextGin.Param("id"), principal.UID); err != nil {
		handlers.storeFailure(contextGin, "delete_task", err)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"success": true})
}

func (handlers *apiHandlers) addScore(contextGin *gin.Context) {
	var score backend.Score
	if !handlers.bind(contextGin, &score) {
		return
	}
	if _, ok := handlers.authorizeOwner(contextGin, score.UID); !ok {
		return
	}
	if score.Total <= 0 || score.Score < 0 || score.Score > score.Total {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "score must be between 0 and total"})
		return
	}
	created, err := handlers.store.AddScore(contextGin.Request.Context(), score)
	if err != nil {
		handlers.storeFailure(contextGin, "add_score", err)
		return
	}
	contextGin.JSON(http.StatusCreated, gin.H{"success": true, "score": created})
}

func (handlers *apiHandlers) listScores(contextGin *gin.Context) {
	uid := contextGin.Param("uid")
	if _, ok := handlers.authorizeOwner(contextGin, uid); !ok {
		return
	}
	scores, err := handlers.store.ListScores(contextGin.Request.Context(), uid)
	if err != nil {
		handlers.storeFailure(contextGin, "list_scores", err)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"scores": scores})
}

func validTaskStatus(status string) bool {
	return status == backend.TaskPending || status == backend.TaskCompleted
}
