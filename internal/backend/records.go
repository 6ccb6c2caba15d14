package backend

// Transaction types.
const (
	TransactionIncome  = "income"
	TransactionExpense = "expense"
)

// Task statuses.
const (
	TaskPending   = "Pending"
	TaskCompleted = "Completed"
)

// UserRecord mirrors a signed-up identity in the backend user collection.
type UserRecord struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	PhotoURL  string `json:"photoURL"`
	CreatedAt string `json:"createdAt"`
}

// Transaction is a budget entry.
type Transaction struct {
	ID       string  `json:"_id,omitempty"`
	UID      string  `json:"uid"`
	Type     string  `json:"type"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Note     string  `json:"note,omitempty"`
	Date     string  `json:"date"`
}

// Class is a weekly timetable slot.
type Class struct {
	ID      string `json:"_id,omitempty"`
	UID     string `json:"uid"`
	Subject string `json:"subject"`
	Teacher string `json:"teacher"`
	Day     string `json:"day"`
	Time    string `json:"time"`
	Color   string `json:"color,omitempty"`
}

// Task is a study-planner item.
type Task struct {
	ID       string `json:"_id,omitempty"`
	UID      string `json:"uid"`
	Subject  string `json:"subject"`
	Priority string `json:"priority"`
	Day      string `json:"day"`
	Time     string `json:"time"`
	Status   string `json:"status"`
}

// Score is a saved quiz result.
type Score struct {
	ID         string `json:"_id,omitempty"`
	UID        string `json:"uid"`
	Subject    string `json:"subject"`
	Difficulty string `json:"difficulty"`
	Score      int    `json:"score"`
	Total      int    `json:"total"`
	Date       string `json:"date,omitempty"`
}
