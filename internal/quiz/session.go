package quiz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tyemirov/campuspilot/internal/backend"
)

var (
	// ErrNoActiveQuiz indicates an answer or save without loaded questions.
	ErrNoActiveQuiz = errors.New("quiz.no_active_quiz")
	// ErrQuestionOutOfRange indicates an answer for a question index that does not exist.
	ErrQuestionOutOfRange = errors.New("quiz.question_out_of_range")
	// ErrUnknownOption indicates an answer that is not one of the question's options.
	ErrUnknownOption = errors.New("quiz.unknown_option")
	// ErrQuizIncomplete indicates a save before every question was answered.
	ErrQuizIncomplete = errors.New("quiz.incomplete")
	// ErrMissingUser indicates a session without a signed-in uid.
	ErrMissingUser = errors.New("quiz.missing_user")
)

// QuestionSource supplies question batches.
type QuestionSource interface {
	Fetch(ctx context.Context, request Request) ([]Question, error)
}

// ScoreSaver persists a finished quiz.
type ScoreSaver interface {
	SaveScore(ctx context.Context, score backend.Score) error
}

// AnsweredQuestion is a question with the user's choice.
type AnsweredQuestion struct {
	Question
	Answered bool
	Chosen   string
}

// Outcome describes the effect of one answer.
type Outcome struct {
	Correct         bool
	AlreadyAnswered bool
	Completed       bool
	Saved           bool
}

// Session tracks one quiz run for a user and saves the score once every question is answered.
type Session struct {
	uid    string
	source QuestionSource
	saver  ScoreSaver
	logger *zap.Logger

	mutex     sync.Mutex
	request   Request
	questions []AnsweredQuestion
	score     int
	answered  int
	saved     bool
	saving    bool
	run       uint64
}

// NewSession constructs a quiz session for the user.
func NewSession(uid string, source QuestionSource, saver ScoreSaver, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{uid: uid, source: source, saver: saver, logger: logger}
}

// Start clears any previous run and loads a new batch of questions.
func (session *Session) Start(ctx context.Context, request Request) error {
	if strings.TrimSpace(session.uid) == "" {
		return fmt.Errorf("quiz.start: %w", ErrMissingUser)
	}
	normalized, err := request.normalized()
	if err != nil {
		return fmt.Errorf("quiz.start: %w", err)
	}
	session.Reset()
	questions, err := session.source.Fetch(ctx, normalized)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return fmt.Errorf("quiz.start: %w", ErrNoQuestions)
	}
	loaded := make([]AnsweredQuestion, len(questions))
	for index, question := range questions {
		question.Options = slices.Clone(question.Options)
		loaded[index] = AnsweredQuestion{Question: question}
	}
	session.mutex.Lock()
	session.request = normalized
	session.questions = loaded
	session.mutex.Unlock()
	return nil
}

// Answer records the chosen option for a question. Answering an already-answered question
// changes nothing. The answer that completes the quiz triggers the score save; a failed save
// is returned alongside the outcome and can be retried with Save.
func (session *Session) Answer(ctx context.Context, index int, option string) (Outcome, error) {
	session.mutex.Lock()
	if len(session.questions) == 0 {
		session.mutex.Unlock()
		return Outcome{}, fmt.Errorf("quiz.answer: %w", ErrNoActiveQuiz)
	}
	if index < 0 || index >= len(session.questions) {
		session.mutex.Unlock()
		return Outcome{}, fmt.Errorf("quiz.answer: %w: %d", ErrQuestionOutOfRange, index)
	}
	question := &session.questions[index]
	if question.Answered {
		outcome := Outcome{Correct: question.Chosen == question.Correct, AlreadyAnswered: true, Completed: session.completeLocked(), Saved: session.saved}
		session.mutex.Unlock()
		return outcome, nil
	}
	if !slices.Contains(question.Options, option) {
		session.mutex.Unlock()
		return Outcome{}, fmt.Errorf("quiz.answer: %w: %q", ErrUnknownOption, option)
	}
	question.Answered = true
	question.Chosen = option
	outcome := Outcome{Correct: option == question.Correct}
	if outcome.Correct {
		session.score++
	}
	session.answered++
	outcome.Completed = session.completeLocked()
	session.mutex.Unlock()

	if !outcome.Completed {
		return outcome, nil
	}
	saved, err := session.saveOnce(ctx)
	outcome.Saved = saved
	return outcome, err
}

// Save stores the score of a completed quiz unless it was already saved.
func (session *Session) Save(ctx context.Context) error {
	session.mutex.Lock()
	if len(session.questions) == 0 {
		session.mutex.Unlock()
		return fmt.Errorf("quiz.save: %w", ErrNoActiveQuiz)
	}
	if !session.completeLocked() {
		session.mutex.Unlock()
		return fmt.Errorf("quiz.save: %w", ErrQuizIncomplete)
	}
	session.mutex.Unlock()
	_, err := session.saveOnce(ctx)
	return err
}

func (session *Session) saveOnce(ctx context.Context) (bool, error) {
	session.mutex.Lock()
	if session.saved || session.saving {
		saved := session.saved
		session.mutex.Unlock()
		return saved, nil
	}
	session.saving = true
	run := session.run
	score := backend.Score{
		UID:        session.uid,
		Subject:    session.request.Subject,
		Difficulty: session.request.Difficulty,
		Score:      session.score,
		Total:      len(session.questions),
	}
	session.mutex.Unlock()

	err := session.saver.SaveScore(ctx, score)

	session.mutex.Lock()
	defer session.mutex.Unlock()
	current := run == session.run
	if current {
		session.saving = false
	}
	if err != nil {
		session.logger.Warn("quiz score save failed",
			zap.String("code", "quiz.score.save_failed"),
			zap.String("subject", score.Subject),
			zap.Error(err),
		)
		return false, fmt.Errorf("quiz.save: %w", err)
	}
	if !current {
		return false, nil
	}
	session.saved = true
	return true, nil
}

func (session *Session) completeLocked() bool {
	return len(session.questions) > 0 && session.answered == len(session.questions)
}

// Reset discards the questions, score and save state. A save still in flight for the
// discarded run no longer marks the session saved.
func (session *Session) Reset() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.run++
	session.request = Request{}
	session.questions = nil
	session.score = 0
	session.answered = 0
	session.saved = false
	session.saving = false
}

// Questions returns a copy of the loaded questions.
func (session *Session) Questions() []AnsweredQuestion {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	questions := make([]AnsweredQuestion, len(session.questions))
	for index, question := range session.questions {
		question.Options = slices.Clone(question.Options)
		questions[index] = question
	}
	return questions
}

// Score returns the correct answer count and the number of questions.
func (session *Session) Score() (int, int) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.score, len(session.questions)
}

// Completed reports whether every question was answered.
func (session *Session) Completed() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.completeLocked()
}

// Saved reports whether the score of the current run was stored.
func (session *Session) Saved() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.saved
}
