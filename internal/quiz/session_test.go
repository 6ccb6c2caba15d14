package quiz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tyemirov/campuspilot/internal/backend"
)

type stubQuestionSource struct {
	questions []Question
	err       error
	requests  []Request
}

func (source *stubQuestionSource) Fetch(ctx context.Context, request Request) ([]Question, error) {
	source.requests = append(source.requests, request)
	return source.questions, source.err
}

type recordingSaver struct {
	mutex    sync.Mutex
	scores   []backend.Score
	failures []error
}

func (saver *recordingSaver) SaveScore(ctx context.Context, score backend.Score) error {
	saver.mutex.Lock()
	defer saver.mutex.Unlock()
	if len(saver.failures) > 0 {
		err := saver.failures[0]
		saver.failures = saver.failures[1:]
		return err
	}
	saver.scores = append(saver.scores, score)
	return nil
}

func (saver *recordingSaver) saved() []backend.Score {
	saver.mutex.Lock()
	defer saver.mutex.Unlock()
	return append([]backend.Score(nil), saver.scores...)
}

// gatedSaver holds its first SaveScore call until release is closed.
type gatedSaver struct {
	recordingSaver
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedSaver() *gatedSaver {
	return &gatedSaver{entered: make(chan struct{}), release: make(chan struct{})}
}

func (saver *gatedSaver) SaveScore(ctx context.Context, score backend.Score) error {
	first := false
	saver.once.Do(func() { first = true })
	if first {
		close(saver.entered)
		<-saver.release
	}
	return saver.recordingSaver.SaveScore(ctx, score)
}

func twoQuestions() []Question {
	return []Question{
		{Prompt: "2+2?", Correct: "4", Options: []string{"3", "4", "5", "22"}},
		{Prompt: "Capital of France?", Correct: "Paris", Options: []string{"Rome", "Paris", "Berlin", "Madrid"}},
	}
}

func startedSession(t *testing.T, saver *recordingSaver, logger *zap.Logger) *Session {
	t.Helper()
	session := NewSession("u1", &stubQuestionSource{questions: twoQuestions()}, saver, logger)
	if err := session.Start(context.Background(), Request{Subject: "math", Difficulty: "easy", Amount: 2}); err != nil {
		t.Fatalf("start: %v", err)
	}
	return session
}

func TestSessionSavesOnceWhenComplete(t *testing.T) {
	saver := &recordingSaver{}
	session := startedSession(t, saver, nil)

	outcome, err := session.Answer(context.Background(), 0, "4")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !outcome.Correct || outcome.Completed || outcome.Saved {
		t.Fatalf("unexpected first outcome %+v", outcome)
	}
	if len(saver.saved()) != 0 {
		t.Fatalf("expected no save before completion")
	}

	outcome, err = session.Answer(context.Background(), 1, "Rome")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if outcome.Correct || !outcome.Completed || !outcome.Saved {
		t.Fatalf("unexpected final outcome %+v", outcome)
	}
	scores := saver.saved()
	if len(scores) != 1 {
		t.Fatalf("expected one saved score, got %d", len(scores))
	}
	expected := backend.Score{UID: "u1", Subject: "math", Difficulty: "easy", Score: 1, Total: 2}
	if scores[0] != expected {
		t.Fatalf("expected %+v, got %+v", expected, scores[0])
	}

	repeat, err := session.Answer(context.Background(), 1, "Paris")
	if err != nil {
		t.Fatalf("repeat answer: %v", err)
	}
	if !repeat.AlreadyAnswered || repeat.Correct {
		t.Fatalf("expected repeat answer to be a no-op, got %+v", repeat)
	}
	if err := session.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(saver.saved()) != 1 {
		t.Fatalf("expected the score to be saved exactly once")
	}
	if score, total := session.Score(); score != 1 || total != 2 {
		t.Fatalf("unexpected score %d/%d", score, total)
	}
}

func TestSessionRetriesFailedSave(t *testing.T) {
	saver := &recordingSaver{failures: []error{errors.New("backend down")}}
	core, logs := observer.New(zapcore.WarnLevel)
	session := startedSession(t, saver, zap.New(core))

	if _, err := session.Answer(context.Background(), 0, "4"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	outcome, err := session.Answer(context.Background(), 1, "Paris")
	if err == nil {
		t.Fatalf("expected save failure")
	}
	if !outcome.Completed || outcome.Saved || session.Saved() {
		t.Fatalf("expected completed but unsaved, got %+v", outcome)
	}
	if logs.FilterField(zap.String("code", "quiz.score.save_failed")).Len() != 1 {
		t.Fatalf("expected logged save failure")
	}

	if err := session.Save(context.Background()); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	if !session.Saved() || len(saver.saved()) != 1 || saver.saved()[0].Score != 2 {
		t.Fatalf("expected retried save, got %+v", saver.saved())
	}
}

func TestSessionAnswerValidation(t *testing.T) {
	saver := &recordingSaver{}
	idle := NewSession("u1", &stubQuestionSource{}, saver, nil)
	if _, err := idle.Answer(context.Background(), 0, "4"); !errors.Is(err, ErrNoActiveQuiz) {
		t.Fatalf("expected ErrNoActiveQuiz, got %v", err)
	}
	if err := idle.Save(context.Background()); !errors.Is(err, ErrNoActiveQuiz) {
		t.Fatalf("expected ErrNoActiveQuiz on save, got %v", err)
	}

	session := startedSession(t, saver, nil)
	if _, err := session.Answer(context.Background(), 5, "4"); !errors.Is(err, ErrQuestionOutOfRange) {
		t.Fatalf("expected ErrQuestionOutOfRange, got %v", err)
	}
	if _, err := session.Answer(context.Background(), 0, "four"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	if err := session.Save(context.Background()); !errors.Is(err, ErrQuizIncomplete) {
		t.Fatalf("expected ErrQuizIncomplete, got %v", err)
	}
}

func TestSessionStartErrors(t *testing.T) {
	anonymous := NewSession("", &stubQuestionSource{questions: twoQuestions()}, &recordingSaver{}, nil)
	if err := anonymous.Start(context.Background(), Request{Subject: "math", Difficulty: "easy"}); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser, got %v", err)
	}

	source := &stubQuestionSource{}
	session := NewSession("u1", source, &recordingSaver{}, nil)
	if err := session.Start(context.Background(), Request{Subject: "math"}); !errors.Is(err, ErrInvalidDifficulty) {
		t.Fatalf("expected ErrInvalidDifficulty, got %v", err)
	}
	if len(source.requests) != 0 {
		t.Fatalf("expected no fetch for an invalid request")
	}
	if err := session.Start(context.Background(), Request{Subject: "math", Difficulty: "easy"}); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}

func TestSessionResetClearsRun(t *testing.T) {
	saver := &recordingSaver{}
	session := startedSession(t, saver, nil)
	if _, err := session.Answer(context.Background(), 0, "4"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := session.Answer(context.Background(), 1, "Paris"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	session.Reset()
	if len(session.Questions()) != 0 || session.Saved() || session.Completed() {
		t.Fatalf("expected cleared session")
	}
	if score, total := session.Score(); score != 0 || total != 0 {
		t.Fatalf("expected zero score, got %d/%d", score, total)
	}

	if err := session.Start(context.Background(), Request{Subject: "math", Difficulty: "easy", Amount: 2}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	for index, option := range []string{"4", "Paris"} {
		if _, err := session.Answer(context.Background(), index, option); err != nil {
			t.Fatalf("answer %d: %v", index, err)
		}
	}
	if len(saver.saved()) != 2 {
		t.Fatalf("expected a second save for the new run, got %d", len(saver.saved()))
	}
}

func TestSessionResetDuringSaveAllowsNextRunToSave(t *testing.T) {
	saver := newGatedSaver()
	session := NewSession("u1", &stubQuestionSource{questions: twoQuestions()}, saver, nil)
	request := Request{Subject: "math", Difficulty: "easy", Amount: 2}
	if err := session.Start(context.Background(), request); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Answer(context.Background(), 0, "4"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	type answerResult struct {
		outcome Outcome
		err     error
	}
	firstRun := make(chan answerResult, 1)
	go func() {
		outcome, err := session.Answer(context.Background(), 1, "Paris")
		firstRun <- answerResult{outcome: outcome, err: err}
	}()
	<-saver.entered

	if err := session.Start(context.Background(), request); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := session.Answer(context.Background(), 0, "3"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	outcome, err := session.Answer(context.Background(), 1, "Paris")
	if err != nil || !outcome.Completed || !outcome.Saved {
		t.Fatalf("expected second run saved, got %+v err=%v", outcome, err)
	}

	close(saver.release)
	result := <-firstRun
	if result.err != nil || result.outcome.Saved {
		t.Fatalf("expected discarded run not to report saved, got %+v err=%v", result.outcome, result.err)
	}
	if !session.Saved() {
		t.Fatalf("expected current run to stay saved")
	}
	scores := saver.saved()
	if len(scores) != 2 || scores[0].Score != 1 || scores[1].Score != 2 {
		t.Fatalf("expected both runs stored in order of completion, got %+v", scores)
	}
}

func TestQuestionsReturnsCopies(t *testing.T) {
	session := startedSession(t, &recordingSaver{}, nil)
	questions := session.Questions()
	questions[0].Options[0] = "mutated"
	if session.Questions()[0].Options[0] == "mutated" {
		t.Fatalf("expected Questions to return copies")
	}
}
