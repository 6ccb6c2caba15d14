// Package quiz fetches multiple-choice questions from the Open Trivia Database and tracks a quiz run.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the public Open Trivia Database API.
	DefaultEndpoint = "https://opentdb.com/api.php"
	// DefaultAmount is the number of questions requested when none is given.
	DefaultAmount = 5
	// MaxAmount is the largest batch the API serves.
	MaxAmount = 50

	defaultTimeout = 15 * time.Second

	responseCodeSuccess   = 0
	responseCodeNoResults = 1
)

// Difficulties accepted by the API.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

var (
	// ErrNoQuestions indicates the API returned no questions for the settings.
	ErrNoQuestions = errors.New("quiz.no_questions")
	// ErrUnknownSubject indicates a subject outside Categories.
	ErrUnknownSubject = errors.New("quiz.unknown_subject")
	// ErrInvalidDifficulty indicates a difficulty other than easy, medium or hard.
	ErrInvalidDifficulty = errors.New("quiz.invalid_difficulty")
	// ErrInvalidAmount indicates a question count outside 1..MaxAmount.
	ErrInvalidAmount = errors.New("quiz.invalid_amount")
	// ErrUpstream indicates an unexpected reply from the question API.
	ErrUpstream = errors.New("quiz.upstream")
)

// Categories maps quiz subjects to Open Trivia Database category ids.
var Categories = map[string]int{
	"general":     9,
	"books":       10,
	"film":        11,
	"music":       12,
	"theatre":     13,
	"television":  14,
	"videogames":  15,
	"boardgames":  16,
	"science":     17,
	"computers":   18,
	"math":        19,
	"mythology":   20,
	"sports":      21,
	"geography":   22,
	"history":     23,
	"politics":    24,
	"art":         25,
	"celebrities": 26,
	"animals":     27,
	"vehicles":    28,
}

// Subjects returns the subject names ordered by category id.
func Subjects() []string {
	subjects := make([]string, 0, len(Categories))
	for subject := range Categories {
		subjects = append(subjects, subject)
	}
	slices.SortFunc(subjects, func(left string, right string) int {
		return Categories[left] - Categories[right]
	})
	return subjects
}

// Request selects a batch of questions.
type Request struct {
	Subject    string
	Difficulty string
	Amount     int
}

func (request Request) normalized() (Request, error) {
	request.Subject = strings.ToLower(strings.TrimSpace(request.Subject))
	request.Difficulty = strings.ToLower(strings.TrimSpace(request.Difficulty))
	if request.Amount == 0 {
		request.Amount = DefaultAmount
	}
	if _, ok := Categories[request.Subject]; !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownSubject, request.Subject)
	}
	switch request.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrInvalidDifficulty, request.Difficulty)
	}
	if request.Amount < 1 || request.Amount > MaxAmount {
		return Request{}, fmt.Errorf("%w: %d", ErrInvalidAmount, request.Amount)
	}
	return request, nil
}

// Question is one multiple-choice question with shuffled options.
type Question struct {
	Prompt  string
	Correct string
	Options []string
}

// ClientConfig configures the question client.
type ClientConfig struct {
	Endpoint   string
	HTTPClient *http.Client
	// Shuffle reorders options in place; defaults to a uniform random shuffle.
	Shuffle func(options []string)
	Logger  *zap.Logger
}

// Client fetches questions from the Open Trivia Database.
type Client struct {
	endpoint   string
	httpClient *http.Client
	shuffle    func(options []string)
	logger     *zap.Logger
}

// NewClient constructs a question client.
func NewClient(configuration ClientConfig) *Client {
	endpoint := strings.TrimSpace(configuration.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	shuffle := configuration.Shuffle
	if shuffle == nil {
		shuffle = shuffleOptions
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{endpoint: endpoint, httpClient: httpClient, shuffle: shuffle, logger: logger}
}

func shuffleOptions(options []string) {
	rand.Shuffle(len(options), func(left int, right int) {
		options[left], options[right] = options[right], options[left]
	})
}

type triviaResponse struct {
	ResponseCode int              `json:"response_code"`
	Results      []triviaQuestion `json:"results"`
}

type triviaQuestion struct {
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// Fetch returns a batch of multiple-choice questions for the request.
func (client *Client) Fetch(ctx context.Context, request Request) ([]Question, error) {
	normalized, err := request.normalized()
	if err != nil {
		return nil, fmt.Errorf("quiz.fetch: %w", err)
	}
	query := url.Values{}
	query.Set("amount", strconv.Itoa(normalized.Amount))
	query.Set("category", strconv.Itoa(Categories[normalized.Subject]))
	query.Set("difficulty", normalized.Difficulty)
	query.Set("type", "multiple")

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, client.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("quiz.fetch.request: %w", err)
	}
	httpRequest.Header.Set("Accept", "application/json")
	response, err := client.httpClient.Do(httpRequest)
	if err != nil {
		client.logger.Warn("question fetch failed",
			zap.String("code", "quiz.fetch.failed"),
			zap.String("subject", normalized.Subject),
			zap.Error(err),
		)
		return nil, fmt.Errorf("quiz.fetch: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		client.logger.Warn("question fetch failed",
			zap.String("code", "quiz.fetch.status"),
			zap.Int("status", response.StatusCode),
		)
		return nil, fmt.Errorf("quiz.fetch: %w: status %d", ErrUpstream, response.StatusCode)
	}
	var payload triviaResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("quiz.fetch.decode: %w", err)
	}
	switch payload.ResponseCode {
	case responseCodeSuccess, responseCodeNoResults:
	default:
		return nil, fmt.Errorf("quiz.fetch: %w: response code %d", ErrUpstream, payload.ResponseCode)
	}
	if len(payload.Results) == 0 {
		return nil, fmt.Errorf("quiz.fetch: %w", ErrNoQuestions)
	}

	questions := make([]Question, 0, len(payload.Results))
	for _, result := range payload.Results {
		options := make([]string, 0, len(result.IncorrectAnswers)+1)
		for _, incorrect := range result.IncorrectAnswers {
			options = append(options, html.UnescapeString(incorrect))
		}
		correct := html.UnescapeString(result.CorrectAnswer)
		options = append(options, correct)
		client.shuffle(options)
		questions = append(questions, Question{
			Prompt:  html.UnescapeString(result.Question),
			Correct: correct,
			Options: options,
		})
	}
	return questions, nil
}
