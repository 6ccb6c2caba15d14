package identity

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// PasswordProviderID identifies email/password accounts.
	PasswordProviderID = "password"
	// GoogleProviderID identifies accounts created through Google federated sign-in.
	GoogleProviderID = "google.com"

	minimumPasswordLength = 6
	generatedUIDLength    = 28
)

var emailValidator = validator.New()

// AccountDirectoryConfig configures an AccountDirectory.
type AccountDirectoryConfig struct {
	Clock        Clock
	BcryptCost   int
	UIDGenerator func() string
}

type directoryAccount struct {
	identity     Identity
	passwordHash []byte
	disabled     bool
}

// AccountDirectory keeps email/password and federated accounts in memory. It is safe for
// concurrent use and holds no signed-in state.
type AccountDirectory struct {
	configuration AccountDirectoryConfig

	mutex         sync.Mutex
	byEmail       map[string]*directoryAccount
	byUID         map[string]*directoryAccount
	resetRequests []string
}

// NewAccountDirectory constructs an empty directory.
func NewAccountDirectory(configuration AccountDirectoryConfig) *AccountDirectory {
	if configuration.Clock == nil {
		configuration.Clock = NewSystemClock()
	}
	if configuration.BcryptCost == 0 {
		configuration.BcryptCost = bcrypt.DefaultCost
	}
	if configuration.UIDGenerator == nil {
		configuration.UIDGenerator = generateUID
	}
	return &AccountDirectory{
		configuration: configuration,
		byEmail:       make(map[string]*directoryAccount),
		byUID:         make(map[string]*directoryAccount),
	}
}

func generateUID() string {
	compact := strings.ReplaceAll(uuid.NewString(), "-", "")
	return compact[:generatedUIDLength]
}

// Create registers an email/password account.
func (directory *AccountDirectory) Create(email string, password string) (Identity, error) {
	normalized, err := validateEmail(email)
	if err != nil {
		return Identity{}, err
	}
	if len(password) < minimumPasswordLength {
		return Identity{}, NewAuthError(CodeWeakPassword, "Password should be at least 6 characters.", nil)
	}
	hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), directory.configuration.BcryptCost)
	if hashErr != nil {
		return Identity{}, NewAuthError(CodeInternalError, "Unable to store the password.", hashErr)
	}

	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	if _, exists := directory.byEmail[normalized]; exists {
		return Identity{}, NewAuthError(CodeEmailAlreadyInUse, "The email address is already in use by another account.", nil)
	}
	account := &directoryAccount{
		identity: Identity{
			UID:        directory.configuration.UIDGenerator(),
			Email:      normalized,
			ProviderID: PasswordProviderID,
			CreatedAt:  directory.configuration.Clock.Now().UTC(),
		},
		passwordHash: hash,
	}
	directory.byEmail[normalized] = account
	directory.byUID[account.identity.UID] = account
	return account.identity, nil
}

// Authenticate checks the password of an email/password account.
func (directory *AccountDirectory) Authenticate(email string, password string) (Identity, error) {
	normalized, err := validateEmail(email)
	if err != nil {
		return Identity{}, err
	}
	directory.mutex.Lock()
	account, ok := directory.byEmail[normalized]
	var (
		hash     []byte
		disabled bool
		existing Identity
	)
	if ok {
		hash = account.passwordHash
		disabled = account.disabled
		existing = account.identity
	}
	directory.mutex.Unlock()

	if !ok {
		return Identity{}, NewAuthError(CodeUserNotFound, "There is no user record corresponding to this identifier.", nil)
	}
	if disabled {
		return Identity{}, NewAuthError(CodeUserDisabled, "The user account has been disabled by an administrator.", nil)
	}
	if len(hash) == 0 || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return Identity{}, NewAuthError(CodeWrongPassword, "The password is invalid or the user does not have a password.", nil)
	}
	return existing, nil
}

// Federated returns the account linked to the federated profile, creating it on first use.
func (directory *AccountDirectory) Federated(profile Identity) (Identity, error) {
	normalized, err := validateEmail(profile.Email)
	if err != nil {
		return Identity{}, err
	}
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	account, exists := directory.byEmail[normalized]
	if !exists {
		created := profile
		created.Email = normalized
		if strings.TrimSpace(created.UID) == "" {
			created.UID = directory.configuration.UIDGenerator()
		}
		created.ProviderID = GoogleProviderID
		created.EmailVerified = true
		if created.CreatedAt.IsZero() {
			created.CreatedAt = directory.configuration.Clock.Now().UTC()
		}
		account = &directoryAccount{identity: created}
		directory.byEmail[normalized] = account
		directory.byUID[created.UID] = account
	}
	if account.disabled {
		return Identity{}, NewAuthError(CodeUserDisabled, "The user account has been disabled by an administrator.", nil)
	}
	return account.identity, nil
}

// Lookup returns the enabled account with the uid.
func (directory *AccountDirectory) Lookup(uid string) (Identity, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	account, ok := directory.byUID[uid]
	if !ok {
		return Identity{}, NewAuthError(CodeUserNotFound, "There is no user record corresponding to this identifier.", nil)
	}
	if account.disabled {
		return Identity{}, NewAuthError(CodeUserDisabled, "The user account has been disabled by an administrator.", nil)
	}
	return account.identity, nil
}

// UpdateProfile replaces the display name and photo of the account.
func (directory *AccountDirectory) UpdateProfile(uid string, update ProfileUpdate) (Identity, error) {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	account, ok := directory.byUID[uid]
	if !ok {
		return Identity{}, NewAuthError(CodeUserNotFound, "There is no user record corresponding to this identifier.", nil)
	}
	account.identity.DisplayName = update.DisplayName
	account.identity.PhotoURL = update.PhotoURL
	return account.identity, nil
}

// RequestPasswordReset records a reset request for a registered address.
func (directory *AccountDirectory) RequestPasswordReset(email string) error {
	normalized, err := validateEmail(email)
	if err != nil {
		return err
	}
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	if _, ok := directory.byEmail[normalized]; !ok {
		return NewAuthError(CodeUserNotFound, "There is no user record corresponding to this identifier.", nil)
	}
	directory.resetRequests = append(directory.resetRequests, normalized)
	return nil
}

// PasswordResetRequests lists the addresses that were sent a reset message, in order.
func (directory *AccountDirectory) PasswordResetRequests() []string {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	requests := make([]string, len(directory.resetRequests))
	copy(requests, directory.resetRequests)
	return requests
}

// Disable marks an existing account as disabled.
func (directory *AccountDirectory) Disable(email string) bool {
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	account, ok := directory.byEmail[normalizeEmail(email)]
	if !ok {
		return false
	}
	account.disabled = true
	return true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) (string, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return "", NewAuthError(CodeMissingEmail, "An email address must be provided.", nil)
	}
	if err := emailValidator.Var(normalized, "required,email"); err != nil {
		return "", NewAuthError(CodeInvalidEmail, "The email address is badly formatted.", err)
	}
	return normalized, nil
}
