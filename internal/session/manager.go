package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/campuspilot/internal/backend"
	"github.com/tyemirov/campuspilot/internal/identity"
)

// Config configures the session manager and the backend client it owns.
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
	Transport   http.RoundTripper
	Metrics     MetricsRecorder
	Clock       identity.Clock
}

// State is the observable session state.
type State struct {
	Identity *identity.Identity
	Loading  bool
}

// Manager keeps the client-side session in step with an identity provider and
// supplies the bearer credential for every backend request.
type Manager struct {
	provider identity.Provider
	client   *backend.Client
	logger   *zap.Logger
	metrics  MetricsRecorder
	clock    identity.Clock

	mutex       sync.Mutex
	current     *identity.Identity
	credential  *identity.Credential
	initialized bool
	inFlight    int
	sequence    uint64
	lastApplied uint64

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	queue         *notificationQueue
	unsubscribe   func()
	workerContext context.Context
	stopWorker    context.CancelFunc
	workerDone    chan struct{}
}

// New subscribes to the provider and starts reconciling identity notifications.
// The caller owns the manager and must Close it.
func New(provider identity.Provider, configuration Config, logger *zap.Logger) (*Manager, error) {
	if provider == nil {
		return nil, errMissingProvider
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := configuration.Clock
	if clock == nil {
		clock = identity.NewSystemClock()
	}
	workerContext, stopWorker := context.WithCancel(context.Background())
	manager := &Manager{
		provider:      provider,
		logger:        logger,
		metrics:       metrics,
		clock:         clock,
		ready:         make(chan struct{}),
		closed:        make(chan struct{}),
		queue:         newNotificationQueue(),
		workerContext: workerContext,
		stopWorker:    stopWorker,
		workerDone:    make(chan struct{}),
	}
	manager.client = backend.New(backend.Config{
		BaseURL:     configuration.BaseURL,
		Timeout:     configuration.HTTPTimeout,
		Transport:   configuration.Transport,
		Credentials: manager,
		Logger:      logger,
	})
	go manager.run()
	manager.unsubscribe = provider.Subscribe(manager.enqueue)
	return manager, nil
}

// Client returns the shared backend client. Its requests wait for the first identity
// check and carry the credential current at send time.
func (manager *Manager) Client() *backend.Client {
	return manager.client
}

// State returns a snapshot of the session state.
func (manager *Manager) State() State {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return State{Identity: manager.current.Clone(), Loading: manager.loadingLocked()}
}

// CurrentUser returns the signed-in identity or nil.
func (manager *Manager) CurrentUser() *identity.Identity {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.current.Clone()
}

// Loading reports whether the first identity check is pending or an identity operation is running.
func (manager *Manager) Loading() bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.loadingLocked()
}

func (manager *Manager) loadingLocked() bool {
	return !manager.initialized || manager.inFlight > 0
}

// Ready is closed once the first identity notification has been handled.
func (manager *Manager) Ready() <-chan struct{} {
	return manager.ready
}

// WaitReady blocks until the first identity notification has been handled.
func (manager *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-manager.ready:
		return nil
	default:
	}
	select {
	case <-manager.ready:
		return nil
	case <-manager.closed:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authorization returns the header value currently attached to backend requests.
func (manager *Manager) Authorization() (string, bool) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.current == nil || manager.credential == nil {
		return "", false
	}
	return manager.credential.Authorization(), true
}

// AuthorizationHeader resolves the header for an outgoing request, refreshing an
// expired credential through the provider first.
func (manager *Manager) AuthorizationHeader(ctx context.Context) (string, bool) {
	manager.mutex.Lock()
	current := manager.current.Clone()
	var credential identity.Credential
	present := manager.credential != nil
	if present {
		credential = *manager.credential
	}
	manager.mutex.Unlock()

	if current == nil || !present {
		return "", false
	}
	if credential.ExpiresAt.IsZero() || manager.clock.Now().Before(credential.ExpiresAt) {
		return credential.Authorization(), true
	}
	refreshed, err := manager.provider.Credential(ctx, false)
	if err != nil {
		manager.logBootstrapFailure("refresh", current.UID, err)
		return credential.Authorization(), true
	}
	manager.metrics.Increment(metricCredentialRefresh)
	manager.mutex.Lock()
	if manager.current != nil && manager.current.UID == current.UID {
		manager.credential = &refreshed
	}
	manager.mutex.Unlock()
	return refreshed.Authorization(), true
}

// SignUp creates an account, attaches its credential and mirrors the user record to the backend.
// A failed mirror write is logged and does not fail the sign-up.
func (manager *Manager) SignUp(ctx context.Context, email string, password string) (*identity.Identity, error) {
	done := manager.begin()
	defer done()

	created, err := manager.provider.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, manager.operationFailed("sign_up", metricSignUpFailure, err)
	}
	credential, credentialErr := manager.provider.Credential(ctx, false)
	if credentialErr != nil {
		manager.logBootstrapFailure("sign_up", created.UID, credentialErr)
		manager.applyLatest(created, nil)
		manager.metrics.Increment(metricSignUpSuccess)
		return created.Clone(), nil
	}
	manager.applyLatest(created, &credential)
	manager.mirror(ctx, "sign_up", created)
	manager.metrics.Increment(metricSignUpSuccess)
	return created.Clone(), nil
}

// Login signs in with email and password and attaches a fresh credential before returning.
func (manager *Manager) Login(ctx context.Context, email string, password string) (*identity.Identity, error) {
	done := manager.begin()
	defer done()

	signedIn, err := manager.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, manager.operationFailed("login", metricLoginFailure, err)
	}
	credential, err := manager.provider.Credential(ctx, false)
	if err != nil {
		return nil, manager.operationFailed("login", metricLoginFailure, err)
	}
	manager.applyLatest(signedIn, &credential)
	manager.metrics.Increment(metricLoginSuccess)
	return signedIn.Clone(), nil
}

// LoginWithFederatedProvider runs the provider's interactive sign-in, attaches the
// credential and mirrors the user record.
func (manager *Manager) LoginWithFederatedProvider(ctx context.Context) (*identity.Identity, error) {
	done := manager.begin()
	defer done()

	signedIn, err := manager.provider.SignInWithFederated(ctx)
	if err != nil {
		return nil, manager.operationFailed("federated_login", metricFederatedFailure, err)
	}
	credential, err := manager.provider.Credential(ctx, false)
	if err != nil {
		return nil, manager.operationFailed("federated_login", metricFederatedFailure, err)
	}
	manager.applyLatest(signedIn, &credential)
	manager.mirror(ctx, "federated_login", signedIn)
	manager.metrics.Increment(metricFederatedSuccess)
	return signedIn.Clone(), nil
}

// Logout signs out and clears the local session even when the provider call fails.
func (manager *Manager) Logout(ctx context.Context) error {
	done := manager.begin()
	defer done()

	signOutErr := manager.provider.SignOut(ctx)
	manager.applyLatest(nil, nil)
	if signOutErr != nil {
		return manager.operationFailed("logout", metricLogoutFailure, signOutErr)
	}
	manager.metrics.Increment(metricLogoutSuccess)
	return nil
}

// ResetPassword asks the provider to send a reset email. Session state is untouched.
func (manager *Manager) ResetPassword(ctx context.Context, email string) error {
	if err := manager.provider.SendPasswordReset(ctx, email); err != nil {
		return manager.operationFailed("password_reset", metricResetFailure, err)
	}
	manager.metrics.Increment(metricResetSuccess)
	return nil
}

// UpdateProfile changes the display name and photo of the signed-in identity and
// refreshes the mirrored user record.
func (manager *Manager) UpdateProfile(ctx context.Context, displayName string, photoURL string) (*identity.Identity, error) {
	updated, err := manager.provider.UpdateProfile(ctx, identity.ProfileUpdate{DisplayName: displayName, PhotoURL: photoURL})
	if err != nil {
		return nil, manager.operationFailed("update_profile", metricProfileFailure, err)
	}
	manager.mutex.Lock()
	manager.sequence++
	manager.lastApplied = manager.sequence
	if manager.current == nil || manager.current.UID != updated.UID {
		manager.credential = nil
	}
	manager.current = updated.Clone()
	manager.mutex.Unlock()

	manager.mirror(ctx, "update_profile", updated)
	manager.metrics.Increment(metricProfileSuccess)
	return updated.Clone(), nil
}

// Close releases the provider subscription and stops the notification worker.
func (manager *Manager) Close() error {
	manager.closeOnce.Do(func() {
		close(manager.closed)
		if manager.unsubscribe != nil {
			manager.unsubscribe()
		}
		manager.stopWorker()
		<-manager.workerDone
	})
	return nil
}

func (manager *Manager) begin() func() {
	manager.mutex.Lock()
	manager.inFlight++
	manager.mutex.Unlock()
	return func() {
		manager.mutex.Lock()
		manager.inFlight--
		manager.mutex.Unlock()
	}
}

func (manager *Manager) enqueue(current *identity.Identity) {
	manager.mutex.Lock()
	manager.sequence++
	sequence := manager.sequence
	manager.mutex.Unlock()
	manager.queue.push(notification{sequence: sequence, identity: current})
}

func (manager *Manager) run() {
	defer close(manager.workerDone)
	for {
		item, ok := manager.queue.pop(manager.workerContext)
		if !ok {
			return
		}
		manager.reconcile(item)
	}
}

// reconcile applies one provider notification. The first one resolves readiness
// whatever its outcome.
func (manager *Manager) reconcile(item notification) {
	defer manager.markInitialized()

	if manager.isStale(item.sequence) {
		manager.metrics.Increment(metricStaleNotification)
		return
	}
	var credential *identity.Credential
	if item.identity != nil {
		fetched, err := manager.provider.Credential(manager.workerContext, false)
		switch {
		case err == nil:
			credential = &fetched
		case manager.workerContext.Err() != nil:
			return
		default:
			manager.logBootstrapFailure("notification", item.identity.UID, err)
		}
	}
	if !manager.apply(item.sequence, item.identity, credential) {
		manager.metrics.Increment(metricStaleNotification)
	}
}

func (manager *Manager) isStale(sequence uint64) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return sequence <= manager.lastApplied
}

// apply installs an identity and its credential unless a later-origin change already landed.
func (manager *Manager) apply(sequence uint64, current *identity.Identity, credential *identity.Credential) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if sequence <= manager.lastApplied {
		return false
	}
	manager.lastApplied = sequence
	manager.setLocked(current, credential)
	return true
}

func (manager *Manager) applyLatest(current *identity.Identity, credential *identity.Credential) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.sequence++
	manager.lastApplied = manager.sequence
	manager.setLocked(current, credential)
}

func (manager *Manager) setLocked(current *identity.Identity, credential *identity.Credential) {
	manager.current = current.Clone()
	manager.credential = nil
	if current != nil && credential != nil {
		attached := *credential
		manager.credential = &attached
	}
}

func (manager *Manager) markInitialized() {
	manager.mutex.Lock()
	manager.initialized = true
	manager.mutex.Unlock()
	manager.readyOnce.Do(func() {
		close(manager.ready)
	})
}

func (manager *Manager) mirror(ctx context.Context, operation string, subject *identity.Identity) {
	createdAt := subject.CreatedAt
	if createdAt.IsZero() {
		createdAt = manager.clock.Now()
	}
	record := backend.UserRecord{
		UID:       subject.UID,
		Name:      subject.DisplayName,
		Email:     subject.Email,
		PhotoURL:  subject.PhotoURL,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
	if err := manager.client.MirrorUser(ctx, record); err != nil {
		manager.metrics.Increment(metricMirrorFailure)
		manager.logger.Warn("user record mirror failed",
			zap.String("code", "session.mirror.failed"),
			zap.String("operation", operation),
			zap.String("uid", subject.UID),
			zap.Error(fmt.Errorf("%w: %w", ErrMirrorPersistence, err)),
		)
	}
}

func (manager *Manager) logBootstrapFailure(operation string, uid string, err error) {
	manager.metrics.Increment(metricBootstrapFailure)
	manager.logger.Error("session bootstrap failed",
		zap.String("code", "session.bootstrap.failed"),
		zap.String("operation", operation),
		zap.String("uid", uid),
		zap.Error(fmt.Errorf("%w: %w", ErrSessionBootstrap, err)),
	)
}

func (manager *Manager) operationFailed(operation string, metric string, err error) error {
	manager.metrics.Increment(metric)
	authError := identity.AsAuthError(err)
	manager.logger.Warn("identity operation failed",
		zap.String("code", "session."+operation+".failed"),
		zap.String("auth_code", authError.Code),
		zap.Error(err),
	)
	return authError
}
