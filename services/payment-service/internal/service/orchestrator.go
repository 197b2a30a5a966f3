package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

type Initiator interface {
	Validate(identity string, amount int64, durationHours int) error
	Initiate(ctx context.Context, identity string, amount int64, durationHours int) (string, error)
}

type Poller interface {
	PollUntilTerminal(ctx context.Context, token string, budget PollBudget, hooks PollHooks) PollResult
}

type Granter interface {
	Grant(ctx context.Context, sessionID string, identity models.NetworkIdentity, durationSeconds int64, label string) GrantOutcome
}

type SessionStore interface {
	Create(ctx context.Context, session *models.PaymentSession) error
	Update(ctx context.Context, session *models.PaymentSession) error
	FindByCorrelationToken(ctx context.Context, token string) (*models.PaymentSession, error)
}

type SessionSnapshotter interface {
	SetSession(ctx context.Context, session *models.PaymentSession) error
}

type StatusPublisher interface {
	PublishStatus(session *models.PaymentSession, report models.StatusReport)
}

type SupportNotifier interface {
	NotifyGrantFailure(ctx context.Context, session *models.PaymentSession) error
}

// Collaborators are optional; nil fields are skipped.
type Collaborators struct {
	Cache   SessionSnapshotter
	Events  StatusPublisher
	Support SupportNotifier
	Metrics *MetricsCollector
}

type OrchestratorConfig struct {
	Budget                   PollBudget
	AllowPlaceholderIdentity bool
	GrantTimeout             time.Duration
	StoreTimeout             time.Duration
}

// sessionFlow is everything one purchase attempt owns. Only its goroutine
// mutates session.
type sessionFlow struct {
	id        string
	clientKey string
	request   models.PurchaseRequest
	session   *models.PaymentSession
	reports   chan models.StatusReport
	cancel    context.CancelFunc
	done      chan struct{}
	stored    bool
	log       *logrus.Entry
}

// SessionOrchestrator drives purchase -> initiation -> polling -> grant, one
// goroutine per session, at most one live session per client key.
type SessionOrchestrator struct {
	initiator Initiator
	poller    Poller
	granter   Granter
	sessions  SessionStore
	extras    Collaborators
	config    OrchestratorConfig
	logger    *logrus.Logger

	mu       sync.Mutex
	active   map[string]*sessionFlow
	keyLocks map[string]*keyLock
	closed   bool
	wg       sync.WaitGroup

	now   func() time.Time
	newID func() string
}

func NewSessionOrchestrator(
	initiator Initiator,
	poller Poller,
	granter Granter,
	sessions SessionStore,
	extras Collaborators,
	config OrchestratorConfig,
	logger *logrus.Logger,
) *SessionOrchestrator {
	if config.GrantTimeout <= 0 {
		config.GrantTimeout = 15 * time.Second
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}

	return &SessionOrchestrator{
		initiator: initiator,
		poller:    poller,
		granter:   granter,
		sessions:  sessions,
		extras:    extras,
		config:    config,
		logger:    logger,
		active:    make(map[string]*sessionFlow),
		keyLocks:  make(map[string]*keyLock),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SubmitPurchase validates req locally, supersedes any session running for
// clientKey and starts a new one. Validation failures are returned before any
// network call and leave no state behind. The returned channel is closed once
// the session reaches a terminal state.
//
// A live session is superseded only by the same payer or by a request naming
// it in ReplacesSessionID; anything else gets ErrSessionInProgress.
func (o *SessionOrchestrator) SubmitPurchase(ctx context.Context, clientKey string, req models.PurchaseRequest, identity *models.NetworkIdentity) (<-chan models.StatusReport, error) {
	if err := o.initiator.Validate(req.ClientIdentity, req.Amount, req.PackageDurationHours); err != nil {
		return nil, err
	}
	if clientKey == "" {
		return nil, models.ValidationError("Client could not be identified")
	}

	network, err := o.resolveIdentity(identity)
	if err != nil {
		return nil, err
	}

	unlock := o.lockKey(clientKey)
	defer unlock()

	o.mu.Lock()
	closed := o.closed
	previous := o.active[clientKey]
	o.mu.Unlock()
	if closed {
		return nil, models.ErrShuttingDown
	}

	if previous != nil {
		if req.ClientIdentity != previous.request.ClientIdentity && req.ReplacesSessionID != previous.id {
			return nil, models.ErrSessionInProgress
		}
		if err := o.stop(ctx, previous); err != nil {
			return nil, err
		}
	}

	if network.Placeholder {
		o.logger.WithField("client_key", clientKey).Warn("Using placeholder network identity; unsafe outside local testing")
		o.extras.Metrics.IncrementPlaceholderIdentity()
	}

	id := o.newID()
	now := o.now()
	sessionCtx, cancel := context.WithCancel(context.Background())

	flow := &sessionFlow{
		id:        id,
		clientKey: clientKey,
		request:   req,
		session: &models.PaymentSession{
			SessionID:       id,
			ClientKey:       clientKey,
			ClientIdentity:  req.ClientIdentity,
			NetworkIdentity: network,
			Amount:          req.Amount,
			DurationHours:   req.PackageDurationHours,
			PackageLabel:    req.Label(),
			PaymentStatus:   models.PaymentStatusInitiating,
			State:           models.StateIdle,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		// initiating, polling, one per attempt, granting and a terminal report
		reports: make(chan models.StatusReport, o.config.Budget.MaxAttempts+8),
		cancel:  cancel,
		done:    make(chan struct{}),
		log: o.logger.WithFields(logrus.Fields{
			"session_id": id,
			"client_key": clientKey,
		}),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, models.ErrShuttingDown
	}
	o.active[clientKey] = flow
	o.wg.Add(1)
	o.mu.Unlock()

	o.extras.Metrics.IncrementSessionStarted()
	go o.run(sessionCtx, flow)

	return flow.reports, nil
}

// Close cancels the live session for clientKey and waits for it to stop. It
// does nothing unless sessionID names that session.
func (o *SessionOrchestrator) Close(ctx context.Context, clientKey, sessionID string) (bool, error) {
	unlock := o.lockKey(clientKey)
	defer unlock()

	o.mu.Lock()
	flow, ok := o.active[clientKey]
	o.mu.Unlock()
	if !ok || flow.id != sessionID {
		return false, nil
	}
	return true, o.stop(ctx, flow)
}

// ActiveSession returns the id of the live session for clientKey.
func (o *SessionOrchestrator) ActiveSession(clientKey string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	flow, ok := o.active[clientKey]
	if !ok {
		return "", false
	}
	return flow.id, true
}

// Shutdown rejects new purchases, cancels every live session and waits for
// them. Sessions already granting finish their grant first.
func (o *SessionOrchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, flow := range o.active {
		flow.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockKey serializes submit and close for one client key. Other keys never
// wait on it, even while this key waits out a grant.
func (o *SessionOrchestrator) lockKey(clientKey string) (unlock func()) {
	o.mu.Lock()
	l, ok := o.keyLocks[clientKey]
	if !ok {
		l = &keyLock{}
		o.keyLocks[clientKey] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(o.keyLocks, clientKey)
		}
		o.mu.Unlock()
	}
}

// stop cancels flow and waits for its goroutine. The caller holds the key lock.
func (o *SessionOrchestrator) stop(ctx context.Context, flow *sessionFlow) error {
	o.logger.WithFields(logrus.Fields{
		"session_id": flow.id,
		"client_key": flow.clientKey,
	}).Info("Cancelling session")
	flow.cancel()

	select {
	case <-flow.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *SessionOrchestrator) owns(flow *sessionFlow) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	current, ok := o.active[flow.clientKey]
	return ok && current.id == flow.id
}

func (o *SessionOrchestrator) resolveIdentity(identity *models.NetworkIdentity) (models.NetworkIdentity, error) {
	if identity == nil || identity.IsZero() {
		if !o.config.AllowPlaceholderIdentity {
			return models.NetworkIdentity{}, models.ValidationError("Client network identity is required")
		}
		return models.PlaceholderIdentity(), nil
	}

	// The access controller only authorizes IPv4 clients with 48-bit MACs.
	ip := net.ParseIP(strings.TrimSpace(identity.Address)).To4()
	if ip == nil {
		return models.NetworkIdentity{}, models.ValidationError("Invalid client IP address")
	}
	mac, err := net.ParseMAC(strings.TrimSpace(identity.HardwareAddress))
	if err != nil || len(mac) != 6 {
		return models.NetworkIdentity{}, models.ValidationError("Invalid client MAC address")
	}

	return models.NetworkIdentity{
		Address:         ip.String(),
		HardwareAddress: models.CanonicalMAC(mac),
	}, nil
}

func (o *SessionOrchestrator) run(ctx context.Context, flow *sessionFlow) {
	defer o.finish(flow)

	session := flow.session
	req := flow.request

	o.transition(flow, models.StateInitiating, models.ReportInfo,
		fmt.Sprintf("Sending payment request of %d to %s...", req.Amount, session.MaskedIdentity()), "")

	token, err := o.initiator.Initiate(ctx, req.ClientIdentity, req.Amount, req.PackageDurationHours)
	if err != nil {
		if ctx.Err() != nil {
			o.transition(flow, models.StateCancelled, models.ReportInfo, "Payment request cancelled.", "")
			return
		}
		flow.log.WithError(err).Warn("Payment initiation failed")
		session.FailureReason = models.Reason(err, "Could not start the payment. Please try again.")
		o.transition(flow, models.StateInitiationFailed, models.ReportError, session.FailureReason, flowErrorKind(err))
		return
	}

	session.CorrelationToken = token
	session.PaymentStatus = models.PaymentStatusAwaitingProviderAction
	flow.log = flow.log.WithField("correlation_token", token)

	if err := o.create(ctx, session); err != nil {
		if errors.Is(err, errTokenReused) || errors.Is(err, database.ErrDuplicate) {
			flow.log.WithError(err).Error("Provider reused a correlation token")
			session.FailureReason = "Payment reference already used. Please try again."
			o.transition(flow, models.StateInitiationFailed, models.ReportError, session.FailureReason, models.ErrorKindProviderRejection)
			return
		}
		flow.log.WithError(err).Error("Failed to store session, continuing without audit record")
	} else {
		flow.stored = true
	}

	o.transition(flow, models.StatePolling, models.ReportInfo,
		"Payment request sent. Check your phone and enter your PIN to approve.", "")

	budget := o.config.Budget
	result := o.poller.PollUntilTerminal(ctx, token, budget, PollHooks{
		Guard: func() bool { return o.owns(flow) },
		OnAttempt: func(attempt int, status VerifyStatus, err error) {
			session.PaymentStatus = models.PaymentStatusPolling
			session.AttemptCount = attempt
			session.UpdatedAt = o.now()
			o.emit(ctx, flow, models.StatusReport{
				Kind:       models.ReportInfo,
				Message:    fmt.Sprintf("Waiting for payment confirmation (%d/%d)...", attempt, budget.MaxAttempts),
				Attempt:    attempt,
				AttemptMax: budget.MaxAttempts,
			})
		},
	})
	session.AttemptCount = result.Attempts

	switch result.Outcome {
	case PollCancelled:
		session.FailureReason = "cancelled"
		o.transition(flow, models.StateCancelled, models.ReportInfo, "Payment check cancelled.", "")
		return
	case PollFailed:
		session.PaymentStatus = models.PaymentStatusFailed
		session.FailureReason = result.Reason
		o.transition(flow, models.StatePaymentFailed, models.ReportError, result.Reason, models.ErrorKindProviderRejection)
		return
	case PollTimedOut:
		session.PaymentStatus = models.PaymentStatusTimedOut
		session.FailureReason = "payment not confirmed in time"
		o.transition(flow, models.StatePaymentTimedOut, models.ReportError,
			"Payment was not confirmed in time. Please try again.", models.ErrorKindTimeoutExhausted)
		return
	}

	o.grant(ctx, flow)
}

// grant runs once the payment is captured, so it ignores cancellation and is
// bounded by GrantTimeout instead.
func (o *SessionOrchestrator) grant(ctx context.Context, flow *sessionFlow) {
	session := flow.session
	req := flow.request

	confirmedAt := o.now()
	session.PaymentStatus = models.PaymentStatusSucceeded
	session.ConfirmedAt = &confirmedAt
	if d, ok := session.ConfirmationLatency(); ok {
		o.extras.Metrics.ObserveConfirmation(d)
	}

	o.transition(flow, models.StateGranting, models.ReportInfo, "Payment received. Activating your internet access...", "")

	// Recorded before the call so a crash mid-grant never leads to a second grant.
	session.GrantAttempted = true
	o.update(ctx, flow)

	grantCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.GrantTimeout)
	outcome := o.granter.Grant(grantCtx, session.SessionID, session.NetworkIdentity, req.DurationSeconds(), req.Label())
	cancel()
	o.extras.Metrics.IncrementGrant(outcome.Success)

	if !outcome.Success {
		session.FailureReason = outcome.Reason
		flow.log.WithField("reason", outcome.Reason).Error("Access grant failed after successful payment")
		o.transition(flow, models.StateGrantFailed, models.ReportError,
			fmt.Sprintf("Payment received, but your access could not be activated. Please contact support with reference %s and do not pay again.", session.SessionID),
			models.ErrorKindGrantFailure)

		if o.extras.Support != nil {
			notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.StoreTimeout)
			if err := o.extras.Support.NotifyGrantFailure(notifyCtx, session); err != nil {
				flow.log.WithError(err).Error("Failed to alert support")
			}
			cancel()
		}
		return
	}

	grantedAt := o.now()
	expiresAt := outcome.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = grantedAt.Add(time.Duration(req.DurationSeconds()) * time.Second)
	}
	session.Grant = &models.AccessGrant{
		NetworkIdentity: session.NetworkIdentity,
		GrantedAt:       grantedAt,
		ExpiresAt:       expiresAt,
		PackageLabel:    req.Label(),
		ControllerRef:   outcome.ControllerRef,
	}

	o.transition(flow, models.StateCompleted, models.ReportSuccess,
		fmt.Sprintf("You are connected. %s of access is active.", req.Label()), "")
}

// transition moves the session to state and emits exactly one report for it.
func (o *SessionOrchestrator) transition(flow *sessionFlow, state models.SessionState, kind models.ReportKind, message string, errKind models.ErrorKind) {
	session := flow.session
	now := o.now()
	session.State = state
	session.UpdatedAt = now

	if state.IsTerminal() {
		session.CompletedAt = &now
		o.extras.Metrics.RecordSessionOutcome(state)
		o.update(context.Background(), flow)
	}

	flow.log.WithField("state", state).Info(message)

	o.emit(context.Background(), flow, models.StatusReport{
		Kind:      kind,
		Message:   message,
		ErrorKind: errKind,
	})
}

func (o *SessionOrchestrator) emit(ctx context.Context, flow *sessionFlow, report models.StatusReport) {
	session := flow.session
	report.SessionID = session.SessionID
	report.State = session.State
	report.Time = o.now()

	select {
	case flow.reports <- report:
	default:
		flow.log.Warn("Status report buffer full, dropping report")
	}

	if o.extras.Events != nil {
		o.extras.Events.PublishStatus(session, report)
	}

	if o.extras.Cache != nil {
		cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.StoreTimeout)
		if err := o.extras.Cache.SetSession(cacheCtx, session); err != nil {
			flow.log.WithError(err).Debug("Failed to cache session snapshot")
		}
		cancel()
	}
}

var errTokenReused = errors.New("correlation token already belongs to another session")

// create stores session after checking its correlation token is fresh. The
// unique index still catches a race between two checks.
func (o *SessionOrchestrator) create(ctx context.Context, session *models.PaymentSession) error {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.StoreTimeout)
	defer cancel()

	existing, err := o.sessions.FindByCorrelationToken(storeCtx, session.CorrelationToken)
	switch {
	case err == nil && existing != nil:
		return fmt.Errorf("%w: %s", errTokenReused, existing.SessionID)
	case err != nil && !errors.Is(err, database.ErrNotFound):
		return err
	}
	return o.sessions.Create(storeCtx, session)
}

func (o *SessionOrchestrator) update(ctx context.Context, flow *sessionFlow) {
	if !flow.stored {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.StoreTimeout)
	defer cancel()
	if err := o.sessions.Update(storeCtx, flow.session); err != nil {
		flow.log.WithError(err).Error("Failed to update session record")
	}
}

func (o *SessionOrchestrator) finish(flow *sessionFlow) {
	o.mu.Lock()
	if current, ok := o.active[flow.clientKey]; ok && current.id == flow.id {
		delete(o.active, flow.clientKey)
	}
	o.mu.Unlock()

	flow.cancel()
	close(flow.reports)
	close(flow.done)
	o.wg.Done()
}

func flowErrorKind(err error) models.ErrorKind {
	var fe *models.FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return models.ErrorKindTransport
}
