package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wenwu/saas-platform/storefront-service/internal/apperr"
	"github.com/wenwu/saas-platform/storefront-service/internal/client"
	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/events"
	"github.com/wenwu/saas-platform/storefront-service/internal/metrics"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
	"github.com/wenwu/saas-platform/storefront-service/internal/repository"
)

// credentialLength symbols from nanoid's 64-symbol alphabet give 144 bits.
const credentialLength = 24

var ownerPattern = regexp.MustCompile(`^[a-z0-9._-]{3,32}$`)

// Outcomes of compensating a swept attempt
const (
	SweepCompensated      = "compensated"
	SweepNothingFound     = "nothing_found"
	SweepLiveAccountFound = "live_account"
)

// ProvisionService creates a panel identity plus a server for it and records
// every step so a failed attempt can be swept later.
type ProvisionService struct {
	cfg       *config.Config
	catalog   CatalogReader
	attempts  AttemptStore
	accounts  AccountStore
	panel     PanelAPI
	publisher events.Publisher
	logger    *slog.Logger

	newCredential func() string
	hashCost      int
}

func NewProvisionService(
	cfg *config.Config,
	catalog CatalogReader,
	attempts AttemptStore,
	accounts AccountStore,
	panel PanelAPI,
	publisher events.Publisher,
	logger *slog.Logger,
) (*ProvisionService, error) {
	gen, err := nanoid.Standard(credentialLength)
	if err != nil {
		return nil, fmt.Errorf("credential generator: %w", err)
	}

	return &ProvisionService{
		cfg:           cfg,
		catalog:       catalog,
		attempts:      attempts,
		accounts:      accounts,
		panel:         panel,
		publisher:     publisher,
		logger:        logger.With("component", "provision_service"),
		newCredential: gen,
		hashCost:      bcrypt.DefaultCost,
	}, nil
}

// Provision is not idempotent: each successful call creates a new identity and server.
// Concurrent calls for the same owner are rejected with Conflict while one is in flight.
func (s *ProvisionService) Provision(ctx context.Context, req *models.ProvisionRequest) (*models.ProvisionResult, error) {
	owner, err := normalizeOwner(req.Username)
	if err != nil {
		return nil, err
	}

	product, err := s.catalog.GetPanelProduct(ctx, req.PanelProductID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !product.Enabled) {
		return nil, apperr.NotFound("panel product %s not found", req.PanelProductID)
	}
	if err != nil {
		return nil, apperr.Persistence("load panel product", err)
	}

	panelCfg := s.cfg.Panel
	if missing := panelCfg.Missing(); len(missing) > 0 {
		return nil, apperr.Misconfigured("panel settings not configured: %s", strings.Join(missing, ", "))
	}

	identity := fmt.Sprintf("%s%dgb", owner, product.RAM)
	email := identity + "@" + panelCfg.BuyerDomain
	spec := models.SpecSnapshot{RAM: product.RAM, CPU: product.CPU, Disk: product.Disk}

	credential := s.newCredential()
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}

	attempt := &models.ProvisionAttempt{
		ID:         uuid.New().String(),
		Owner:      owner,
		Identity:   identity,
		CatalogRef: product.ID,
		State:      models.AttemptStart,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("a provisioning attempt for %s is already in progress", owner)
		}
		return nil, apperr.Persistence("record provision attempt", err)
	}

	log := s.logger.With("attempt_id", attempt.ID, "identity", identity)
	log.InfoContext(ctx, "provisioning started", "catalog_ref", product.ID, "ram", product.RAM)

	// From here on remote state is created; the caller going away must not stop the bookkeeping.
	work := context.WithoutCancel(ctx)

	user, err := s.createIdentity(work, attempt, &client.CreateUserRequest{
		Email:     email,
		Username:  identity,
		FirstName: identity,
		LastName:  identity,
		Language:  "en",
		Password:  credential,
	})
	if err != nil {
		return nil, err
	}

	remoteID := user.ID
	if err := s.attempts.Transition(work, attempt.ID, models.AttemptStart, models.AttemptIdentityCreated,
		repository.AttemptPatch{RemoteIdentityID: &remoteID}); err != nil {
		s.logPersistenceFailure(work, log, "identity created but attempt not updated", remoteID, err)
		s.bestEffortDeleteUser(work, log, remoteID)
		metrics.ProvisionAttemptsTotal.WithLabelValues("persistence_error").Inc()
		return nil, apperr.Persistence("record created identity", err)
	}

	limits := limitsFor(product.RAM)
	server, err := s.createResource(work, attempt, &client.CreateServerRequest{
		Name:        identity,
		Description: fmt.Sprintf("Panel %dGB", product.RAM),
		User:        remoteID,
		Egg:         panelCfg.Egg,
		DockerImage: panelCfg.DockerImage,
		Startup:     panelCfg.Startup,
		ExternalID:  attempt.ID,
		Environment: map[string]string{
			"INST":        "npm",
			"USER_UPLOAD": "0",
			"AUTO_UPDATE": "0",
			"CMD_RUN":     "npm start",
		},
		Limits:        limits,
		FeatureLimits: models.FeatureLimits{Databases: 5, Backups: 5, Allocations: 1},
		Deploy:        client.DeployRequest{Locations: []int{panelCfg.Location}, DedicatedIP: false, PortRange: []string{}},
	})
	if err != nil {
		return nil, err
	}

	handle := server.ID
	if err := s.attempts.Transition(work, attempt.ID, models.AttemptIdentityCreated, models.AttemptResourceCreated,
		repository.AttemptPatch{ResourceHandle: &handle}); err != nil {
		s.logPersistenceFailure(work, log, "server created but attempt not updated", handle, err)
		metrics.ProvisionAttemptsTotal.WithLabelValues("persistence_error").Inc()
		return nil, apperr.Persistence("record created server", err)
	}

	account := &models.ProvisionedAccount{
		ID:               uuid.New().String(),
		Identity:         identity,
		Email:            email,
		CredentialHash:   string(hash),
		RemoteIdentityID: remoteID,
		ResourceHandle:   handle,
		Spec:             spec,
		CatalogRef:       product.ID,
		Status:           models.AccountActive,
	}
	if err := s.accounts.Commit(work, attempt.ID, account); err != nil {
		s.logPersistenceFailure(work, log, "identity and server created but account not stored", handle, err)
		metrics.ProvisionAttemptsTotal.WithLabelValues("persistence_error").Inc()
		return nil, apperr.Persistence("store provisioned account", err)
	}

	metrics.ProvisionAttemptsTotal.WithLabelValues("committed").Inc()
	log.InfoContext(ctx, "provisioning committed", "remote_identity_id", remoteID, "resource_handle", handle)
	s.publish(work, events.NewEvent(events.TypeAccountProvisioned, account.ID, events.AccountEvent{
		AccountID:      account.ID,
		Identity:       identity,
		ResourceHandle: handle,
		CatalogRef:     product.ID,
		Spec:           spec,
	}))

	if server.Limits != (models.ResourceLimits{}) {
		limits = server.Limits
	}
	return &models.ProvisionResult{
		Domain:     panelCfg.Domain,
		Identity:   identity,
		Email:      email,
		Credential: credential,
		ResourceID: handle,
		Limits:     limits,
		Spec:       spec,
	}, nil
}

// createIdentity runs step one. A structured rejection means nothing exists
// remotely (failed_clean); a transport failure leaves the attempt in start for the sweeper.
func (s *ProvisionService) createIdentity(ctx context.Context, attempt *models.ProvisionAttempt, req *client.CreateUserRequest) (*client.PanelUser, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Panel.Timeout)
	defer cancel()

	user, err := s.panel.CreateUser(callCtx, req)
	if err == nil {
		return user, nil
	}

	msg := err.Error()
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrDuplicateIdentity):
		s.markAttempt(ctx, attempt.ID, models.AttemptStart, models.AttemptFailedClean, msg)
		metrics.ProvisionAttemptsTotal.WithLabelValues("duplicate_identity").Inc()
		return nil, apperr.DuplicateIdentity("identity %s already exists on the panel", req.Username)
	case errors.As(err, &apiErr) && apiErr.Rejected():
		s.markAttempt(ctx, attempt.ID, models.AttemptStart, models.AttemptFailedClean, msg)
		metrics.ProvisionAttemptsTotal.WithLabelValues("identity_rejected").Inc()
		return nil, apperr.Upstream("panel rejected identity creation", err)
	default:
		s.markAttempt(ctx, attempt.ID, models.AttemptStart, models.AttemptStart, msg)
		metrics.ProvisionAttemptsTotal.WithLabelValues("identity_unknown").Inc()
		return nil, apperr.Upstream("panel identity creation did not complete", err)
	}
}

// createResource runs step two. Any failure leaves an orphaned identity.
func (s *ProvisionService) createResource(ctx context.Context, attempt *models.ProvisionAttempt, req *client.CreateServerRequest) (*client.PanelServer, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Panel.Timeout)
	defer cancel()

	server, err := s.panel.CreateServer(callCtx, req)
	if err == nil {
		return server, nil
	}

	s.logger.WarnContext(ctx, "server creation failed, identity orphaned",
		"attempt_id", attempt.ID, "remote_id", req.User, "error", err)
	s.markAttempt(ctx, attempt.ID, models.AttemptIdentityCreated, models.AttemptFailedOrphan, err.Error())
	metrics.ProvisionAttemptsTotal.WithLabelValues("failed_orphan").Inc()
	return nil, apperr.Upstream("panel server creation failed", err)
}

// CompensateAttempt removes whatever an unfinished attempt left on the panel.
func (s *ProvisionService) CompensateAttempt(ctx context.Context, attempt *models.ProvisionAttempt) (string, error) {
	log := s.logger.With("attempt_id", attempt.ID, "identity", attempt.Identity, "state", attempt.State)
	removed := false

	serverID := attempt.ResourceHandle
	if serverID == nil {
		srv, err := withTimeout(ctx, s.cfg.Panel.Timeout, func(c context.Context) (*client.PanelServer, error) {
			return s.panel.GetServerByExternalID(c, attempt.ID)
		})
		if err != nil {
			return "", fmt.Errorf("look up server: %w", err)
		}
		if srv != nil {
			serverID = &srv.ID
		}
	}
	if serverID != nil {
		if err := s.deleteWithTimeout(ctx, func(c context.Context) error { return s.panel.DeleteServer(c, *serverID) }); err != nil {
			return "", fmt.Errorf("delete server %d: %w", *serverID, err)
		}
		removed = true
	}

	userID := attempt.RemoteIdentityID
	if userID == nil {
		// 仅凭用户名找到的账号可能属于已提交的账户，不能删除
		live, err := s.accounts.GetByIdentity(ctx, attempt.Identity)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("check live account: %w", err)
		}
		if live != nil {
			s.markAttempt(ctx, attempt.ID, attempt.State, models.AttemptFailedClean, "identity belongs to a committed account")
			return SweepLiveAccountFound, nil
		}

		user, err := withTimeout(ctx, s.cfg.Panel.Timeout, func(c context.Context) (*client.PanelUser, error) {
			return s.panel.FindUserByUsername(c, attempt.Identity)
		})
		if err != nil {
			return "", fmt.Errorf("look up identity: %w", err)
		}
		if user != nil {
			userID = &user.ID
		}
	}
	if userID != nil {
		if err := s.deleteWithTimeout(ctx, func(c context.Context) error { return s.panel.DeleteUser(c, *userID) }); err != nil {
			return "", fmt.Errorf("delete identity %d: %w", *userID, err)
		}
		removed = true
	}

	result, next := SweepNothingFound, models.AttemptFailedClean
	if removed {
		result, next = SweepCompensated, models.AttemptCompensated
	}
	if err := s.attempts.Transition(ctx, attempt.ID, attempt.State, next, repository.AttemptPatch{}); err != nil {
		return "", fmt.Errorf("mark attempt %s: %w", next, err)
	}

	log.InfoContext(ctx, "attempt swept", "result", result)
	s.publish(ctx, events.NewEvent(events.TypeOrphanCompensated, attempt.ID, events.OrphanEvent{
		AttemptID:        attempt.ID,
		Identity:         attempt.Identity,
		RemoteIdentityID: userID,
		ResourceHandle:   serverID,
		Result:           result,
	}))
	return result, nil
}

// ListSweepable returns attempts eligible for compensation.
func (s *ProvisionService) ListSweepable(ctx context.Context, grace time.Duration, limit int) ([]*models.ProvisionAttempt, error) {
	list, err := s.attempts.ListSweepable(ctx, time.Now().Add(-grace), limit)
	if err != nil {
		return nil, apperr.Persistence("list sweepable attempts", err)
	}
	return list, nil
}

func (s *ProvisionService) ListAccounts(ctx context.Context, page models.Page) ([]*models.ProvisionedAccount, error) {
	page = page.Normalize()
	list, err := s.accounts.List(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, apperr.Persistence("list provisioned accounts", err)
	}
	if list == nil {
		list = []*models.ProvisionedAccount{}
	}
	return list, nil
}

func (s *ProvisionService) markAttempt(ctx context.Context, id string, from, to models.AttemptState, lastError string) {
	if err := s.attempts.Transition(ctx, id, from, to, repository.AttemptPatch{LastError: &lastError}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record attempt state",
			"attempt_id", id, "from", from, "to", to, "error", err)
	}
}

func (s *ProvisionService) logPersistenceFailure(ctx context.Context, log *slog.Logger, msg string, remoteID int64, err error) {
	log.ErrorContext(ctx, msg,
		"remote_id", remoteID,
		"provider", "panel",
		"at", time.Now().UTC().Format(time.RFC3339),
		"error", err)
}

func (s *ProvisionService) bestEffortDeleteUser(ctx context.Context, log *slog.Logger, userID int64) {
	if err := s.deleteWithTimeout(ctx, func(c context.Context) error { return s.panel.DeleteUser(c, userID) }); err != nil {
		log.ErrorContext(ctx, "compensating identity delete failed, left for the sweeper", "remote_id", userID, "error", err)
	}
}

func (s *ProvisionService) deleteWithTimeout(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Panel.Timeout)
	defer cancel()
	return fn(callCtx)
}

func (s *ProvisionService) publish(ctx context.Context, e events.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, e); err != nil {
		s.logger.WarnContext(ctx, "publish event failed", "type", e.Type, "key", e.Key, "error", err)
	}
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

// limitsFor derives server limits from the plan's RAM in GB.
func limitsFor(ramGB int) models.ResourceLimits {
	return models.ResourceLimits{
		Memory: ramGB * 1024,
		Swap:   0,
		Disk:   ramGB * 1024,
		IO:     500,
		CPU:    ramGB * 30,
	}
}

func normalizeOwner(raw string) (string, error) {
	owner := strings.ToLower(strings.TrimSpace(raw))
	if !ownerPattern.MatchString(owner) {
		return "", apperr.Validation("username must be 3-32 characters of a-z, 0-9, '.', '_' or '-'")
	}
	return owner, nil
}
