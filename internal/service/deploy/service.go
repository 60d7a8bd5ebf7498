package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/sitedrop/sitedrop/internal/domain"
	"github.com/sitedrop/sitedrop/internal/repository"
	"github.com/sitedrop/sitedrop/internal/service/admission"
	"github.com/sitedrop/sitedrop/internal/service/janitor"
	"github.com/sitedrop/sitedrop/internal/service/staging"
	"github.com/sitedrop/sitedrop/internal/ws"
	"github.com/sitedrop/sitedrop/pkg/config"
)

// Status constants for deploy history rows.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrMissingFile indicates a deploy request without an upload payload.
var ErrMissingFile = errors.New("deploy: file payload is required")

// ErrPersistence indicates the quota counters could not be written; the
// deploy is failed rather than left uncharged.
var ErrPersistence = errors.New("deploy: persist quota state")

// Request is a deploy attempt as received from the HTTP layer. FileData is
// base64-encoded.
type Request struct {
	Name     string `json:"name"`
	FileData string `json:"fileData"`
	FileName string `json:"fileName"`
}

// Outcome carries the admission decision and, for admitted deploys, the
// published URL. RemainingQuota is populated on every path so error
// responses can report it.
type Outcome struct {
	Decision       domain.AdmissionDecision
	URL            string
	RemainingQuota int
}

// Event is a deploy lifecycle notification for streaming subscribers.
type Event struct {
	Event     string    `json:"event"`
	Name      string    `json:"name,omitempty"`
	URL       string    `json:"url,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Service orchestrates admission, staging, publishing and counter
// mutation. The mutex keeps evaluate-then-commit atomic: deploys are fully
// serialized, which also sidesteps concurrent staging of one site name.
type Service struct {
	quota       repository.QuotaRepository
	deployments repository.DeploymentRepository
	staging     staging.Pipeline
	janitor     *janitor.Janitor
	publisher   Publisher
	hub         *ws.Hub
	logger      *slog.Logger
	cfg         config.APIConfig

	mu    sync.Mutex
	state domain.QuotaState
	now   func() time.Time
}

// New returns a deploy service. Call Load before serving requests.
func New(quota repository.QuotaRepository, deployments repository.DeploymentRepository, stagingSvc staging.Pipeline, jan *janitor.Janitor, publisher Publisher, hub *ws.Hub, logger *slog.Logger, cfg config.APIConfig) *Service {
	return &Service{
		quota:       quota,
		deployments: deployments,
		staging:     stagingSvc,
		janitor:     jan,
		publisher:   publisher,
		hub:         hub,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Load reads the persisted counters once at startup. A missing record
// starts the service at zero usage; any other failure is surfaced so the
// caller can decide between fail-fast and degraded startup.
func (s *Service) Load(ctx context.Context) error {
	state, err := s.quota.LoadQuotaState(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("no persisted quota state, starting fresh")
			return nil
		}
		return fmt.Errorf("load quota state: %w", err)
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Info("quota state loaded", "quota_used", state.QuotaUsed, "last_deploy_ts", state.LastDeployTS)
	return nil
}

// HandleDeploy runs the full deploy flow for one request. Rejections are
// reported through the Outcome, not as errors; errors are client or
// internal faults. Quota is consumed only after staging and publishing
// succeed and the counters are durably written. Events are broadcast only
// after the admission lock is released, so a stream subscriber can never
// stall the deploy path.
func (s *Service) HandleDeploy(ctx context.Context, req Request) (Outcome, error) {
	s.mu.Lock()
	outcome, events, err := s.handleDeployLocked(ctx, req)
	s.mu.Unlock()

	for _, event := range events {
		s.emit(event)
	}
	return outcome, err
}

func (s *Service) handleDeployLocked(ctx context.Context, req Request) (Outcome, []Event, error) {
	now := s.now()
	s.applyLazyReset(ctx, now)

	if admission.IsStatusProbe(req.Name) {
		decision := admission.Status(s.state, now)
		return Outcome{Decision: decision, RemainingQuota: decision.RemainingQuota}, nil, nil
	}

	decision := admission.Evaluate(s.state, now)
	switch decision.Kind {
	case domain.DecisionRejectQuota:
		s.logger.Info("deploy rejected", "site", req.Name, "reason", "quota")
		events := []Event{{Event: "rejected", Name: req.Name, Detail: "quota exhausted", Timestamp: now}}
		return Outcome{Decision: decision, RemainingQuota: decision.RemainingQuota}, events, nil
	case domain.DecisionRejectCooldown:
		s.logger.Info("deploy rejected", "site", req.Name, "reason", "cooldown", "remaining_seconds", decision.RemainingSeconds)
		events := []Event{{Event: "rejected", Name: req.Name, Detail: "cooldown active", Timestamp: now}}
		return Outcome{Decision: decision, RemainingQuota: decision.RemainingQuota}, events, nil
	}

	outcome := Outcome{Decision: decision, RemainingQuota: decision.RemainingQuota}
	if req.FileData == "" || req.FileName == "" {
		return outcome, nil, ErrMissingFile
	}

	dir, size, err := s.staging.Stage(req.Name, req.FileName, req.FileData)
	if err != nil {
		// Partial staging state is handed to the janitor rather than
		// left behind until the next deploy of the same name.
		if dir != "" {
			s.janitor.Schedule(dir, s.cfg.CleanupDelay)
		}
		s.recordDeployment(ctx, req, "", size, StatusFailed, err.Error(), now)
		events := []Event{{Event: "failed", Name: req.Name, Detail: err.Error(), Timestamp: now}}
		return outcome, events, err
	}
	events := []Event{{Event: "staged", Name: req.Name, Timestamp: now}}

	url, err := s.publisher.Publish(ctx, req.Name, dir)
	if err != nil {
		s.janitor.Schedule(dir, s.cfg.CleanupDelay)
		s.recordDeployment(ctx, req, "", size, StatusFailed, err.Error(), now)
		events = append(events, Event{Event: "failed", Name: req.Name, Detail: err.Error(), Timestamp: now})
		return outcome, events, fmt.Errorf("publish site: %w", err)
	}

	previous := s.state
	s.state.QuotaUsed++
	s.state.LastDeployTS = now.Unix()
	if err := s.quota.SaveQuotaState(ctx, s.state); err != nil {
		s.state = previous
		s.janitor.Schedule(dir, s.cfg.CleanupDelay)
		s.logger.Error("quota state save failed", "site", req.Name, "error", err)
		return outcome, events, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	outcome.URL = url
	outcome.RemainingQuota = admission.DailyQuota - s.state.QuotaUsed

	s.recordDeployment(ctx, req, url, size, StatusSucceeded, "", now)
	s.janitor.Schedule(dir, s.cfg.CleanupDelay)
	events = append(events, Event{Event: "published", Name: req.Name, URL: url, Timestamp: now})
	s.logger.Info("site deployed", "site", req.Name, "url", url, "remaining_quota", outcome.RemainingQuota)
	return outcome, events, nil
}

// List returns recent deploy history.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeployments(ctx, limit)
}

// Hub exposes the event stream for transport handlers.
func (s *Service) Hub() *ws.Hub {
	return s.hub
}

// applyLazyReset zeroes the usage counter once the 24h window has elapsed
// and persists the change. The check is idempotent: the deploy timestamp
// is untouched, so repeated calls in the same window are no-ops.
func (s *Service) applyLazyReset(ctx context.Context, now time.Time) {
	if !admission.ResetDue(s.state, now) || s.state.QuotaUsed == 0 {
		return
	}
	s.state.QuotaUsed = 0
	if err := s.quota.SaveQuotaState(ctx, s.state); err != nil {
		s.logger.Error("quota reset save failed", "error", err)
	} else {
		s.logger.Info("daily quota reset", "last_deploy_ts", s.state.LastDeployTS)
	}
}

func (s *Service) recordDeployment(ctx context.Context, req Request, url string, size int64, status, detail string, now time.Time) {
	if s.deployments == nil {
		return
	}
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		SiteName:  req.Name,
		URL:       url,
		FileName:  req.FileName,
		SizeBytes: size,
		Status:    status,
		Error:     detail,
		CreatedAt: now.UTC(),
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		s.logger.Warn("deploy history insert failed", "site", req.Name, "error", err)
	}
}

func (s *Service) emit(event Event) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.hub.Broadcast(payload)
}
