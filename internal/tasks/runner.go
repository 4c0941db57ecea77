package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/config"
	"github.com/meridian-cloud/service-orchestrator/internal/monitor"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/factory"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
	"github.com/meridian-cloud/service-orchestrator/internal/webhook"
)

// Runner owns the asynchronous workflows: provisioning with whole-workflow
// retries, deprovisioning, and the follow-up jobs scheduled after success.
type Runner struct {
	queue        *Queue
	locks        *InstanceLocks
	store        store.Store
	orchestrator *provisioning.Orchestrator
	factory      *factory.Factory
	webhooks     *webhook.Dispatcher
	scheduler    *monitor.Scheduler
	checker      *monitor.HealthChecker
	logger       *zap.Logger

	maxAttempts          int
	retryBackoff         time.Duration
	healthCheckDelay     time.Duration
	monitoringSetupDelay time.Duration
}

func NewRunner(
	queue *Queue,
	dataStore store.Store,
	orchestrator *provisioning.Orchestrator,
	providerFactory *factory.Factory,
	webhooks *webhook.Dispatcher,
	scheduler *monitor.Scheduler,
	checker *monitor.HealthChecker,
	cfg *config.ProvisionerConfig,
	logger *zap.Logger,
) *Runner {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = time.Minute
	}
	return &Runner{
		queue:                queue,
		locks:                NewInstanceLocks(),
		store:                dataStore,
		orchestrator:         orchestrator,
		factory:              providerFactory,
		webhooks:             webhooks,
		scheduler:            scheduler,
		checker:              checker,
		logger:               logger,
		maxAttempts:          maxAttempts,
		retryBackoff:         retryBackoff,
		healthCheckDelay:     cfg.HealthCheckDelay,
		monitoringSetupDelay: cfg.MonitoringSetupDelay,
	}
}

// EnqueueProvision accepts a provisioning workflow onto the pool.
func (r *Runner) EnqueueProvision(cfg provisioning.Config) error {
	return r.queue.Submit(func(ctx context.Context) {
		r.runProvision(ctx, cfg)
	})
}

// EnqueueDeprovision accepts instance teardown onto the pool.
func (r *Runner) EnqueueDeprovision(instanceID uuid.UUID) error {
	return r.queue.Submit(func(ctx context.Context) {
		r.runDeprovision(ctx, instanceID)
	})
}

// EnqueueHealthCheck runs one on-demand probe on the pool.
func (r *Runner) EnqueueHealthCheck(instanceID uuid.UUID) error {
	return r.queue.Submit(func(ctx context.Context) {
		if _, err := r.checker.Check(ctx, instanceID); err != nil {
			r.logger.Warn("on-demand health check failed",
				zap.String("instance_id", instanceID.String()), zap.Error(err))
		}
	})
}

func (r *Runner) runProvision(ctx context.Context, cfg provisioning.Config) {
	logger := r.logger.With(
		zap.String("tenant", cfg.TenantID),
		zap.String("service", cfg.ServiceID),
		zap.String("instance", cfg.InstanceName),
	)

	release, ok := r.locks.TryAcquire(leaseKey(cfg.TenantID, cfg.ServiceID, cfg.InstanceName))
	if !ok {
		logger.Warn("provisioning skipped, another workflow holds the instance lease")
		return
	}
	defer release()

	if err := r.webhooks.ProvisioningStarted(ctx, instanceFromConfig(cfg)); err != nil {
		logger.Warn("started webhook failed", zap.Error(err))
	}

	provider, err := r.factory.Provider(ctx, cfg)
	if err != nil {
		// Configuration problems do not heal with retries.
		r.failPermanently(ctx, cfg, err, logger)
		return
	}

	var result *provisioning.Result
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		result = r.orchestrator.Provision(ctx, provider, cfg)
		if result.Success {
			r.completeProvision(ctx, cfg, result, logger)
			return
		}

		logger.Warn("provisioning attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.String("error", result.ErrorMessage))

		if attempt < r.maxAttempts {
			backoff := r.retryBackoff << (attempt - 1)
			r.logRetry(ctx, cfg, attempt, backoff)
			select {
			case <-ctx.Done():
				logger.Warn("provisioning retries abandoned at shutdown")
				return
			case <-time.After(backoff):
			}
		}
	}

	r.exhaustAttempts(ctx, cfg, result, logger)
}

// completeProvision announces success and schedules the follow-ups: one early
// health probe and, when requested, the recurring monitoring schedules.
func (r *Runner) completeProvision(ctx context.Context, cfg provisioning.Config, result *provisioning.Result, logger *zap.Logger) {
	instanceID, err := uuid.Parse(result.InstanceID)
	if err != nil {
		logger.Error("workflow result carries an invalid instance id",
			zap.String("instance_id", result.InstanceID), zap.Error(err))
		return
	}
	inst, err := r.store.Instance().Get(ctx, instanceID)
	if err != nil {
		logger.Error("provisioned instance not found", zap.Error(err))
		return
	}

	if err := r.webhooks.ProvisioningCompleted(ctx, inst); err != nil {
		logger.Warn("completed webhook failed", zap.Error(err))
	}

	if err := r.queue.SubmitAfter(r.healthCheckDelay, func(ctx context.Context) {
		if _, err := r.checker.Check(ctx, instanceID); err != nil {
			r.logger.Warn("initial health check failed",
				zap.String("instance_id", instanceID.String()), zap.Error(err))
		}
	}); err != nil {
		logger.Warn("could not schedule the initial health check", zap.Error(err))
	}

	if cfg.MonitoringEnabled {
		if err := r.queue.SubmitAfter(r.monitoringSetupDelay, func(ctx context.Context) {
			r.scheduler.Register(instanceID)
		}); err != nil {
			logger.Warn("could not schedule monitoring setup", zap.Error(err))
		}
	}
}

// logRetry records the failed attempt on the instance's provisioning log, so
// the retry history is visible alongside the workflow transitions.
func (r *Runner) logRetry(ctx context.Context, cfg provisioning.Config, attempt int, backoff time.Duration) {
	inst, err := r.store.Instance().GetByIdentity(ctx, cfg.TenantID, cfg.ServiceID, cfg.InstanceName)
	if err != nil {
		return
	}
	logs := append(inst.ProvisioningLogs, model.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "warning",
		Message:   fmt.Sprintf("Provisioning attempt %d failed, retrying in %s", attempt, backoff),
	})
	if err := r.store.Instance().UpdateStatus(ctx, inst.ID, inst.Status, logs); err != nil {
		r.logger.Warn("could not record retry on the instance log", zap.Error(err))
	}
}

// exhaustAttempts handles a workflow that failed every attempt: a critical
// alert on the record plus the terminal failure webhook.
func (r *Runner) exhaustAttempts(ctx context.Context, cfg provisioning.Config, result *provisioning.Result, logger *zap.Logger) {
	logger.Error("provisioning failed after all attempts",
		zap.Int("attempts", r.maxAttempts),
		zap.String("error", result.ErrorMessage))

	inst, err := r.store.Instance().GetByIdentity(ctx, cfg.TenantID, cfg.ServiceID, cfg.InstanceName)
	if err != nil {
		logger.Warn("failed instance has no record", zap.Error(err))
		inst = instanceFromConfig(cfg)
	} else {
		alert := model.Alert{
			ID:         uuid.New(),
			InstanceID: inst.ID,
			Title:      "Provisioning failed",
			Message:    fmt.Sprintf("Provisioning failed after %d attempts: %s", r.maxAttempts, result.ErrorMessage),
			Severity:   model.AlertSeverityCritical,
			AlertType:  model.AlertTypeProvisioningFailure,
			Source:     "task-runner",
			Metadata:   map[string]any{"attempts": r.maxAttempts},
		}
		created, saved, err := r.store.Alert().UpsertActive(ctx, alert)
		if err != nil {
			logger.Warn("could not raise the provisioning failure alert", zap.Error(err))
		} else if created {
			if err := r.webhooks.AlertTriggered(ctx, inst, saved); err != nil {
				logger.Warn("alert webhook failed", zap.Error(err))
			}
		}
	}

	if err := r.webhooks.ProvisioningFailed(ctx, inst, result.ErrorMessage); err != nil {
		logger.Warn("failed webhook failed", zap.Error(err))
	}
}

// failPermanently handles configuration errors surfacing after accept: the
// workflow never starts and retries are pointless.
func (r *Runner) failPermanently(ctx context.Context, cfg provisioning.Config, cause error, logger *zap.Logger) {
	logger.Error("provisioning rejected by configuration", zap.Error(cause))

	inst, err := r.store.Instance().GetByIdentity(ctx, cfg.TenantID, cfg.ServiceID, cfg.InstanceName)
	if err == nil {
		logs := append(inst.ProvisioningLogs, model.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     "error",
			Message:   "Provisioning aborted: " + cause.Error(),
		})
		if err := r.store.Instance().UpdateStatus(ctx, inst.ID, model.InstanceStatusFailed, logs); err != nil {
			logger.Warn("could not mark the instance failed", zap.Error(err))
		}
	} else {
		inst = instanceFromConfig(cfg)
	}

	if err := r.webhooks.ProvisioningFailed(ctx, inst, cause.Error()); err != nil {
		logger.Warn("failed webhook failed", zap.Error(err))
	}
}

func (r *Runner) runDeprovision(ctx context.Context, instanceID uuid.UUID) {
	inst, err := r.store.Instance().Get(ctx, instanceID)
	if err != nil {
		r.logger.Error("deprovisioning lookup failed",
			zap.String("instance_id", instanceID.String()), zap.Error(err))
		return
	}
	logger := r.logger.With(
		zap.String("tenant", inst.TenantID),
		zap.String("instance", inst.InstanceName),
	)

	release, ok := r.locks.TryAcquire(leaseKey(inst.TenantID, inst.ServiceID, inst.InstanceName))
	if !ok {
		logger.Warn("deprovisioning skipped, another workflow holds the instance lease")
		return
	}
	defer release()

	provider, err := r.factory.Provider(ctx, provisioning.ConfigFromInstance(inst))
	if err != nil {
		logger.Error("deprovisioning provider unavailable", zap.Error(err))
		return
	}

	if err := r.orchestrator.Deprovision(ctx, provider, inst); err != nil {
		logger.Error("deprovisioning failed, record left for retry", zap.Error(err))
		return
	}

	r.scheduler.Unregister(instanceID)

	if err := r.webhooks.Deprovisioned(ctx, inst); err != nil {
		logger.Warn("deprovisioned webhook failed", zap.Error(err))
	}
	logger.Info("instance deprovisioned")
}

func instanceFromConfig(cfg provisioning.Config) *model.ServiceInstance {
	return &model.ServiceInstance{
		TenantID:     cfg.TenantID,
		ServiceID:    cfg.ServiceID,
		InstanceName: cfg.InstanceName,
		Environment:  cfg.Environment,
		Region:       cfg.Region,
	}
}
