package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
	"github.com/meridian-cloud/service-orchestrator/internal/telemetry"
)

// Orchestrator runs the provisioning state machine:
//
//	provisioning → validating → preparing → deploying → configuring →
//	verifying → active
//
// with any failure branching through rolling_back (cleanup, exactly once) to
// failed. Every transition is flushed to the store together with the
// accumulated provisioning log before the next step runs.
type Orchestrator struct {
	store  store.Store
	logger *zap.Logger
}

func NewOrchestrator(store store.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: store, logger: logger}
}

// run is the explicit state of one workflow invocation. All mutable workflow
// state lives here, never on the Orchestrator, so concurrent workflows cannot
// interfere.
type run struct {
	instance    *model.ServiceInstance
	logs        []model.LogEntry
	cleanupDone bool
}

func (r *run) log(level, message string, metadata map[string]any) {
	r.logs = append(r.logs, model.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
	})
}

// Provision executes the full workflow for cfg against the given provider.
// It never returns an error: failures produce a Result with Success false,
// the error message, and the collected log.
func (o *Orchestrator) Provision(ctx context.Context, provider Provider, cfg Config) *Result {
	started := time.Now()
	outcome := "failure"
	defer func() {
		telemetry.WorkflowsTotal.WithLabelValues(cfg.ProviderType, outcome).Inc()
		telemetry.WorkflowDuration.WithLabelValues(cfg.ProviderType).Observe(time.Since(started).Seconds())
	}()

	r, err := o.startRun(ctx, cfg)
	if err != nil {
		o.logger.Error("could not start provisioning run",
			zap.String("tenant", cfg.TenantID),
			zap.String("instance", cfg.InstanceName),
			zap.Error(err))
		return &Result{
			Success:      false,
			Status:       model.InstanceStatusFailed,
			ErrorMessage: err.Error(),
		}
	}

	logger := o.logger.With(
		zap.String("tenant", cfg.TenantID),
		zap.String("service", cfg.ServiceID),
		zap.String("instance", cfg.InstanceName),
		zap.String("provider", cfg.ProviderType),
	)
	logger.Info("provisioning workflow started")

	if err := o.transition(ctx, r, model.InstanceStatusValidating, "Validating prerequisites"); err != nil {
		return o.fail(ctx, r, provider, logger, err)
	}
	if err := provider.ValidatePrerequisites(ctx); err != nil {
		return o.fail(ctx, r, provider, logger, asValidation(err))
	}

	if err := o.transition(ctx, r, model.InstanceStatusPreparing, "Provisioning infrastructure"); err != nil {
		return o.fail(ctx, r, provider, logger, err)
	}
	infra, err := provider.ProvisionInfrastructure(ctx)
	if err != nil {
		return o.fail(ctx, r, provider, logger, asInfrastructure("infrastructure provisioning", err))
	}
	r.log("info", "Infrastructure ready", toMetadata(infra))

	if err := o.transition(ctx, r, model.InstanceStatusDeploying, "Deploying application"); err != nil {
		return o.fail(ctx, r, provider, logger, err)
	}
	deployment, err := provider.DeployApplication(ctx, infra)
	if err != nil {
		return o.fail(ctx, r, provider, logger, asInfrastructure("application deployment", err))
	}
	r.log("info", "Application deployed", toMetadata(deployment))

	if err := o.transition(ctx, r, model.InstanceStatusConfiguring, "Configuring service endpoints"); err != nil {
		return o.fail(ctx, r, provider, logger, err)
	}
	endpoints, err := provider.ConfigureService(ctx, deployment)
	if err != nil {
		return o.fail(ctx, r, provider, logger, asInfrastructure("service configuration", err))
	}

	if err := o.transition(ctx, r, model.InstanceStatusVerifying, "Verifying deployment"); err != nil {
		return o.fail(ctx, r, provider, logger, err)
	}
	if err := provider.VerifyDeployment(ctx, endpoints); err != nil {
		return o.fail(ctx, r, provider, logger, asVerification(err))
	}

	result, err := o.complete(ctx, r, cfg, infra, deployment, endpoints)
	if err != nil {
		return o.fail(ctx, r, provider, logger, err)
	}
	logger.Info("provisioning workflow completed", zap.String("public_url", result.PublicURL))
	outcome = "success"
	return result
}

// startRun creates the instance record, or reuses the existing one when the
// identity tuple is already known (a retried workflow re-enters here).
func (o *Orchestrator) startRun(ctx context.Context, cfg Config) (*run, error) {
	instance, err := o.store.Instance().GetByIdentity(ctx, cfg.TenantID, cfg.ServiceID, cfg.InstanceName)
	switch {
	case err == nil:
		r := &run{instance: instance, logs: instance.ProvisioningLogs}
		r.log("info", "Restarting provisioning workflow", nil)
		if err := o.store.Instance().UpdateStatus(ctx, instance.ID, model.InstanceStatusProvisioning, r.logs); err != nil {
			return nil, err
		}
		instance.Status = model.InstanceStatusProvisioning
		return r, nil
	case errors.Is(err, store.ErrInstanceNotFound):
		// fall through to create
	default:
		return nil, err
	}

	customConfig, err := json.Marshal(cfg.CustomConfig)
	if err != nil {
		return nil, err
	}
	minInstances := cfg.Resources.MinInstances
	if minInstances < 1 {
		minInstances = 1
	}
	instance, err = o.store.Instance().Create(ctx, model.ServiceInstance{
		ID:                 uuid.New(),
		TenantID:           cfg.TenantID,
		ServiceID:          cfg.ServiceID,
		InstanceName:       cfg.InstanceName,
		Environment:        cfg.Environment,
		Region:             cfg.Region,
		ProviderType:       cfg.ProviderType,
		Status:             model.InstanceStatusProvisioning,
		AllocatedCPUCores:  cfg.Resources.CPUCores,
		AllocatedMemoryGB:  cfg.Resources.MemoryGB,
		AllocatedStorageGB: cfg.Resources.StorageGB,
		AutoScalingEnabled: cfg.AutoScalingEnabled,
		MinInstances:       minInstances,
		MaxInstances:       cfg.Resources.MaxInstances,
		CurrentInstances:   minInstances,
		CustomConfig:       datatypes.JSON(customConfig),
		HealthStatus:       model.HealthStatusUnknown,
		Metadata: map[string]any{
			"monitoring_enabled": cfg.MonitoringEnabled,
			"backup_enabled":     cfg.BackupEnabled,
		},
	})
	if err != nil {
		return nil, err
	}
	r := &run{instance: instance}
	r.log("info", "Starting service provisioning", map[string]any{"provider": cfg.ProviderType})
	return r, nil
}

func (o *Orchestrator) transition(ctx context.Context, r *run, status model.InstanceStatus, message string) error {
	r.instance.Status = status
	r.log("info", message, nil)
	return o.store.Instance().UpdateStatus(ctx, r.instance.ID, status, r.logs)
}

func (o *Orchestrator) complete(ctx context.Context, r *run, cfg Config, infra Infrastructure, deployment Deployment, endpoints *Endpoints) (*Result, error) {
	now := time.Now().UTC()
	instance := r.instance
	instance.Status = model.InstanceStatusActive
	instance.InternalURL = endpoints.InternalURL
	instance.PublicURL = endpoints.PublicURL
	instance.AdminURL = endpoints.AdminURL
	instance.AccessKey = endpoints.AccessKey
	instance.ActivatedAt = &now

	metadata := instance.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	for k, v := range infra {
		metadata[k] = v
	}
	for k, v := range deployment {
		metadata[k] = v
	}
	instance.Metadata = metadata

	r.log("info", "Service provisioning completed", map[string]any{"public_url": endpoints.PublicURL})
	instance.ProvisioningLogs = r.logs

	if _, err := o.store.Instance().Update(ctx, instance); err != nil {
		return nil, err
	}

	resultMeta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		resultMeta[k] = v
	}
	return &Result{
		Success:     true,
		Status:      model.InstanceStatusCompleted,
		InstanceID:  instance.ID.String(),
		PublicURL:   endpoints.PublicURL,
		InternalURL: endpoints.InternalURL,
		AdminURL:    endpoints.AdminURL,
		AccessKey:   endpoints.AccessKey,
		Logs:        r.logs,
		Metadata:    resultMeta,
	}, nil
}

// fail logs the error, rolls back through the provider's cleanup exactly
// once, marks the record failed and reports the failure Result.
func (o *Orchestrator) fail(ctx context.Context, r *run, provider Provider, logger *zap.Logger, cause error) *Result {
	logger.Error("provisioning step failed", zap.Error(cause))
	r.log("error", "Provisioning failed: "+cause.Error(), nil)

	if err := o.transition(ctx, r, model.InstanceStatusRollingBack, "Rolling back partially created resources"); err != nil {
		logger.Warn("could not persist rollback transition", zap.Error(err))
	}

	if !r.cleanupDone {
		r.cleanupDone = true
		if err := provider.CleanupOnFailure(ctx); err != nil {
			logger.Warn("cleanup after failure reported an error", zap.Error(err))
			r.log("warning", "Cleanup after failure reported an error: "+err.Error(), nil)
		} else {
			r.log("info", "Cleanup after failure completed", nil)
		}
	}

	if err := o.transition(ctx, r, model.InstanceStatusFailed, "Provisioning failed"); err != nil {
		logger.Warn("could not persist failed transition", zap.Error(err))
	}

	return &Result{
		Success:      false,
		Status:       model.InstanceStatusFailed,
		InstanceID:   r.instance.ID.String(),
		ErrorMessage: cause.Error(),
		Logs:         r.logs,
	}
}

// Deprovision tears an instance down through the provider and marks the
// record deprovisioned. The record is kept; only its status is terminal.
func (o *Orchestrator) Deprovision(ctx context.Context, provider Provider, instance *model.ServiceInstance) error {
	r := &run{instance: instance, logs: instance.ProvisioningLogs}

	if err := o.transition(ctx, r, model.InstanceStatusDeprovisioning, "Deprovisioning service"); err != nil {
		return err
	}
	if err := provider.CleanupOnFailure(ctx); err != nil {
		r.log("error", "Deprovisioning failed: "+err.Error(), nil)
		if uerr := o.store.Instance().UpdateStatus(ctx, instance.ID, model.InstanceStatusDeprovisioning, r.logs); uerr != nil {
			o.logger.Warn("could not persist deprovisioning log", zap.Error(uerr))
		}
		return err
	}

	now := time.Now().UTC()
	instance.Status = model.InstanceStatusDeprovisioned
	instance.DeprovisionedAt = &now
	instance.HealthStatus = model.HealthStatusUnknown
	r.log("info", "Service deprovisioned", nil)
	instance.ProvisioningLogs = r.logs

	_, err := o.store.Instance().Update(ctx, instance)
	return err
}

func asValidation(err error) error {
	var ve *ValidationError
	var ce *ConfigurationError
	if errors.As(err, &ve) || errors.As(err, &ce) {
		return err
	}
	return &ValidationError{Reason: err.Error()}
}

func asInfrastructure(step string, err error) error {
	var ie *InfrastructureError
	var ce *ConfigurationError
	if errors.As(err, &ie) || errors.As(err, &ce) {
		return err
	}
	return &InfrastructureError{Step: step, Reason: "backend operation failed", Err: err}
}

func asVerification(err error) error {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return err
	}
	return &VerificationError{Reason: err.Error()}
}

func toMetadata(handle map[string]string) map[string]any {
	if len(handle) == 0 {
		return nil
	}
	out := make(map[string]any, len(handle))
	for k, v := range handle {
		out[k] = v
	}
	return out
}
