// Package service bridges the HTTP surface to the provisioning engine:
// request validation, catalog defaults, lifecycle guards, and the mapping of
// records to API types.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/meridian-cloud/service-orchestrator/api/v1alpha1"
	"github.com/meridian-cloud/service-orchestrator/internal/config"
	"github.com/meridian-cloud/service-orchestrator/internal/monitor"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/factory"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
	"github.com/meridian-cloud/service-orchestrator/internal/tasks"
	"github.com/meridian-cloud/service-orchestrator/internal/webhook"
)

const (
	maxInstanceNameLength = 100

	defaultEnvironment = "production"
	defaultRegion      = "us-east-1"
	defaultCPUCores    = 0.5
	defaultMemoryGB    = 1.0
	defaultStorageGB   = 5.0
)

// InstanceService handles business logic for instance lifecycle management.
type InstanceService struct {
	store     store.Store
	runner    *tasks.Runner
	factory   *factory.Factory
	webhooks  *webhook.Dispatcher
	scheduler *monitor.Scheduler

	defaultProvider string
	logger          *zap.Logger
}

func NewInstanceService(
	dataStore store.Store,
	runner *tasks.Runner,
	providerFactory *factory.Factory,
	webhooks *webhook.Dispatcher,
	scheduler *monitor.Scheduler,
	cfg *config.ProvisionerConfig,
	logger *zap.Logger,
) *InstanceService {
	defaultProvider := cfg.Provider
	if defaultProvider == "" {
		defaultProvider = factory.ProviderDocker
	}
	return &InstanceService{
		store:           dataStore,
		runner:          runner,
		factory:         providerFactory,
		webhooks:        webhooks,
		scheduler:       scheduler,
		defaultProvider: defaultProvider,
		logger:          logger,
	}
}

// Provision validates the request, applies catalog defaults and hands the
// workflow to the task runner. The instance record is created by the workflow
// itself; the caller gets an immediate acknowledgement.
func (s *InstanceService) Provision(ctx context.Context, req *api.ProvisionRequest) (*api.ProvisionAck, error) {
	if err := validateProvisionRequest(req); err != nil {
		return nil, err
	}

	providerType := req.ProviderType
	if providerType == "" {
		providerType = s.defaultProvider
	}
	if !s.factory.Supports(providerType) {
		return nil, invalid(fmt.Sprintf("unsupported provider type '%s'", providerType))
	}

	catalog, err := s.store.Catalog().GetByServiceID(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, store.ErrCatalogServiceNotFound) {
			return nil, invalid(fmt.Sprintf("unknown service '%s'", req.ServiceID))
		}
		return nil, err
	}

	existing, err := s.store.Instance().GetByIdentity(ctx, req.TenantID, req.ServiceID, req.InstanceName)
	switch {
	case err == nil:
		// Failed instances may be provisioned again; the workflow reuses
		// the record.
		if existing.Status != model.InstanceStatusFailed {
			return nil, conflict(fmt.Sprintf("instance name '%s' is already in use for this tenant and service", req.InstanceName))
		}
	case errors.Is(err, store.ErrInstanceNotFound):
	default:
		return nil, err
	}

	cfg := s.workflowConfig(req, providerType, catalog)
	if err := s.runner.EnqueueProvision(cfg); err != nil {
		return nil, &ServiceError{Code: ErrCodeInternal, Message: "provisioning queue unavailable"}
	}

	s.logger.Info("provisioning accepted",
		zap.String("tenant", req.TenantID),
		zap.String("service", req.ServiceID),
		zap.String("instance", req.InstanceName),
		zap.String("provider", providerType))

	return &api.ProvisionAck{
		Message:      "Service provisioning started",
		InstanceName: req.InstanceName,
	}, nil
}

func validateProvisionRequest(req *api.ProvisionRequest) error {
	switch {
	case req.TenantID == "":
		return invalid("tenant_id is required")
	case req.ServiceID == "":
		return invalid("service_id is required")
	case req.InstanceName == "":
		return invalid("instance_name is required")
	case len(req.InstanceName) > maxInstanceNameLength:
		return invalid(fmt.Sprintf("instance_name must be at most %d characters", maxInstanceNameLength))
	}
	if req.AllocatedCPUCores < 0 || req.AllocatedMemoryGB < 0 || req.AllocatedStorageGB < 0 {
		return invalid("resource allocations must not be negative")
	}
	if req.MinInstances < 0 || req.MaxInstances < 0 {
		return invalid("instance bounds must not be negative")
	}
	if req.MinInstances > 0 && req.MaxInstances > 0 && req.MinInstances > req.MaxInstances {
		return invalid("min_instances must not exceed max_instances")
	}
	return nil
}

// workflowConfig merges the request with catalog and engine defaults into the
// immutable workflow input.
func (s *InstanceService) workflowConfig(req *api.ProvisionRequest, providerType string, catalog *model.CatalogService) provisioning.Config {
	cfg := provisioning.Config{
		TenantID:     req.TenantID,
		ServiceID:    req.ServiceID,
		InstanceName: req.InstanceName,
		Environment:  req.Environment,
		Region:       req.Region,
		ProviderType: providerType,
		Resources: provisioning.ResourceAllocation{
			CPUCores:     req.AllocatedCPUCores,
			MemoryGB:     req.AllocatedMemoryGB,
			StorageGB:    req.AllocatedStorageGB,
			MinInstances: req.MinInstances,
			MaxInstances: req.MaxInstances,
		},
		CustomConfig:       req.CustomConfig,
		AutoScalingEnabled: boolOrDefault(req.AutoScalingEnabled, true),
		MonitoringEnabled:  boolOrDefault(req.MonitoringEnabled, true),
		BackupEnabled:      boolOrDefault(req.BackupEnabled, true),
	}

	if cfg.Environment == "" {
		cfg.Environment = defaultEnvironment
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.Resources.CPUCores == 0 {
		cfg.Resources.CPUCores = defaultCPUCores
	}
	if cfg.Resources.MemoryGB == 0 {
		cfg.Resources.MemoryGB = defaultMemoryGB
	}
	if cfg.Resources.StorageGB == 0 {
		cfg.Resources.StorageGB = defaultStorageGB
	}
	if cfg.Resources.MinInstances == 0 {
		cfg.Resources.MinInstances = catalog.MinInstances
	}
	if cfg.Resources.MaxInstances == 0 {
		cfg.Resources.MaxInstances = catalog.MaxInstances
	}
	return cfg
}

func boolOrDefault(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// Get retrieves an instance by ID. Returns ErrCodeNotFound if not found.
func (s *InstanceService) Get(ctx context.Context, instanceID string) (*api.Instance, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return ModelToInstance(inst), nil
}

// List returns instances matching the optional filters.
func (s *InstanceService) List(ctx context.Context, tenantID, status, healthStatus string) (*api.InstanceList, error) {
	filter := &store.InstanceFilter{}
	if tenantID != "" {
		filter.TenantID = &tenantID
	}
	if status != "" {
		st := model.InstanceStatus(status)
		filter.Status = &st
	}
	if healthStatus != "" {
		hs := model.HealthStatus(healthStatus)
		filter.HealthStatus = &hs
	}

	instances, err := s.store.Instance().List(ctx, filter, nil)
	if err != nil {
		return nil, err
	}

	items := make([]api.Instance, len(instances))
	for i := range instances {
		items[i] = *ModelToInstance(&instances[i])
	}
	return &api.InstanceList{Items: items, Total: len(items)}, nil
}

// Deprovision accepts instance teardown. Returns ErrCodeConflict when the
// instance is already deprovisioned.
func (s *InstanceService) Deprovision(ctx context.Context, instanceID string) (*api.Ack, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status == model.InstanceStatusDeprovisioned {
		return nil, conflict("service is already deprovisioned")
	}

	if err := s.runner.EnqueueDeprovision(inst.ID); err != nil {
		return nil, &ServiceError{Code: ErrCodeInternal, Message: "provisioning queue unavailable"}
	}

	s.logger.Info("deprovisioning accepted",
		zap.String("tenant", inst.TenantID),
		zap.String("instance", inst.InstanceName))
	return &api.Ack{Message: "Service deprovisioning started"}, nil
}

// Suspend pauses an active instance: monitoring stops, the record is marked
// suspended, and the suspension is announced.
func (s *InstanceService) Suspend(ctx context.Context, instanceID, reason string) (*api.Instance, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != model.InstanceStatusActive {
		return nil, conflict("only active instances can be suspended")
	}

	now := time.Now().UTC()
	inst.Status = model.InstanceStatusSuspended
	inst.SuspendedAt = &now
	updated, err := s.store.Instance().Update(ctx, inst)
	if err != nil {
		return nil, err
	}

	s.scheduler.Unregister(updated.ID)
	if err := s.webhooks.Suspended(ctx, updated, reason); err != nil {
		s.logger.Warn("suspended webhook failed", zap.Error(err))
	}

	s.logger.Info("instance suspended",
		zap.String("instance_id", updated.ID.String()),
		zap.String("reason", reason))
	return ModelToInstance(updated), nil
}

// Resume reactivates a suspended instance and restores its monitoring
// schedules.
func (s *InstanceService) Resume(ctx context.Context, instanceID string) (*api.Instance, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != model.InstanceStatusSuspended {
		return nil, conflict("only suspended instances can be resumed")
	}

	inst.Status = model.InstanceStatusActive
	inst.SuspendedAt = nil
	updated, err := s.store.Instance().Update(ctx, inst)
	if err != nil {
		return nil, err
	}

	if enabled, ok := updated.Metadata["monitoring_enabled"].(bool); !ok || enabled {
		s.scheduler.Register(updated.ID)
	}
	if err := s.webhooks.Resumed(ctx, updated); err != nil {
		s.logger.Warn("resumed webhook failed", zap.Error(err))
	}

	s.logger.Info("instance resumed", zap.String("instance_id", updated.ID.String()))
	return ModelToInstance(updated), nil
}

// Scale updates the current replica count. The target is clamped into the
// instance's [MinInstances, MaxInstances] bounds; auto-scaling must be
// enabled.
func (s *InstanceService) Scale(ctx context.Context, instanceID string, target int, reason string) (*api.Instance, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.AutoScalingEnabled {
		return nil, invalid("auto-scaling is not enabled for this service")
	}
	if target < 1 {
		return nil, invalid("target_instances must be at least 1")
	}

	clamped := target
	if clamped < inst.MinInstances {
		clamped = inst.MinInstances
	}
	if inst.MaxInstances > 0 && clamped > inst.MaxInstances {
		clamped = inst.MaxInstances
	}

	previous := inst.CurrentInstances
	inst.CurrentInstances = clamped
	updated, err := s.store.Instance().Update(ctx, inst)
	if err != nil {
		return nil, err
	}

	if err := s.webhooks.Scaling(ctx, updated, previous, clamped, reason); err != nil {
		s.logger.Warn("scaling webhook failed", zap.Error(err))
	}

	s.logger.Info("instance scaled",
		zap.String("instance_id", updated.ID.String()),
		zap.Int("previous", previous),
		zap.Int("current", clamped))
	return ModelToInstance(updated), nil
}

// TriggerHealthCheck schedules one on-demand probe.
func (s *InstanceService) TriggerHealthCheck(ctx context.Context, instanceID string) (*api.Ack, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := s.runner.EnqueueHealthCheck(inst.ID); err != nil {
		return nil, &ServiceError{Code: ErrCodeInternal, Message: "provisioning queue unavailable"}
	}
	return &api.Ack{Message: "Health check scheduled"}, nil
}

// Metrics returns the instance's samples from the trailing time window,
// optionally filtered by metric type. hours defaults to 24.
func (s *InstanceService) Metrics(ctx context.Context, instanceID string, hours int, metricType string) (*api.MetricList, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if hours <= 0 {
		hours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	filter := &store.MetricFilter{Since: &since}
	if metricType != "" {
		filter.MetricType = &metricType
	}

	metrics, err := s.store.Metric().ListByInstance(ctx, inst.ID, filter, nil)
	if err != nil {
		return nil, err
	}

	items := make([]api.Metric, len(metrics))
	for i := range metrics {
		items[i] = *ModelToMetric(&metrics[i])
	}
	return &api.MetricList{Items: items, Total: len(items)}, nil
}

// Alerts returns every alert recorded for the instance, newest activity
// first.
func (s *InstanceService) Alerts(ctx context.Context, instanceID string) (*api.AlertList, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	alerts, err := s.store.Alert().List(ctx, &store.AlertFilter{InstanceID: &inst.ID}, nil)
	if err != nil {
		return nil, err
	}

	items := make([]api.Alert, len(alerts))
	for i := range alerts {
		items[i] = *ModelToAlert(&alerts[i])
	}
	return &api.AlertList{Items: items, Total: len(items)}, nil
}

// Logs returns the instance's provisioning log.
func (s *InstanceService) Logs(ctx context.Context, instanceID string) (*api.LogList, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	items := make([]api.LogEntry, len(inst.ProvisioningLogs))
	for i, entry := range inst.ProvisioningLogs {
		items[i] = ModelToLogEntry(entry)
	}
	return &api.LogList{Items: items, Total: len(items)}, nil
}

func (s *InstanceService) getInstance(ctx context.Context, instanceID string) (*model.ServiceInstance, error) {
	id, err := uuid.Parse(instanceID)
	if err != nil {
		return nil, invalid("invalid instance ID format")
	}
	inst, err := s.store.Instance().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			return nil, notFound(fmt.Sprintf("instance %s not found", instanceID))
		}
		return nil, err
	}
	return inst, nil
}
