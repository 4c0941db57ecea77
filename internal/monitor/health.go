// Package monitor keeps provisioned instances observed: recurring health
// probes, metric sampling, and threshold alerts, scheduled per instance.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/config"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
	"github.com/meridian-cloud/service-orchestrator/internal/telemetry"
	"github.com/meridian-cloud/service-orchestrator/internal/webhook"
)

// HealthChecker probes instance health endpoints and keeps the persisted
// health status, the health_check_failed alert, and the change notification
// in sync with what it observes.
type HealthChecker struct {
	store    store.Store
	webhooks *webhook.Dispatcher
	client   *resty.Client
	logger   *zap.Logger
}

func NewHealthChecker(dataStore store.Store, webhooks *webhook.Dispatcher, cfg *config.MonitorConfig, logger *zap.Logger) *HealthChecker {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthChecker{
		store:    dataStore,
		webhooks: webhooks,
		client:   resty.New().SetTimeout(timeout),
		logger:   logger,
	}
}

// observation carries what a single probe saw, for metrics and alerting.
type observation struct {
	url        string
	reason     string
	statusCode int
	responded  bool
	responseMS float64
}

// Check probes the instance once and persists the outcome. The returned
// status is the newly observed one.
func (c *HealthChecker) Check(ctx context.Context, instanceID uuid.UUID) (model.HealthStatus, error) {
	inst, err := c.store.Instance().Get(ctx, instanceID)
	if err != nil {
		return "", err
	}
	previous := inst.HealthStatus

	status, obs := c.probe(ctx, inst)
	telemetry.HealthProbes.WithLabelValues(string(status)).Inc()

	checkedAt := time.Now().UTC()
	if err := c.store.Instance().UpdateHealth(ctx, inst.ID, status, checkedAt); err != nil {
		return "", err
	}
	inst.HealthStatus = status
	inst.LastHealthCheck = &checkedAt

	if obs.responded {
		_, err := c.store.Metric().Create(ctx, model.Metric{
			ID:         uuid.New(),
			InstanceID: inst.ID,
			MetricType: model.MetricTypeResponseTime,
			Value:      obs.responseMS,
			Unit:       "ms",
		})
		if err != nil {
			c.logger.Warn("recording response time failed",
				zap.String("instance_name", inst.InstanceName), zap.Error(err))
		}
	}

	switch status {
	case model.HealthStatusUnhealthy:
		c.raiseHealthAlert(ctx, inst, obs)
	case model.HealthStatusHealthy:
		c.resolveHealthAlert(ctx, inst)
	}

	if status != previous {
		c.logger.Info("instance health changed",
			zap.String("instance_name", inst.InstanceName),
			zap.String("previous", string(previous)),
			zap.String("current", string(status)))
		if err := c.webhooks.HealthChanged(ctx, inst, previous, status); err != nil {
			c.logger.Warn("health change webhook failed",
				zap.String("instance_name", inst.InstanceName), zap.Error(err))
		}
	}

	return status, nil
}

// probe classifies one HTTP GET against the instance's health endpoint:
// 200 healthy, any other response below 500 degraded, 5xx or no response
// unhealthy. Instances without a probe URL stay unknown.
func (c *HealthChecker) probe(ctx context.Context, inst *model.ServiceInstance) (model.HealthStatus, observation) {
	probeURL := c.probeURL(ctx, inst)
	if probeURL == "" {
		return model.HealthStatusUnknown, observation{}
	}

	resp, err := c.client.R().SetContext(ctx).Get(probeURL)
	if err != nil {
		return model.HealthStatusUnhealthy, observation{url: probeURL, reason: err.Error()}
	}

	obs := observation{
		url:        probeURL,
		statusCode: resp.StatusCode(),
		responded:  true,
		responseMS: float64(resp.Time()) / float64(time.Millisecond),
	}
	switch {
	case resp.StatusCode() == http.StatusOK:
		return model.HealthStatusHealthy, obs
	case resp.StatusCode() < http.StatusInternalServerError:
		return model.HealthStatusDegraded, obs
	default:
		obs.reason = fmt.Sprintf("status %d", resp.StatusCode())
		return model.HealthStatusUnhealthy, obs
	}
}

func (c *HealthChecker) probeURL(ctx context.Context, inst *model.ServiceInstance) string {
	if inst.InternalURL == "" {
		return ""
	}
	catalog, err := c.store.Catalog().GetByServiceID(ctx, inst.ServiceID)
	if err != nil || catalog.HealthCheckPath == "" {
		return ""
	}
	return strings.TrimRight(inst.InternalURL, "/") + "/" + strings.TrimLeft(catalog.HealthCheckPath, "/")
}

func (c *HealthChecker) raiseHealthAlert(ctx context.Context, inst *model.ServiceInstance, obs observation) {
	alert := model.Alert{
		ID:         uuid.New(),
		InstanceID: inst.ID,
		Title:      "Health check failed",
		Message:    fmt.Sprintf("Health probe for %s failed: %s", inst.InstanceName, obs.reason),
		Severity:   model.AlertSeverityError,
		AlertType:  model.AlertTypeHealthCheckFailed,
		Source:     "health-monitor",
		Metadata:   map[string]any{"url": obs.url},
	}
	if obs.statusCode > 0 {
		alert.Metadata["status_code"] = obs.statusCode
	}

	created, saved, err := c.store.Alert().UpsertActive(ctx, alert)
	if err != nil {
		c.logger.Warn("upserting health alert failed",
			zap.String("instance_name", inst.InstanceName), zap.Error(err))
		return
	}
	if created {
		if err := c.webhooks.AlertTriggered(ctx, inst, saved); err != nil {
			c.logger.Warn("alert webhook failed",
				zap.String("instance_name", inst.InstanceName), zap.Error(err))
		}
	}
}

func (c *HealthChecker) resolveHealthAlert(ctx context.Context, inst *model.ServiceInstance) {
	resolved, err := c.store.Alert().ResolveActive(ctx, inst.ID, model.AlertTypeHealthCheckFailed)
	if err != nil {
		c.logger.Warn("resolving health alert failed",
			zap.String("instance_name", inst.InstanceName), zap.Error(err))
		return
	}
	if resolved > 0 {
		c.logger.Info("health restored, alert resolved",
			zap.String("instance_name", inst.InstanceName))
	}
}
