package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/config"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/factory"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
	"github.com/meridian-cloud/service-orchestrator/internal/webhook"
)

// ErrStatsUnsupported reports a provider without a stats capability.
var ErrStatsUnsupported = errors.New("provider does not expose stats")

// Sampler produces one stats sample for an instance.
type Sampler interface {
	Sample(ctx context.Context, inst *model.ServiceInstance) (*provisioning.Stats, error)
}

// ProviderSampler samples through the instance's provisioning provider when
// the backend exposes the optional stats capability.
type ProviderSampler struct {
	factory *factory.Factory
}

var _ Sampler = (*ProviderSampler)(nil)

func NewProviderSampler(f *factory.Factory) *ProviderSampler {
	return &ProviderSampler{factory: f}
}

func (s *ProviderSampler) Sample(ctx context.Context, inst *model.ServiceInstance) (*provisioning.Stats, error) {
	provider, err := s.factory.Provider(ctx, provisioning.ConfigFromInstance(inst))
	if err != nil {
		return nil, err
	}
	source, ok := provider.(provisioning.StatsSource)
	if !ok {
		return nil, ErrStatsUnsupported
	}
	return source.SampleStats(ctx)
}

// MetricsCollector samples instance resource usage, stores the readings, and
// raises one-shot threshold alerts.
type MetricsCollector struct {
	store           store.Store
	sampler         Sampler
	webhooks        *webhook.Dispatcher
	cpuThreshold    float64
	memoryThreshold float64
	logger          *zap.Logger
}

func NewMetricsCollector(dataStore store.Store, sampler Sampler, webhooks *webhook.Dispatcher, cfg *config.MonitorConfig, logger *zap.Logger) *MetricsCollector {
	cpuThreshold := cfg.CPUThreshold
	if cpuThreshold <= 0 {
		cpuThreshold = 80
	}
	memoryThreshold := cfg.MemoryThreshold
	if memoryThreshold <= 0 {
		memoryThreshold = 90
	}
	return &MetricsCollector{
		store:           dataStore,
		sampler:         sampler,
		webhooks:        webhooks,
		cpuThreshold:    cpuThreshold,
		memoryThreshold: memoryThreshold,
		logger:          logger,
	}
}

// Collect samples the instance once. Only active instances are sampled;
// backends without stats are skipped quietly.
func (c *MetricsCollector) Collect(ctx context.Context, instanceID uuid.UUID) error {
	inst, err := c.store.Instance().Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status != model.InstanceStatusActive {
		c.logger.Debug("skipping metrics for inactive instance",
			zap.String("instance_name", inst.InstanceName),
			zap.String("status", string(inst.Status)))
		return nil
	}

	stats, err := c.sampler.Sample(ctx, inst)
	if err != nil {
		if errors.Is(err, ErrStatsUnsupported) {
			c.logger.Debug("backend has no stats capability",
				zap.String("provider_type", inst.ProviderType))
			return nil
		}
		return fmt.Errorf("sampling %s: %w", inst.InstanceName, err)
	}

	c.record(ctx, inst, model.MetricTypeCPUUsage, stats.CPUPercent, "%")
	c.record(ctx, inst, model.MetricTypeMemoryUsage, stats.MemoryPercent, "%")
	if stats.DiskPercent > 0 {
		c.record(ctx, inst, model.MetricTypeDiskUsage, stats.DiskPercent, "%")
	}
	if stats.NetworkInKBps > 0 {
		c.record(ctx, inst, model.MetricTypeNetworkIn, stats.NetworkInKBps, "KB/s")
	}
	if stats.NetworkOutKBps > 0 {
		c.record(ctx, inst, model.MetricTypeNetworkOut, stats.NetworkOutKBps, "KB/s")
	}
	if stats.RequestsPerMinute > 0 {
		c.record(ctx, inst, model.MetricTypeRequestsPerMinute, stats.RequestsPerMinute, "count")
	}

	if stats.CPUPercent > c.cpuThreshold {
		c.raiseThresholdAlert(ctx, inst, model.Alert{
			AlertType: model.AlertTypeHighCPU,
			Severity:  model.AlertSeverityWarning,
			Title:     "High CPU usage",
			Message:   fmt.Sprintf("CPU usage at %.1f%% exceeds the %.0f%% threshold", stats.CPUPercent, c.cpuThreshold),
			Metadata:  map[string]any{"cpu_percent": stats.CPUPercent},
		})
	}
	if stats.MemoryPercent > c.memoryThreshold {
		c.raiseThresholdAlert(ctx, inst, model.Alert{
			AlertType: model.AlertTypeHighMemory,
			Severity:  model.AlertSeverityError,
			Title:     "High memory usage",
			Message:   fmt.Sprintf("Memory usage at %.1f%% exceeds the %.0f%% threshold", stats.MemoryPercent, c.memoryThreshold),
			Metadata:  map[string]any{"memory_percent": stats.MemoryPercent},
		})
	}
	return nil
}

func (c *MetricsCollector) record(ctx context.Context, inst *model.ServiceInstance, metricType string, value float64, unit string) {
	_, err := c.store.Metric().Create(ctx, model.Metric{
		ID:         uuid.New(),
		InstanceID: inst.ID,
		MetricType: metricType,
		Value:      value,
		Unit:       unit,
	})
	if err != nil {
		c.logger.Warn("recording metric failed",
			zap.String("instance_name", inst.InstanceName),
			zap.String("metric_type", metricType), zap.Error(err))
	}
}

// raiseThresholdAlert creates a fresh alert every time a threshold trips;
// threshold alerts are point-in-time findings, not deduplicated conditions.
func (c *MetricsCollector) raiseThresholdAlert(ctx context.Context, inst *model.ServiceInstance, alert model.Alert) {
	alert.ID = uuid.New()
	alert.InstanceID = inst.ID
	alert.Source = "metrics-monitor"

	saved, err := c.store.Alert().Create(ctx, alert)
	if err != nil {
		c.logger.Warn("creating threshold alert failed",
			zap.String("instance_name", inst.InstanceName),
			zap.String("alert_type", alert.AlertType), zap.Error(err))
		return
	}
	c.logger.Info("threshold alert raised",
		zap.String("instance_name", inst.InstanceName),
		zap.String("alert_type", saved.AlertType),
		zap.String("severity", string(saved.Severity)))
	if err := c.webhooks.AlertTriggered(ctx, inst, saved); err != nil {
		c.logger.Warn("alert webhook failed",
			zap.String("instance_name", inst.InstanceName), zap.Error(err))
	}
}
