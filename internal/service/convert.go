package service

import (
	api "github.com/meridian-cloud/service-orchestrator/api/v1alpha1"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

// ModelToInstance converts a database record to its API representation.
// The access key is deliberately not exposed here; it is delivered once via
// the provisioning-completed webhook.
func ModelToInstance(m *model.ServiceInstance) *api.Instance {
	return &api.Instance{
		ID:           m.ID.String(),
		TenantID:     m.TenantID,
		ServiceID:    m.ServiceID,
		InstanceName: m.InstanceName,
		Environment:  m.Environment,
		Region:       m.Region,
		ProviderType: m.ProviderType,
		Status:       string(m.Status),

		AllocatedCPUCores:  m.AllocatedCPUCores,
		AllocatedMemoryGB:  m.AllocatedMemoryGB,
		AllocatedStorageGB: m.AllocatedStorageGB,

		AutoScalingEnabled: m.AutoScalingEnabled,
		MinInstances:       m.MinInstances,
		MaxInstances:       m.MaxInstances,
		CurrentInstances:   m.CurrentInstances,

		InternalURL: m.InternalURL,
		PublicURL:   m.PublicURL,
		AdminURL:    m.AdminURL,

		HealthStatus:    string(m.HealthStatus),
		LastHealthCheck: m.LastHealthCheck,

		ProvisionedAt:   m.ProvisionedAt,
		ActivatedAt:     m.ActivatedAt,
		SuspendedAt:     m.SuspendedAt,
		DeprovisionedAt: m.DeprovisionedAt,
	}
}

// ModelToAlert converts an alert record to its API representation.
func ModelToAlert(m *model.Alert) *api.Alert {
	return &api.Alert{
		ID:         m.ID.String(),
		InstanceID: m.InstanceID.String(),
		Title:      m.Title,
		Message:    m.Message,
		Severity:   string(m.Severity),
		Status:     string(m.Status),
		AlertType:  m.AlertType,
		Source:     m.Source,

		FirstOccurred:   m.FirstOccurred,
		LastOccurred:    m.LastOccurred,
		OccurrenceCount: m.OccurrenceCount,

		ResolvedAt:     m.ResolvedAt,
		AcknowledgedBy: m.AcknowledgedBy,
		AcknowledgedAt: m.AcknowledgedAt,
	}
}

// ModelToMetric converts a metric sample to its API representation.
func ModelToMetric(m *model.Metric) *api.Metric {
	return &api.Metric{
		ID:         m.ID.String(),
		InstanceID: m.InstanceID.String(),
		MetricType: m.MetricType,
		Value:      m.Value,
		Unit:       m.Unit,
		Timestamp:  m.Timestamp,
	}
}

// ModelToLogEntry converts a provisioning log line to its API representation.
func ModelToLogEntry(m model.LogEntry) api.LogEntry {
	return api.LogEntry{
		Timestamp: m.Timestamp,
		Level:     m.Level,
		Message:   m.Message,
		Metadata:  m.Metadata,
	}
}
