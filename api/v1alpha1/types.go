// Package v1alpha1 holds the wire types of the management API.
package v1alpha1

import "time"

// ProvisionRequest asks for a new service instance. Tenant, service and
// instance name are required; everything else falls back to catalog or
// engine defaults.
type ProvisionRequest struct {
	TenantID     string `json:"tenant_id"`
	ServiceID    string `json:"service_id"`
	InstanceName string `json:"instance_name"`
	Environment  string `json:"environment,omitempty"`
	Region       string `json:"region,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`

	AllocatedCPUCores  float64 `json:"allocated_cpu_cores,omitempty"`
	AllocatedMemoryGB  float64 `json:"allocated_memory_gb,omitempty"`
	AllocatedStorageGB float64 `json:"allocated_storage_gb,omitempty"`

	MinInstances int `json:"min_instances,omitempty"`
	MaxInstances int `json:"max_instances,omitempty"`

	AutoScalingEnabled *bool `json:"auto_scaling_enabled,omitempty"`
	MonitoringEnabled  *bool `json:"monitoring_enabled,omitempty"`
	BackupEnabled      *bool `json:"backup_enabled,omitempty"`

	CustomConfig map[string]any `json:"custom_config,omitempty"`
}

// ProvisionAck acknowledges an accepted provisioning request.
type ProvisionAck struct {
	Message      string `json:"message"`
	InstanceName string `json:"instance_name"`
}

// Ack acknowledges an accepted asynchronous operation.
type Ack struct {
	Message string `json:"message"`
}

// ActionRequest performs a lifecycle action on an instance.
type ActionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// ScaleRequest changes an instance's current replica count.
type ScaleRequest struct {
	TargetInstances int    `json:"target_instances"`
	Reason          string `json:"reason,omitempty"`
}

// AcknowledgeRequest marks an alert as acknowledged by an operator.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// Instance is the API view of a service instance record.
type Instance struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	ServiceID    string `json:"service_id"`
	InstanceName string `json:"instance_name"`
	Environment  string `json:"environment"`
	Region       string `json:"region"`
	ProviderType string `json:"provider_type"`
	Status       string `json:"status"`

	AllocatedCPUCores  float64 `json:"allocated_cpu_cores"`
	AllocatedMemoryGB  float64 `json:"allocated_memory_gb"`
	AllocatedStorageGB float64 `json:"allocated_storage_gb"`

	AutoScalingEnabled bool `json:"auto_scaling_enabled"`
	MinInstances       int  `json:"min_instances"`
	MaxInstances       int  `json:"max_instances"`
	CurrentInstances   int  `json:"current_instances"`

	InternalURL string `json:"internal_url,omitempty"`
	PublicURL   string `json:"public_url,omitempty"`
	AdminURL    string `json:"admin_url,omitempty"`

	HealthStatus    string     `json:"health_status"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`

	ProvisionedAt   time.Time  `json:"provisioned_at"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	SuspendedAt     *time.Time `json:"suspended_at,omitempty"`
	DeprovisionedAt *time.Time `json:"deprovisioned_at,omitempty"`
}

// InstanceList is a filtered listing of instances.
type InstanceList struct {
	Items []Instance `json:"items"`
	Total int        `json:"total"`
}

// Alert is the API view of an alert record.
type Alert struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	Title      string `json:"title"`
	Message    string `json:"message,omitempty"`
	Severity   string `json:"severity"`
	Status     string `json:"status"`
	AlertType  string `json:"alert_type"`
	Source     string `json:"source,omitempty"`

	FirstOccurred   time.Time `json:"first_occurred"`
	LastOccurred    time.Time `json:"last_occurred"`
	OccurrenceCount int       `json:"occurrence_count"`

	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// AlertList is a listing of alerts.
type AlertList struct {
	Items []Alert `json:"items"`
	Total int     `json:"total"`
}

// AlertSummary aggregates alert counts across all instances.
type AlertSummary struct {
	ByStatus         map[string]int64 `json:"by_status"`
	ActiveBySeverity map[string]int64 `json:"active_by_severity"`
}

// Metric is one recorded sample.
type Metric struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Timestamp  time.Time `json:"timestamp"`
}

// MetricList is a time-windowed listing of metrics.
type MetricList struct {
	Items []Metric `json:"items"`
	Total int      `json:"total"`
}

// LogEntry is one line of an instance's provisioning log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LogList is an instance's provisioning log.
type LogList struct {
	Items []LogEntry `json:"items"`
	Total int        `json:"total"`
}

// Error is an RFC 7807 style problem response.
type Error struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

// Health is the liveness response.
type Health struct {
	Status string `json:"status"`
}
