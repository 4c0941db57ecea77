package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// InstanceStatus tracks a service instance through its lifecycle. The
// workflow statuses (validating through verifying, rolling_back) appear on
// the record transiently while a provisioning run is in flight; completed is
// reported on workflow results, the record itself lands on active.
type InstanceStatus string

const (
	InstanceStatusPending        InstanceStatus = "pending"
	InstanceStatusProvisioning   InstanceStatus = "provisioning"
	InstanceStatusValidating     InstanceStatus = "validating"
	InstanceStatusPreparing      InstanceStatus = "preparing"
	InstanceStatusDeploying      InstanceStatus = "deploying"
	InstanceStatusConfiguring    InstanceStatus = "configuring"
	InstanceStatusVerifying      InstanceStatus = "verifying"
	InstanceStatusCompleted      InstanceStatus = "completed"
	InstanceStatusRollingBack    InstanceStatus = "rolling_back"
	InstanceStatusActive         InstanceStatus = "active"
	InstanceStatusSuspended      InstanceStatus = "suspended"
	InstanceStatusFailed         InstanceStatus = "failed"
	InstanceStatusDeprovisioning InstanceStatus = "deprovisioning"
	InstanceStatusDeprovisioned  InstanceStatus = "deprovisioned"
)

type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "unknown"
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// LogEntry is one line of the append-only provisioning log kept on the
// instance record.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ServiceInstance struct {
	ID uuid.UUID `gorm:"primaryKey;type:uuid"`

	// Identity tuple; unique together.
	TenantID     string `gorm:"column:tenant_id;not null;uniqueIndex:idx_instance_identity"`
	ServiceID    string `gorm:"column:service_id;not null;uniqueIndex:idx_instance_identity"`
	InstanceName string `gorm:"column:instance_name;not null;uniqueIndex:idx_instance_identity"`

	Environment  string         `gorm:"column:environment;not null"`
	Region       string         `gorm:"column:region;not null"`
	ProviderType string         `gorm:"column:provider_type;not null"`
	Status       InstanceStatus `gorm:"column:status;not null;index"`

	AllocatedCPUCores  float64 `gorm:"column:allocated_cpu_cores"`
	AllocatedMemoryGB  float64 `gorm:"column:allocated_memory_gb"`
	AllocatedStorageGB float64 `gorm:"column:allocated_storage_gb"`

	AutoScalingEnabled bool `gorm:"column:auto_scaling_enabled"`
	MinInstances       int  `gorm:"column:min_instances"`
	MaxInstances       int  `gorm:"column:max_instances"`
	CurrentInstances   int  `gorm:"column:current_instances"`

	InternalURL string `gorm:"column:internal_url"`
	PublicURL   string `gorm:"column:public_url"`
	AdminURL    string `gorm:"column:admin_url"`
	AccessKey   string `gorm:"column:access_key"`

	CustomConfig datatypes.JSON `gorm:"column:custom_config;type:jsonb"`

	HealthStatus    HealthStatus `gorm:"column:health_status;not null"`
	LastHealthCheck *time.Time   `gorm:"column:last_health_check"`

	ProvisioningLogs []LogEntry     `gorm:"column:provisioning_logs;type:jsonb;serializer:json"`
	Metadata         map[string]any `gorm:"column:metadata;type:jsonb;serializer:json"`

	ProvisionedAt   time.Time  `gorm:"column:provisioned_at;autoCreateTime"`
	ActivatedAt     *time.Time `gorm:"column:activated_at"`
	SuspendedAt     *time.Time `gorm:"column:suspended_at"`
	DeprovisionedAt *time.Time `gorm:"column:deprovisioned_at"`
	UpdateTime      time.Time  `gorm:"column:update_time;autoUpdateTime"`
}

type ServiceInstanceList []ServiceInstance
