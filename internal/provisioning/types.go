// Package provisioning drives the service provisioning workflow: a fixed
// sequence of provider steps with persisted status transitions, an append-only
// log, and cleanup on failure.
package provisioning

import (
	"encoding/json"

	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

// ResourceAllocation is the compute footprint requested for an instance.
type ResourceAllocation struct {
	CPUCores     float64
	MemoryGB     float64
	StorageGB    float64
	MinInstances int
	MaxInstances int
}

// Config is the immutable input of one provisioning workflow. The service
// layer applies request defaults before a Config reaches the engine.
type Config struct {
	TenantID     string
	ServiceID    string
	InstanceName string
	Environment  string
	Region       string
	ProviderType string

	Resources    ResourceAllocation
	CustomConfig map[string]any

	AutoScalingEnabled bool
	MonitoringEnabled  bool
	BackupEnabled      bool
}

// ConfigFromInstance rebuilds the workflow config recorded on an instance,
// for operations that need the provider after the original request is gone:
// deprovisioning, retries, stats sampling.
func ConfigFromInstance(inst *model.ServiceInstance) Config {
	cfg := Config{
		TenantID:     inst.TenantID,
		ServiceID:    inst.ServiceID,
		InstanceName: inst.InstanceName,
		Environment:  inst.Environment,
		Region:       inst.Region,
		ProviderType: inst.ProviderType,
		Resources: ResourceAllocation{
			CPUCores:     inst.AllocatedCPUCores,
			MemoryGB:     inst.AllocatedMemoryGB,
			StorageGB:    inst.AllocatedStorageGB,
			MinInstances: inst.MinInstances,
			MaxInstances: inst.MaxInstances,
		},
		AutoScalingEnabled: inst.AutoScalingEnabled,
	}
	if len(inst.CustomConfig) > 0 {
		var custom map[string]any
		if err := json.Unmarshal(inst.CustomConfig, &custom); err == nil {
			cfg.CustomConfig = custom
		}
	}
	return cfg
}

// Result is the outcome of one workflow run. Provision never returns an
// error; failures are reported here.
type Result struct {
	Success    bool
	Status     model.InstanceStatus
	InstanceID string

	PublicURL   string
	InternalURL string
	AdminURL    string
	AccessKey   string

	ErrorMessage string
	Logs         []model.LogEntry
	Metadata     map[string]any
}

// Infrastructure is the backend handle produced by the infrastructure step:
// network/volume names for container engines, namespace for clusters.
type Infrastructure map[string]string

// Deployment is the backend handle produced by the deployment step:
// container id and address, or workload and service names.
type Deployment map[string]string

// Endpoints is the final addressable surface of a provisioned instance.
type Endpoints struct {
	InternalURL string
	PublicURL   string
	AdminURL    string
	AccessKey   string
	Extra       map[string]string
}

// Stats is one sample of an instance's operational metrics.
type Stats struct {
	CPUPercent        float64
	MemoryPercent     float64
	DiskPercent       float64
	NetworkInKBps     float64
	NetworkOutKBps    float64
	RequestsPerMinute float64
}
