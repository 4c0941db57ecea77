package webhook

import (
	"context"
	"time"

	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

// Lifecycle event types carried in the payload and the X-Webhook-Event header.
const (
	EventProvisioningStarted   = "service.provisioning.started"
	EventProvisioningCompleted = "service.provisioning.completed"
	EventProvisioningFailed    = "service.provisioning.failed"
	EventSuspended             = "service.suspended"
	EventResumed               = "service.resumed"
	EventDeprovisioned         = "service.deprovisioned"
	EventHealthChanged         = "service.health.changed"
	EventAlertTriggered        = "service.alert.triggered"
	EventScaling               = "service.scaling"
)

func instanceData(inst *model.ServiceInstance) map[string]any {
	return map[string]any{
		"tenant_id":     inst.TenantID,
		"service_id":    inst.ServiceID,
		"instance_name": inst.InstanceName,
		"environment":   inst.Environment,
		"region":        inst.Region,
	}
}

func (d *Dispatcher) ProvisioningStarted(ctx context.Context, inst *model.ServiceInstance) error {
	return d.Dispatch(ctx, EventProvisioningStarted, instanceData(inst))
}

// ProvisioningCompleted carries the endpoints plus the access key; this is the
// only place the credential leaves the system.
func (d *Dispatcher) ProvisioningCompleted(ctx context.Context, inst *model.ServiceInstance) error {
	data := instanceData(inst)
	data["public_url"] = inst.PublicURL
	data["internal_url"] = inst.InternalURL
	data["admin_url"] = inst.AdminURL
	data["access_key"] = inst.AccessKey
	if inst.ActivatedAt != nil {
		data["activated_at"] = inst.ActivatedAt.UTC().Format(time.RFC3339)
	}
	return d.Dispatch(ctx, EventProvisioningCompleted, data)
}

func (d *Dispatcher) ProvisioningFailed(ctx context.Context, inst *model.ServiceInstance, errorMessage string) error {
	data := instanceData(inst)
	data["error_message"] = errorMessage
	return d.Dispatch(ctx, EventProvisioningFailed, data)
}

func (d *Dispatcher) Suspended(ctx context.Context, inst *model.ServiceInstance, reason string) error {
	data := instanceData(inst)
	data["reason"] = reason
	if inst.SuspendedAt != nil {
		data["suspended_at"] = inst.SuspendedAt.UTC().Format(time.RFC3339)
	}
	return d.Dispatch(ctx, EventSuspended, data)
}

func (d *Dispatcher) Resumed(ctx context.Context, inst *model.ServiceInstance) error {
	return d.Dispatch(ctx, EventResumed, instanceData(inst))
}

func (d *Dispatcher) Deprovisioned(ctx context.Context, inst *model.ServiceInstance) error {
	data := instanceData(inst)
	if inst.DeprovisionedAt != nil {
		data["deprovisioned_at"] = inst.DeprovisionedAt.UTC().Format(time.RFC3339)
	}
	return d.Dispatch(ctx, EventDeprovisioned, data)
}

func (d *Dispatcher) HealthChanged(ctx context.Context, inst *model.ServiceInstance, previous, current model.HealthStatus) error {
	data := instanceData(inst)
	data["previous_status"] = string(previous)
	data["current_status"] = string(current)
	if inst.LastHealthCheck != nil {
		data["checked_at"] = inst.LastHealthCheck.UTC().Format(time.RFC3339)
	}
	return d.Dispatch(ctx, EventHealthChanged, data)
}

func (d *Dispatcher) AlertTriggered(ctx context.Context, inst *model.ServiceInstance, alert *model.Alert) error {
	data := instanceData(inst)
	data["alert_id"] = alert.ID.String()
	data["alert_type"] = alert.AlertType
	data["severity"] = string(alert.Severity)
	data["title"] = alert.Title
	data["message"] = alert.Message
	return d.Dispatch(ctx, EventAlertTriggered, data)
}

func (d *Dispatcher) Scaling(ctx context.Context, inst *model.ServiceInstance, previous, target int, reason string) error {
	data := instanceData(inst)
	data["previous_instances"] = previous
	data["target_instances"] = target
	data["reason"] = reason
	return d.Dispatch(ctx, EventScaling, data)
}
