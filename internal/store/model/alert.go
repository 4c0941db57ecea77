package model

import (
	"time"

	"github.com/google/uuid"
)

type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Well-known alert type keys. AlertType is a stable key used for
// deduplication, not a closed enum.
const (
	AlertTypeHealthCheckFailed   = "health_check_failed"
	AlertTypeHighCPU             = "high_cpu"
	AlertTypeHighMemory          = "high_memory"
	AlertTypeProvisioningFailure = "provisioning_failure"
)

type Alert struct {
	ID         uuid.UUID `gorm:"primaryKey;type:uuid"`
	InstanceID uuid.UUID `gorm:"column:instance_id;type:uuid;not null;index:idx_alert_lookup"`

	Title     string        `gorm:"column:title;not null"`
	Message   string        `gorm:"column:message"`
	Severity  AlertSeverity `gorm:"column:severity;not null"`
	Status    AlertStatus   `gorm:"column:status;not null;index"`
	AlertType string        `gorm:"column:alert_type;not null;index:idx_alert_lookup"`
	Source    string        `gorm:"column:source"`

	FirstOccurred   time.Time `gorm:"column:first_occurred;autoCreateTime"`
	LastOccurred    time.Time `gorm:"column:last_occurred;not null"`
	OccurrenceCount int       `gorm:"column:occurrence_count;not null;default:1"`

	ResolvedAt     *time.Time `gorm:"column:resolved_at"`
	AcknowledgedBy string     `gorm:"column:acknowledged_by"`
	AcknowledgedAt *time.Time `gorm:"column:acknowledged_at"`

	Metadata map[string]any `gorm:"column:metadata;type:jsonb;serializer:json"`
}

type AlertList []Alert
