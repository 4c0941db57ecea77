package model

import (
	"time"

	"github.com/google/uuid"
)

// Well-known metric type keys.
const (
	MetricTypeResponseTime      = "response_time"
	MetricTypeCPUUsage          = "cpu_usage"
	MetricTypeMemoryUsage       = "memory_usage"
	MetricTypeDiskUsage         = "disk_usage"
	MetricTypeNetworkIn         = "network_in"
	MetricTypeNetworkOut        = "network_out"
	MetricTypeRequestsPerMinute = "requests_per_minute"
)

// Metric is a single write-once sample tied to an instance.
type Metric struct {
	ID         uuid.UUID `gorm:"primaryKey;type:uuid"`
	InstanceID uuid.UUID `gorm:"column:instance_id;type:uuid;not null;index"`
	MetricType string    `gorm:"column:metric_type;not null;index"`
	Value      float64   `gorm:"column:value;not null"`
	Unit       string    `gorm:"column:unit;not null"`
	Timestamp  time.Time `gorm:"column:timestamp;not null;index"`
}

type MetricList []Metric
