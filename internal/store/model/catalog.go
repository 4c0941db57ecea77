package model

import (
	"time"

	"github.com/google/uuid"
)

// CatalogService is the catalog's view of a deployable service: the inputs
// provisioning needs (image, port, env, health path, storage, scaling
// bounds). Catalog management itself lives outside this system.
type CatalogService struct {
	ID        uuid.UUID `gorm:"primaryKey;type:uuid"`
	ServiceID string    `gorm:"column:service_id;uniqueIndex;not null"`
	Name      string    `gorm:"column:name;not null"`

	Image           string `gorm:"column:image;not null"`
	Port            int    `gorm:"column:port"`
	HealthCheckPath string `gorm:"column:health_check_path"`

	EnvironmentVariables map[string]string `gorm:"column:environment_variables;type:jsonb;serializer:json"`
	RequiresFileStorage  bool              `gorm:"column:requires_file_storage"`

	MinInstances int `gorm:"column:min_instances;default:1"`
	MaxInstances int `gorm:"column:max_instances;default:1"`

	CreateTime time.Time `gorm:"column:create_time;autoCreateTime"`
	UpdateTime time.Time `gorm:"column:update_time;autoUpdateTime"`
}
