package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

var (
	ErrInstanceNotFound  = errors.New("service instance not found")
	ErrInstanceNameTaken = errors.New("instance name already taken for tenant and service")
)

// InstanceFilter contains optional fields for filtering instance queries.
// nil fields are ignored (not filtered).
type InstanceFilter struct {
	TenantID     *string
	ServiceID    *string
	Status       *model.InstanceStatus
	HealthStatus *model.HealthStatus
}

// Pagination contains options for paginated queries.
type Pagination struct {
	Limit  int
	Offset int
}

type Instance interface {
	List(ctx context.Context, filter *InstanceFilter, pagination *Pagination) (model.ServiceInstanceList, error)
	Count(ctx context.Context, filter *InstanceFilter) (int64, error)
	Create(ctx context.Context, instance model.ServiceInstance) (*model.ServiceInstance, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ServiceInstance, error)
	GetByIdentity(ctx context.Context, tenantID, serviceID, instanceName string) (*model.ServiceInstance, error)
	Update(ctx context.Context, instance *model.ServiceInstance) (*model.ServiceInstance, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.InstanceStatus, logs []model.LogEntry) error
	UpdateHealth(ctx context.Context, id uuid.UUID, health model.HealthStatus, checkedAt time.Time) error
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
}

type InstanceStore struct {
	db *gorm.DB
}

var _ Instance = (*InstanceStore)(nil)

func NewInstance(db *gorm.DB) Instance {
	return &InstanceStore{db: db}
}

func (s *InstanceStore) List(ctx context.Context, filter *InstanceFilter, pagination *Pagination) (model.ServiceInstanceList, error) {
	var instances model.ServiceInstanceList
	query := s.db.WithContext(ctx)

	if filter != nil {
		if filter.TenantID != nil {
			query = query.Where(&model.ServiceInstance{TenantID: *filter.TenantID})
		}
		if filter.ServiceID != nil {
			query = query.Where(&model.ServiceInstance{ServiceID: *filter.ServiceID})
		}
		if filter.Status != nil {
			query = query.Where(&model.ServiceInstance{Status: *filter.Status})
		}
		if filter.HealthStatus != nil {
			query = query.Where(&model.ServiceInstance{HealthStatus: *filter.HealthStatus})
		}
	}

	// Apply consistent ordering for pagination
	query = query.Order("provisioned_at ASC, id ASC")

	if pagination != nil {
		query = query.Limit(pagination.Limit).Offset(pagination.Offset)
	}

	if err := query.Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

func (s *InstanceStore) Count(ctx context.Context, filter *InstanceFilter) (int64, error) {
	var count int64
	query := s.db.WithContext(ctx).Model(&model.ServiceInstance{})

	if filter != nil {
		if filter.TenantID != nil {
			query = query.Where(&model.ServiceInstance{TenantID: *filter.TenantID})
		}
		if filter.ServiceID != nil {
			query = query.Where(&model.ServiceInstance{ServiceID: *filter.ServiceID})
		}
		if filter.Status != nil {
			query = query.Where(&model.ServiceInstance{Status: *filter.Status})
		}
		if filter.HealthStatus != nil {
			query = query.Where(&model.ServiceInstance{HealthStatus: *filter.HealthStatus})
		}
	}

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *InstanceStore) Create(ctx context.Context, instance model.ServiceInstance) (*model.ServiceInstance, error) {
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrInstanceNameTaken
		}
		return nil, err
	}
	return &instance, nil
}

func (s *InstanceStore) Get(ctx context.Context, id uuid.UUID) (*model.ServiceInstance, error) {
	var instance model.ServiceInstance
	if err := s.db.WithContext(ctx).First(&instance, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return &instance, nil
}

func (s *InstanceStore) GetByIdentity(ctx context.Context, tenantID, serviceID, instanceName string) (*model.ServiceInstance, error) {
	var instance model.ServiceInstance
	query := s.db.WithContext(ctx).Where(&model.ServiceInstance{
		TenantID:     tenantID,
		ServiceID:    serviceID,
		InstanceName: instanceName,
	})
	if err := query.First(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return &instance, nil
}

// Update persists the full record, zero fields included.
func (s *InstanceStore) Update(ctx context.Context, instance *model.ServiceInstance) (*model.ServiceInstance, error) {
	result := s.db.WithContext(ctx).Save(instance)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrInstanceNotFound
	}
	return instance, nil
}

// UpdateStatus flushes a lifecycle transition together with the accumulated
// provisioning log.
func (s *InstanceStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.InstanceStatus, logs []model.LogEntry) error {
	result := s.db.WithContext(ctx).
		Model(&model.ServiceInstance{ID: id}).
		Updates(&model.ServiceInstance{Status: status, ProvisioningLogs: logs})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceStore) UpdateHealth(ctx context.Context, id uuid.UUID, health model.HealthStatus, checkedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&model.ServiceInstance{ID: id}).
		Updates(&model.ServiceInstance{HealthStatus: health, LastHealthCheck: &checkedAt})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceStore) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	var instance model.ServiceInstance
	err := s.db.WithContext(ctx).Select("id").Where(&model.ServiceInstance{ID: id}).Take(&instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
