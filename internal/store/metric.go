package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

// MetricFilter contains optional fields for filtering metric queries.
// nil fields are ignored (not filtered).
type MetricFilter struct {
	MetricType *string
	Since      *time.Time
}

type Metric interface {
	Create(ctx context.Context, metric model.Metric) (*model.Metric, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID, filter *MetricFilter, pagination *Pagination) (model.MetricList, error)
}

type MetricStore struct {
	db *gorm.DB
}

var _ Metric = (*MetricStore)(nil)

func NewMetric(db *gorm.DB) Metric {
	return &MetricStore{db: db}
}

func (s *MetricStore) Create(ctx context.Context, metric model.Metric) (*model.Metric, error) {
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&metric).Error; err != nil {
		return nil, err
	}
	return &metric, nil
}

func (s *MetricStore) ListByInstance(ctx context.Context, instanceID uuid.UUID, filter *MetricFilter, pagination *Pagination) (model.MetricList, error) {
	var metrics model.MetricList
	query := s.db.WithContext(ctx).Where(&model.Metric{InstanceID: instanceID})

	if filter != nil {
		if filter.MetricType != nil {
			query = query.Where(&model.Metric{MetricType: *filter.MetricType})
		}
		if filter.Since != nil {
			query = query.Where("timestamp >= ?", *filter.Since)
		}
	}

	query = query.Order("timestamp DESC, id ASC")

	if pagination != nil {
		query = query.Limit(pagination.Limit).Offset(pagination.Offset)
	}

	if err := query.Find(&metrics).Error; err != nil {
		return nil, err
	}
	return metrics, nil
}
