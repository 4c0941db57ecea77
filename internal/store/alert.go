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

var ErrAlertNotFound = errors.New("alert not found")

// AlertFilter contains optional fields for filtering alert queries.
// nil fields are ignored (not filtered).
type AlertFilter struct {
	InstanceID *uuid.UUID
	Status     *model.AlertStatus
	Severity   *model.AlertSeverity
	AlertType  *string
}

type Alert interface {
	List(ctx context.Context, filter *AlertFilter, pagination *Pagination) (model.AlertList, error)
	Create(ctx context.Context, alert model.Alert) (*model.Alert, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	UpsertActive(ctx context.Context, alert model.Alert) (bool, *model.Alert, error)
	ResolveActive(ctx context.Context, instanceID uuid.UUID, alertType string) (int64, error)
	Acknowledge(ctx context.Context, id uuid.UUID, acknowledgedBy string) (*model.Alert, error)
	Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	CountByStatus(ctx context.Context) (map[model.AlertStatus]int64, error)
	CountActiveBySeverity(ctx context.Context) (map[model.AlertSeverity]int64, error)
}

type AlertStore struct {
	db *gorm.DB
}

var _ Alert = (*AlertStore)(nil)

func NewAlert(db *gorm.DB) Alert {
	return &AlertStore{db: db}
}

func (s *AlertStore) List(ctx context.Context, filter *AlertFilter, pagination *Pagination) (model.AlertList, error) {
	var alerts model.AlertList
	query := s.db.WithContext(ctx)

	if filter != nil {
		if filter.InstanceID != nil {
			query = query.Where(&model.Alert{InstanceID: *filter.InstanceID})
		}
		if filter.Status != nil {
			query = query.Where(&model.Alert{Status: *filter.Status})
		}
		if filter.Severity != nil {
			query = query.Where(&model.Alert{Severity: *filter.Severity})
		}
		if filter.AlertType != nil {
			query = query.Where(&model.Alert{AlertType: *filter.AlertType})
		}
	}

	// Newest activity first.
	query = query.Order("last_occurred DESC, id ASC")

	if pagination != nil {
		query = query.Limit(pagination.Limit).Offset(pagination.Offset)
	}

	if err := query.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (s *AlertStore) Create(ctx context.Context, alert model.Alert) (*model.Alert, error) {
	if alert.Status == "" {
		alert.Status = model.AlertStatusActive
	}
	if alert.OccurrenceCount == 0 {
		alert.OccurrenceCount = 1
	}
	if alert.LastOccurred.IsZero() {
		alert.LastOccurred = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

func (s *AlertStore) Get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	var alert model.Alert
	if err := s.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return &alert, nil
}

// UpsertActive enforces the deduplication invariant: at most one active alert
// per (instance, alert type). An existing active alert has its occurrence
// count and last-occurred time bumped; otherwise the given alert is created.
// The returned bool reports whether a new record was created.
func (s *AlertStore) UpsertActive(ctx context.Context, alert model.Alert) (bool, *model.Alert, error) {
	var (
		created bool
		result  model.Alert
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Alert
		err := tx.Where(&model.Alert{
			InstanceID: alert.InstanceID,
			AlertType:  alert.AlertType,
			Status:     model.AlertStatusActive,
		}).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			alert.Status = model.AlertStatusActive
			alert.OccurrenceCount = 1
			alert.LastOccurred = time.Now().UTC()
			if err := tx.Clauses(clause.Returning{}).Create(&alert).Error; err != nil {
				return err
			}
			created = true
			result = alert
			return nil
		}
		if err != nil {
			return err
		}
		existing.OccurrenceCount++
		existing.LastOccurred = time.Now().UTC()
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return created, &result, nil
}

// ResolveActive resolves every active alert of the given type for the
// instance and reports how many it touched.
func (s *AlertStore) ResolveActive(ctx context.Context, instanceID uuid.UUID, alertType string) (int64, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where(&model.Alert{InstanceID: instanceID, AlertType: alertType, Status: model.AlertStatusActive}).
		Updates(&model.Alert{Status: model.AlertStatusResolved, ResolvedAt: &now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (s *AlertStore) Acknowledge(ctx context.Context, id uuid.UUID, acknowledgedBy string) (*model.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	alert.Status = model.AlertStatusAcknowledged
	alert.AcknowledgedBy = acknowledgedBy
	alert.AcknowledgedAt = &now
	if err := s.db.WithContext(ctx).Save(alert).Error; err != nil {
		return nil, err
	}
	return alert, nil
}

func (s *AlertStore) Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	alert.Status = model.AlertStatusResolved
	alert.ResolvedAt = &now
	if err := s.db.WithContext(ctx).Save(alert).Error; err != nil {
		return nil, err
	}
	return alert, nil
}

func (s *AlertStore) CountByStatus(ctx context.Context) (map[model.AlertStatus]int64, error) {
	type row struct {
		Status model.AlertStatus
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.AlertStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *AlertStore) CountActiveBySeverity(ctx context.Context) (map[model.AlertSeverity]int64, error) {
	type row struct {
		Severity model.AlertSeverity
		Count    int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where(&model.Alert{Status: model.AlertStatusActive}).
		Select("severity, count(*) as count").
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.AlertSeverity]int64, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}
