package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/meridian-cloud/service-orchestrator/api/v1alpha1"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
)

// AlertService handles acknowledgement and resolution of alerts raised by the
// monitor and the provisioning workflows.
type AlertService struct {
	store  store.Store
	logger *zap.Logger
}

func NewAlertService(dataStore store.Store, logger *zap.Logger) *AlertService {
	return &AlertService{store: dataStore, logger: logger}
}

// Acknowledge marks an alert as seen by an operator.
func (s *AlertService) Acknowledge(ctx context.Context, alertID, acknowledgedBy string) (*api.Alert, error) {
	if acknowledgedBy == "" {
		return nil, invalid("acknowledged_by is required")
	}
	id, err := uuid.Parse(alertID)
	if err != nil {
		return nil, invalid("invalid alert ID format")
	}

	alert, err := s.store.Alert().Acknowledge(ctx, id, acknowledgedBy)
	if err != nil {
		if errors.Is(err, store.ErrAlertNotFound) {
			return nil, notFound(fmt.Sprintf("alert %s not found", alertID))
		}
		return nil, err
	}

	s.logger.Info("alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("acknowledged_by", acknowledgedBy))
	return ModelToAlert(alert), nil
}

// Resolve closes an alert.
func (s *AlertService) Resolve(ctx context.Context, alertID string) (*api.Alert, error) {
	id, err := uuid.Parse(alertID)
	if err != nil {
		return nil, invalid("invalid alert ID format")
	}

	alert, err := s.store.Alert().Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrAlertNotFound) {
			return nil, notFound(fmt.Sprintf("alert %s not found", alertID))
		}
		return nil, err
	}

	s.logger.Info("alert resolved", zap.String("alert_id", alertID))
	return ModelToAlert(alert), nil
}

// Summary reports alert counts grouped by status, plus active alerts grouped
// by severity.
func (s *AlertService) Summary(ctx context.Context) (*api.AlertSummary, error) {
	byStatus, err := s.store.Alert().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	bySeverity, err := s.store.Alert().CountActiveBySeverity(ctx)
	if err != nil {
		return nil, err
	}

	summary := &api.AlertSummary{
		ByStatus:         make(map[string]int64, len(byStatus)),
		ActiveBySeverity: make(map[string]int64, len(bySeverity)),
	}
	for status, count := range byStatus {
		summary.ByStatus[string(status)] = count
	}
	for severity, count := range bySeverity {
		summary.ActiveBySeverity[string(severity)] = count
	}
	return summary, nil
}
