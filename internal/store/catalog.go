package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

var ErrCatalogServiceNotFound = errors.New("catalog service not found")

// Catalog is the read side of the service catalog; full catalog management
// lives outside this system. Create exists for seeding and tests.
type Catalog interface {
	Create(ctx context.Context, svc model.CatalogService) (*model.CatalogService, error)
	GetByServiceID(ctx context.Context, serviceID string) (*model.CatalogService, error)
}

type CatalogStore struct {
	db *gorm.DB
}

var _ Catalog = (*CatalogStore)(nil)

func NewCatalog(db *gorm.DB) Catalog {
	return &CatalogStore{db: db}
}

func (s *CatalogStore) Create(ctx context.Context, svc model.CatalogService) (*model.CatalogService, error) {
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&svc).Error; err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *CatalogStore) GetByServiceID(ctx context.Context, serviceID string) (*model.CatalogService, error) {
	var svc model.CatalogService
	if err := s.db.WithContext(ctx).Where(&model.CatalogService{ServiceID: serviceID}).First(&svc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCatalogServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}
