package store

import "gorm.io/gorm"

type Store interface {
	Close() error
	Instance() Instance
	Alert() Alert
	Metric() Metric
	Catalog() Catalog
}

type DataStore struct {
	db       *gorm.DB
	instance Instance
	alert    Alert
	metric   Metric
	catalog  Catalog
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:       db,
		instance: NewInstance(db),
		alert:    NewAlert(db),
		metric:   NewMetric(db),
		catalog:  NewCatalog(db),
	}
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *DataStore) Instance() Instance {
	return s.instance
}

func (s *DataStore) Alert() Alert {
	return s.alert
}

func (s *DataStore) Metric() Metric {
	return s.metric
}

func (s *DataStore) Catalog() Catalog {
	return s.catalog
}
