package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/config"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

// Scheduler runs the recurring health and metrics work, one goroutine per
// registered instance with its own stop channel.
type Scheduler struct {
	store           store.Store
	health          *HealthChecker
	metrics         *MetricsCollector
	healthInterval  time.Duration
	metricsInterval time.Duration
	logger          *zap.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(dataStore store.Store, health *HealthChecker, metrics *MetricsCollector, cfg *config.MonitorConfig, logger *zap.Logger) *Scheduler {
	healthInterval := cfg.HealthInterval
	if healthInterval <= 0 {
		healthInterval = 5 * time.Minute
	}
	metricsInterval := cfg.MetricsInterval
	if metricsInterval <= 0 {
		metricsInterval = time.Minute
	}
	return &Scheduler{
		store:           dataStore,
		health:          health,
		metrics:         metrics,
		healthInterval:  healthInterval,
		metricsInterval: metricsInterval,
		logger:          logger,
		entries:         make(map[uuid.UUID]chan struct{}),
	}
}

// Register starts the instance's schedules. Registering an already-registered
// instance is a no-op.
func (s *Scheduler) Register(instanceID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[instanceID]; ok {
		return
	}
	stop := make(chan struct{})
	s.entries[instanceID] = stop
	s.wg.Add(1)
	go s.run(instanceID, stop)
	s.logger.Info("monitoring schedules registered", zap.String("instance_id", instanceID.String()))
}

// Unregister stops the instance's schedules if present.
func (s *Scheduler) Unregister(instanceID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop, ok := s.entries[instanceID]
	if !ok {
		return
	}
	close(stop)
	delete(s.entries, instanceID)
	s.logger.Info("monitoring schedules removed", zap.String("instance_id", instanceID.String()))
}

// Registered reports whether the instance currently has schedules.
func (s *Scheduler) Registered(instanceID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[instanceID]
	return ok
}

// Stop tears down every schedule and waits for the loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, stop := range s.entries {
		close(stop)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Bootstrap registers schedules for every instance that was active when the
// process started, so monitoring survives restarts.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	status := model.InstanceStatusActive
	instances, err := s.store.Instance().List(ctx, &store.InstanceFilter{Status: &status}, nil)
	if err != nil {
		return fmt.Errorf("listing active instances: %w", err)
	}
	for _, inst := range instances {
		if enabled, ok := inst.Metadata["monitoring_enabled"].(bool); ok && !enabled {
			continue
		}
		s.Register(inst.ID)
	}
	return nil
}

func (s *Scheduler) run(instanceID uuid.UUID, stop chan struct{}) {
	defer s.wg.Done()

	healthTicker := time.NewTicker(s.healthInterval)
	defer healthTicker.Stop()
	metricsTicker := time.NewTicker(s.metricsInterval)
	defer metricsTicker.Stop()

	// First readings immediately; registration happens well after deploy.
	s.checkHealth(instanceID)
	s.collect(instanceID)

	for {
		select {
		case <-stop:
			return
		case <-healthTicker.C:
			s.checkHealth(instanceID)
		case <-metricsTicker.C:
			s.collect(instanceID)
		}
	}
}

func (s *Scheduler) checkHealth(instanceID uuid.UUID) {
	if _, err := s.health.Check(context.Background(), instanceID); err != nil {
		s.logger.Warn("scheduled health check failed",
			zap.String("instance_id", instanceID.String()), zap.Error(err))
	}
}

func (s *Scheduler) collect(instanceID uuid.UUID) {
	if err := s.metrics.Collect(context.Background(), instanceID); err != nil {
		s.logger.Warn("scheduled metrics collection failed",
			zap.String("instance_id", instanceID.String()), zap.Error(err))
	}
}
