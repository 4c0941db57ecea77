package service_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/gomega"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/meridian-cloud/service-orchestrator/internal/config"
	"github.com/meridian-cloud/service-orchestrator/internal/monitor"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/factory"
	"github.com/meridian-cloud/service-orchestrator/internal/service"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
	"github.com/meridian-cloud/service-orchestrator/internal/tasks"
	"github.com/meridian-cloud/service-orchestrator/internal/webhook"
)

// webhookSink records delivered webhook events by type.
type webhookSink struct {
	mu     sync.Mutex
	events []string
	server *httptest.Server
}

func newWebhookSink() *webhookSink {
	sink := &webhookSink{}
	sink.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sink.mu.Lock()
		sink.events = append(sink.events, r.Header.Get("X-Webhook-Event"))
		sink.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return sink
}

func (s *webhookSink) Close()      { s.server.Close() }
func (s *webhookSink) URL() string { return s.server.URL }

func (s *webhookSink) CountOf(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestDB() (*gorm.DB, store.Store) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	Expect(err).NotTo(HaveOccurred())

	// One connection keeps every goroutine on the same in-memory database.
	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	sqlDB.SetMaxOpenConns(1)

	Expect(store.AutoMigrate(db)).To(Succeed())
	return db, store.NewStore(db)
}

func closeDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	sqlDB.Close()
}

// lifecycle wires a full engine around an in-memory store and a scripted
// container backend, the way main assembles the real one.
type lifecycle struct {
	db        *gorm.DB
	store     store.Store
	sink      *webhookSink
	fake      *provisioning.FakeRunner
	scheduler *monitor.Scheduler
	queue     *tasks.Queue

	instances *service.InstanceService
	alerts    *service.AlertService
}

func newLifecycle() *lifecycle {
	db, dataStore := newTestDB()
	sink := newWebhookSink()
	dispatcher := webhook.New(webhook.Config{
		Endpoint:   sink.URL(),
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())

	fake := &provisioning.FakeRunner{RunFn: healthyEngine()}
	providers := factory.New(dataStore, fake, factory.Settings{
		BaseDomain:     "meridian.cloud",
		VerifyTimeout:  100 * time.Millisecond,
		VerifyInterval: 5 * time.Millisecond,
	}, zap.NewNop())
	orchestrator := provisioning.NewOrchestrator(dataStore, zap.NewNop())

	monitorCfg := &config.MonitorConfig{
		HealthInterval:  time.Minute,
		MetricsInterval: time.Minute,
		ProbeTimeout:    500 * time.Millisecond,
		CPUThreshold:    80,
		MemoryThreshold: 90,
	}
	checker := monitor.NewHealthChecker(dataStore, dispatcher, monitorCfg, zap.NewNop())
	collector := monitor.NewMetricsCollector(dataStore, monitor.NewProviderSampler(providers), dispatcher, monitorCfg, zap.NewNop())
	scheduler := monitor.NewScheduler(dataStore, checker, collector, monitorCfg, zap.NewNop())

	queue := tasks.NewQueue(2, 16, zap.NewNop())
	queue.Start()

	provisionerCfg := &config.ProvisionerConfig{
		Provider:             "docker",
		MaxAttempts:          1,
		RetryBackoff:         time.Millisecond,
		HealthCheckDelay:     time.Millisecond,
		MonitoringSetupDelay: time.Millisecond,
	}
	runner := tasks.NewRunner(queue, dataStore, orchestrator, providers, dispatcher, scheduler, checker, provisionerCfg, zap.NewNop())

	return &lifecycle{
		db:        db,
		store:     dataStore,
		sink:      sink,
		fake:      fake,
		scheduler: scheduler,
		queue:     queue,
		instances: service.NewInstanceService(dataStore, runner, providers, dispatcher, scheduler, provisionerCfg, zap.NewNop()),
		alerts:    service.NewAlertService(dataStore, zap.NewNop()),
	}
}

func (l *lifecycle) Stop() {
	l.queue.Stop()
	l.scheduler.Stop()
	l.sink.Close()
	closeDB(l.db)
}

// healthyEngine scripts a container backend where every workflow step
// succeeds, regardless of instance identity. It remembers the network the
// workflow creates so inspect can report an address on it.
func healthyEngine() func(context.Context, string, ...string) (string, error) {
	var mu sync.Mutex
	var network string
	return func(_ context.Context, _ string, args ...string) (string, error) {
		switch args[0] {
		case "network":
			if len(args) > 2 && args[1] == "create" {
				mu.Lock()
				network = args[len(args)-1]
				mu.Unlock()
			}
			return "", nil
		case "run":
			return "c0ffee", nil
		case "inspect":
			mu.Lock()
			defer mu.Unlock()
			return fmt.Sprintf(`[{"NetworkSettings":{"Networks":{%q:{"IPAddress":"172.18.0.9"}}}}]`, network), nil
		case "ps":
			return "c0ffee", nil
		case "stats":
			return "10.0% 20.0%", nil
		}
		return "", nil
	}
}

func seedCatalog(ctx context.Context, dataStore store.Store) {
	_, err := dataStore.Catalog().Create(ctx, model.CatalogService{
		ID:           uuid.New(),
		ServiceID:    "web-starter",
		Name:         "Web Starter",
		Image:        "registry.meridian.cloud/web:1.4.2",
		Port:         8000,
		MinInstances: 1,
		MaxInstances: 3,
	})
	Expect(err).NotTo(HaveOccurred())
}

// seedInstance writes a record directly, bypassing the workflow.
func seedInstance(ctx context.Context, dataStore store.Store, name string, status model.InstanceStatus) *model.ServiceInstance {
	inst, err := dataStore.Instance().Create(ctx, model.ServiceInstance{
		ID:                 uuid.New(),
		TenantID:           "acme",
		ServiceID:          "web-starter",
		InstanceName:       name,
		Environment:        "production",
		Region:             "eu-central",
		ProviderType:       "docker",
		Status:             status,
		HealthStatus:       model.HealthStatusUnknown,
		AllocatedCPUCores:  1,
		AllocatedMemoryGB:  2,
		AllocatedStorageGB: 5,
		AutoScalingEnabled: true,
		MinInstances:       1,
		MaxInstances:       5,
		CurrentInstances:   2,
		PublicURL:          fmt.Sprintf("https://%s.acme.meridian.cloud", name),
	})
	Expect(err).NotTo(HaveOccurred())
	return inst
}
