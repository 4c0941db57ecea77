package tasks_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridian-cloud/service-orchestrator/internal/config"
	"github.com/meridian-cloud/service-orchestrator/internal/monitor"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/factory"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
	"github.com/meridian-cloud/service-orchestrator/internal/tasks"
	"github.com/meridian-cloud/service-orchestrator/internal/webhook"
)

// dockerEngine scripts a healthy container engine for one instance: every
// command succeeds and inspect reports an address on the instance network.
func dockerEngine(tenant, instance string) func(context.Context, string, ...string) (string, error) {
	network := fmt.Sprintf("meridian_%s_%s", tenant, instance)
	return func(_ context.Context, _ string, args ...string) (string, error) {
		switch args[0] {
		case "run":
			return "c0ffee", nil
		case "inspect":
			return fmt.Sprintf(`[{"NetworkSettings":{"Networks":{%q:{"IPAddress":"172.18.0.5"}}}}]`, network), nil
		case "ps":
			return "c0ffee", nil
		case "stats":
			return "12.5% 30.0%", nil
		}
		return "", nil
	}
}

var _ = Describe("Runner", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		dataStore store.Store
		sink      *webhookSink
		fake      *provisioning.FakeRunner
		scheduler *monitor.Scheduler
		queue     *tasks.Queue
		runner    *tasks.Runner
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, dataStore = newTestDB()
		sink = newWebhookSink()
		dispatcher := newSinkDispatcher(sink)

		fake = &provisioning.FakeRunner{}
		providers := factory.New(dataStore, fake, factory.Settings{
			BaseDomain:     "meridian.cloud",
			VerifyTimeout:  100 * time.Millisecond,
			VerifyInterval: 5 * time.Millisecond,
		}, zap.NewNop())
		orchestrator := provisioning.NewOrchestrator(dataStore, zap.NewNop())

		monitorCfg := &config.MonitorConfig{
			HealthInterval:  50 * time.Millisecond,
			MetricsInterval: 50 * time.Millisecond,
			ProbeTimeout:    500 * time.Millisecond,
			CPUThreshold:    80,
			MemoryThreshold: 90,
		}
		checker := monitor.NewHealthChecker(dataStore, dispatcher, monitorCfg, zap.NewNop())
		collector := monitor.NewMetricsCollector(dataStore, monitor.NewProviderSampler(providers), dispatcher, monitorCfg, zap.NewNop())
		scheduler = monitor.NewScheduler(dataStore, checker, collector, monitorCfg, zap.NewNop())

		queue = tasks.NewQueue(2, 16, zap.NewNop())
		queue.Start()

		runner = tasks.NewRunner(queue, dataStore, orchestrator, providers, dispatcher, scheduler, checker, &config.ProvisionerConfig{
			MaxAttempts:          3,
			RetryBackoff:         time.Millisecond,
			HealthCheckDelay:     time.Millisecond,
			MonitoringSetupDelay: 5 * time.Millisecond,
		}, zap.NewNop())

		// No health check path on purpose: probes would point at the fake
		// engine's made-up addresses.
		_, err := dataStore.Catalog().Create(ctx, model.CatalogService{
			ID:        uuid.New(),
			ServiceID: "web-starter",
			Name:      "Web Starter",
			Image:     "registry.meridian.cloud/web:1.4.2",
			Port:      8000,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		queue.Stop()
		scheduler.Stop()
		sink.Close()
		closeDB(db)
	})

	newConfig := func(name string) provisioning.Config {
		return provisioning.Config{
			TenantID:     "acme",
			ServiceID:    "web-starter",
			InstanceName: name,
			Environment:  "production",
			Region:       "eu-central",
			ProviderType: "docker",
			Resources:    provisioning.ResourceAllocation{CPUCores: 1, MemoryGB: 2},
		}
	}

	getInstance := func(name string) *model.ServiceInstance {
		inst, err := dataStore.Instance().GetByIdentity(ctx, "acme", "web-starter", name)
		Expect(err).NotTo(HaveOccurred())
		return inst
	}

	instanceStatus := func(name string) func() model.InstanceStatus {
		return func() model.InstanceStatus {
			inst, err := dataStore.Instance().GetByIdentity(ctx, "acme", "web-starter", name)
			if err != nil {
				return ""
			}
			return inst.Status
		}
	}

	seedInstance := func(name, providerType string, status model.InstanceStatus) *model.ServiceInstance {
		inst, err := dataStore.Instance().Create(ctx, model.ServiceInstance{
			ID:           uuid.New(),
			TenantID:     "acme",
			ServiceID:    "web-starter",
			InstanceName: name,
			Environment:  "production",
			Region:       "eu-central",
			ProviderType: providerType,
			Status:       status,
			HealthStatus: model.HealthStatusUnknown,
		})
		Expect(err).NotTo(HaveOccurred())
		return inst
	}

	Describe("provisioning", func() {
		It("provisions an instance and announces the lifecycle", func() {
			fake.RunFn = dockerEngine("acme", "web1")

			Expect(runner.EnqueueProvision(newConfig("web1"))).To(Succeed())

			Eventually(instanceStatus("web1"), "2s", "10ms").Should(Equal(model.InstanceStatusActive))

			inst := getInstance("web1")
			Expect(inst.PublicURL).To(Equal("https://web1.acme.meridian.cloud"))
			Expect(inst.InternalURL).To(Equal("http://172.18.0.5:8000"))

			Eventually(func() int { return sink.CountOf(webhook.EventProvisioningCompleted) }, "2s", "10ms").Should(Equal(1))
			Expect(sink.CountOf(webhook.EventProvisioningStarted)).To(Equal(1))
			Expect(sink.CountOf(webhook.EventProvisioningFailed)).To(BeZero())
		})

		It("schedules the first health check after success", func() {
			fake.RunFn = dockerEngine("acme", "web2")

			Expect(runner.EnqueueProvision(newConfig("web2"))).To(Succeed())

			Eventually(func() bool {
				inst, err := dataStore.Instance().GetByIdentity(ctx, "acme", "web-starter", "web2")
				return err == nil && inst.LastHealthCheck != nil
			}, "2s", "10ms").Should(BeTrue())
		})

		It("registers monitoring when the request asks for it", func() {
			fake.RunFn = dockerEngine("acme", "web3")
			cfg := newConfig("web3")
			cfg.MonitoringEnabled = true

			Expect(runner.EnqueueProvision(cfg)).To(Succeed())

			Eventually(func() bool {
				inst, err := dataStore.Instance().GetByIdentity(ctx, "acme", "web-starter", "web3")
				return err == nil && scheduler.Registered(inst.ID)
			}, "2s", "10ms").Should(BeTrue())
		})

		It("leaves monitoring off when the request does not ask for it", func() {
			fake.RunFn = dockerEngine("acme", "web4")

			Expect(runner.EnqueueProvision(newConfig("web4"))).To(Succeed())

			Eventually(instanceStatus("web4"), "2s", "10ms").Should(Equal(model.InstanceStatusActive))
			inst := getInstance("web4")
			Consistently(func() bool { return scheduler.Registered(inst.ID) }, "100ms", "20ms").Should(BeFalse())
		})

		It("retries a failed workflow and succeeds on a later attempt", func() {
			var validations atomic.Int32
			engine := dockerEngine("acme", "web5")
			fake.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				if args[0] == "version" && validations.Add(1) == 1 {
					return "", errors.New("Cannot connect to the Docker daemon")
				}
				return engine(ctx, name, args...)
			}

			Expect(runner.EnqueueProvision(newConfig("web5"))).To(Succeed())

			Eventually(instanceStatus("web5"), "2s", "10ms").Should(Equal(model.InstanceStatusActive))
			Expect(countCalls(fake, "version")).To(Equal(2))

			inst := getInstance("web5")
			var retries int
			for _, entry := range inst.ProvisioningLogs {
				if strings.Contains(entry.Message, "retrying in") {
					retries++
				}
			}
			Expect(retries).To(Equal(1))

			Eventually(func() int { return sink.CountOf(webhook.EventProvisioningCompleted) }, "2s", "10ms").Should(Equal(1))
			Expect(sink.CountOf(webhook.EventProvisioningFailed)).To(BeZero())
		})

		It("raises a critical alert once attempts are exhausted", func() {
			fake.RunFn = func(_ context.Context, _ string, args ...string) (string, error) {
				if args[0] == "version" {
					return "", errors.New("Cannot connect to the Docker daemon")
				}
				return "", nil
			}

			Expect(runner.EnqueueProvision(newConfig("web6"))).To(Succeed())

			Eventually(func() int { return sink.CountOf(webhook.EventProvisioningFailed) }, "2s", "10ms").Should(Equal(1))

			inst := getInstance("web6")
			Expect(inst.Status).To(Equal(model.InstanceStatusFailed))
			Expect(countCalls(fake, "version")).To(Equal(3))

			alerts, err := dataStore.Alert().List(ctx, &store.AlertFilter{InstanceID: &inst.ID}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Severity).To(Equal(model.AlertSeverityCritical))
			Expect(alerts[0].AlertType).To(Equal(model.AlertTypeProvisioningFailure))
			Expect(alerts[0].Source).To(Equal("task-runner"))
			Expect(alerts[0].Message).To(ContainSubstring("after 3 attempts"))

			Expect(sink.CountOf(webhook.EventAlertTriggered)).To(Equal(1))
			Expect(sink.CountOf(webhook.EventProvisioningCompleted)).To(BeZero())

			var retries int
			for _, entry := range inst.ProvisioningLogs {
				if strings.Contains(entry.Message, "retrying in") {
					retries++
				}
			}
			Expect(retries).To(Equal(2))
		})

		It("treats configuration errors as permanent", func() {
			cfg := newConfig("web7")
			cfg.ProviderType = "vmware"

			Expect(runner.EnqueueProvision(cfg)).To(Succeed())

			Eventually(func() int { return sink.CountOf(webhook.EventProvisioningFailed) }, "2s", "10ms").Should(Equal(1))
			Expect(sink.CountOf(webhook.EventProvisioningStarted)).To(Equal(1))

			// No workflow ran: nothing reached the backend, no record exists.
			Expect(fake.Calls()).To(BeEmpty())
			_, err := dataStore.Instance().GetByIdentity(ctx, "acme", "web-starter", "web7")
			Expect(err).To(MatchError(store.ErrInstanceNotFound))
		})

		It("runs one workflow at a time per instance", func() {
			gate := make(chan struct{})
			var open sync.Once
			openGate := func() { open.Do(func() { close(gate) }) }
			defer openGate()

			engine := dockerEngine("acme", "web8")
			fake.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				if args[0] == "version" {
					<-gate
				}
				return engine(ctx, name, args...)
			}

			cfg := newConfig("web8")
			Expect(runner.EnqueueProvision(cfg)).To(Succeed())
			Expect(runner.EnqueueProvision(cfg)).To(Succeed())

			// One workflow reaches the engine and parks; the duplicate must
			// bounce off the lease instead of starting a second run.
			Eventually(func() int { return countCalls(fake, "version") }, "1s", "10ms").Should(Equal(1))
			Consistently(func() int { return countCalls(fake, "version") }, "150ms", "25ms").Should(Equal(1))

			openGate()
			Eventually(instanceStatus("web8"), "2s", "10ms").Should(Equal(model.InstanceStatusActive))
			Expect(countCalls(fake, "version")).To(Equal(1))
			Expect(sink.CountOf(webhook.EventProvisioningStarted)).To(Equal(1))
		})
	})

	Describe("deprovisioning", func() {
		It("tears the instance down and unregisters monitoring", func() {
			inst := seedInstance("web9", "docker", model.InstanceStatusActive)
			scheduler.Register(inst.ID)

			Expect(runner.EnqueueDeprovision(inst.ID)).To(Succeed())

			Eventually(func() model.InstanceStatus {
				got, err := dataStore.Instance().Get(ctx, inst.ID)
				if err != nil {
					return ""
				}
				return got.Status
			}, "2s", "10ms").Should(Equal(model.InstanceStatusDeprovisioned))

			Eventually(func() bool { return scheduler.Registered(inst.ID) }, "1s", "10ms").Should(BeFalse())
			Eventually(func() int { return sink.CountOf(webhook.EventDeprovisioned) }, "1s", "10ms").Should(Equal(1))

			got, err := dataStore.Instance().Get(ctx, inst.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.DeprovisionedAt).NotTo(BeNil())
			Expect(countCalls(fake, "stop")).To(Equal(1))
		})

		It("leaves the record deprovisioning when teardown fails", func() {
			inst := seedInstance("web10", "kubernetes", model.InstanceStatusActive)
			fake.RunFn = func(_ context.Context, _ string, args ...string) (string, error) {
				if args[0] == "delete" {
					return "", errors.New("connection refused")
				}
				return "", nil
			}

			Expect(runner.EnqueueDeprovision(inst.ID)).To(Succeed())

			Eventually(func() model.InstanceStatus {
				got, err := dataStore.Instance().Get(ctx, inst.ID)
				if err != nil {
					return ""
				}
				return got.Status
			}, "2s", "10ms").Should(Equal(model.InstanceStatusDeprovisioning))

			Consistently(func() int { return sink.CountOf(webhook.EventDeprovisioned) }, "100ms", "20ms").Should(BeZero())
		})
	})

	Describe("on-demand health checks", func() {
		It("runs the probe on the pool", func() {
			inst := seedInstance("web11", "docker", model.InstanceStatusActive)

			Expect(runner.EnqueueHealthCheck(inst.ID)).To(Succeed())

			Eventually(func() bool {
				got, err := dataStore.Instance().Get(ctx, inst.ID)
				return err == nil && got.LastHealthCheck != nil
			}, "1s", "10ms").Should(BeTrue())
		})
	})
})
