package docker_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/docker"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

func inspectJSON(network, ip string) string {
	return fmt.Sprintf(`[{"NetworkSettings":{"Networks":{%q:{"IPAddress":%q}}}}]`, network, ip)
}

var _ = Describe("Docker Provider", func() {
	var (
		ctx     context.Context
		runner  *provisioning.FakeRunner
		cfg     provisioning.Config
		catalog *model.CatalogService
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = &provisioning.FakeRunner{}
		cfg = provisioning.Config{
			TenantID:     "T1",
			ServiceID:    "S1",
			InstanceName: "web1",
			Environment:  "production",
			Region:       "us-east-1",
			ProviderType: "docker",
			Resources: provisioning.ResourceAllocation{
				CPUCores: 1.5,
				MemoryGB: 2,
			},
		}
		catalog = &model.CatalogService{
			ServiceID: "S1",
			Name:      "Web App",
			Image:     "registry.meridian.cloud/web:1.4.2",
			Port:      8000,
		}
	})

	newProvider := func() *docker.Provider {
		return docker.New(cfg, catalog, docker.Options{
			Runner:     runner,
			BaseDomain: "meridian.cloud",
			Logger:     zap.NewNop(),
		})
	}

	Describe("ValidatePrerequisites", func() {
		It("passes when the engine answers and an image is configured", func() {
			Expect(newProvider().ValidatePrerequisites(ctx)).To(Succeed())

			calls := runner.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Args).To(Equal([]string{"version", "--format", "{{.Server.Version}}"}))
		})

		It("fails with a validation error when the engine is unreachable", func() {
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				return "", errors.New("cannot connect to the docker daemon")
			}

			err := newProvider().ValidatePrerequisites(ctx)

			var validationErr *provisioning.ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())
		})

		It("fails with a validation error when the catalog has no image", func() {
			catalog.Image = ""

			err := newProvider().ValidatePrerequisites(ctx)

			var validationErr *provisioning.ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("no container image"))
		})
	})

	Describe("ProvisionInfrastructure", func() {
		It("creates the deterministic network", func() {
			infra, err := newProvider().ProvisionInfrastructure(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(infra["network"]).To(Equal("meridian_T1_web1"))
			Expect(runner.Calls()[0].Args).To(Equal([]string{"network", "create", "meridian_T1_web1"}))
		})

		It("reuses a network that already exists", func() {
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				if args[0] == "network" {
					return "", errors.New(`docker network create: Error response from daemon: network with name meridian_T1_web1 already exists`)
				}
				return "", nil
			}

			infra, err := newProvider().ProvisionInfrastructure(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(infra["network"]).To(Equal("meridian_T1_web1"))
		})

		It("creates the storage volume when the service requires it", func() {
			catalog.RequiresFileStorage = true

			infra, err := newProvider().ProvisionInfrastructure(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(infra["volume"]).To(Equal("meridian_storage_T1_web1"))
			calls := runner.Calls()
			Expect(calls[1].Args).To(Equal([]string{"volume", "create", "meridian_storage_T1_web1"}))
		})
	})

	Describe("DeployApplication", func() {
		infra := provisioning.Infrastructure{"network": "meridian_T1_web1"}

		BeforeEach(func() {
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				switch args[0] {
				case "run":
					return "abc123def456", nil
				case "inspect":
					return inspectJSON("meridian_T1_web1", "172.18.0.2"), nil
				}
				return "", nil
			}
		})

		It("starts the container with identity env, limits and restart policy", func() {
			deployment, err := newProvider().DeployApplication(ctx, infra)

			Expect(err).NotTo(HaveOccurred())
			Expect(deployment["container_id"]).To(Equal("abc123def456"))
			Expect(deployment["container_name"]).To(Equal("meridian_T1_web1"))
			Expect(deployment["ip_address"]).To(Equal("172.18.0.2"))

			runArgs := runner.Calls()[0].Args
			Expect(runArgs).To(Equal([]string{
				"run", "-d",
				"--name", "meridian_T1_web1",
				"--network", "meridian_T1_web1",
				"--restart", "unless-stopped",
				"-e", "INSTANCE_NAME=web1",
				"-e", "SERVICE_ID=S1",
				"-e", "TENANT_ID=T1",
				"--cpus", "1.5",
				"--memory", "2g",
				"registry.meridian.cloud/web:1.4.2",
			}))
		})

		It("merges catalog and per-instance environment variables sorted", func() {
			catalog.EnvironmentVariables = map[string]string{"LOG_LEVEL": "info"}
			cfg.CustomConfig = map[string]any{
				"environment": map[string]any{"FEATURE_FLAG": "on"},
			}

			_, err := newProvider().DeployApplication(ctx, infra)
			Expect(err).NotTo(HaveOccurred())

			runArgs := strings.Join(runner.Calls()[0].Args, " ")
			Expect(runArgs).To(ContainSubstring("-e FEATURE_FLAG=on -e INSTANCE_NAME=web1 -e LOG_LEVEL=info"))
		})

		It("mounts the volume when infrastructure carries one", func() {
			withVolume := provisioning.Infrastructure{
				"network": "meridian_T1_web1",
				"volume":  "meridian_storage_T1_web1",
			}

			_, err := newProvider().DeployApplication(ctx, withVolume)
			Expect(err).NotTo(HaveOccurred())

			runArgs := strings.Join(runner.Calls()[0].Args, " ")
			Expect(runArgs).To(ContainSubstring("-v meridian_storage_T1_web1:/data"))
		})

		It("replaces a stale container holding the deterministic name", func() {
			attempts := 0
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				switch args[0] {
				case "run":
					attempts++
					if attempts == 1 {
						return "", errors.New(`Conflict. The container name "/meridian_T1_web1" is already in use`)
					}
					return "fresh999", nil
				case "rm":
					return "", nil
				case "inspect":
					return inspectJSON("meridian_T1_web1", "172.18.0.3"), nil
				}
				return "", nil
			}

			deployment, err := newProvider().DeployApplication(ctx, infra)

			Expect(err).NotTo(HaveOccurred())
			Expect(deployment["container_id"]).To(Equal("fresh999"))

			var sub [][]string
			for _, c := range runner.Calls() {
				sub = append(sub, c.Args[:1])
			}
			Expect(sub).To(Equal([][]string{{"run"}, {"rm"}, {"run"}, {"inspect"}}))
		})

		It("fails when the container has no address on the network", func() {
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				if args[0] == "inspect" {
					return inspectJSON("other_network", "172.18.0.2"), nil
				}
				return "abc", nil
			}

			_, err := newProvider().DeployApplication(ctx, infra)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no address"))
		})
	})

	Describe("ConfigureService", func() {
		It("derives internal, public and admin URLs", func() {
			endpoints, err := newProvider().ConfigureService(ctx, provisioning.Deployment{
				"container_id": "abc",
				"ip_address":   "172.18.0.2",
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(endpoints.InternalURL).To(Equal("http://172.18.0.2:8000"))
			Expect(endpoints.PublicURL).To(Equal("https://web1.T1.meridian.cloud"))
			Expect(endpoints.AdminURL).To(Equal("https://web1.T1.meridian.cloud/admin"))
			Expect(endpoints.AccessKey).NotTo(BeEmpty())
		})

		It("defaults the port when the catalog leaves it unset", func() {
			catalog.Port = 0

			endpoints, err := newProvider().ConfigureService(ctx, provisioning.Deployment{"ip_address": "10.0.0.9"})

			Expect(err).NotTo(HaveOccurred())
			Expect(endpoints.InternalURL).To(Equal("http://10.0.0.9:8000"))
		})
	})

	Describe("VerifyDeployment", func() {
		It("passes when the container is listed as running", func() {
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				return "abc123", nil
			}

			Expect(newProvider().VerifyDeployment(ctx, nil)).To(Succeed())
		})

		It("fails with a verification error when nothing is running", func() {
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				return "", nil
			}

			err := newProvider().VerifyDeployment(ctx, nil)

			var verificationErr *provisioning.VerificationError
			Expect(errors.As(err, &verificationErr)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("not running"))
		})

		It("probes the health path once without failing verification on a bad answer", func() {
			var probes int
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				probes++
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			catalog.HealthCheckPath = "/health"
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				return "abc123", nil
			}
			endpoints := &provisioning.Endpoints{InternalURL: server.URL}

			Expect(newProvider().VerifyDeployment(ctx, endpoints)).To(Succeed())
			Expect(probes).To(Equal(1))
		})
	})

	Describe("CleanupOnFailure", func() {
		It("attempts every removal even when earlier ones fail", func() {
			catalog.RequiresFileStorage = true
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				return "", errors.New("no such object")
			}

			Expect(newProvider().CleanupOnFailure(ctx)).To(Succeed())

			var sub []string
			for _, c := range runner.Calls() {
				sub = append(sub, strings.Join(c.Args[:2], " "))
			}
			Expect(sub).To(Equal([]string{
				"stop meridian_T1_web1",
				"rm meridian_T1_web1",
				"network rm",
				"volume rm",
			}))
		})
	})

	Describe("SampleStats", func() {
		It("parses the engine's percentage snapshot", func() {
			runner.RunFn = func(ctx context.Context, name string, args ...string) (string, error) {
				return "12.50% 30.10%", nil
			}

			stats, err := newProvider().SampleStats(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(stats.CPUPercent).To(BeNumerically("~", 12.5, 0.001))
			Expect(stats.MemoryPercent).To(BeNumerically("~", 30.1, 0.001))
		})
	})
})
