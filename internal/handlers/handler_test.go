package handlers_test

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/google/uuid"

	api "github.com/meridian-cloud/service-orchestrator/api/v1alpha1"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

var _ = Describe("Handler", func() {
	var (
		ctx context.Context
		f   *apiFixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newAPIFixture()
		f.seedCatalog(ctx)
	})

	AfterEach(func() {
		f.Stop()
	})

	Describe("GET /health", func() {
		It("returns ok", func() {
			rec := f.do(http.MethodGet, "/api/v1alpha1/health", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var health api.Health
			decodeJSON(rec, &health)
			Expect(health.Status).To(Equal("ok"))
		})
	})

	Describe("POST /instances/provision", func() {
		It("accepts a valid request with 202", func() {
			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/provision", api.ProvisionRequest{
				TenantID:     "acme",
				ServiceID:    "web-starter",
				InstanceName: "web1",
			})
			Expect(rec.Code).To(Equal(http.StatusAccepted))

			var ack api.ProvisionAck
			decodeJSON(rec, &ack)
			Expect(ack.Message).To(Equal("Service provisioning started"))
			Expect(ack.InstanceName).To(Equal("web1"))
		})

		It("rejects bodies that do not parse", func() {
			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/provision", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/problem+json"))
		})

		It("rejects missing fields with a problem document", func() {
			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/provision", api.ProvisionRequest{
				ServiceID:    "web-starter",
				InstanceName: "web1",
			})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))

			var problem api.Error
			decodeJSON(rec, &problem)
			Expect(problem.Type).To(Equal("validation-error"))
			Expect(problem.Status).To(Equal(http.StatusBadRequest))
			Expect(problem.Detail).To(ContainSubstring("tenant_id"))
		})

		It("reports duplicate names with 409", func() {
			f.seedInstance(ctx, "web1", model.InstanceStatusActive)

			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/provision", api.ProvisionRequest{
				TenantID:     "acme",
				ServiceID:    "web-starter",
				InstanceName: "web1",
			})
			Expect(rec.Code).To(Equal(http.StatusConflict))

			var problem api.Error
			decodeJSON(rec, &problem)
			Expect(problem.Type).To(Equal("conflict"))
		})
	})

	Describe("GET /instances", func() {
		It("lists and filters", func() {
			f.seedInstance(ctx, "web1", model.InstanceStatusActive)
			f.seedInstance(ctx, "web2", model.InstanceStatusSuspended)

			rec := f.do(http.MethodGet, "/api/v1alpha1/instances", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var list api.InstanceList
			decodeJSON(rec, &list)
			Expect(list.Total).To(Equal(2))

			rec = f.do(http.MethodGet, "/api/v1alpha1/instances?status=suspended", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			decodeJSON(rec, &list)
			Expect(list.Total).To(Equal(1))
			Expect(list.Items[0].InstanceName).To(Equal("web2"))
		})
	})

	Describe("GET /instances/{id}", func() {
		It("returns the record", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)

			rec := f.do(http.MethodGet, "/api/v1alpha1/instances/"+seeded.ID.String(), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var inst api.Instance
			decodeJSON(rec, &inst)
			Expect(inst.ID).To(Equal(seeded.ID.String()))
			Expect(inst.InstanceName).To(Equal("web1"))
		})

		It("rejects malformed IDs with 400", func() {
			rec := f.do(http.MethodGet, "/api/v1alpha1/instances/not-a-uuid", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for unknown instances", func() {
			rec := f.do(http.MethodGet, "/api/v1alpha1/instances/"+uuid.NewString(), nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			var problem api.Error
			decodeJSON(rec, &problem)
			Expect(problem.Type).To(Equal("not-found"))
		})
	})

	Describe("POST /instances/{id}/deprovision", func() {
		It("accepts teardown with 202", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)

			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/"+seeded.ID.String()+"/deprovision", nil)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
		})

		It("refuses an already deprovisioned instance", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusDeprovisioned)

			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/"+seeded.ID.String()+"/deprovision", nil)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("POST /instances/{id}/actions", func() {
		It("suspends and resumes", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)
			path := "/api/v1alpha1/instances/" + seeded.ID.String() + "/actions"

			rec := f.do(http.MethodPost, path, api.ActionRequest{Action: "suspend", Reason: "billing hold"})
			Expect(rec.Code).To(Equal(http.StatusOK))
			var inst api.Instance
			decodeJSON(rec, &inst)
			Expect(inst.Status).To(Equal("suspended"))
			Expect(inst.SuspendedAt).NotTo(BeNil())

			rec = f.do(http.MethodPost, path, api.ActionRequest{Action: "resume"})
			Expect(rec.Code).To(Equal(http.StatusOK))
			inst = api.Instance{}
			decodeJSON(rec, &inst)
			Expect(inst.Status).To(Equal("active"))
			Expect(inst.SuspendedAt).To(BeNil())
		})

		It("rejects unknown actions", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)

			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/"+seeded.ID.String()+"/actions",
				api.ActionRequest{Action: "reboot"})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))

			var problem api.Error
			decodeJSON(rec, &problem)
			Expect(problem.Detail).To(ContainSubstring("suspend, resume"))
		})
	})

	Describe("POST /instances/{id}/scale", func() {
		It("clamps the target into the configured bounds", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)

			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/"+seeded.ID.String()+"/scale",
				api.ScaleRequest{TargetInstances: 50, Reason: "load test"})
			Expect(rec.Code).To(Equal(http.StatusOK))

			var inst api.Instance
			decodeJSON(rec, &inst)
			Expect(inst.CurrentInstances).To(Equal(5))
		})
	})

	Describe("POST /instances/{id}/health-check", func() {
		It("schedules a probe with 202", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)

			rec := f.do(http.MethodPost, "/api/v1alpha1/instances/"+seeded.ID.String()+"/health-check", nil)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
		})
	})

	Describe("GET /instances/{id}/metrics", func() {
		It("returns samples in the requested window", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)
			_, err := f.store.Metric().Create(ctx, model.Metric{
				ID:         uuid.New(),
				InstanceID: seeded.ID,
				MetricType: model.MetricTypeCPUUsage,
				Value:      37.5,
				Unit:       "percent",
				Timestamp:  time.Now().UTC().Add(-time.Hour),
			})
			Expect(err).NotTo(HaveOccurred())

			rec := f.do(http.MethodGet, "/api/v1alpha1/instances/"+seeded.ID.String()+"/metrics?hours=6", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var list api.MetricList
			decodeJSON(rec, &list)
			Expect(list.Total).To(Equal(1))
			Expect(list.Items[0].Value).To(Equal(37.5))
		})

		It("rejects a non-numeric window", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)

			rec := f.do(http.MethodGet, "/api/v1alpha1/instances/"+seeded.ID.String()+"/metrics?hours=soon", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /instances/{id}/logs", func() {
		It("returns the provisioning log", func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)
			seeded.ProvisioningLogs = []model.LogEntry{
				{Timestamp: time.Now().UTC(), Level: "info", Message: "Starting provisioning workflow"},
			}
			_, err := f.store.Instance().Update(ctx, seeded)
			Expect(err).NotTo(HaveOccurred())

			rec := f.do(http.MethodGet, "/api/v1alpha1/instances/"+seeded.ID.String()+"/logs", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var list api.LogList
			decodeJSON(rec, &list)
			Expect(list.Total).To(Equal(1))
			Expect(list.Items[0].Message).To(Equal("Starting provisioning workflow"))
		})
	})

	Describe("alert routes", func() {
		var instanceID, alertID string

		BeforeEach(func() {
			seeded := f.seedInstance(ctx, "web1", model.InstanceStatusActive)
			instanceID = seeded.ID.String()
			alert, err := f.store.Alert().Create(ctx, model.Alert{
				ID:           uuid.New(),
				InstanceID:   seeded.ID,
				Title:        "High CPU usage",
				Severity:     model.AlertSeverityWarning,
				Status:       model.AlertStatusActive,
				AlertType:    model.AlertTypeHighCPU,
				Source:       "monitor",
				LastOccurred: time.Now().UTC(),
			})
			Expect(err).NotTo(HaveOccurred())
			alertID = alert.ID.String()
		})

		It("lists alerts for an instance", func() {
			rec := f.do(http.MethodGet, "/api/v1alpha1/instances/"+instanceID+"/alerts", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var alerts api.AlertList
			decodeJSON(rec, &alerts)
			Expect(alerts.Total).To(Equal(1))
			Expect(alerts.Items[0].Title).To(Equal("High CPU usage"))
		})

		It("acknowledges and resolves", func() {
			rec := f.do(http.MethodPost, "/api/v1alpha1/alerts/"+alertID+"/acknowledge",
				api.AcknowledgeRequest{AcknowledgedBy: "ops@meridian.cloud"})
			Expect(rec.Code).To(Equal(http.StatusOK))

			var alert api.Alert
			decodeJSON(rec, &alert)
			Expect(alert.Status).To(Equal("acknowledged"))
			Expect(alert.AcknowledgedBy).To(Equal("ops@meridian.cloud"))

			rec = f.do(http.MethodPost, "/api/v1alpha1/alerts/"+alertID+"/resolve", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			decodeJSON(rec, &alert)
			Expect(alert.Status).To(Equal("resolved"))
		})

		It("requires an acknowledger", func() {
			rec := f.do(http.MethodPost, "/api/v1alpha1/alerts/"+alertID+"/acknowledge",
				api.AcknowledgeRequest{})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("summarises alert counts", func() {
			rec := f.do(http.MethodGet, "/api/v1alpha1/alerts/summary", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var summary api.AlertSummary
			decodeJSON(rec, &summary)
			Expect(summary.ByStatus).To(HaveKeyWithValue("active", int64(1)))
			Expect(summary.ActiveBySeverity).To(HaveKeyWithValue("warning", int64(1)))
		})
	})
})
