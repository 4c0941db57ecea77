// Package kubernetes provisions service instances onto a cluster through the
// kubectl CLI: one namespace per tenant, one deployment/service/ingress per
// instance.
package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

const (
	namespacePrefix = "meridian"
	defaultPort     = 8000
)

type Options struct {
	Runner     provisioning.Runner
	BaseDomain string
	// VerifyTimeout bounds the ready-replica poll; VerifyInterval is the
	// pause between polls.
	VerifyTimeout  time.Duration
	VerifyInterval time.Duration
	Logger         *zap.Logger
}

type Provider struct {
	cfg            provisioning.Config
	catalog        *model.CatalogService
	runner         provisioning.Runner
	baseDomain     string
	verifyTimeout  time.Duration
	verifyInterval time.Duration
	logger         *zap.Logger
}

var (
	_ provisioning.Provider    = (*Provider)(nil)
	_ provisioning.StatsSource = (*Provider)(nil)
)

func New(cfg provisioning.Config, catalog *model.CatalogService, opts Options) *Provider {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 2 * time.Minute
	}
	if opts.VerifyInterval <= 0 {
		opts.VerifyInterval = 5 * time.Second
	}
	return &Provider{
		cfg:            cfg,
		catalog:        catalog,
		runner:         opts.Runner,
		baseDomain:     opts.BaseDomain,
		verifyTimeout:  opts.VerifyTimeout,
		verifyInterval: opts.VerifyInterval,
		logger:         opts.Logger,
	}
}

func (p *Provider) namespace() string {
	return fmt.Sprintf("%s-%s", namespacePrefix, p.cfg.TenantID)
}

func (p *Provider) deploymentName() string { return p.cfg.InstanceName + "-deployment" }
func (p *Provider) serviceName() string    { return p.cfg.InstanceName + "-service" }
func (p *Provider) ingressName() string    { return p.cfg.InstanceName + "-ingress" }

func (p *Provider) publicHost() string {
	return fmt.Sprintf("%s.%s.%s", p.cfg.InstanceName, p.cfg.TenantID, p.baseDomain)
}

func (p *Provider) port() int {
	if p.catalog.Port > 0 {
		return p.catalog.Port
	}
	return defaultPort
}

func (p *Provider) ValidatePrerequisites(ctx context.Context) error {
	if _, err := p.runner.Run(ctx, "kubectl", "version", "--client"); err != nil {
		return &provisioning.ValidationError{Reason: fmt.Sprintf("kubectl not available: %v", err)}
	}
	if p.catalog.Image == "" {
		return &provisioning.ValidationError{Reason: fmt.Sprintf("service %s has no container image configured", p.cfg.ServiceID)}
	}
	return nil
}

// ProvisionInfrastructure ensures the tenant namespace exists. Apply is
// idempotent, so an existing namespace is simply reused.
func (p *Provider) ProvisionInfrastructure(ctx context.Context) (provisioning.Infrastructure, error) {
	if err := p.apply(ctx, p.namespaceManifest()); err != nil {
		return nil, fmt.Errorf("ensuring namespace %s: %w", p.namespace(), err)
	}
	return provisioning.Infrastructure{"namespace": p.namespace()}, nil
}

func (p *Provider) DeployApplication(ctx context.Context, infra provisioning.Infrastructure) (provisioning.Deployment, error) {
	if err := p.apply(ctx, p.deploymentManifest()); err != nil {
		return nil, fmt.Errorf("applying deployment %s: %w", p.deploymentName(), err)
	}
	if err := p.apply(ctx, p.serviceManifest()); err != nil {
		return nil, fmt.Errorf("applying service %s: %w", p.serviceName(), err)
	}
	return provisioning.Deployment{
		"namespace":  infra["namespace"],
		"deployment": p.deploymentName(),
		"service":    p.serviceName(),
	}, nil
}

func (p *Provider) ConfigureService(ctx context.Context, deployment provisioning.Deployment) (*provisioning.Endpoints, error) {
	if err := p.apply(ctx, p.ingressManifest()); err != nil {
		return nil, fmt.Errorf("applying ingress %s: %w", p.ingressName(), err)
	}
	accessKey, err := provisioning.NewAccessKey()
	if err != nil {
		return nil, err
	}
	publicURL := "https://" + p.publicHost()
	return &provisioning.Endpoints{
		InternalURL: fmt.Sprintf("http://%s.%s.svc.cluster.local", p.serviceName(), p.namespace()),
		PublicURL:   publicURL,
		AdminURL:    publicURL + "/admin",
		AccessKey:   accessKey,
	}, nil
}

// VerifyDeployment polls the workload until at least one replica reports
// ready, bounded by the verify timeout.
func (p *Provider) VerifyDeployment(ctx context.Context, _ *provisioning.Endpoints) error {
	deadline := time.Now().Add(p.verifyTimeout)
	for {
		ready, err := p.readyReplicas(ctx)
		if err == nil && ready > 0 {
			return nil
		}
		if err != nil {
			p.logger.Debug("deployment not ready yet", zap.String("deployment", p.deploymentName()), zap.Error(err))
		}

		if time.Now().After(deadline) {
			if err != nil {
				return &provisioning.VerificationError{Reason: fmt.Sprintf("deployment %s never became ready", p.deploymentName()), Err: err}
			}
			return &provisioning.VerificationError{Reason: fmt.Sprintf("deployment %s has no ready replicas", p.deploymentName())}
		}
		select {
		case <-ctx.Done():
			return &provisioning.VerificationError{Reason: "verification cancelled", Err: ctx.Err()}
		case <-time.After(p.verifyInterval):
		}
	}
}

func (p *Provider) readyReplicas(ctx context.Context) (int, error) {
	out, err := p.runner.Run(ctx, "kubectl", "get", "deployment", p.deploymentName(), "-n", p.namespace(), "-o", "json")
	if err != nil {
		return 0, err
	}
	var deployment struct {
		Status struct {
			ReadyReplicas int `json:"readyReplicas"`
		} `json:"status"`
	}
	if err := json.Unmarshal([]byte(out), &deployment); err != nil {
		return 0, fmt.Errorf("decoding deployment status: %w", err)
	}
	return deployment.Status.ReadyReplicas, nil
}

// CleanupOnFailure deletes the tenant namespace, cascading over everything
// the workflow created in it.
func (p *Provider) CleanupOnFailure(ctx context.Context) error {
	if _, err := p.runner.Run(ctx, "kubectl", "delete", "namespace", p.namespace(), "--ignore-not-found=true"); err != nil {
		return fmt.Errorf("deleting namespace %s: %w", p.namespace(), err)
	}
	return nil
}

// SampleStats averages kubectl top readings across the instance's pods and
// reports them relative to the allocated resources.
func (p *Provider) SampleStats(ctx context.Context) (*provisioning.Stats, error) {
	out, err := p.runner.Run(ctx, "kubectl", "top", "pod", "-n", p.namespace(), "-l", "app="+p.cfg.InstanceName, "--no-headers")
	if err != nil {
		return nil, fmt.Errorf("sampling pod stats: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var (
		cores float64
		gib   float64
		pods  int
	)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		c, err := parseCPUQuantity(fields[1])
		if err != nil {
			return nil, err
		}
		m, err := parseMemoryQuantity(fields[2])
		if err != nil {
			return nil, err
		}
		cores += c
		gib += m
		pods++
	}
	if pods == 0 {
		return nil, fmt.Errorf("no pods reported for %s", p.cfg.InstanceName)
	}

	allocCPU := p.cfg.Resources.CPUCores
	if allocCPU <= 0 {
		allocCPU = 0.5
	}
	allocMem := p.cfg.Resources.MemoryGB
	if allocMem <= 0 {
		allocMem = 0.5
	}
	return &provisioning.Stats{
		CPUPercent:    cores / float64(pods) / allocCPU * 100,
		MemoryPercent: gib / float64(pods) / allocMem * 100,
	}, nil
}

func parseCPUQuantity(s string) (float64, error) {
	if strings.HasSuffix(s, "m") {
		milli, err := strconv.ParseFloat(strings.TrimSuffix(s, "m"), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing cpu quantity %q: %w", s, err)
		}
		return milli / 1000, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing cpu quantity %q: %w", s, err)
	}
	return v, nil
}

func parseMemoryQuantity(s string) (float64, error) {
	switch {
	case strings.HasSuffix(s, "Gi"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "Gi"), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing memory quantity %q: %w", s, err)
		}
		return v, nil
	case strings.HasSuffix(s, "Mi"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "Mi"), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing memory quantity %q: %w", s, err)
		}
		return v / 1024, nil
	case strings.HasSuffix(s, "Ki"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "Ki"), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing memory quantity %q: %w", s, err)
		}
		return v / (1024 * 1024), nil
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing memory quantity %q: %w", s, err)
		}
		return v / (1024 * 1024 * 1024), nil
	}
}

func (p *Provider) apply(ctx context.Context, manifest map[string]any) error {
	rendered, err := renderManifest(manifest)
	if err != nil {
		return err
	}
	if _, err := p.runner.RunInput(ctx, rendered, "kubectl", "apply", "-f", "-"); err != nil {
		return err
	}
	return nil
}
