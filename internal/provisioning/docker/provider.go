// Package docker provisions service instances as containers on a host's
// container engine, driven entirely through the docker CLI.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

const (
	resourcePrefix = "meridian"
	defaultPort    = 8000
	storageMount   = "/data"
)

type Options struct {
	Runner     provisioning.Runner
	BaseDomain string
	// ProbeTimeout bounds the optional single verification probe.
	ProbeTimeout time.Duration
	Logger       *zap.Logger
}

type Provider struct {
	cfg        provisioning.Config
	catalog    *model.CatalogService
	runner     provisioning.Runner
	baseDomain string
	probe      *resty.Client
	logger     *zap.Logger
}

var (
	_ provisioning.Provider    = (*Provider)(nil)
	_ provisioning.StatsSource = (*Provider)(nil)
)

func New(cfg provisioning.Config, catalog *model.CatalogService, opts Options) *Provider {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	return &Provider{
		cfg:        cfg,
		catalog:    catalog,
		runner:     opts.Runner,
		baseDomain: opts.BaseDomain,
		probe:      resty.New().SetTimeout(opts.ProbeTimeout),
		logger:     opts.Logger,
	}
}

func (p *Provider) containerName() string {
	return fmt.Sprintf("%s_%s_%s", resourcePrefix, p.cfg.TenantID, p.cfg.InstanceName)
}

func (p *Provider) networkName() string {
	return p.containerName()
}

func (p *Provider) volumeName() string {
	return fmt.Sprintf("%s_storage_%s_%s", resourcePrefix, p.cfg.TenantID, p.cfg.InstanceName)
}

func (p *Provider) port() int {
	if p.catalog.Port > 0 {
		return p.catalog.Port
	}
	return defaultPort
}

func (p *Provider) ValidatePrerequisites(ctx context.Context) error {
	if _, err := p.runner.Run(ctx, "docker", "version", "--format", "{{.Server.Version}}"); err != nil {
		return &provisioning.ValidationError{Reason: fmt.Sprintf("container engine not reachable: %v", err)}
	}
	if p.catalog.Image == "" {
		return &provisioning.ValidationError{Reason: fmt.Sprintf("service %s has no container image configured", p.cfg.ServiceID)}
	}
	return nil
}

// ProvisionInfrastructure creates the instance's dedicated network and, when
// the service needs file storage, its volume. Existing resources with the
// deterministic names are reused.
func (p *Provider) ProvisionInfrastructure(ctx context.Context) (provisioning.Infrastructure, error) {
	network := p.networkName()
	if _, err := p.runner.Run(ctx, "docker", "network", "create", network); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return nil, fmt.Errorf("creating network %s: %w", network, err)
		}
		p.logger.Debug("reusing existing network", zap.String("network", network))
	}

	infra := provisioning.Infrastructure{"network": network}
	if p.catalog.RequiresFileStorage {
		volume := p.volumeName()
		if _, err := p.runner.Run(ctx, "docker", "volume", "create", volume); err != nil {
			return nil, fmt.Errorf("creating volume %s: %w", volume, err)
		}
		infra["volume"] = volume
	}
	return infra, nil
}

func (p *Provider) DeployApplication(ctx context.Context, infra provisioning.Infrastructure) (provisioning.Deployment, error) {
	name := p.containerName()
	args := p.runArgs(infra)

	containerID, err := p.runner.Run(ctx, "docker", args...)
	if err != nil {
		if !strings.Contains(err.Error(), "already in use") {
			return nil, fmt.Errorf("starting container %s: %w", name, err)
		}
		// A stale container holds the deterministic name; replace it.
		if _, rmErr := p.runner.Run(ctx, "docker", "rm", "-f", name); rmErr != nil {
			return nil, fmt.Errorf("removing stale container %s: %w", name, rmErr)
		}
		containerID, err = p.runner.Run(ctx, "docker", args...)
		if err != nil {
			return nil, fmt.Errorf("starting container %s: %w", name, err)
		}
	}

	ip, err := p.containerIP(ctx, containerID, infra["network"])
	if err != nil {
		return nil, err
	}
	return provisioning.Deployment{
		"container_id":   containerID,
		"container_name": name,
		"ip_address":     ip,
	}, nil
}

func (p *Provider) runArgs(infra provisioning.Infrastructure) []string {
	args := []string{
		"run", "-d",
		"--name", p.containerName(),
		"--network", infra["network"],
		"--restart", "unless-stopped",
	}
	for _, kv := range p.environment() {
		args = append(args, "-e", kv)
	}
	if volume, ok := infra["volume"]; ok {
		args = append(args, "-v", volume+":"+storageMount)
	}
	if p.cfg.Resources.CPUCores > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(p.cfg.Resources.CPUCores, 'f', -1, 64))
	}
	if p.cfg.Resources.MemoryGB > 0 {
		args = append(args, "--memory", strconv.FormatFloat(p.cfg.Resources.MemoryGB, 'f', -1, 64)+"g")
	}
	return append(args, p.catalog.Image)
}

// environment merges the identity variables, the catalog's service variables
// and any per-instance overrides, sorted for stable argv.
func (p *Provider) environment() []string {
	env := map[string]string{
		"TENANT_ID":     p.cfg.TenantID,
		"SERVICE_ID":    p.cfg.ServiceID,
		"INSTANCE_NAME": p.cfg.InstanceName,
	}
	for k, v := range p.catalog.EnvironmentVariables {
		env[k] = v
	}
	if overrides, ok := p.cfg.CustomConfig["environment"].(map[string]any); ok {
		for k, v := range overrides {
			env[k] = fmt.Sprint(v)
		}
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}

func (p *Provider) containerIP(ctx context.Context, containerID, network string) (string, error) {
	out, err := p.runner.Run(ctx, "docker", "inspect", containerID)
	if err != nil {
		return "", fmt.Errorf("inspecting container %s: %w", containerID, err)
	}
	var inspected []struct {
		NetworkSettings struct {
			Networks map[string]struct {
				IPAddress string `json:"IPAddress"`
			} `json:"Networks"`
		} `json:"NetworkSettings"`
	}
	if err := json.Unmarshal([]byte(out), &inspected); err != nil {
		return "", fmt.Errorf("decoding inspect output for %s: %w", containerID, err)
	}
	if len(inspected) == 0 {
		return "", fmt.Errorf("container %s not found by inspect", containerID)
	}
	net, ok := inspected[0].NetworkSettings.Networks[network]
	if !ok || net.IPAddress == "" {
		return "", fmt.Errorf("container %s has no address on network %s", containerID, network)
	}
	return net.IPAddress, nil
}

func (p *Provider) ConfigureService(ctx context.Context, deployment provisioning.Deployment) (*provisioning.Endpoints, error) {
	ip := deployment["ip_address"]
	if ip == "" {
		return nil, fmt.Errorf("deployment handle has no ip_address")
	}
	accessKey, err := provisioning.NewAccessKey()
	if err != nil {
		return nil, err
	}
	publicURL := fmt.Sprintf("https://%s.%s.%s", p.cfg.InstanceName, p.cfg.TenantID, p.baseDomain)
	return &provisioning.Endpoints{
		InternalURL: fmt.Sprintf("http://%s:%d", ip, p.port()),
		PublicURL:   publicURL,
		AdminURL:    publicURL + "/admin",
		AccessKey:   accessKey,
	}, nil
}

// VerifyDeployment confirms the container is running. When the catalog names
// a health-check path it is probed once; the probe result is logged but only
// a stopped container fails verification.
func (p *Provider) VerifyDeployment(ctx context.Context, endpoints *provisioning.Endpoints) error {
	name := p.containerName()
	out, err := p.runner.Run(ctx, "docker", "ps", "-q", "-f", "name="+name)
	if err != nil {
		return &provisioning.VerificationError{Reason: "could not list running containers", Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return &provisioning.VerificationError{Reason: fmt.Sprintf("container %s is not running", name)}
	}

	if p.catalog.HealthCheckPath != "" && endpoints != nil {
		url := endpoints.InternalURL + p.catalog.HealthCheckPath
		resp, err := p.probe.R().SetContext(ctx).Get(url)
		switch {
		case err != nil:
			p.logger.Debug("verification probe did not answer", zap.String("url", url), zap.Error(err))
		case resp.StatusCode() == 200:
			p.logger.Debug("verification probe healthy", zap.String("url", url))
		default:
			p.logger.Debug("verification probe returned non-200", zap.String("url", url), zap.Int("status", resp.StatusCode()))
		}
	}
	return nil
}

// CleanupOnFailure removes whatever exists of the instance's container,
// network and volume. Each removal is best-effort.
func (p *Provider) CleanupOnFailure(ctx context.Context) error {
	name := p.containerName()
	if _, err := p.runner.Run(ctx, "docker", "stop", name); err != nil {
		p.logger.Debug("container stop during cleanup", zap.String("container", name), zap.Error(err))
	}
	if _, err := p.runner.Run(ctx, "docker", "rm", name); err != nil {
		p.logger.Debug("container removal during cleanup", zap.String("container", name), zap.Error(err))
	}
	if _, err := p.runner.Run(ctx, "docker", "network", "rm", p.networkName()); err != nil {
		p.logger.Debug("network removal during cleanup", zap.String("network", p.networkName()), zap.Error(err))
	}
	if p.catalog.RequiresFileStorage {
		if _, err := p.runner.Run(ctx, "docker", "volume", "rm", p.volumeName()); err != nil {
			p.logger.Debug("volume removal during cleanup", zap.String("volume", p.volumeName()), zap.Error(err))
		}
	}
	return nil
}

// SampleStats reads one docker stats snapshot for the instance's container.
func (p *Provider) SampleStats(ctx context.Context) (*provisioning.Stats, error) {
	out, err := p.runner.Run(ctx, "docker", "stats", "--no-stream", "--format", "{{.CPUPerc}} {{.MemPerc}}", p.containerName())
	if err != nil {
		return nil, fmt.Errorf("sampling container stats: %w", err)
	}
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return nil, fmt.Errorf("unexpected stats output %q", out)
	}
	cpu, err := parsePercent(fields[0])
	if err != nil {
		return nil, err
	}
	mem, err := parsePercent(fields[1])
	if err != nil {
		return nil, err
	}
	return &provisioning.Stats{CPUPercent: cpu, MemoryPercent: mem}, nil
}

func parsePercent(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing percentage %q: %w", s, err)
	}
	return v, nil
}
