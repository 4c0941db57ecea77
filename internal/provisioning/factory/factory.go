// Package factory resolves provider keys to configured backend providers.
package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/docker"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/kubernetes"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/store/model"
)

// Known provider keys.
const (
	ProviderDocker     = "docker"
	ProviderKubernetes = "kubernetes"
)

type Settings struct {
	BaseDomain     string
	ProbeTimeout   time.Duration
	VerifyTimeout  time.Duration
	VerifyInterval time.Duration
}

type builderFunc func(f *Factory, cfg provisioning.Config, catalog *model.CatalogService) provisioning.Provider

// Factory builds providers from the static registry of known backends. New
// backends register here.
type Factory struct {
	store    store.Store
	runner   provisioning.Runner
	settings Settings
	logger   *zap.Logger
	builders map[string]builderFunc
}

func New(store store.Store, runner provisioning.Runner, settings Settings, logger *zap.Logger) *Factory {
	return &Factory{
		store:    store,
		runner:   runner,
		settings: settings,
		logger:   logger,
		builders: map[string]builderFunc{
			ProviderDocker:     buildDocker,
			ProviderKubernetes: buildKubernetes,
		},
	}
}

// Supports reports whether the provider key is registered.
func (f *Factory) Supports(providerType string) bool {
	_, ok := f.builders[providerType]
	return ok
}

// Provider resolves cfg.ProviderType and binds the provider to the workflow
// config and the service's catalog record. Unknown keys and unknown services
// are configuration errors, which callers treat as permanent.
func (f *Factory) Provider(ctx context.Context, cfg provisioning.Config) (provisioning.Provider, error) {
	build, ok := f.builders[cfg.ProviderType]
	if !ok {
		return nil, &provisioning.ConfigurationError{Reason: fmt.Sprintf("unknown provider type %q", cfg.ProviderType)}
	}
	catalog, err := f.store.Catalog().GetByServiceID(ctx, cfg.ServiceID)
	if err != nil {
		if errors.Is(err, store.ErrCatalogServiceNotFound) {
			return nil, &provisioning.ConfigurationError{Reason: fmt.Sprintf("service %s is not in the catalog", cfg.ServiceID)}
		}
		return nil, err
	}
	return build(f, cfg, catalog), nil
}

func buildDocker(f *Factory, cfg provisioning.Config, catalog *model.CatalogService) provisioning.Provider {
	return docker.New(cfg, catalog, docker.Options{
		Runner:       f.runner,
		BaseDomain:   f.settings.BaseDomain,
		ProbeTimeout: f.settings.ProbeTimeout,
		Logger:       f.logger,
	})
}

func buildKubernetes(f *Factory, cfg provisioning.Config, catalog *model.CatalogService) provisioning.Provider {
	return kubernetes.New(cfg, catalog, kubernetes.Options{
		Runner:         f.runner,
		BaseDomain:     f.settings.BaseDomain,
		VerifyTimeout:  f.settings.VerifyTimeout,
		VerifyInterval: f.settings.VerifyInterval,
		Logger:         f.logger,
	})
}
