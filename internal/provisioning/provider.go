package provisioning

import "context"

// Provider is the capability contract between the orchestrator and a backend.
// The orchestrator calls the first five operations in workflow order, each at
// most once per run; CleanupOnFailure tears down whatever the earlier steps
// created and must tolerate partially-created resources.
type Provider interface {
	// ValidatePrerequisites checks that the backend is reachable and the
	// request can be satisfied (tooling present, image configured).
	ValidatePrerequisites(ctx context.Context) error

	// ProvisionInfrastructure creates the surrounding resources (network,
	// storage, namespace) with deterministic names, reusing ones that
	// already exist.
	ProvisionInfrastructure(ctx context.Context) (Infrastructure, error)

	// DeployApplication starts the workload inside the prepared
	// infrastructure.
	DeployApplication(ctx context.Context, infra Infrastructure) (Deployment, error)

	// ConfigureService derives the instance's endpoints and credentials
	// from the running deployment.
	ConfigureService(ctx context.Context, deployment Deployment) (*Endpoints, error)

	// VerifyDeployment confirms the instance actually serves.
	VerifyDeployment(ctx context.Context, endpoints *Endpoints) error

	// CleanupOnFailure removes the backend resources of this instance.
	// Also used for deprovisioning.
	CleanupOnFailure(ctx context.Context) error
}

// StatsSource is an optional provider capability: backends that can report
// operational metrics implement it and the metrics collector picks it up by
// type assertion.
type StatsSource interface {
	SampleStats(ctx context.Context) (*Stats, error)
}
