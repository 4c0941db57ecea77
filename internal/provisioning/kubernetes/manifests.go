package kubernetes

import (
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Manifests are built as plain maps and rendered to YAML for kubectl; the
// cluster's API machinery is never linked in.

func (p *Provider) namespaceManifest() map[string]any {
	return map[string]any{
		"apiVersion": "v1",
		"kind":       "Namespace",
		"metadata": map[string]any{
			"name": p.namespace(),
			"labels": map[string]any{
				"tenant":     p.cfg.TenantID,
				"managed-by": "meridian-orchestrator",
			},
		},
	}
}

func (p *Provider) deploymentManifest() map[string]any {
	cpu := p.cfg.Resources.CPUCores
	if cpu <= 0 {
		cpu = 0.5
	}
	memory := p.cfg.Resources.MemoryGB
	if memory <= 0 {
		memory = 0.5
	}
	replicas := p.cfg.Resources.MinInstances
	if replicas < 1 {
		replicas = 1
	}

	return map[string]any{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata": map[string]any{
			"name":      p.deploymentName(),
			"namespace": p.namespace(),
			"labels": map[string]any{
				"app":    p.cfg.InstanceName,
				"tenant": p.cfg.TenantID,
			},
		},
		"spec": map[string]any{
			"replicas": replicas,
			"selector": map[string]any{
				"matchLabels": map[string]any{"app": p.cfg.InstanceName},
			},
			"template": map[string]any{
				"metadata": map[string]any{
					"labels": map[string]any{
						"app":    p.cfg.InstanceName,
						"tenant": p.cfg.TenantID,
					},
				},
				"spec": map[string]any{
					"containers": []any{
						map[string]any{
							"name":  p.cfg.InstanceName,
							"image": p.catalog.Image,
							"ports": []any{
								map[string]any{"containerPort": p.port()},
							},
							"env": p.envList(),
							"resources": map[string]any{
								"requests": map[string]any{
									"cpu":    quantity(cpu),
									"memory": quantity(memory) + "Gi",
								},
								"limits": map[string]any{
									"cpu":    quantity(cpu * 2),
									"memory": quantity(memory*2) + "Gi",
								},
							},
						},
					},
				},
			},
		},
	}
}

func (p *Provider) serviceManifest() map[string]any {
	return map[string]any{
		"apiVersion": "v1",
		"kind":       "Service",
		"metadata": map[string]any{
			"name":      p.serviceName(),
			"namespace": p.namespace(),
		},
		"spec": map[string]any{
			"type":     "ClusterIP",
			"selector": map[string]any{"app": p.cfg.InstanceName},
			"ports": []any{
				map[string]any{"port": 80, "targetPort": p.port()},
			},
		},
	}
}

func (p *Provider) ingressManifest() map[string]any {
	host := p.publicHost()
	return map[string]any{
		"apiVersion": "networking.k8s.io/v1",
		"kind":       "Ingress",
		"metadata": map[string]any{
			"name":      p.ingressName(),
			"namespace": p.namespace(),
			"annotations": map[string]any{
				"cert-manager.io/cluster-issuer":                 "letsencrypt-prod",
				"nginx.ingress.kubernetes.io/ssl-redirect":       "true",
				"nginx.ingress.kubernetes.io/force-ssl-redirect": "true",
			},
		},
		"spec": map[string]any{
			"tls": []any{
				map[string]any{
					"hosts":      []any{host},
					"secretName": p.cfg.InstanceName + "-tls",
				},
			},
			"rules": []any{
				map[string]any{
					"host": host,
					"http": map[string]any{
						"paths": []any{
							map[string]any{
								"path":     "/",
								"pathType": "Prefix",
								"backend": map[string]any{
									"service": map[string]any{
										"name": p.serviceName(),
										"port": map[string]any{"number": 80},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

// envList merges identity, catalog and per-instance variables into the
// container env format, sorted for stable manifests.
func (p *Provider) envList() []any {
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

	list := make([]any, 0, len(keys))
	for _, k := range keys {
		list = append(list, map[string]any{"name": k, "value": env[k]})
	}
	return list
}

func renderManifest(manifest map[string]any) (string, error) {
	out, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("rendering manifest: %w", err)
	}
	return string(out), nil
}

func quantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
