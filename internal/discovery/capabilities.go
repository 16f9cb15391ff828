package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/kubernetes"
)

// Coordinates of the resource metrics API served by metrics-server.
const (
	apiGroupMetrics   = "metrics.k8s.io"
	apiVersionMetrics = "v1beta1"
)

// Capabilities describes the optional cluster surfaces the exporter can use.
// Results are computed once at startup and cached for the process lifetime.
type Capabilities struct {
	PodMetrics bool // metrics.k8s.io serves pod metrics and RBAC allows listing them
	PodList    bool // RBAC allows listing pods, required for workload mapping
}

// Detect probes the cluster for optional capabilities: the resource metrics
// API backing pod usage enrichment, and the pods list permission backing
// workload mapping. Neither is required to run; missing surfaces degrade to
// disabled enrichment and unmapped devices respectively.
func Detect(ctx context.Context, client kubernetes.Interface, discoveryClient discovery.DiscoveryInterface) (*Capabilities, error) {
	caps := &Capabilities{}

	podMetrics, err := CheckResource(ctx, client, discoveryClient, apiGroupMetrics, apiVersionMetrics, "pods")
	if err != nil {
		return nil, err
	}
	caps.PodMetrics = podMetrics

	canList, err := CanList(ctx, client, "", "pods")
	if err != nil {
		// The review call itself failed, which proves nothing about the
		// grant. Only a definite deny clears the flag; mapping discovers
		// the truth per cycle either way.
		slog.Warn("discovery: pod list permission check failed", "error", err)
		caps.PodList = true
	} else {
		caps.PodList = canList
	}

	return caps, nil
}

// HasAPIGroup checks whether a specific API group is registered with the cluster.
func HasAPIGroup(discoveryClient discovery.DiscoveryInterface, group string) (bool, error) {
	groups, err := discoveryClient.ServerGroups()
	if err != nil {
		return false, fmt.Errorf("discovery: failed to list server groups: %w", err)
	}

	for _, g := range groups.Groups {
		if g.Name == group {
			return true, nil
		}
	}
	return false, nil
}
