// Package mapping resolves accelerator ordinals to the pods consuming them,
// from a node-scoped read-only pod list.
package mapping

import (
	"context"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/accelwatch/k8s-gpu-exporter/internal/errors"
	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// amdResourceNames identify AMD accelerator resources in container specs,
// matched as substrings of the lowercased resource name.
var amdResourceNames = []string{
	"amd.com/gpu",
	"rocm.amd.com/gpu",
	"amd.com/mi300x",
	"amd.com/mi300",
	"amd.com/mi200",
}

// deviceEnvVars carry explicit accelerator indices assigned to a container.
// When present they override resource counting entirely.
var deviceEnvVars = []string{
	"ROCR_VISIBLE_DEVICES",
	"GPU_DEVICE_ORDINAL",
	"HIP_VISIBLE_DEVICES",
	"CUDA_VISIBLE_DEVICES",
}

// Mapper resolves accelerator indices to (namespace, pod) identities for one
// node. Every call re-queries live cluster state; nothing is cached.
type Mapper struct {
	client  kubernetes.Interface
	node    string
	timeout time.Duration
}

// New creates a Mapper for the given node. A nil client is allowed and
// makes every Bindings call fail, which callers degrade to unmapped
// identities.
func New(client kubernetes.Interface, node string, timeout time.Duration) *Mapper {
	return &Mapper{client: client, node: node, timeout: timeout}
}

// Bindings lists the pods scheduled on the node and assigns accelerator
// indices to the GPU-consuming ones. Pods carrying a device-visibility env
// var claim those exact indices; the rest receive ordinals in encounter
// order across the whole list, one per declared GPU. Index collisions
// resolve last-write-wins.
func (m *Mapper) Bindings(ctx context.Context) (map[string]model.Binding, error) {
	if m.client == nil {
		return nil, errors.New(errors.CodeMapping, "no cluster client available", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	pods, err := m.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + m.node,
	})
	if err != nil {
		return nil, errors.New(errors.CodeMapping, "listing pods on node "+m.node, err)
	}

	bindings := make(map[string]model.Binding)
	next := 0
	for i := range pods.Items {
		pod := &pods.Items[i]
		// Not every client implementation honors the field selector.
		if pod.Spec.NodeName != m.node {
			continue
		}

		binding := model.Binding{Namespace: pod.Namespace, Pod: pod.Name}

		if ids := explicitDeviceIDs(pod); len(ids) > 0 {
			for _, id := range ids {
				bindings[id] = binding
			}
			continue
		}

		for n := gpuCount(pod); n > 0; n-- {
			bindings[strconv.Itoa(next)] = binding
			next++
		}
	}
	return bindings, nil
}

// explicitDeviceIDs collects device indices from visibility env vars across
// all containers, preserving first-seen order and dropping duplicates.
func explicitDeviceIDs(pod *corev1.Pod) []string {
	var ids []string
	seen := make(map[string]struct{})
	for i := range pod.Spec.Containers {
		for _, env := range pod.Spec.Containers[i].Env {
			if !isDeviceEnvVar(env.Name) || env.Value == "" {
				continue
			}
			for _, id := range strings.Split(env.Value, ",") {
				id = strings.TrimSpace(id)
				if id == "" {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func isDeviceEnvVar(name string) bool {
	for _, v := range deviceEnvVars {
		if name == v {
			return true
		}
	}
	return false
}

// gpuCount sums declared AMD GPUs over the pod's containers. Limits are
// authoritative; requests only count for containers whose limits name no
// GPU resource.
func gpuCount(pod *corev1.Pod) int {
	total := 0
	for i := range pod.Spec.Containers {
		res := &pod.Spec.Containers[i].Resources
		n := countGPUs(res.Limits)
		if n == 0 {
			n = countGPUs(res.Requests)
		}
		total += n
	}
	return total
}

func countGPUs(list corev1.ResourceList) int {
	total := 0
	for name, qty := range list {
		if isAMDGPUResource(string(name)) {
			total += int(qty.Value())
		}
	}
	return total
}

func isAMDGPUResource(name string) bool {
	lower := strings.ToLower(name)
	for _, want := range amdResourceNames {
		if strings.Contains(lower, want) {
			return true
		}
	}
	return false
}
