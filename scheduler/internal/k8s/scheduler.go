// Package k8s creates and observes agent pods in a Kubernetes cluster.
package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	corev1 "k8s.io/api/core/v1"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

// Errors surfaced to the scheduler API.
var (
	ErrPodNotFound       = errors.New("pod not found")
	ErrSpecExceedsLimits = errors.New("spec exceeds resource limits")
)

// PodStatus is the observed runtime state of an agent pod.
type PodStatus struct {
	Phase        string     `json:"phase"` // Pending, Running, Succeeded, Failed, Unknown
	Ready        bool       `json:"ready"`
	RestartCount int32      `json:"restart_count"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// Scheduler creates, destroys and inspects agent pods.
type Scheduler interface {
	// Schedule creates the agent's pod. Idempotent: an existing pod is
	// success.
	Schedule(ctx context.Context, id ids.AgentID, user ids.UserID, spec types.AgentSpec) error
	// Terminate deletes the agent's pod. Absence is success.
	Terminate(ctx context.Context, id ids.AgentID) error
	// PodStatus reports the pod's observed state.
	PodStatus(ctx context.Context, id ids.AgentID) (PodStatus, error)
	// Endpoint returns the pod's "host:port", or "" when it has no IP yet.
	Endpoint(ctx context.Context, id ids.AgentID) (string, error)
}

// Limits caps the resources a single agent may request.
type Limits struct {
	MaxCPUMillicores uint32
	MaxMemoryMB      uint32
}

// ClusterScheduler runs agent pods in a Kubernetes namespace.
type ClusterScheduler struct {
	client    kubernetes.Interface
	namespace string
	image     string
	limits    Limits
	logger    *slog.Logger
}

// NewClusterScheduler builds a scheduler for the given namespace and agent
// image.
func NewClusterScheduler(client kubernetes.Interface, namespace, image string, limits Limits, logger *slog.Logger) *ClusterScheduler {
	return &ClusterScheduler{
		client:    client,
		namespace: namespace,
		image:     image,
		limits:    limits,
		logger:    logger.With("component", "k8s"),
	}
}

// Schedule validates the spec against the configured limits and creates the
// pod.
func (s *ClusterScheduler) Schedule(ctx context.Context, id ids.AgentID, user ids.UserID, spec types.AgentSpec) error {
	if spec.CPUMillicores > s.limits.MaxCPUMillicores {
		return fmt.Errorf("%w: %dm cpu > %dm", ErrSpecExceedsLimits, spec.CPUMillicores, s.limits.MaxCPUMillicores)
	}
	if spec.MemoryMB > s.limits.MaxMemoryMB {
		return fmt.Errorf("%w: %dMB memory > %dMB", ErrSpecExceedsLimits, spec.MemoryMB, s.limits.MaxMemoryMB)
	}

	pod := buildPod(s.namespace, s.image, id, user, spec)
	_, err := s.client.CoreV1().Pods(s.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		s.logger.Debug("pod already exists", "pod", pod.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create pod %s: %w", pod.Name, err)
	}
	s.logger.Info("pod created", "pod", pod.Name, "agent_id", id)
	return nil
}

// Terminate deletes the agent's pod.
func (s *ClusterScheduler) Terminate(ctx context.Context, id ids.AgentID) error {
	name := PodName(id)
	err := s.client.CoreV1().Pods(s.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete pod %s: %w", name, err)
	}
	s.logger.Info("pod deleted", "pod", name, "agent_id", id)
	return nil
}

// PodStatus inspects the agent's pod.
func (s *ClusterScheduler) PodStatus(ctx context.Context, id ids.AgentID) (PodStatus, error) {
	pod, err := s.client.CoreV1().Pods(s.namespace).Get(ctx, PodName(id), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return PodStatus{Phase: string(corev1.PodUnknown)}, ErrPodNotFound
	}
	if err != nil {
		return PodStatus{}, fmt.Errorf("get pod: %w", err)
	}

	status := PodStatus{
		Phase:   string(pod.Status.Phase),
		Ready:   podReady(pod),
		Message: pod.Status.Message,
	}
	for _, cs := range pod.Status.ContainerStatuses {
		status.RestartCount += cs.RestartCount
	}
	if t := pod.Status.StartTime; t != nil {
		started := t.Time
		status.StartedAt = &started
	}
	return status, nil
}

// Endpoint reports the pod's address.
func (s *ClusterScheduler) Endpoint(ctx context.Context, id ids.AgentID) (string, error) {
	pod, err := s.client.CoreV1().Pods(s.namespace).Get(ctx, PodName(id), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get pod: %w", err)
	}
	if pod.Status.PodIP == "" {
		return "", nil
	}
	return fmt.Sprintf("%s:%d", pod.Status.PodIP, AgentPort), nil
}

func podReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// NoopScheduler logs calls and reports a synthetic ready pod. Used when the
// service runs without a cluster.
type NoopScheduler struct {
	logger *slog.Logger
}

// NewNoopScheduler builds the no-cluster scheduler.
func NewNoopScheduler(logger *slog.Logger) *NoopScheduler {
	return &NoopScheduler{logger: logger.With("component", "k8s-noop")}
}

// Schedule logs and succeeds.
func (s *NoopScheduler) Schedule(_ context.Context, id ids.AgentID, _ ids.UserID, _ types.AgentSpec) error {
	s.logger.Info("schedule (noop)", "agent_id", id)
	return nil
}

// Terminate logs and succeeds.
func (s *NoopScheduler) Terminate(_ context.Context, id ids.AgentID) error {
	s.logger.Info("terminate (noop)", "agent_id", id)
	return nil
}

// PodStatus reports a synthetic running, ready pod.
func (s *NoopScheduler) PodStatus(_ context.Context, _ ids.AgentID) (PodStatus, error) {
	return PodStatus{Phase: string(corev1.PodRunning), Ready: true}, nil
}

// Endpoint reports the local development runtime address.
func (s *NoopScheduler) Endpoint(_ context.Context, _ ids.AgentID) (string, error) {
	return fmt.Sprintf("localhost:%d", AgentPort), nil
}
