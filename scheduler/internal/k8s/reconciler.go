package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"

	"github.com/aura-swarm/swarm/scheduler/internal/cache"
)

// Container waiting reasons that mean the pod will not come up on its own.
var fatalWaitingReasons = map[string]bool{
	"ImagePullBackOff":           true,
	"ErrImagePull":               true,
	"CrashLoopBackOff":           true,
	"CreateContainerError":       true,
	"CreateContainerConfigError": true,
	"InvalidImageName":           true,
	"RunContainerError":          true,
}

// Warning event reasons worth driving the agent to Error for.
var fatalEventReasons = map[string]bool{
	"FailedCreatePodSandBox": true,
	"FailedMount":            true,
	"FailedScheduling":       true,
	"FailedAttachVolume":     true,
	"NetworkNotReady":        true,
}

const watchRetryDelay = 5 * time.Second

// Reconciler watches agent pods and cluster warning events and translates
// them into control-plane state changes. It maintains the endpoint cache as
// a side effect.
type Reconciler struct {
	client    kubernetes.Interface
	namespace string
	cache     *cache.EndpointCache
	notifier  Notifier
	logger    *slog.Logger
}

// NewReconciler wires the reconciler.
func NewReconciler(client kubernetes.Interface, namespace string, c *cache.EndpointCache, n Notifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		client:    client,
		namespace: namespace,
		cache:     c,
		notifier:  n,
		logger:    logger.With("component", "reconciler"),
	}
}

// Run starts both watch loops and blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	go r.watchPods(ctx)
	go r.watchEvents(ctx)
	<-ctx.Done()
}

// watchPods lists the agent pods, then follows the watch stream. Disconnects
// and expired resource versions restart the loop from a fresh list.
func (r *Reconciler) watchPods(ctx context.Context) {
	selector := fmt.Sprintf("%s=%s", labelApp, AppLabel)
	for {
		if ctx.Err() != nil {
			return
		}

		pods, err := r.client.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			r.logger.Debug("pod list failed, retrying", "error", err)
			if !sleepCtx(ctx, watchRetryDelay) {
				return
			}
			continue
		}
		for i := range pods.Items {
			r.applyPod(ctx, &pods.Items[i])
		}

		w, err := r.client.CoreV1().Pods(r.namespace).Watch(ctx, metav1.ListOptions{
			LabelSelector:   selector,
			ResourceVersion: pods.ResourceVersion,
		})
		if err != nil {
			r.logger.Debug("pod watch failed, retrying", "error", err)
			if !sleepCtx(ctx, watchRetryDelay) {
				return
			}
			continue
		}
		r.drainPodWatch(ctx, w)
	}
}

func (r *Reconciler) drainPodWatch(ctx context.Context, w watch.Interface) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				r.logger.Debug("pod watch closed, relisting")
				return
			}
			pod, isPod := ev.Object.(*corev1.Pod)
			if !isPod {
				continue
			}
			switch ev.Type {
			case watch.Added, watch.Modified:
				r.applyPod(ctx, pod)
			case watch.Deleted:
				r.deletePod(ctx, pod)
			}
		}
	}
}

// applyPod updates the endpoint cache and derives the agent state from the
// pod status.
func (r *Reconciler) applyPod(ctx context.Context, pod *corev1.Pod) {
	id, err := agentIDFromPod(pod)
	if err != nil {
		r.logger.Warn("pod without usable agent id", "pod", pod.Name, "error", err)
		return
	}

	if pod.Status.PodIP != "" {
		r.cache.Insert(id, fmt.Sprintf("%s:%d", pod.Status.PodIP, AgentPort))
	}

	state, msg, ok := computeAgentState(pod)
	if !ok {
		return
	}
	if err := r.notifier.NotifyStatus(ctx, id, state, msg); err != nil {
		r.logger.Warn("status notify failed", "agent_id", id, "to", state, "error", err)
	}
}

// deletePod drops the cached endpoint and reports the pod gone. The gateway
// ignores the Stopped notification for hibernating agents, whose pod
// deletion is intentional.
func (r *Reconciler) deletePod(ctx context.Context, pod *corev1.Pod) {
	id, err := agentIDFromPod(pod)
	if err != nil {
		r.logger.Warn("deleted pod without usable agent id", "pod", pod.Name, "error", err)
		return
	}
	r.cache.Remove(id)
	if err := r.notifier.NotifyStatus(ctx, id, types.StateStopped, "Pod deleted"); err != nil {
		r.logger.Warn("status notify failed", "agent_id", id, "to", types.StateStopped, "error", err)
	}
}

// watchEvents follows cluster warning events for pods and drives agents to
// Error on fatal reasons.
func (r *Reconciler) watchEvents(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		w, err := r.client.CoreV1().Events(r.namespace).Watch(ctx, metav1.ListOptions{
			FieldSelector: "involvedObject.kind=Pod",
		})
		if err != nil {
			r.logger.Debug("event watch failed, retrying", "error", err)
			if !sleepCtx(ctx, watchRetryDelay) {
				return
			}
			continue
		}
		r.drainEventWatch(ctx, w)
	}
}

func (r *Reconciler) drainEventWatch(ctx context.Context, w watch.Interface) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				r.logger.Debug("event watch closed, rewatching")
				return
			}
			event, isEvent := ev.Object.(*corev1.Event)
			if !isEvent {
				continue
			}
			r.handleWarningEvent(ctx, event)
		}
	}
}

func (r *Reconciler) handleWarningEvent(ctx context.Context, event *corev1.Event) {
	if event.Type != corev1.EventTypeWarning || !fatalEventReasons[event.Reason] {
		return
	}

	// The event only names the pod; the full agent id lives on the pod's
	// annotation.
	pod, err := r.client.CoreV1().Pods(r.namespace).Get(ctx, event.InvolvedObject.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return
	}
	if err != nil {
		r.logger.Debug("pod lookup for event failed", "pod", event.InvolvedObject.Name, "error", err)
		return
	}
	id, err := agentIDFromPod(pod)
	if err != nil {
		return
	}

	msg := fmt.Sprintf("%s: %s", event.Reason, event.Message)
	if err := r.notifier.NotifyStatus(ctx, id, types.StateError, msg); err != nil {
		r.logger.Warn("status notify failed", "agent_id", id, "to", types.StateError, "error", err)
	}
}

// computeAgentState maps a pod status to an agent state. The third return is
// false when the pod implies no update.
func computeAgentState(pod *corev1.Pod) (types.AgentState, string, bool) {
	for _, cs := range pod.Status.ContainerStatuses {
		if w := cs.State.Waiting; w != nil && fatalWaitingReasons[w.Reason] {
			msg := w.Message
			if msg == "" {
				msg = w.Reason
			}
			return types.StateError, msg, true
		}
		if t := cs.State.Terminated; t != nil && t.ExitCode != 0 {
			msg := t.Message
			if msg == "" {
				msg = t.Reason
			}
			if msg == "" {
				msg = fmt.Sprintf("Exit code %d", t.ExitCode)
			}
			return types.StateError, msg, true
		}
	}

	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodScheduled && cond.Status == corev1.ConditionFalse &&
			cond.Reason != "Unschedulable" && cond.Message != "" {
			return types.StateError, cond.Message, true
		}
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		if podReady(pod) {
			return types.StateRunning, "", true
		}
		return types.StateProvisioning, "", true
	case corev1.PodPending:
		return types.StateProvisioning, "", true
	case corev1.PodFailed:
		return types.StateError, pod.Status.Message, true
	case corev1.PodSucceeded:
		return types.StateStopped, "", true
	}
	return 0, "", false
}

// agentIDFromPod recovers the full agent id from the pod annotation. The
// agent-id label is a truncated prefix and cannot be parsed.
func agentIDFromPod(pod *corev1.Pod) (ids.AgentID, error) {
	full := pod.Annotations[AnnotationAgentID]
	if full == "" {
		return ids.AgentID{}, fmt.Errorf("pod %s missing %s annotation", pod.Name, AnnotationAgentID)
	}
	return ids.ParseAgentID(full)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
