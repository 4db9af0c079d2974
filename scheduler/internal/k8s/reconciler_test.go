package k8s

import (
	"context"
	"sync"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
	"github.com/aura-swarm/swarm/scheduler/internal/cache"
)

// recordingNotifier captures status notifications.
type recordingNotifier struct {
	mu      sync.Mutex
	updates []statusUpdate
}

type statusUpdate struct {
	id    ids.AgentID
	state types.AgentState
	msg   string
}

func (n *recordingNotifier) NotifyStatus(_ context.Context, id ids.AgentID, state types.AgentState, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, statusUpdate{id: id, state: state, msg: msg})
	return nil
}

func (n *recordingNotifier) last(t *testing.T) statusUpdate {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.updates) == 0 {
		t.Fatal("no status updates recorded")
	}
	return n.updates[len(n.updates)-1]
}

func agentPod(id ids.AgentID) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      PodName(id),
			Namespace: "swarm-agents",
			Labels:    map[string]string{labelApp: AppLabel},
			Annotations: map[string]string{
				AnnotationAgentID: id.String(),
			},
		},
	}
}

func newTestReconciler() (*Reconciler, *cache.EndpointCache, *recordingNotifier) {
	c := cache.New()
	n := &recordingNotifier{}
	r := NewReconciler(fake.NewClientset(), "swarm-agents", c, n, discardLogger())
	return r, c, n
}

func TestComputeAgentState(t *testing.T) {
	ready := corev1.PodCondition{Type: corev1.PodReady, Status: corev1.ConditionTrue}

	tests := []struct {
		name      string
		status    corev1.PodStatus
		wantState types.AgentState
		wantMsg   string
		wantOK    bool
	}{
		{
			name: "running and ready",
			status: corev1.PodStatus{
				Phase:      corev1.PodRunning,
				Conditions: []corev1.PodCondition{ready},
			},
			wantState: types.StateRunning, wantOK: true,
		},
		{
			name:      "running not ready",
			status:    corev1.PodStatus{Phase: corev1.PodRunning},
			wantState: types.StateProvisioning, wantOK: true,
		},
		{
			name:      "pending",
			status:    corev1.PodStatus{Phase: corev1.PodPending},
			wantState: types.StateProvisioning, wantOK: true,
		},
		{
			name:      "failed",
			status:    corev1.PodStatus{Phase: corev1.PodFailed, Message: "evicted"},
			wantState: types.StateError, wantMsg: "evicted", wantOK: true,
		},
		{
			name:      "succeeded",
			status:    corev1.PodStatus{Phase: corev1.PodSucceeded},
			wantState: types.StateStopped, wantOK: true,
		},
		{
			name:   "unknown phase",
			status: corev1.PodStatus{Phase: corev1.PodUnknown},
			wantOK: false,
		},
		{
			name: "image pull backoff",
			status: corev1.PodStatus{
				Phase: corev1.PodPending,
				ContainerStatuses: []corev1.ContainerStatus{{
					State: corev1.ContainerState{
						Waiting: &corev1.ContainerStateWaiting{
							Reason:  "ImagePullBackOff",
							Message: "Back-off pulling image",
						},
					},
				}},
			},
			wantState: types.StateError, wantMsg: "Back-off pulling image", wantOK: true,
		},
		{
			name: "crash loop without message falls back to reason",
			status: corev1.PodStatus{
				Phase: corev1.PodRunning,
				ContainerStatuses: []corev1.ContainerStatus{{
					State: corev1.ContainerState{
						Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"},
					},
				}},
			},
			wantState: types.StateError, wantMsg: "CrashLoopBackOff", wantOK: true,
		},
		{
			name: "benign waiting reason uses phase",
			status: corev1.PodStatus{
				Phase: corev1.PodPending,
				ContainerStatuses: []corev1.ContainerStatus{{
					State: corev1.ContainerState{
						Waiting: &corev1.ContainerStateWaiting{Reason: "ContainerCreating"},
					},
				}},
			},
			wantState: types.StateProvisioning, wantOK: true,
		},
		{
			name: "nonzero exit code",
			status: corev1.PodStatus{
				Phase: corev1.PodRunning,
				ContainerStatuses: []corev1.ContainerStatus{{
					State: corev1.ContainerState{
						Terminated: &corev1.ContainerStateTerminated{ExitCode: 137},
					},
				}},
			},
			wantState: types.StateError, wantMsg: "Exit code 137", wantOK: true,
		},
		{
			name: "clean exit uses phase",
			status: corev1.PodStatus{
				Phase: corev1.PodSucceeded,
				ContainerStatuses: []corev1.ContainerStatus{{
					State: corev1.ContainerState{
						Terminated: &corev1.ContainerStateTerminated{ExitCode: 0},
					},
				}},
			},
			wantState: types.StateStopped, wantOK: true,
		},
		{
			name: "scheduling error condition",
			status: corev1.PodStatus{
				Phase: corev1.PodPending,
				Conditions: []corev1.PodCondition{{
					Type:    corev1.PodScheduled,
					Status:  corev1.ConditionFalse,
					Reason:  "SchedulerError",
					Message: "no runtime class kata-fc",
				}},
			},
			wantState: types.StateError, wantMsg: "no runtime class kata-fc", wantOK: true,
		},
		{
			name: "unschedulable is transient",
			status: corev1.PodStatus{
				Phase: corev1.PodPending,
				Conditions: []corev1.PodCondition{{
					Type:    corev1.PodScheduled,
					Status:  corev1.ConditionFalse,
					Reason:  "Unschedulable",
					Message: "0/3 nodes available",
				}},
			},
			wantState: types.StateProvisioning, wantOK: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pod := &corev1.Pod{Status: tc.status}
			state, msg, ok := computeAgentState(pod)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if state != tc.wantState {
				t.Errorf("state = %v, want %v", state, tc.wantState)
			}
			if msg != tc.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tc.wantMsg)
			}
		})
	}
}

func TestApplyPodUpdatesCacheAndNotifies(t *testing.T) {
	ctx := context.Background()
	r, c, n := newTestReconciler()
	id := testAgentID(10)

	pod := agentPod(id)
	pod.Status.Phase = corev1.PodRunning
	pod.Status.PodIP = "10.0.0.9"
	pod.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}}

	r.applyPod(ctx, pod)

	if ep, ok := c.Get(id); !ok || ep != "10.0.0.9:8080" {
		t.Errorf("cache = %q, %v", ep, ok)
	}
	if u := n.last(t); u.id != id || u.state != types.StateRunning {
		t.Errorf("update = %+v", u)
	}
}

func TestApplyPodWithoutAnnotationIsSkipped(t *testing.T) {
	ctx := context.Background()
	r, c, n := newTestReconciler()

	pod := agentPod(testAgentID(11))
	pod.Annotations = nil
	pod.Status.Phase = corev1.PodRunning

	r.applyPod(ctx, pod)

	if c.Len() != 0 || len(n.updates) != 0 {
		t.Error("pod without annotation should not produce updates")
	}
}

func TestDeletePodRemovesCacheAndNotifiesStopped(t *testing.T) {
	ctx := context.Background()
	r, c, n := newTestReconciler()
	id := testAgentID(12)

	c.Insert(id, "10.0.0.9:8080")
	r.deletePod(ctx, agentPod(id))

	if c.Contains(id) {
		t.Error("endpoint survived pod deletion")
	}
	if u := n.last(t); u.state != types.StateStopped || u.msg != "Pod deleted" {
		t.Errorf("update = %+v", u)
	}
}

func TestWarningEventDrivesAgentToError(t *testing.T) {
	ctx := context.Background()
	id := testAgentID(13)

	c := cache.New()
	n := &recordingNotifier{}
	client := fake.NewClientset(agentPod(id))
	r := NewReconciler(client, "swarm-agents", c, n, discardLogger())

	event := &corev1.Event{
		ObjectMeta:     metav1.ObjectMeta{Name: "ev-1", Namespace: "swarm-agents"},
		Type:           corev1.EventTypeWarning,
		Reason:         "FailedMount",
		Message:        "volume timeout",
		InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: PodName(id)},
	}
	r.handleWarningEvent(ctx, event)

	u := n.last(t)
	if u.id != id || u.state != types.StateError || u.msg != "FailedMount: volume timeout" {
		t.Errorf("update = %+v", u)
	}

	// Normal events and unknown reasons are ignored.
	before := len(n.updates)
	event.Type = corev1.EventTypeNormal
	r.handleWarningEvent(ctx, event)
	event.Type = corev1.EventTypeWarning
	event.Reason = "Scheduled"
	r.handleWarningEvent(ctx, event)
	if len(n.updates) != before {
		t.Error("ignorable events produced updates")
	}
}
