package k8s

import (
	"strings"
	"testing"

	corev1 "k8s.io/api/core/v1"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

func testAgentID(seed uint64) ids.AgentID {
	var user ids.UserID
	return ids.DeterministicAgentID(user, "pod-test", seed)
}

func TestPodName(t *testing.T) {
	id := testAgentID(1)
	name := PodName(id)
	if !strings.HasPrefix(name, "agent-") {
		t.Errorf("name = %q", name)
	}
	if len(name) != len("agent-")+16 {
		t.Errorf("name length = %d", len(name))
	}
	if !strings.HasPrefix(id.String(), name[len("agent-"):]) {
		t.Errorf("name %q is not a prefix of %s", name, id)
	}
	if PodName(id) != name {
		t.Error("pod name is not deterministic")
	}
}

func TestBuildPodMetadata(t *testing.T) {
	id := testAgentID(2)
	var user ids.UserID
	pod := buildPod("swarm-agents", "swarm/agent:v3", id, user, types.DefaultSpec())

	if pod.Name != PodName(id) || pod.Namespace != "swarm-agents" {
		t.Errorf("pod %s/%s", pod.Namespace, pod.Name)
	}
	if pod.Labels[labelApp] != AppLabel {
		t.Errorf("labels = %v", pod.Labels)
	}
	if pod.Labels[labelAgentID] != id.String()[:16] {
		t.Errorf("agent-id label = %q", pod.Labels[labelAgentID])
	}
	// The label is truncated; the annotation must carry the full id.
	if pod.Annotations[AnnotationAgentID] != id.String() {
		t.Errorf("annotation = %q", pod.Annotations[AnnotationAgentID])
	}
}

func TestBuildPodSpec(t *testing.T) {
	id := testAgentID(3)
	var user ids.UserID
	spec := types.AgentSpec{
		CPUMillicores:  250,
		MemoryMB:       256,
		RuntimeVersion: "v1.2.3",
		Isolation:      types.IsolationMicroVM,
	}
	pod := buildPod("swarm-agents", "swarm/agent:v3", id, user, spec)

	if pod.Spec.RuntimeClassName == nil || *pod.Spec.RuntimeClassName != "kata-fc" {
		t.Errorf("runtime class = %v", pod.Spec.RuntimeClassName)
	}
	if len(pod.Spec.Containers) != 1 {
		t.Fatalf("containers = %d", len(pod.Spec.Containers))
	}
	c := pod.Spec.Containers[0]
	if c.Image != "swarm/agent:v3" {
		t.Errorf("image = %q", c.Image)
	}

	cpu := c.Resources.Limits[corev1.ResourceCPU]
	if cpu.MilliValue() != 250 {
		t.Errorf("cpu = %dm", cpu.MilliValue())
	}
	mem := c.Resources.Limits[corev1.ResourceMemory]
	if mem.Value() != 256*1024*1024 {
		t.Errorf("memory = %d", mem.Value())
	}

	env := map[string]string{}
	for _, e := range c.Env {
		env[e.Name] = e.Value
	}
	if env["AGENT_ID"] != id.String() || env["RUNTIME_VERSION"] != "v1.2.3" {
		t.Errorf("env = %v", env)
	}

	if c.ReadinessProbe == nil || c.ReadinessProbe.HTTPGet == nil {
		t.Error("readiness probe missing")
	}
	if c.SecurityContext == nil || c.SecurityContext.RunAsNonRoot == nil || !*c.SecurityContext.RunAsNonRoot {
		t.Error("security context does not enforce non-root")
	}
}

func TestBuildPodContainerIsolation(t *testing.T) {
	id := testAgentID(4)
	var user ids.UserID
	spec := types.DefaultSpec()
	spec.Isolation = types.IsolationContainer
	pod := buildPod("swarm-agents", "swarm/agent:v3", id, user, spec)

	if pod.Spec.RuntimeClassName != nil {
		t.Errorf("container isolation should use the cluster default runtime, got %q", *pod.Spec.RuntimeClassName)
	}
}
