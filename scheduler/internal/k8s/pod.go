package k8s

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/aura-swarm/swarm/pkg/ids"
	"github.com/aura-swarm/swarm/pkg/types"
)

const (
	// AppLabel marks every pod this service owns; the reconciler watches
	// on it.
	AppLabel = "swarm-agent"

	// AnnotationAgentID carries the full agent ID. The label below is a
	// truncated prefix and cannot be inverted.
	AnnotationAgentID = "swarm.io/agent-id-full"

	labelApp     = "app"
	labelAgentID = "agent-id"

	// AgentPort is the HTTP port every agent pod serves on.
	AgentPort = 8080

	containerName = "agent"
	stateDir      = "/var/lib/swarm-agent"
)

// PodName derives the pod name from the agent ID. Pod names are capped well
// below the full 64-character hex form, so only a prefix goes into the name.
func PodName(id ids.AgentID) string {
	return "agent-" + id.String()[:16]
}

// buildPod assembles the pod manifest for an agent.
func buildPod(namespace, image string, id ids.AgentID, user ids.UserID, spec types.AgentSpec) *corev1.Pod {
	cpu := resource.NewMilliQuantity(int64(spec.CPUMillicores), resource.DecimalSI)
	mem := resource.NewQuantity(int64(spec.MemoryMB)*1024*1024, resource.BinarySI)
	resources := corev1.ResourceList{
		corev1.ResourceCPU:    *cpu,
		corev1.ResourceMemory: *mem,
	}

	runAsNonRoot := true
	allowEscalation := false
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      PodName(id),
			Namespace: namespace,
			Labels: map[string]string{
				labelApp:     AppLabel,
				labelAgentID: id.String()[:16],
			},
			Annotations: map[string]string{
				AnnotationAgentID: id.String(),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyOnFailure,
			Containers: []corev1.Container{{
				Name:  containerName,
				Image: image,
				Env: []corev1.EnvVar{
					{Name: "AGENT_ID", Value: id.String()},
					{Name: "USER_ID", Value: user.String()},
					{Name: "RUNTIME_VERSION", Value: spec.RuntimeVersion},
					{Name: "STATE_DIR", Value: stateDir},
				},
				Ports: []corev1.ContainerPort{{
					Name:          "http",
					ContainerPort: AgentPort,
				}},
				ReadinessProbe: &corev1.Probe{
					ProbeHandler: corev1.ProbeHandler{
						HTTPGet: &corev1.HTTPGetAction{
							Path: "/healthz",
							Port: intstr.FromInt32(AgentPort),
						},
					},
					InitialDelaySeconds: 2,
					PeriodSeconds:       5,
				},
				LivenessProbe: &corev1.Probe{
					ProbeHandler: corev1.ProbeHandler{
						HTTPGet: &corev1.HTTPGetAction{
							Path: "/healthz",
							Port: intstr.FromInt32(AgentPort),
						},
					},
					InitialDelaySeconds: 10,
					PeriodSeconds:       30,
				},
				Resources: corev1.ResourceRequirements{
					Requests: resources,
					Limits:   resources,
				},
				SecurityContext: &corev1.SecurityContext{
					RunAsNonRoot:             &runAsNonRoot,
					AllowPrivilegeEscalation: &allowEscalation,
					Capabilities: &corev1.Capabilities{
						Drop: []corev1.Capability{"ALL"},
					},
				},
				VolumeMounts: []corev1.VolumeMount{{
					Name:      "state",
					MountPath: stateDir,
				}},
			}},
			Volumes: []corev1.Volume{{
				Name: "state",
				VolumeSource: corev1.VolumeSource{
					EmptyDir: &corev1.EmptyDirVolumeSource{},
				},
			}},
		},
	}

	if rc := spec.Isolation.RuntimeClass(); rc != "" {
		pod.Spec.RuntimeClassName = &rc
	}
	return pod
}
