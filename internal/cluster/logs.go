package cluster

import (
	"context"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

const (
	defaultTailLines = 100
	maxLogBytes      = 1 << 20
)

// PodLogs holds the tail of one pod's log.
type PodLogs struct {
	Pod       string `json:"pod"`
	Namespace string `json:"namespace"`
	Logs      string `json:"logs"`
}

// DeploymentLogs returns the last tailLines of the first pod labelled app=<name>.
func (v *Validator) DeploymentLogs(ctx context.Context, pillar domain.Pillar, service, namespace string, tailLines int64) (PodLogs, error) {
	target := v.Resolve(pillar, service, namespace)
	if tailLines <= 0 {
		tailLines = defaultTailLines
	}
	pods, err := v.client.CoreV1().Pods(target.Namespace).List(ctx, metav1.ListOptions{LabelSelector: appSelector(target.Name)})
	if err != nil {
		return PodLogs{}, &domain.QueryError{Op: "list pods", Target: target.Namespace + "/" + target.Name, Err: err}
	}
	if len(pods.Items) == 0 {
		return PodLogs{}, fmt.Errorf("no pods found for %s/%s", target.Namespace, target.Name)
	}
	pod := pods.Items[0]
	stream, err := v.client.CoreV1().Pods(target.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{TailLines: &tailLines}).Stream(ctx)
	if err != nil {
		return PodLogs{}, &domain.QueryError{Op: "stream pod logs", Target: target.Namespace + "/" + pod.Name, Err: err}
	}
	defer stream.Close()
	data, err := io.ReadAll(io.LimitReader(stream, maxLogBytes))
	if err != nil {
		return PodLogs{}, &domain.QueryError{Op: "read pod logs", Target: target.Namespace + "/" + pod.Name, Err: err}
	}
	return PodLogs{Pod: pod.Name, Namespace: target.Namespace, Logs: string(data)}, nil
}
