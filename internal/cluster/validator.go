// Package cluster reports read-only readiness of the Kubernetes workloads backing services.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

// CompositeReadyThreshold is the fraction of composite members that must be ready for the
// composite to count as ready.
const CompositeReadyThreshold = 0.5

// ValidationResult is the outcome of one readiness check.
type ValidationResult struct {
	Ready             bool                `json:"ready"`
	Kind              ResourceKind        `json:"kind"`
	Name              string              `json:"name"`
	Namespace         string              `json:"namespace"`
	Detail            string              `json:"detail"`
	DesiredReplicas   int32               `json:"desired_replicas,omitempty"`
	ReadyReplicas     int32               `json:"ready_replicas,omitempty"`
	AvailableReplicas int32               `json:"available_replicas,omitempty"`
	SubResources      []SubResourceResult `json:"sub_resources,omitempty"`
	SuccessRate       float64             `json:"success_rate,omitempty"`
}

// SubResourceResult is the readiness of one composite member.
type SubResourceResult struct {
	Kind   SubResourceKind `json:"kind"`
	Name   string          `json:"name"`
	Ready  bool            `json:"ready"`
	Detail string          `json:"detail"`
}

// Validator checks workload readiness through the Kubernetes API.
type Validator struct {
	client   kubernetes.Interface
	mappings ServiceMappings
	logger   *slog.Logger
}

// New returns a Validator using an existing clientset.
func New(client kubernetes.Interface, mappings ServiceMappings, logger *slog.Logger) *Validator {
	if mappings == nil {
		mappings = ServiceMappings{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{client: client, mappings: mappings, logger: logger.With("component", "cluster")}
}

// NewClientset prefers in-cluster configuration and falls back to kubeconfig when running
// outside the cluster.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig = strings.TrimSpace(kubeconfig)
		if kubeconfig == "" {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("create kubeconfig client: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return clientset, nil
}

// Resolve returns the workload target for a service.
func (v *Validator) Resolve(pillar domain.Pillar, service, namespace string) Target {
	return v.mappings.Resolve(pillar, service, namespace)
}

// Validate performs a single readiness check. Missing objects are reported as not ready; any
// other API failure is returned as a *domain.QueryError.
func (v *Validator) Validate(ctx context.Context, pillar domain.Pillar, service, namespace string) (ValidationResult, error) {
	target := v.Resolve(pillar, service, namespace)
	result := ValidationResult{Kind: target.Kind, Name: target.Name, Namespace: target.Namespace}
	var err error
	switch target.Kind {
	case KindDeployment:
		err = v.checkDeployment(ctx, &result)
	case KindStatefulSet:
		err = v.checkStatefulSet(ctx, &result)
	case KindDaemonSet:
		err = v.checkDaemonSet(ctx, &result)
	case KindJob:
		err = v.checkJob(ctx, &result)
	case KindCronJob:
		err = v.checkCronJob(ctx, &result)
	case KindPod:
		err = v.checkPod(ctx, &result)
	case KindComposite:
		err = v.checkComposite(ctx, target, &result)
	default:
		err = &domain.ConfigurationError{Setting: "service mapping", Reason: fmt.Sprintf("unsupported kind %q", target.Kind)}
	}
	if err != nil {
		return ValidationResult{}, err
	}
	v.logger.Debug("cluster validation",
		"pillar", pillar,
		"service", service,
		"kind", result.Kind,
		"namespace", result.Namespace,
		"ready", result.Ready,
		"detail", result.Detail,
	)
	return result, nil
}

func (v *Validator) checkDeployment(ctx context.Context, r *ValidationResult) error {
	obj, err := v.client.AppsV1().Deployments(r.Namespace).Get(ctx, r.Name, metav1.GetOptions{})
	if err != nil {
		return notFoundOrQueryError(err, "get deployment", r)
	}
	desired := int32(1)
	if obj.Spec.Replicas != nil {
		desired = *obj.Spec.Replicas
	}
	r.DesiredReplicas = desired
	r.ReadyReplicas = obj.Status.ReadyReplicas
	r.AvailableReplicas = obj.Status.AvailableReplicas
	r.Ready = obj.Status.ReadyReplicas == desired && obj.Status.AvailableReplicas == desired
	r.Detail = fmt.Sprintf("%d/%d replicas ready, %d available", obj.Status.ReadyReplicas, desired, obj.Status.AvailableReplicas)
	return nil
}

func (v *Validator) checkStatefulSet(ctx context.Context, r *ValidationResult) error {
	obj, err := v.client.AppsV1().StatefulSets(r.Namespace).Get(ctx, r.Name, metav1.GetOptions{})
	if err != nil {
		return notFoundOrQueryError(err, "get statefulset", r)
	}
	desired := int32(1)
	if obj.Spec.Replicas != nil {
		desired = *obj.Spec.Replicas
	}
	r.DesiredReplicas = desired
	r.ReadyReplicas = obj.Status.ReadyReplicas
	r.AvailableReplicas = obj.Status.AvailableReplicas
	r.Ready = obj.Status.ReadyReplicas == desired
	r.Detail = fmt.Sprintf("%d/%d replicas ready", obj.Status.ReadyReplicas, desired)
	return nil
}

func (v *Validator) checkDaemonSet(ctx context.Context, r *ValidationResult) error {
	obj, err := v.client.AppsV1().DaemonSets(r.Namespace).Get(ctx, r.Name, metav1.GetOptions{})
	if err != nil {
		return notFoundOrQueryError(err, "get daemonset", r)
	}
	r.DesiredReplicas = obj.Status.DesiredNumberScheduled
	r.ReadyReplicas = obj.Status.NumberReady
	r.AvailableReplicas = obj.Status.NumberAvailable
	r.Ready = obj.Status.NumberReady == obj.Status.DesiredNumberScheduled
	r.Detail = fmt.Sprintf("%d/%d scheduled pods ready", obj.Status.NumberReady, obj.Status.DesiredNumberScheduled)
	return nil
}

func (v *Validator) checkJob(ctx context.Context, r *ValidationResult) error {
	obj, err := v.client.BatchV1().Jobs(r.Namespace).Get(ctx, r.Name, metav1.GetOptions{})
	if err != nil {
		return notFoundOrQueryError(err, "get job", r)
	}
	r.Ready = obj.Status.Succeeded > 0
	r.Detail = fmt.Sprintf("%d succeeded, %d active, %d failed", obj.Status.Succeeded, obj.Status.Active, obj.Status.Failed)
	return nil
}

func (v *Validator) checkCronJob(ctx context.Context, r *ValidationResult) error {
	obj, err := v.client.BatchV1().CronJobs(r.Namespace).Get(ctx, r.Name, metav1.GetOptions{})
	if err != nil {
		return notFoundOrQueryError(err, "get cronjob", r)
	}
	r.Ready = true
	r.Detail = fmt.Sprintf("cronjob scheduled %q", obj.Spec.Schedule)
	return nil
}

func (v *Validator) checkPod(ctx context.Context, r *ValidationResult) error {
	obj, err := v.client.CoreV1().Pods(r.Namespace).Get(ctx, r.Name, metav1.GetOptions{})
	if err != nil {
		return notFoundOrQueryError(err, "get pod", r)
	}
	r.Ready = obj.Status.Phase == corev1.PodRunning
	r.Detail = fmt.Sprintf("pod phase %s", obj.Status.Phase)
	return nil
}

func (v *Validator) checkComposite(ctx context.Context, target Target, r *ValidationResult) error {
	if len(target.SubResources) == 0 {
		r.Detail = "no sub-resources to validate"
		return nil
	}
	successes := 0
	for _, sub := range target.SubResources {
		res, err := v.checkSubResource(ctx, sub, target.Name, target.Namespace)
		if err != nil {
			return err
		}
		if res.Ready {
			successes++
		}
		r.SubResources = append(r.SubResources, res)
	}
	total := len(r.SubResources)
	r.SuccessRate = float64(successes) / float64(total)
	r.Ready = r.SuccessRate >= CompositeReadyThreshold
	r.Detail = fmt.Sprintf("%d/%d sub-resources ready", successes, total)
	return nil
}

func (v *Validator) checkSubResource(ctx context.Context, kind SubResourceKind, name, namespace string) (SubResourceResult, error) {
	res := SubResourceResult{Kind: kind, Name: name}
	target := namespace + "/" + name
	switch kind {
	case SubPod:
		pods, err := v.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: appSelector(name)})
		if err != nil {
			return res, &domain.QueryError{Op: "list pods", Target: target, Err: err}
		}
		running := 0
		for _, pod := range pods.Items {
			if pod.Status.Phase == corev1.PodRunning {
				running++
			}
		}
		res.Ready = running > 0
		res.Detail = fmt.Sprintf("%d/%d pods running", running, len(pods.Items))
	case SubService:
		_, err := v.client.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				res.Detail = "service not found"
				return res, nil
			}
			return res, &domain.QueryError{Op: "get service", Target: target, Err: err}
		}
		res.Ready = true
		res.Detail = "service exists"
	case SubIngress:
		_, err := v.client.NetworkingV1().Ingresses(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				res.Detail = "ingress not found"
				return res, nil
			}
			return res, &domain.QueryError{Op: "get ingress", Target: target, Err: err}
		}
		res.Ready = true
		res.Detail = "ingress exists"
	default:
		return res, &domain.ConfigurationError{Setting: "service mapping", Reason: fmt.Sprintf("unsupported sub-resource %q", kind)}
	}
	return res, nil
}

func notFoundOrQueryError(err error, op string, r *ValidationResult) error {
	if apierrors.IsNotFound(err) {
		r.Ready = false
		r.Detail = fmt.Sprintf("%s %s/%s not found", r.Kind, r.Namespace, r.Name)
		return nil
	}
	return &domain.QueryError{Op: op, Target: r.Namespace + "/" + r.Name, Err: err}
}

func appSelector(name string) string {
	return "app=" + name
}
