package compute

import (
	"context"
	"fmt"
	"log"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"loadplane/pkg/api"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesConfig holds configuration for the Kubernetes pool.
type KubernetesConfig struct {
	// Namespace where load-test Jobs are created
	Namespace string
	// ServiceAccount for task pods (optional)
	ServiceAccount string
	// Kubeconfig path used for regions that name a context
	Kubeconfig string
}

// KubernetesPool runs tasks as pods of Kubernetes Jobs. A region's
// TaskCluster is a kubeconfig context ("" means in-cluster) and its
// TaskDefinition is a PodTemplate in the configured namespace.
type KubernetesPool struct {
	config KubernetesConfig

	mu      sync.Mutex
	clients map[string]kubernetes.Interface
	connect func(contextName string) (kubernetes.Interface, error)
}

// homeDir returns the user's home directory.
func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetesPool creates a Kubernetes-backed pool. Clients are created
// lazily per context.
func NewKubernetesPool(cfg KubernetesConfig) *KubernetesPool {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.Kubeconfig == "" {
		cfg.Kubeconfig = filepath.Join(homeDir(), ".kube", "config")
	}
	p := &KubernetesPool{config: cfg, clients: make(map[string]kubernetes.Interface)}
	p.connect = p.newClient
	return p
}

func (p *KubernetesPool) newClient(contextName string) (kubernetes.Interface, error) {
	var config *rest.Config
	var err error
	if contextName == "" {
		// Try in-cluster config first
		config, err = rest.InClusterConfig()
		if err != nil {
			log.Printf("In-cluster config not available, trying kubeconfig: %v", err)
			config, err = clientcmd.BuildConfigFromFlags("", p.config.Kubeconfig)
		}
	} else {
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: p.config.Kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: contextName},
		).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config for context %q: %w", contextName, err)
	}
	return kubernetes.NewForConfig(config)
}

func (p *KubernetesPool) client(contextName string) (kubernetes.Interface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[contextName]; ok {
		return c, nil
	}
	c, err := p.connect(contextName)
	if err != nil {
		return nil, err
	}
	p.clients[contextName] = c
	return c, nil
}

func (p *KubernetesPool) VCPUQuota(ctx context.Context, cfg api.RegionalConfig) (float64, error) {
	c, err := p.client(cfg.TaskCluster)
	if err != nil {
		return 0, err
	}
	quotas, err := c.CoreV1().ResourceQuotas(p.config.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, err
	}
	for _, q := range quotas.Items {
		for _, name := range []corev1.ResourceName{corev1.ResourceRequestsCPU, corev1.ResourceCPU, corev1.ResourceLimitsCPU} {
			if v, ok := q.Spec.Hard[name]; ok {
				return v.AsApproximateFloat64(), nil
			}
		}
	}
	return 0, ErrNoQuota
}

func (p *KubernetesPool) TaskVCPU(ctx context.Context, cfg api.RegionalConfig) (float64, error) {
	c, err := p.client(cfg.TaskCluster)
	if err != nil {
		return 0, err
	}
	tmpl, err := c.CoreV1().PodTemplates(p.config.Namespace).Get(ctx, cfg.TaskDefinition, metav1.GetOptions{})
	if err != nil {
		return 0, err
	}
	return podVCPU(tmpl.Template.Spec), nil
}

// podVCPU sums container CPU requests, falling back to limits.
func podVCPU(spec corev1.PodSpec) float64 {
	var total float64
	for _, c := range spec.Containers {
		if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
			total += q.AsApproximateFloat64()
		} else if q, ok := c.Resources.Limits[corev1.ResourceCPU]; ok {
			total += q.AsApproximateFloat64()
		}
	}
	return total
}

func selector(group string) string {
	set := labels.Set{LabelManagedBy: "loadplane"}
	if group != "" {
		set[LabelTestID] = group
	}
	return set.AsSelector().String()
}

func (p *KubernetesPool) ListTasks(ctx context.Context, cfg api.RegionalConfig, group, token string) ([]string, string, error) {
	c, err := p.client(cfg.TaskCluster)
	if err != nil {
		return nil, "", err
	}
	pods, err := c.CoreV1().Pods(p.config.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector(group),
		Limit:         100,
		Continue:      token,
	})
	if err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		ids = append(ids, pod.Name)
	}
	return ids, pods.Continue, nil
}

func (p *KubernetesPool) DescribeTasks(ctx context.Context, cfg api.RegionalConfig, ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxDescribe {
		return nil, fmt.Errorf("cannot describe %d tasks at once, limit is %d", len(ids), MaxDescribe)
	}
	c, err := p.client(cfg.TaskCluster)
	if err != nil {
		return nil, err
	}
	pods, err := c.CoreV1().Pods(p.config.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector("")})
	if err != nil {
		return nil, err
	}

	var tasks []Task
	for _, pod := range pods.Items {
		if !slices.Contains(ids, pod.Name) {
			continue
		}
		tasks = append(tasks, podTask(&pod))
	}
	return tasks, nil
}

func podTask(pod *corev1.Pod) Task {
	t := Task{
		ID:     pod.Name,
		Group:  pod.Labels[LabelTestID],
		Status: podStatus(pod),
		VCPU:   podVCPU(pod.Spec),
	}
	if pod.Status.StartTime != nil {
		t.StartedAt = pod.Status.StartTime.UTC().Format(time.RFC3339)
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if term := cs.State.Terminated; term != nil {
			code := int(term.ExitCode)
			t.ExitCode = &code
			t.StopReason = term.Reason
			t.StoppedAt = term.FinishedAt.UTC().Format(time.RFC3339)
			break
		}
	}
	return t
}

func podStatus(pod *corev1.Pod) string {
	switch pod.Status.Phase {
	case corev1.PodSucceeded, corev1.PodFailed:
		return StatusStopped
	}
	if pod.DeletionTimestamp != nil {
		return StatusDeprovisioning
	}
	switch pod.Status.Phase {
	case corev1.PodRunning:
		return StatusRunning
	case corev1.PodPending:
		if pod.Spec.NodeName == "" {
			return StatusProvisioning
		}
		return StatusPending
	}
	return StatusPending
}

// RunTasks creates one Job running spec.Count pods from the region's PodTemplate.
func (p *KubernetesPool) RunTasks(ctx context.Context, cfg api.RegionalConfig, spec TaskSpec) ([]string, error) {
	c, err := p.client(cfg.TaskCluster)
	if err != nil {
		return nil, err
	}
	tmpl, err := c.CoreV1().PodTemplates(p.config.Namespace).Get(ctx, cfg.TaskDefinition, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get pod template %s: %w", cfg.TaskDefinition, err)
	}

	jobName := fmt.Sprintf("loadplane-%d", time.Now().UnixNano())
	podSpec := *tmpl.Template.Spec.DeepCopy()

	var envVars []corev1.EnvVar
	for _, key := range sortedKeys(spec.Env) {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: spec.Env[key]})
	}
	for i := range podSpec.Containers {
		podSpec.Containers[i].Env = append(podSpec.Containers[i].Env, envVars...)
	}
	if cfg.TaskImage != "" && len(podSpec.Containers) > 0 {
		podSpec.Containers[0].Image = cfg.TaskImage
	}
	podSpec.RestartPolicy = corev1.RestartPolicyNever
	if p.config.ServiceAccount != "" {
		podSpec.ServiceAccountName = p.config.ServiceAccount
	}
	if len(podSpec.Containers) > 0 && podSpec.Containers[0].Resources.Requests == nil {
		podSpec.Containers[0].Resources.Requests = corev1.ResourceList{
			corev1.ResourceCPU: resource.MustParse("1"),
		}
	}

	podLabels := taskLabels(spec)
	podLabels["job-name"] = jobName
	for k, v := range tmpl.Template.Labels {
		if _, ok := podLabels[k]; !ok {
			podLabels[k] = v
		}
	}

	count := int32(spec.Count)
	backoffLimit := int32(0) // failed load generators are not retried
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: p.config.Namespace,
			Labels:    taskLabels(spec),
		},
		Spec: batchv1.JobSpec{
			Parallelism:  &count,
			Completions:  &count,
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec:       podSpec,
			},
		},
	}

	created, err := c.BatchV1().Jobs(p.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}
	log.Printf("Created Kubernetes Job %s in namespace %s", created.Name, p.config.Namespace)

	// Pods are created asynchronously by the Job controller; the Job is the handle.
	return []string{created.Name}, nil
}

// StopTasks deletes the Jobs owning the given pods (or Jobs).
func (p *KubernetesPool) StopTasks(ctx context.Context, cfg api.RegionalConfig, ids []string, reason string) error {
	c, err := p.client(cfg.TaskCluster)
	if err != nil {
		return err
	}

	jobs := map[string]bool{}
	for _, id := range ids {
		pod, err := c.CoreV1().Pods(p.config.Namespace).Get(ctx, id, metav1.GetOptions{})
		if err == nil {
			if name := pod.Labels["job-name"]; name != "" {
				jobs[name] = true
			}
			continue
		}
		jobs[id] = true
	}

	// Delete with foreground propagation to clean up pods
	propagation := metav1.DeletePropagationForeground
	for _, name := range slices.Sorted(maps.Keys(jobs)) {
		err := c.BatchV1().Jobs(p.config.Namespace).Delete(ctx, name, metav1.DeleteOptions{
			PropagationPolicy: &propagation,
		})
		if err != nil {
			return fmt.Errorf("failed to delete job %s: %w", name, err)
		}
		log.Printf("Deleted Kubernetes Job %s: %s", name, reason)
	}
	return nil
}
