package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
	corev1 "k8s.io/api/core/v1"
	apiextclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	apiextv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Public Types - Cluster Client
// -----------------------------------------------------------------------------

// Chart describes a Helm release to deploy.
type Chart struct {
	RepoName  string
	RepoURL   string
	Chart     string
	Release   string
	Namespace string
	Version   string
	Values    map[string]string
}

// Client is the narrow, typed surface through which the installer core
// touches the cluster. Keeping it small lets unit tests run against the Fake
// while integration tests exercise the real implementation.
type Client interface {
	// APIReachable verifies the API server responds.
	APIReachable(ctx context.Context) error

	// ServerVersion reports the Kubernetes server version.
	ServerVersion(ctx context.Context) (semver.Version, error)

	// NodesReady counts nodes with a true Ready condition.
	NodesReady(ctx context.Context) (ready, total int, err error)

	// EnsureNamespace creates the namespace if missing, reporting whether
	// this call created it.
	EnsureNamespace(ctx context.Context, name string) (created bool, err error)

	// NamespaceExists reports whether the namespace is present.
	NamespaceExists(ctx context.Context, name string) (bool, error)

	// DeleteNamespace removes the namespace; a missing namespace is not
	// an error.
	DeleteNamespace(ctx context.Context, name string) error

	// PodsRunning counts pods in Running or Succeeded phase.
	PodsRunning(ctx context.Context, namespace string) (running, total int, err error)

	// WorkloadsAvailable reports whether every deployment, statefulset
	// and daemonset in the namespace has its desired replicas available,
	// naming the ones still waited on.
	WorkloadsAvailable(ctx context.Context, namespace string) (waiting []string, ok bool, err error)

	// CRDEstablished reports whether the named CustomResourceDefinition
	// exists and has an Established condition of true.
	CRDEstablished(ctx context.Context, name string) (bool, error)

	// HelmRepoAdd idempotently registers a chart repository and refreshes
	// the local index.
	HelmRepoAdd(ctx context.Context, name, url string) error

	// HelmUpgradeInstall deploys or upgrades a release (helm upgrade
	// --install semantics, safe to re-run).
	HelmUpgradeInstall(ctx context.Context, chart Chart) error

	// HelmUninstall removes a release; a missing release is not an error.
	HelmUninstall(ctx context.Context, namespace, release string) error

	// HelmReleaseDeployed reports whether the release exists with
	// deployed status.
	HelmReleaseDeployed(ctx context.Context, namespace, release string) (bool, error)
}

// -----------------------------------------------------------------------------
// Cluster Client - Implementation
// -----------------------------------------------------------------------------

type client struct {
	kube       kubernetes.Interface
	ext        apiextclient.Interface
	kubeconfig string
	helm       helmCLI
	logger     *logrus.Entry
}

// NewForKubeconfig builds a Client from a kubeconfig path. Typed Kubernetes
// access goes through client-go; Helm operations shell out to the helm CLI
// pinned to the same kubeconfig.
func NewForKubeconfig(kubeconfig string, logger *logrus.Entry) (Client, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig %s: %w", kubeconfig, err)
	}
	kube, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	ext, err := apiextclient.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &client{
		kube:       kube,
		ext:        ext,
		kubeconfig: kubeconfig,
		helm:       helmCLI{kubeconfig: kubeconfig},
		logger:     logger,
	}, nil
}

func (c *client) APIReachable(ctx context.Context) error {
	_, err := c.kube.Discovery().ServerVersion()
	return err
}

func (c *client) ServerVersion(context.Context) (semver.Version, error) {
	info, err := c.kube.Discovery().ServerVersion()
	if err != nil {
		return semver.Version{}, err
	}
	raw := strings.TrimPrefix(info.GitVersion, "v")
	// strip distro suffixes such as "+k3s1"
	if i := strings.IndexAny(raw, "+"); i >= 0 {
		raw = raw[:i]
	}
	return semver.Parse(raw)
}

func (c *client) NodesReady(ctx context.Context) (int, int, error) {
	nodes, err := c.kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, 0, err
	}
	ready := 0
	for _, node := range nodes.Items {
		for _, cond := range node.Status.Conditions {
			if cond.Type == corev1.NodeReady && cond.Status == corev1.ConditionTrue {
				ready++
				break
			}
		}
	}
	return ready, len(nodes.Items), nil
}

func (c *client) EnsureNamespace(ctx context.Context, name string) (bool, error) {
	_, err := c.kube.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return false, nil
		}
		return false, err
	}
	c.logger.Infof("created namespace %s", name)
	return true, nil
}

func (c *client) NamespaceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.kube.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *client) DeleteNamespace(ctx context.Context, name string) error {
	err := c.kube.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *client) PodsRunning(ctx context.Context, namespace string) (int, int, error) {
	pods, err := c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return 0, 0, err
	}
	running := 0
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning || pod.Status.Phase == corev1.PodSucceeded {
			running++
		}
	}
	return running, len(pods.Items), nil
}

func (c *client) WorkloadsAvailable(ctx context.Context, namespace string) ([]string, bool, error) {
	var waiting []string

	deployments, err := c.kube.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, false, err
	}
	for i := range deployments.Items {
		d := &deployments.Items[i]
		if d.Spec.Replicas != nil && d.Status.AvailableReplicas != *d.Spec.Replicas {
			waiting = append(waiting, "deployment/"+d.Name)
		}
	}

	statefulsets, err := c.kube.AppsV1().StatefulSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, false, err
	}
	for i := range statefulsets.Items {
		s := &statefulsets.Items[i]
		if s.Spec.Replicas != nil && s.Status.ReadyReplicas != *s.Spec.Replicas {
			waiting = append(waiting, "statefulset/"+s.Name)
		}
	}

	daemonsets, err := c.kube.AppsV1().DaemonSets(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, false, err
	}
	for i := range daemonsets.Items {
		d := &daemonsets.Items[i]
		if d.Status.NumberAvailable < d.Status.DesiredNumberScheduled {
			waiting = append(waiting, "daemonset/"+d.Name)
		}
	}

	// an empty namespace is not available: something is expected to exist
	total := len(deployments.Items) + len(statefulsets.Items) + len(daemonsets.Items)
	if total == 0 {
		return []string{"no workloads found in namespace " + namespace}, false, nil
	}
	return waiting, len(waiting) == 0, nil
}

func (c *client) CRDEstablished(ctx context.Context, name string) (bool, error) {
	crd, err := c.ext.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	for _, cond := range crd.Status.Conditions {
		if cond.Type == apiextv1.Established && cond.Status == apiextv1.ConditionTrue {
			return true, nil
		}
	}
	return false, nil
}

func (c *client) HelmRepoAdd(ctx context.Context, name, url string) error {
	return c.helm.repoAdd(ctx, name, url)
}

func (c *client) HelmUpgradeInstall(ctx context.Context, chart Chart) error {
	return c.helm.upgradeInstall(ctx, chart)
}

func (c *client) HelmUninstall(ctx context.Context, namespace, release string) error {
	return c.helm.uninstall(ctx, namespace, release)
}

func (c *client) HelmReleaseDeployed(ctx context.Context, namespace, release string) (bool, error) {
	return c.helm.releaseDeployed(ctx, namespace, release)
}
