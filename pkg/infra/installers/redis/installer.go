package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/raibid-labs/raibid/pkg/infra"
	"github.com/raibid-labs/raibid/pkg/infra/cluster"
)

// -----------------------------------------------------------------------------
// Redis Installer
// -----------------------------------------------------------------------------

const (
	// Namespace is where the Redis release is deployed.
	Namespace = "raibid-redis"

	// ReleaseName is the Helm release name.
	ReleaseName = "raibid-redis"

	// HelmRepoName and HelmRepoURL identify the chart repository.
	HelmRepoName = "bitnami"
	HelmRepoURL  = "https://charts.bitnami.com/bitnami"

	// ChartName is the chart reference installed from the repo.
	ChartName = "bitnami/redis"

	// NodePort exposes the Redis master on the host, which is also the
	// single node.
	NodePort = 30379

	// JobStream is the Redis Stream carrying CI jobs.
	JobStream = "raibid:jobs"

	// ConsumerGroup is the consumer group the build agents join.
	ConsumerGroup = "raibid-workers"
)

// streamClient is the slice of Redis the validator needs; the indirection
// keeps unit tests off a live server.
type streamClient interface {
	Ping(ctx context.Context) error
	EnsureGroup(ctx context.Context, stream, group string) error
	GroupExists(ctx context.Context, stream, group string) (bool, error)
	Close() error
}

// -----------------------------------------------------------------------------
// Redis Installer - Builder
// -----------------------------------------------------------------------------

type Builder struct {
	chartVersion string
	namespace    string
}

func NewBuilder() *Builder {
	return &Builder{namespace: Namespace}
}

// WithChartVersion pins the chart version instead of the repo's latest.
func (b *Builder) WithChartVersion(version string) *Builder {
	b.chartVersion = version
	return b
}

// WithNamespace overrides the target namespace.
func (b *Builder) WithNamespace(namespace string) *Builder {
	b.namespace = namespace
	return b
}

func (b *Builder) Build(c cluster.Client, logger *logrus.Entry) *Installer {
	return &Installer{
		cluster:      c,
		logger:       logger.WithField("component", infra.ComponentRedis),
		chartVersion: b.chartVersion,
		namespace:    b.namespace,
		connect:      connectRedis,
	}
}

// New provides a Redis installer with defaults.
func New(c cluster.Client, logger *logrus.Entry) *Installer {
	return NewBuilder().Build(c, logger)
}

// -----------------------------------------------------------------------------
// Redis Installer - Implementation
// -----------------------------------------------------------------------------

// Installer deploys the Redis instance backing the job queue and prepares
// the raibid:jobs stream for the build agents.
type Installer struct {
	cluster      cluster.Client
	logger       *logrus.Entry
	chartVersion string
	namespace    string

	password string
	connect  func(addr, password string) streamClient
}

func (i *Installer) Component() infra.Component {
	return infra.ComponentRedis
}

func (i *Installer) Requirements() infra.SystemRequirements {
	return infra.SystemRequirements{
		MinDiskGB:           5,
		MinMemoryGB:         1,
		RequiredExecutables: []string{"helm"},
		OptionalExecutables: []string{"redis-cli"},
		RequiredEndpoints: []infra.Endpoint{
			{Name: "bitnami chart repo", Address: HelmRepoURL},
		},
	}
}

func (i *Installer) Install(ctx context.Context, rb *infra.RollbackContext) error {
	if err := i.ensurePassword(); err != nil {
		return err
	}

	deployed, err := i.cluster.HelmReleaseDeployed(ctx, i.namespace, ReleaseName)
	if err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentRedis, infra.PhaseInstallation,
			"could not query existing release", "verify helm can reach the cluster", err)
	}

	created, err := i.cluster.EnsureNamespace(ctx, i.namespace)
	if err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentRedis, infra.PhaseInstallation,
			fmt.Sprintf("could not create namespace %s", i.namespace),
			"verify the cluster API is reachable", err)
	}
	if created {
		rb.RecordNamespace(i.namespace)
	}

	if err := i.cluster.HelmRepoAdd(ctx, HelmRepoName, HelmRepoURL); err != nil {
		return infra.Transient(infra.ErrDownload, infra.ComponentRedis, infra.PhaseDownload,
			"could not register the bitnami chart repo",
			"check network connectivity to "+HelmRepoURL, err)
	}

	// Only a fresh install gets an undo: rolling back an upgrade must not
	// delete a release that predates this invocation.
	if !deployed {
		rb.RecordHelmRelease(i.namespace, ReleaseName)
	}

	chart := cluster.Chart{
		RepoName:  HelmRepoName,
		RepoURL:   HelmRepoURL,
		Chart:     ChartName,
		Release:   ReleaseName,
		Namespace: i.namespace,
		Version:   i.chartVersion,
		Values: map[string]string{
			"architecture":                     "standalone",
			"auth.password":                    i.password,
			"master.service.type":              "NodePort",
			"master.service.nodePorts.redis":   strconv.Itoa(NodePort),
			"master.persistence.size":          "2Gi",
			"replica.replicaCount":             "0",
			"master.resources.requests.memory": "256Mi",
			"master.resources.requests.cpu":    "100m",
		},
	}
	if err := i.cluster.HelmUpgradeInstall(ctx, chart); err != nil {
		return infra.Transient(infra.ErrInstallation, infra.ComponentRedis, infra.PhaseInstallation,
			"helm deploy of redis failed",
			"inspect the helm output; the operation is safe to retry", err)
	}
	return nil
}

func (i *Installer) Checker() infra.HealthChecker {
	return cluster.NewReleaseChecker(i.cluster, i.namespace, ReleaseName)
}

func (i *Installer) ReadyTimeout() time.Duration {
	return 5 * time.Minute
}

// Validate confirms Redis answers PING and that the job stream and consumer
// group the build agents attach to exist, creating them when missing.
func (i *Installer) Validate(ctx context.Context) error {
	if err := i.ensurePassword(); err != nil {
		return err
	}
	client := i.connect(i.addr(), i.password)
	defer client.Close()

	err := infra.Retry(ctx, infra.QuickRetry(), infra.ComponentRedis, infra.PhaseValidation, "redis ping", func(ctx context.Context) error {
		if err := client.Ping(ctx); err != nil {
			return infra.Transient(infra.ErrValidation, infra.ComponentRedis, infra.PhaseValidation,
				"redis did not answer PING at "+i.addr(),
				"verify the NodePort service is exposed and the password matches",
				err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := client.EnsureGroup(ctx, JobStream, ConsumerGroup); err != nil {
		return infra.Transient(infra.ErrValidation, infra.ComponentRedis, infra.PhaseValidation,
			fmt.Sprintf("could not create consumer group %s on stream %s", ConsumerGroup, JobStream),
			"create the group manually with XGROUP CREATE and re-run validation",
			err)
	}

	exists, err := client.GroupExists(ctx, JobStream, ConsumerGroup)
	if err != nil {
		return infra.Transient(infra.ErrValidation, infra.ComponentRedis, infra.PhaseValidation,
			"could not list consumer groups", "verify the stream exists", err)
	}
	if !exists {
		return infra.Fatal(infra.ErrValidation, infra.ComponentRedis, infra.PhaseValidation,
			fmt.Sprintf("consumer group %s missing from stream %s after creation", ConsumerGroup, JobStream),
			"inspect the redis server logs", nil)
	}
	return nil
}

func (i *Installer) Credentials(context.Context) (*infra.Credentials, error) {
	if err := i.ensurePassword(); err != nil {
		return nil, err
	}
	return &infra.Credentials{
		Component: infra.ComponentRedis,
		URL:       fmt.Sprintf("redis://:%s@127.0.0.1:%d", i.password, NodePort),
		Username:  "default",
		Password:  i.password,
		Namespace: i.namespace,
	}, nil
}

func (i *Installer) Installed(ctx context.Context) (bool, error) {
	return i.cluster.HelmReleaseDeployed(ctx, i.namespace, ReleaseName)
}

func (i *Installer) Uninstall(ctx context.Context) error {
	exists, err := i.cluster.NamespaceExists(ctx, i.namespace)
	if err != nil {
		return err
	}
	if !exists {
		// nothing deployed; stale credentials may still linger
		return infra.RemoveCredentials(infra.ComponentRedis)
	}
	if err := i.cluster.HelmUninstall(ctx, i.namespace, ReleaseName); err != nil {
		return err
	}
	if err := i.cluster.DeleteNamespace(ctx, i.namespace); err != nil {
		return err
	}
	return infra.RemoveCredentials(infra.ComponentRedis)
}

// ensurePassword reuses the password from a previous install so an upgrade
// never rotates credentials out from under running agents.
func (i *Installer) ensurePassword() error {
	if i.password != "" {
		return nil
	}
	if creds, err := infra.ReadCredentials(infra.ComponentRedis); err == nil && creds.Password != "" {
		i.password = creds.Password
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		i.logger.WithError(err).Warn("ignoring unreadable credentials file, generating a new password")
	}
	password, err := infra.GeneratePassword()
	if err != nil {
		return infra.Fatal(infra.ErrInstallation, infra.ComponentRedis, infra.PhaseConfiguration,
			"could not generate an admin password", "check the system entropy source", err)
	}
	i.password = password
	return nil
}

func (i *Installer) addr() string {
	return fmt.Sprintf("127.0.0.1:%d", NodePort)
}

// -----------------------------------------------------------------------------
// Redis Installer - Stream Client
// -----------------------------------------------------------------------------

type redisStreamClient struct {
	client *goredis.Client
}

func connectRedis(addr, password string) streamClient {
	return &redisStreamClient{
		client: goredis.NewClient(&goredis.Options{
			Addr:        addr,
			Password:    password,
			DialTimeout: 5 * time.Second,
		}),
	}
}

func (r *redisStreamClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisStreamClient) EnsureGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists" {
		return nil
	}
	return err
}

func (r *redisStreamClient) GroupExists(ctx context.Context, stream, group string) (bool, error) {
	groups, err := r.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return false, err
	}
	for _, g := range groups {
		if g.Name == group {
			return true, nil
		}
	}
	return false, nil
}

func (r *redisStreamClient) Close() error {
	return r.client.Close()
}
