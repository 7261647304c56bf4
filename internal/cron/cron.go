package cron

import (
	"context"
	"os"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/enum"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/tracing"
)

const (
	// GroupJobRecords guards retention pruning
	GroupJobRecords = "job_records"
	// GroupOutbound guards the undelivered reply sweeper
	GroupOutbound = "outbound"

	// LeaseName is the k8s Lease used for leader election
	LeaseName = "supportstack-cron-leader"
	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupJobRecords: new(sync.Mutex),
		GroupOutbound:   new(sync.Mutex),
	},
}

type undeliveredRequeuer interface {
	RequeueUndelivered(ctx context.Context) (int, error)
}

// RetentionPolicy bounds the job records kept per class and state.
type RetentionPolicy struct {
	State   enum.JobState
	Keep    int
	KeepFor time.Duration
}

type CronManager struct {
	cfg        *config.Config
	log        logger.Logger
	cron       *cronv3.Cron
	k8s        kubernetes.Interface
	stopCh     chan struct{}
	stopOnce   sync.Once
	jobIDs     map[string]cronv3.EntryID
	jobRecords interfaces.JobRecordRepository
	requeuer   undeliveredRequeuer
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, jobRecords interfaces.JobRecordRepository, requeuer undeliveredRequeuer) *CronManager {
	return &CronManager{
		cfg:        cfg,
		log:        log,
		k8s:        k8s,
		stopCh:     make(chan struct{}),
		jobIDs:     make(map[string]cronv3.EntryID),
		jobRecords: jobRecords,
		requeuer:   requeuer,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      LeaseName,
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}
		le.Run(context.Background())
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	cronConfig := cm.cfg.CronConfig

	if cronConfig.CronScheduleHeartbeat != "" {
		podName := ""
		if cm.cfg.AppConfig != nil {
			podName = cm.cfg.AppConfig.PodName
		}
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronSchedulePruneJobRecords != "" && cm.jobRecords != nil {
		id, err := c.AddFunc(cronConfig.CronSchedulePruneJobRecords, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupJobRecords].Lock()
			defer jobLocks.locks[GroupJobRecords].Unlock()
			cm.pruneJobRecords()
		})
		if err != nil {
			cm.log.Fatalf("Could not add job record pruning cron job: %v", err)
		}
		cm.jobIDs["prune_job_records"] = id
		cm.log.Infof("Registered job record pruning with schedule: %s", cronConfig.CronSchedulePruneJobRecords)
	}

	if cronConfig.CronScheduleRequeueUndelivered != "" && cm.requeuer != nil {
		id, err := c.AddFunc(cronConfig.CronScheduleRequeueUndelivered, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupOutbound].Lock()
			defer jobLocks.locks[GroupOutbound].Unlock()
			cm.requeueUndelivered()
		})
		if err != nil {
			cm.log.Fatalf("Could not add requeue cron job: %v", err)
		}
		cm.jobIDs["requeue_undelivered"] = id
		cm.log.Infof("Registered undelivered reply requeue with schedule: %s", cronConfig.CronScheduleRequeueUndelivered)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) retentionPolicies() []RetentionPolicy {
	q := cm.cfg.QueueConfig
	return []RetentionPolicy{
		{State: enum.JobStateCompleted, Keep: q.KeepCompleted, KeepFor: q.KeepCompletedFor},
		{State: enum.JobStateFailed, Keep: q.KeepFailed},
	}
}

func (cm *CronManager) pruneJobRecords() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.pruneJobRecords")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	var total int64
	for _, class := range enum.JobClasses {
		for _, policy := range cm.retentionPolicies() {
			removed, err := cm.jobRecords.Prune(ctx, class, policy.State, policy.Keep, policy.KeepFor)
			if err != nil {
				tracing.TraceErr(span, err)
				cm.log.Error("Failed to prune job records",
					zap.String("class", class.String()),
					zap.String("state", policy.State.String()),
					zap.Error(err))
				continue
			}
			total += removed
		}
	}
	span.SetTag("removed", total)
	if total > 0 {
		cm.log.Info("Pruned job records", zap.Int64("removed", total))
	}
}

func (cm *CronManager) requeueUndelivered() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.requeueUndelivered")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if _, err := cm.requeuer.RequeueUndelivered(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to requeue undelivered replies: %v", err)
	}
}
