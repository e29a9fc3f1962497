package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

const defaultActivityTimeout = 30 * time.Minute

// ReportJob is the workflow input.
type ReportJob struct {
	ReportID    string `json:"report_id"`
	TimeoutMins int    `json:"timeout_mins,omitempty"`
}

// ReportWorkflow runs a single report as one activity with bounded
// retries. The activity only fails when a run was left unfinished.
func ReportWorkflow(ctx workflow.Context, job ReportJob) error {
	timeout := defaultActivityTimeout
	if job.TimeoutMins > 0 {
		timeout = time.Duration(job.TimeoutMins) * time.Minute
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    3,
		},
	})

	var a *Activities
	if err := workflow.ExecuteActivity(ctx, a.GenerateReport, job.ReportID).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("report workflow failed", "report_id", job.ReportID, "error", err)
		return err
	}
	return nil
}

// Activities are the Temporal activities backed by the pipeline.
type Activities struct {
	Runner Runner
}

// GenerateReport runs the pipeline for one report.
func (a *Activities) GenerateReport(ctx context.Context, id string) error {
	info := activity.GetInfo(ctx)
	zap.L().Info("dispatch: temporal activity started",
		zap.String("report_id", id),
		zap.Int32("attempt", info.Attempt),
	)
	err := runJob(ctx, a.Runner, id, 0)
	if err != nil && permanent(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "report_not_found", err)
	}
	return err
}

// TemporalDispatcher starts one workflow per report.
type TemporalDispatcher struct {
	client      client.Client
	taskQueue   string
	timeoutMins int
}

// NewTemporalDispatcher creates a dispatcher that starts workflows on taskQueue.
func NewTemporalDispatcher(c client.Client, taskQueue string, timeoutMins int) *TemporalDispatcher {
	return &TemporalDispatcher{client: c, taskQueue: taskQueue, timeoutMins: timeoutMins}
}

// WorkflowID is the workflow id used for a report. One report never has
// two workflows running.
func WorkflowID(reportID string) string { return "report-" + reportID }

// Dispatch implements Dispatcher.
func (d *TemporalDispatcher) Dispatch(ctx context.Context, id string) error {
	run, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(id),
		TaskQueue: d.taskQueue,
	}, ReportWorkflow, ReportJob{ReportID: id, TimeoutMins: d.timeoutMins})
	if err != nil {
		return eris.Wrapf(err, "dispatch: start workflow for %s", id)
	}
	zap.L().Debug("dispatch: workflow started",
		zap.String("report_id", id),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}

// NewTemporalWorker creates a worker that serves report workflows on
// taskQueue. The caller starts and stops it.
func NewTemporalWorker(c client.Client, taskQueue string, runner Runner, concurrency int) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: concurrency,
	})
	w.RegisterWorkflow(ReportWorkflow)
	w.RegisterActivity(&Activities{Runner: runner})
	return w
}
