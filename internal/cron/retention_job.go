package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
	"github.com/angelmondragon/kitafinder-backend/pkg/metrics"
)

const RetentionJobName = "billing-retention"

// PruneFunc deletes rows older than cutoff and reports how many went.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// RetentionTarget is one table the retention job keeps bounded.
type RetentionTarget struct {
	Name  string
	Keep  time.Duration
	Prune PruneFunc
}

type RetentionJobParams struct {
	Logger  *logger.Logger
	Metrics *metrics.CronJobMetrics
	Targets []RetentionTarget
}

type retentionJob struct {
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	targets []RetentionTarget
	now     func() time.Time
}

// NewRetentionJob prunes every target in turn. A failing target does not
// stop the others; all failures are reported together.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if len(params.Targets) == 0 {
		return nil, errors.New("at least one retention target required")
	}
	for _, t := range params.Targets {
		if t.Name == "" || t.Prune == nil {
			return nil, errors.New("retention target needs a name and prune func")
		}
		if t.Keep <= 0 {
			return nil, fmt.Errorf("retention target %s: keep must be positive", t.Name)
		}
	}
	return &retentionJob{
		logg:    params.Logger,
		metrics: params.Metrics,
		targets: params.Targets,
		now:     time.Now,
	}, nil
}

func (j *retentionJob) Name() string { return RetentionJobName }

func (j *retentionJob) Run(ctx context.Context) error {
	var errs error
	now := j.now().UTC()
	for _, target := range j.targets {
		cutoff := now.Add(-target.Keep)
		deleted, err := target.Prune(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune %s: %w", target.Name, err))
			continue
		}
		j.metrics.AddPruned(target.Name, deleted)
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"target":       target.Name,
			"cutoff":       cutoff,
			"rows_deleted": deleted,
		}), "retention cleanup complete")
	}
	return errs
}
