package importer

import (
	"context"
	"time"

	"github.com/ethpandaops/importoor/pkg/gateway"
	"github.com/ethpandaops/importoor/pkg/metrics"
	"github.com/ethpandaops/importoor/pkg/report"
	"github.com/ethpandaops/importoor/pkg/spec"
	"github.com/ethpandaops/importoor/pkg/versionset"
	"github.com/sirupsen/logrus"
)

// Executor performs the create-or-update of one API against the gateway,
// with bounded retry.
type Executor interface {
	ImportOne(ctx context.Context, desc *spec.Descriptor) report.Outcome
}

// executor implements Executor.
type executor struct {
	log     logrus.FieldLogger
	client  gateway.Client
	sets    versionset.Manager
	policy  RetryPolicy
	metrics *metrics.Metrics
}

// Ensure executor implements Executor.
var _ Executor = (*executor)(nil)

// NewExecutor creates an import executor. Metrics may be nil.
func NewExecutor(
	log logrus.FieldLogger,
	client gateway.Client,
	sets versionset.Manager,
	policy RetryPolicy,
	m *metrics.Metrics,
) Executor {
	return &executor{
		log:     log.WithField("component", "executor"),
		client:  client,
		sets:    sets,
		policy:  policy,
		metrics: m,
	}
}

// ImportOne runs the attempt loop for one item. Each attempt ensures the
// version set, imports the spec and attaches the version metadata. Exactly
// one Outcome is produced regardless of the path taken:
//
//   - 200: import and metadata update succeeded
//   - 500: import succeeded, metadata update failed (never retried; the
//     imported API is left in place)
//   - 400: every attempt failed
func (e *executor) ImportOne(ctx context.Context, desc *spec.Descriptor) report.Outcome {
	log := e.log.WithFields(logrus.Fields{
		"api":     desc.Identity,
		"version": desc.VersionID,
	})

	start := time.Now()

	var lastErr error

	attempt := 0

	for attempt < e.policy.MaxAttempts {
		attempt++

		log.WithField("attempt", attempt).Info("Importing API")

		if e.metrics != nil {
			e.metrics.RecordImportAttempt()
		}

		ref, err := e.attemptImport(ctx, desc)
		if err != nil {
			lastErr = err

			log.WithError(err).WithField("attempt", attempt).Warn("Import attempt failed")

			if attempt >= e.policy.MaxAttempts {
				break
			}

			if e.metrics != nil {
				e.metrics.RecordImportRetry()
			}

			if waitErr := e.policy.Wait(ctx); waitErr != nil {
				log.WithError(waitErr).Warn("Backoff interrupted, abandoning item")

				break
			}

			continue
		}

		// Import succeeded; attach the version identifier to the set.
		// A failure here is not retried: re-importing a spec that already
		// succeeded just to fix metadata is not worth it.
		if err := e.client.UpdateAPI(ctx, desc.Identity, desc.VersionID, ref.ResourceID); err != nil {
			log.WithError(err).Error("Failed to update version metadata")

			return report.Outcome{
				Identity:       desc.Identity,
				SourceLocation: desc.SourceLocation,
				StatusCode:     report.StatusMetadataFailed,
				Attempts:       attempt,
				Error:          err.Error(),
				Duration:       time.Since(start),
			}
		}

		log.WithField("attempts", attempt).Info("API imported")

		return report.Outcome{
			Identity:       desc.Identity,
			SourceLocation: desc.SourceLocation,
			StatusCode:     report.StatusImported,
			Attempts:       attempt,
			Duration:       time.Since(start),
		}
	}

	log.WithError(lastErr).WithField("attempts", attempt).Error("Import failed, retries exhausted")

	outcome := report.Outcome{
		Identity:       desc.Identity,
		SourceLocation: desc.SourceLocation,
		StatusCode:     report.StatusImportFailed,
		Attempts:       attempt,
		Duration:       time.Since(start),
	}

	if lastErr != nil {
		outcome.Error = lastErr.Error()
	}

	return outcome
}

// attemptImport performs one attempt: ensure the version set, then import.
// A version set creation failure is terminal for this attempt; retries
// happen at the whole-item level.
func (e *executor) attemptImport(ctx context.Context, desc *spec.Descriptor) (*gateway.VersionSetRef, error) {
	ref, err := e.sets.Ensure(ctx, desc.APIPath)
	if err != nil {
		return nil, err
	}

	if err := e.client.ImportAPI(ctx, desc.Identity, desc.DisplayName, desc.APIPath, desc.Content); err != nil {
		return nil, err
	}

	return ref, nil
}
