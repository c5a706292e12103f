package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/importoor/pkg/artifact"
	"github.com/ethpandaops/importoor/pkg/metrics"
	"github.com/ethpandaops/importoor/pkg/report"
	"github.com/ethpandaops/importoor/pkg/spec"
	"github.com/sirupsen/logrus"
)

// Orchestrator schedules item pipelines across the candidate set under a
// global concurrency ceiling.
type Orchestrator interface {
	Run(ctx context.Context, files []string) *report.Run
}

// orchestrator implements Orchestrator.
type orchestrator struct {
	log         logrus.FieldLogger
	executor    Executor
	uploader    artifact.Uploader // may be nil
	metrics     *metrics.Metrics  // may be nil
	concurrency int
	itemTimeout time.Duration

	// claimed maps identity to the source file that claimed it. A second
	// file mapping to the same identity is a defect in the spec tree and
	// is recorded as a failure rather than silently overwriting the first.
	claimed   map[string]string
	claimedMu sync.Mutex
}

// Ensure orchestrator implements Orchestrator.
var _ Orchestrator = (*orchestrator)(nil)

// NewOrchestrator creates an orchestrator. Uploader and metrics may be nil.
func NewOrchestrator(
	log logrus.FieldLogger,
	executor Executor,
	uploader artifact.Uploader,
	m *metrics.Metrics,
	concurrency int,
	itemTimeout time.Duration,
) Orchestrator {
	return &orchestrator{
		log:         log.WithField("component", "orchestrator"),
		executor:    executor,
		uploader:    uploader,
		metrics:     m,
		concurrency: concurrency,
		itemTimeout: itemTimeout,
	}
}

// Run processes the candidate files with a fixed-size worker pool. Workers
// pull from a shared channel, so a finished worker starts the next pending
// item immediately and a slow item never stalls unrelated ready work.
// Dispatch follows the input order; completion order is unconstrained.
func (o *orchestrator) Run(ctx context.Context, files []string) *report.Run {
	run := report.NewRun()

	if len(files) == 0 {
		o.log.Info("No spec files to process")

		return run
	}

	o.claimed = make(map[string]string, len(files))

	o.log.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"items":       len(files),
		"concurrency": o.concurrency,
	}).Info("Starting import run")

	jobs := make(chan string)

	var wg sync.WaitGroup

	for i := 0; i < o.concurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for file := range jobs {
				o.processFile(ctx, file, run)
			}
		}()
	}

feed:
	for _, file := range files {
		select {
		case jobs <- file:
		case <-ctx.Done():
			o.log.Warn("Run cancelled, no further items will be dispatched")

			break feed
		}
	}

	close(jobs)
	wg.Wait()

	o.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"items":  run.Len(),
	}).Info("Import run finished")

	return run
}

// processFile runs the full pipeline for one file and records exactly one
// outcome.
func (o *orchestrator) processFile(ctx context.Context, file string, run *report.Run) {
	if o.metrics != nil {
		o.metrics.ItemStarted()
		defer o.metrics.ItemFinished()
	}

	itemCtx := ctx

	if o.itemTimeout > 0 {
		var cancel context.CancelFunc

		itemCtx, cancel = context.WithTimeout(ctx, o.itemTimeout)
		defer cancel()
	}

	start := time.Now()

	outcome := o.processItem(itemCtx, file, run.ID)
	run.Record(outcome)

	if o.metrics != nil {
		o.metrics.RecordItem(fmt.Sprintf("%d", outcome.StatusCode), time.Since(start).Seconds())
	}
}

// processItem extracts the descriptor and executes the import. A malformed
// spec or an identity collision is contained here as a 400 outcome; it never
// aborts the run.
func (o *orchestrator) processItem(ctx context.Context, file, runID string) report.Outcome {
	desc, err := spec.Extract(file)
	if err != nil {
		var malformed *spec.MalformedSpecError
		if errors.As(err, &malformed) {
			o.log.WithError(err).WithField("file", file).Error("Skipping malformed spec")
		} else {
			o.log.WithError(err).WithField("file", file).Error("Failed to extract descriptor")
		}

		return report.Outcome{
			Identity:       identityFromPath(file),
			SourceLocation: file,
			StatusCode:     report.StatusImportFailed,
			Error:          err.Error(),
		}
	}

	if prev, ok := o.claim(desc.Identity, file); !ok {
		err := fmt.Errorf("identity %s already claimed by %s", desc.Identity, prev)

		o.log.WithError(err).WithField("file", file).Error("Identity collision")

		return report.Outcome{
			Identity:       desc.Identity,
			SourceLocation: file,
			StatusCode:     report.StatusImportFailed,
			Error:          err.Error(),
		}
	}

	outcome := o.executor.ImportOne(ctx, desc)

	if outcome.StatusCode == report.StatusImported {
		o.uploadArtifact(ctx, runID, desc)
	}

	return outcome
}

// claim reserves an identity for a source file. It returns the previous
// claimant and false when the identity is already taken by another file.
func (o *orchestrator) claim(identity, file string) (string, bool) {
	o.claimedMu.Lock()
	defer o.claimedMu.Unlock()

	if prev, ok := o.claimed[identity]; ok && prev != file {
		return prev, false
	}

	o.claimed[identity] = file

	return "", true
}

// uploadArtifact stores the imported spec in blob storage. Failures are
// logged and never affect the item's outcome.
func (o *orchestrator) uploadArtifact(ctx context.Context, runID string, desc *spec.Descriptor) {
	if o.uploader == nil {
		return
	}

	name := desc.Identity + filepath.Ext(desc.SourceLocation)

	err := o.uploader.Upload(ctx, runID, name, desc.Content)
	if err != nil {
		o.log.WithError(err).WithField("api", desc.Identity).Warn("Failed to upload spec artifact")
	}

	if o.metrics != nil {
		o.metrics.RecordArtifactUpload(err == nil)
	}
}

// identityFromPath derives the identity the extractor would have used, for
// outcomes recorded before extraction succeeds.
func identityFromPath(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}
