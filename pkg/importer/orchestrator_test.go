package importer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/importoor/pkg/report"
	"github.com/ethpandaops/importoor/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const petsSpec = `openapi: 3.0.1
info:
  title: Pets
  version: v1
paths: {}
`

func writeSpec(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

// trackingExecutor records the maximum number of concurrent ImportOne calls.
type trackingExecutor struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	delay    time.Duration
}

var _ Executor = (*trackingExecutor)(nil)

func (e *trackingExecutor) ImportOne(_ context.Context, desc *spec.Descriptor) report.Outcome {
	e.mu.Lock()

	e.inFlight++
	if e.inFlight > e.maxSeen {
		e.maxSeen = e.inFlight
	}

	e.mu.Unlock()

	time.Sleep(e.delay)

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()

	return report.Outcome{
		Identity:       desc.Identity,
		SourceLocation: desc.SourceLocation,
		StatusCode:     report.StatusImported,
		Attempts:       1,
	}
}

// recordingUploader captures uploaded artifact names.
type recordingUploader struct {
	mu    sync.Mutex
	names []string
	runID string
}

func (u *recordingUploader) Upload(_ context.Context, runID, name string, _ []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.runID = runID
	u.names = append(u.names, name)

	return nil
}

func TestRunEmptySet(t *testing.T) {
	orch := NewOrchestrator(testLogger(), &trackingExecutor{}, nil, nil, 4, 0)

	run := orch.Run(context.Background(), nil)

	require.NotNil(t, run)
	assert.Zero(t, run.Len())
}

func TestRunConcurrencyCeiling(t *testing.T) {
	dir := t.TempDir()

	files := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		name := string(rune('a'+i)) + "-v1.yaml"
		files = append(files, writeSpec(t, dir, name, petsSpec))
	}

	exec := &trackingExecutor{delay: 10 * time.Millisecond}
	orch := NewOrchestrator(testLogger(), exec, nil, nil, 3, 0)

	run := orch.Run(context.Background(), files)

	assert.Equal(t, 20, run.Len())
	assert.LessOrEqual(t, exec.maxSeen, 3, "no more than the limit may run at once")
	assert.Greater(t, exec.maxSeen, 1, "the pool should actually run items in parallel")
}

func TestRunOneOutcomePerItem(t *testing.T) {
	dir := t.TempDir()

	good := writeSpec(t, dir, "pets-v1.yaml", petsSpec)
	malformed := writeSpec(t, dir, "broken.yaml", "{::not yaml::")
	first := writeSpec(t, dir, filepath.Join("a", "shared.yaml"), petsSpec)
	second := writeSpec(t, dir, filepath.Join("b", "shared.yaml"), petsSpec)

	orch := NewOrchestrator(testLogger(), &trackingExecutor{}, nil, nil, 1, 0)

	run := orch.Run(context.Background(), []string{good, malformed, first, second})

	require.Equal(t, 4, run.Len())

	outcomes := run.Outcomes()

	assert.Equal(t, report.StatusImported, outcomes["pets-v1"].StatusCode)
	assert.Equal(t, report.StatusImportFailed, outcomes["broken"].StatusCode)
	assert.Contains(t, outcomes["broken"].Error, malformed)

	// With one worker the dispatch order is the completion order, so the
	// first shared.yaml wins the identity and the second is rejected.
	assert.Equal(t, report.StatusImported, outcomes["shared"].StatusCode)
	assert.Equal(t, first, outcomes["shared"].SourceLocation)

	collided := outcomes["shared#"+second]
	assert.Equal(t, report.StatusImportFailed, collided.StatusCode)
	assert.Contains(t, collided.Error, "already claimed")
}

func TestRunMixedOutcomes(t *testing.T) {
	dir := t.TempDir()

	fileA := writeSpec(t, dir, "pets-v1.yaml", petsSpec)
	fileB := writeSpec(t, dir, "orders-v1.yaml", petsSpec)
	fileC := writeSpec(t, dir, "broken.yaml", "{::not yaml::")

	gw := newFakeGateway()
	gw.importFailures["orders-v1"] = 2

	exec := newTestExecutor(gw)
	orch := NewOrchestrator(testLogger(), exec, nil, nil, 2, 0)

	start := time.Now()
	run := orch.Run(context.Background(), []string{fileA, fileB, fileC})
	elapsed := time.Since(start)

	require.Equal(t, 3, run.Len())

	outcomes := run.Outcomes()

	assert.Equal(t, report.StatusImported, outcomes["pets-v1"].StatusCode)
	assert.Equal(t, 1, outcomes["pets-v1"].Attempts)

	assert.Equal(t, report.StatusImported, outcomes["orders-v1"].StatusCode)
	assert.Equal(t, 3, outcomes["orders-v1"].Attempts)

	assert.Equal(t, report.StatusImportFailed, outcomes["broken"].StatusCode)

	assert.GreaterOrEqual(t, elapsed, 2*testPolicy.Backoff,
		"two retries must each wait the fixed backoff")

	summary := run.Summarize()
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Imported)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.Degraded)
}

func TestRunUploadsArtifactsForImportedOnly(t *testing.T) {
	dir := t.TempDir()

	good := writeSpec(t, dir, "pets-v1.yaml", petsSpec)
	malformed := writeSpec(t, dir, "broken.yaml", "{::not yaml::")

	uploader := &recordingUploader{}
	orch := NewOrchestrator(testLogger(), &trackingExecutor{}, uploader, nil, 2, 0)

	run := orch.Run(context.Background(), []string{good, malformed})

	require.Equal(t, 2, run.Len())
	assert.Equal(t, []string{"pets-v1.yaml"}, uploader.names)
	assert.Equal(t, run.ID, uploader.runID)
}

func TestRunCancelledStopsDispatch(t *testing.T) {
	dir := t.TempDir()

	files := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		name := string(rune('a'+i)) + "-v1.yaml"
		files = append(files, writeSpec(t, dir, name, petsSpec))
	}

	exec := &trackingExecutor{delay: 50 * time.Millisecond}
	orch := NewOrchestrator(testLogger(), exec, nil, nil, 1, 0)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	run := orch.Run(ctx, files)

	assert.Less(t, run.Len(), 10, "cancellation must stop dispatching pending items")
}
