package failure

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mend/common/artifact"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	store := artifact.NewDiskStore(t.TempDir())
	return NewCollector(store, nil, logger.New("error", "json"))
}

func TestCapture_PersistsClassifiedBundle(t *testing.T) {
	c := newTestCollector(t)
	ticket := &models.Ticket{ID: uuid.New(), ExternalKey: "PROJ-9", ProjectID: "proj"}

	path, err := c.Capture(context.Background(), &CaptureInput{
		Err:         errors.New("lint check failed (exit 1)"),
		ErrKind:     "check",
		Ticket:      ticket,
		SourceStage: models.StageRunChecks,
		CheckType:   "lint",
		CommandLogs: []models.CommandLog{
			{Command: "golangci-lint run", Type: "lint", Output: "src/a.go:3: missing comment", ExitCode: 1},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, path)

	bundle, err := c.LoadBundle(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, bundle)

	assert.Equal(t, ticket.ID, bundle.TicketID)
	assert.Equal(t, string(models.StageRunChecks), bundle.SourceStage)
	assert.Equal(t, "check", bundle.Error.Kind)
	require.Len(t, bundle.CommandLogs, 1)
	require.NotEmpty(t, bundle.Suggestions)
	assert.Equal(t, models.SuggestLintFix, bundle.Suggestions[0].Type)
}

func TestCapture_KeepsOnlyRecentCommandLogs(t *testing.T) {
	c := newTestCollector(t)
	ticket := &models.Ticket{ID: uuid.New(), ExternalKey: "PROJ-10", ProjectID: "proj"}

	var logs []models.CommandLog
	for i := 0; i < 9; i++ {
		logs = append(logs, models.CommandLog{Command: "echo", Type: "shell", ExitCode: 0})
	}

	path, err := c.Capture(context.Background(), &CaptureInput{
		Err:         errors.New("boom"),
		ErrKind:     "exception",
		Ticket:      ticket,
		SourceStage: models.StageImplementPlan,
		CommandLogs: logs,
	})
	require.NoError(t, err)

	bundle, err := c.LoadBundle(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, bundle.CommandLogs, 5)
}

type fakePatchSource struct {
	patches []*models.Patch
}

func (f *fakePatchSource) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*models.Patch, error) {
	return f.patches, nil
}

func TestCapture_RecordsRecentPatchFiles(t *testing.T) {
	store := artifact.NewDiskStore(t.TempDir())
	patches := &fakePatchSource{patches: []*models.Patch{
		{ID: uuid.New(), FilesTouched: []string{"src/old.go"}},
		{ID: uuid.New(), FilesTouched: []string{"src/a.go", "src/b.go"}},
	}}
	c := NewCollector(store, patches, logger.New("error", "json"))
	ticket := &models.Ticket{ID: uuid.New(), ExternalKey: "PROJ-12", ProjectID: "proj"}

	path, err := c.Capture(context.Background(), &CaptureInput{
		Err:         errors.New("tests failed with no file reference"),
		ErrKind:     "check",
		Ticket:      ticket,
		SourceStage: models.StageRunChecks,
		CheckType:   "test",
	})
	require.NoError(t, err)

	bundle, err := c.LoadBundle(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, bundle)

	// The newest patch's files carry over for repair targeting
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, bundle.RecentFiles)
	assert.Len(t, bundle.RecentDiffs, 2)
}

func TestLatestBundle_FollowsPointer(t *testing.T) {
	c := newTestCollector(t)
	ticket := &models.Ticket{ID: uuid.New(), ExternalKey: "PROJ-11", ProjectID: "proj"}

	_, err := c.Capture(context.Background(), &CaptureInput{
		Err: errors.New("first failure"), ErrKind: "exception",
		Ticket: ticket, SourceStage: models.StagePlanTicket,
	})
	require.NoError(t, err)

	_, err = c.Capture(context.Background(), &CaptureInput{
		Err: errors.New("second failure"), ErrKind: "exception",
		Ticket: ticket, SourceStage: models.StageRunChecks,
	})
	require.NoError(t, err)

	latest, err := c.LatestBundle(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "second failure", latest.Error.Message)
}

func TestLatestBundle_NilWhenNothingCaptured(t *testing.T) {
	c := newTestCollector(t)
	latest, err := c.LatestBundle(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestLoadBundle_NilOnMissingPath(t *testing.T) {
	c := newTestCollector(t)
	bundle, err := c.LoadBundle(context.Background(), "artifacts/tickets/none/bundle.json")
	require.NoError(t, err)
	assert.Nil(t, bundle)
}
