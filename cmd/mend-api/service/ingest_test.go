package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mend/common/cache"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/workflow"
)

type fakeTickets struct {
	byKey       map[string]*models.Ticket
	lookupCalls int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{byKey: make(map[string]*models.Ticket)}
}

func (f *fakeTickets) Create(ctx context.Context, t *models.Ticket) error {
	f.byKey[t.ExternalKey] = t
	return nil
}

func (f *fakeTickets) GetByExternalKey(ctx context.Context, key string) (*models.Ticket, error) {
	f.lookupCalls++
	return f.byKey[key], nil
}

func (f *fakeTickets) UpdateMeta(ctx context.Context, id uuid.UUID, meta map[string]interface{}) error {
	for _, t := range f.byKey {
		if t.ID == id {
			t.Meta = meta
		}
	}
	return nil
}

type fakeWorkflowStore struct {
	workflows map[uuid.UUID]*models.Workflow
}

func (s *fakeWorkflowStore) GetByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error) {
	return s.workflows[ticketID], nil
}

func (s *fakeWorkflowStore) Create(ctx context.Context, w *models.Workflow) error {
	s.workflows[w.TicketID] = w
	return nil
}

func (s *fakeWorkflowStore) Update(ctx context.Context, w *models.Workflow) error {
	s.workflows[w.TicketID] = w
	return nil
}

func (s *fakeWorkflowStore) CountByState(ctx context.Context) (map[models.State]int, error) {
	return nil, nil
}

func (s *fakeWorkflowStore) CountMetaFlag(ctx context.Context, key string) (int, error) {
	return 0, nil
}

type fakeDispatcher struct {
	dispatched int
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ticketID uuid.UUID, stage models.Stage, params map[string]interface{}) error {
	d.dispatched++
	return nil
}

func newTestIngest(t *testing.T) (*IngestService, *fakeTickets, cache.Cache, *fakeDispatcher) {
	t.Helper()
	log := logger.New("error", "json")
	tickets := newFakeTickets()
	c := cache.NewMemoryCache(log)
	t.Cleanup(func() { _ = c.Close() })

	dispatcher := &fakeDispatcher{}
	machine := workflow.NewMachine(&fakeWorkflowStore{workflows: make(map[uuid.UUID]*models.Workflow)}, nil, dispatcher, 5, log)
	return NewIngestService(tickets, c, machine, log), tickets, c, dispatcher
}

func ingestInput(key string) *IngestInput {
	return &IngestInput{ExternalKey: key, ProjectID: "proj", Title: "fix the thing"}
}

func TestIngest_CreatesTicketAndStartsWorkflow(t *testing.T) {
	s, tickets, _, dispatcher := newTestIngest(t)

	res, err := s.Ingest(context.Background(), ingestInput("PROJ-1"))
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, models.StateIngested, res.Workflow.State)
	assert.Equal(t, 1, dispatcher.dispatched)
	require.NotNil(t, tickets.byKey["PROJ-1"])
}

func TestIngest_ValidatesRequiredFields(t *testing.T) {
	s, _, _, _ := newTestIngest(t)

	_, err := s.Ingest(context.Background(), &IngestInput{ProjectID: "proj", Title: "x"})
	require.Error(t, err)
	_, err = s.Ingest(context.Background(), &IngestInput{ExternalKey: "K-1", Title: "x"})
	require.Error(t, err)
	_, err = s.Ingest(context.Background(), &IngestInput{ExternalKey: "K-1", ProjectID: "proj"})
	require.Error(t, err)
}

func TestIngest_SecondIngestServedFromCache(t *testing.T) {
	s, tickets, _, _ := newTestIngest(t)

	first, err := s.Ingest(context.Background(), ingestInput("PROJ-2"))
	require.NoError(t, err)
	assert.Equal(t, 1, tickets.lookupCalls)

	// Re-posting the same key resolves through the cache, not the store
	second, err := s.Ingest(context.Background(), ingestInput("PROJ-2"))
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.Ticket.ID, second.Ticket.ID)
	assert.Equal(t, 1, tickets.lookupCalls)
}

func TestIngest_MetaRefreshReachesCache(t *testing.T) {
	s, _, c, _ := newTestIngest(t)

	_, err := s.Ingest(context.Background(), ingestInput("PROJ-3"))
	require.NoError(t, err)

	in := ingestInput("PROJ-3")
	in.Meta = map[string]interface{}{"repo_url": "git@example.com:proj.git"}
	res, err := s.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Resumed)

	data, ok, err := c.Get(context.Background(), ticketCacheKey("PROJ-3"))
	require.NoError(t, err)
	require.True(t, ok)

	cached := &models.Ticket{}
	require.NoError(t, json.Unmarshal(data, cached))
	assert.Equal(t, "git@example.com:proj.git", cached.Meta["repo_url"])
}

func TestIngest_WorksWithoutCache(t *testing.T) {
	log := logger.New("error", "json")
	tickets := newFakeTickets()
	machine := workflow.NewMachine(&fakeWorkflowStore{workflows: make(map[uuid.UUID]*models.Workflow)}, nil, &fakeDispatcher{}, 5, log)
	s := NewIngestService(tickets, nil, machine, log)

	_, err := s.Ingest(context.Background(), ingestInput("PROJ-4"))
	require.NoError(t, err)

	res, err := s.Ingest(context.Background(), ingestInput("PROJ-4"))
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 2, tickets.lookupCalls)
}
