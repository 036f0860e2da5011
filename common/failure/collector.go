package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/mend/common/artifact"
	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

// PatchSource supplies recent patch history for bundle context
type PatchSource interface {
	ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*models.Patch, error)
}

// Collector captures failures into immutable, persisted bundles and
// serves read access to them. Callers receive storage paths, never bundle
// objects, so they stay decoupled from serialization.
type Collector struct {
	store   artifact.Store
	patches PatchSource
	log     *logger.Logger
}

// NewCollector creates a failure collector
func NewCollector(store artifact.Store, patches PatchSource, log *logger.Logger) *Collector {
	return &Collector{
		store:   store,
		patches: patches,
		log:     log,
	}
}

// CaptureInput is everything a stage hands over when it fails
type CaptureInput struct {
	Err     error
	ErrKind string // "exception" | "validation" | "check"

	Ticket      *models.Ticket
	SourceStage models.Stage

	// The check that failed, when ErrKind is "check"
	CheckType string

	// Recent command executions from this ticket's workspace
	CommandLogs []models.CommandLog

	// Optional retrieval capability for nearby-code context
	Indexer capability.EmbeddingIndexer

	Extra map[string]interface{}
}

// Capture builds, classifies and persists a failure bundle, returning the
// artifact path it was stored at.
func (c *Collector) Capture(ctx context.Context, in *CaptureInput) (string, error) {
	now := time.Now().UTC()

	bundle := &models.FailureBundle{
		TicketID:    in.Ticket.ID,
		SourceStage: string(in.SourceStage),
		CapturedAt:  now,
		Error: models.BundleError{
			Kind:    errKind(in.ErrKind),
			Class:   errClass(in.Err),
			Message: in.Err.Error(),
		},
		CommandLogs: tail(in.CommandLogs, 5),
		Extra:       in.Extra,
	}

	// Nearby code context, reusing the planning retrieval mechanism.
	// Best-effort: a failed lookup must not mask the original failure.
	if in.Indexer != nil {
		chunks, err := in.Indexer.Search(ctx, in.Err.Error(), 3, in.Ticket.ProjectID)
		if err != nil {
			c.log.Warn("code context lookup failed during capture", "error", err)
		} else {
			bundle.CodeContext = chunks
		}
	}

	// Most recent patch summaries as diff context; the newest patch also
	// contributes its touched files as repair targets
	if c.patches != nil {
		patches, err := c.patches.ListByTicket(ctx, in.Ticket.ID)
		if err != nil {
			c.log.Warn("patch history lookup failed during capture", "error", err)
		} else if len(patches) > 0 {
			recent := lastPatches(patches, 3)
			for _, p := range recent {
				bundle.RecentDiffs = append(bundle.RecentDiffs,
					fmt.Sprintf("patch %s: %d files, +%d/-%d",
						p.ID, len(p.FilesTouched), p.Stats.LinesAdded, p.Stats.LinesRemoved))
			}
			bundle.RecentFiles = recent[len(recent)-1].FilesTouched
		}
	}

	bundle.Suggestions = Classify(bundle.Error, in.CheckType)

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal failure bundle: %w", err)
	}

	path := bundlePath(in.Ticket.ID, now)
	if err := c.store.Put(ctx, path, data); err != nil {
		return "", fmt.Errorf("persist failure bundle: %w", err)
	}

	// Update the per-ticket latest pointer
	if err := c.store.Put(ctx, latestPointer(in.Ticket.ID), []byte(path)); err != nil {
		c.log.Warn("failed to update latest bundle pointer", "ticket_id", in.Ticket.ID, "error", err)
	}

	c.log.WithTicket(in.Ticket.ID.String()).Info("failure bundle captured",
		"stage", in.SourceStage,
		"path", path,
		"suggestions", len(bundle.Suggestions))

	return path, nil
}

// LoadBundle reads a bundle by path; nil when missing
func (c *Collector) LoadBundle(ctx context.Context, path string) (*models.FailureBundle, error) {
	data, err := c.store.Get(ctx, path)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	bundle := &models.FailureBundle{}
	if err := json.Unmarshal(data, bundle); err != nil {
		return nil, fmt.Errorf("unmarshal failure bundle %s: %w", path, err)
	}
	return bundle, nil
}

// LatestBundle reads the most recent bundle for a ticket; nil when the
// ticket has never failed
func (c *Collector) LatestBundle(ctx context.Context, ticketID uuid.UUID) (*models.FailureBundle, error) {
	pointer, err := c.store.Get(ctx, latestPointer(ticketID))
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.LoadBundle(ctx, string(pointer))
}

// bundlePath builds the unique storage path: ticket + date + timestamp
func bundlePath(ticketID uuid.UUID, t time.Time) string {
	return fmt.Sprintf("artifacts/tickets/%s/%s/bundle-%d.json",
		ticketID, t.Format("2006-01-02"), t.UnixNano())
}

func latestPointer(ticketID uuid.UUID) string {
	return fmt.Sprintf("artifacts/tickets/%s/latest", ticketID)
}

func errKind(kind string) string {
	if kind == "" {
		return "exception"
	}
	return kind
}

func errClass(err error) string {
	return fmt.Sprintf("%T", err)
}

func tail(logs []models.CommandLog, n int) []models.CommandLog {
	if len(logs) <= n {
		return logs
	}
	return logs[len(logs)-n:]
}

func lastPatches(patches []*models.Patch, n int) []*models.Patch {
	if len(patches) <= n {
		return patches
	}
	return patches[len(patches)-n:]
}
