package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/queue"
)

// QueueDispatcher publishes stage and repair jobs onto the pipeline streams.
// It implements workflow.Dispatcher so the state machine can schedule the
// next stage without knowing about queue topology.
type QueueDispatcher struct {
	queue        queue.Queue
	stageStream  string
	repairStream string
	delay        time.Duration
	log          *logger.Logger
}

// NewQueueDispatcher creates a dispatcher over the given queue
func NewQueueDispatcher(q queue.Queue, stageStream, repairStream string, delay time.Duration, log *logger.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		queue:        q,
		stageStream:  stageStream,
		repairStream: repairStream,
		delay:        delay,
		log:          log,
	}
}

// Dispatch enqueues a stage job for a ticket. First delivery is attempt 1;
// the worker re-dispatches with an incremented attempt on handler failure.
func (d *QueueDispatcher) Dispatch(ctx context.Context, ticketID uuid.UUID, stage models.Stage, params map[string]interface{}) error {
	job := &models.StageJob{
		TicketID:   ticketID,
		Stage:      stage,
		Attempt:    1,
		Params:     params,
		EnqueuedAt: time.Now().UTC(),
	}
	return d.publishStage(ctx, job)
}

// Redispatch re-enqueues a stage job after a transient handler failure,
// preserving the delivery counter carried in the payload.
func (d *QueueDispatcher) Redispatch(ctx context.Context, job *models.StageJob) error {
	next := *job
	next.Attempt++
	next.EnqueuedAt = time.Now().UTC()
	return d.publishStage(ctx, &next)
}

// DispatchRepair enqueues a repair attempt for a captured failure bundle
func (d *QueueDispatcher) DispatchRepair(ctx context.Context, ticketID uuid.UUID, bundlePath string, attemptNumber int) error {
	job := &models.RepairJob{
		TicketID:      ticketID,
		BundlePath:    bundlePath,
		AttemptNumber: attemptNumber,
		EnqueuedAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode repair job: %w", err)
	}

	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.log.Info("dispatching repair job",
		"ticket_id", ticketID.String(),
		"bundle_path", bundlePath,
		"attempt_number", attemptNumber,
	)
	return d.queue.Publish(ctx, d.repairStream, ticketID.String(), payload)
}

func (d *QueueDispatcher) publishStage(ctx context.Context, job *models.StageJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode stage job: %w", err)
	}

	// Small settle delay so the state write that triggered the dispatch
	// is visible to the consumer
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.log.Info("dispatching stage job",
		"ticket_id", job.TicketID.String(),
		"stage", string(job.Stage),
		"attempt", job.Attempt,
	)
	return d.queue.Publish(ctx, d.stageStream, job.TicketID.String(), payload)
}
