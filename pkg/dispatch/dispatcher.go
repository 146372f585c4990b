package dispatch

import (
	"context"
	"fmt"

	"github.com/issueops/dispatchd/pkg/alloc"
	"github.com/issueops/dispatchd/pkg/event"
	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/queue"
	"github.com/issueops/dispatchd/pkg/telemetry"
	"github.com/issueops/dispatchd/pkg/workflow"
)

// Receipt is returned to the webhook caller after a dispatch is accepted.
// At that point the task is durably queued but not necessarily started.
type Receipt struct {
	TaskID     string
	InstanceID string
	Family     workflow.Family
	Phase      string
}

// Dispatcher turns a validated resolution into a durable queued task,
// creating the instance and reserving its resources when the request
// starts a new instance.
type Dispatcher struct {
	telemetry *telemetry.Telemetry
	store     *instance.Store
	allocator *alloc.Allocator
	tasks     *queue.Store
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(tel *telemetry.Telemetry, store *instance.Store, allocator *alloc.Allocator, tasks *queue.Store) *Dispatcher {
	return &Dispatcher{
		telemetry: tel,
		store:     store,
		allocator: allocator,
		tasks:     tasks,
	}
}

// Dispatch persists the dispatch and enqueues it. For a resolution without
// an instance id it creates a fresh instance with reserved resources first.
// Any failure is returned as a dispatch failure and leaves pre-existing
// instance documents unchanged: resuming an instance records the phase in
// its history only after the task is durably queued.
func (d *Dispatcher) Dispatch(ctx context.Context, cls *event.Classification, res workflow.Resolution) (*Receipt, error) {
	var inst *instance.Instance
	var err error

	resume := res.InstanceID != ""
	if resume {
		inst, err = d.store.Load(ctx, res.InstanceID)
		if err != nil {
			return nil, workflow.NewDispatchFailure(
				fmt.Sprintf("failed to load instance %s", res.InstanceID), err)
		}
	} else {
		inst, err = d.createInstance(ctx, cls, res)
		if err != nil {
			return nil, err
		}
	}

	model := inst.ModelSet
	if res.Model != "" {
		model = res.Model
	}

	task := &queue.Task{
		InstanceID:  inst.InstanceID,
		Family:      string(inst.Family),
		Phase:       res.Phase.Name,
		IssueNumber: cls.IssueNumber,
		Model:       model,
	}
	if err := d.tasks.Enqueue(ctx, task); err != nil {
		return nil, workflow.NewDispatchFailure(
			fmt.Sprintf("failed to enqueue %s for %s", res.Phase.Token, inst.InstanceID), err)
	}

	if resume {
		if err := d.recordResume(ctx, task, res); err != nil {
			return nil, err
		}
	}

	d.telemetry.Metrics.RecordDispatchEnqueued(task.Family, task.Phase)
	d.refreshGauges(ctx, inst.Family)

	d.telemetry.Logger.
		WithTaskID(task.ID).
		WithInstanceID(inst.InstanceID).
		WithFamily(task.Family).
		WithPhase(task.Phase).
		WithIssue(cls.IssueNumber).
		Info("Dispatch enqueued")

	return &Receipt{
		TaskID:     task.ID,
		InstanceID: inst.InstanceID,
		Family:     inst.Family,
		Phase:      res.Phase.Name,
	}, nil
}

// createInstance reserves resources and writes the initial document for a
// brand-new instance. The reservation is rolled back if the document cannot
// be written, so a failed creation leaves nothing behind.
func (d *Dispatcher) createInstance(ctx context.Context, cls *event.Classification, res workflow.Resolution) (*instance.Instance, error) {
	family := res.Phase.Family
	id := instance.NewID(family)

	allocation, err := d.allocator.Reserve(ctx, family, id, cls.IssueTitle)
	if err != nil {
		return nil, workflow.NewDispatchFailure(
			fmt.Sprintf("failed to reserve resources for new %s instance", family), err)
	}

	inst := &instance.Instance{
		InstanceID:   id,
		Family:       family,
		PhaseHistory: []string{res.Phase.Name},
		IssueNumber:  cls.IssueNumber,
		BranchName:   allocation.BranchName,
		ModelSet:     res.Model,
		WorktreePath: allocation.WorktreePath,
		Ports:        allocation.Ports,
	}

	if err := d.store.Create(ctx, inst); err != nil {
		if relErr := d.allocator.Release(ctx, inst); relErr != nil {
			d.telemetry.Logger.WithError(relErr).WithInstanceID(id).Warn("Failed to roll back allocation")
		}
		return nil, workflow.NewDispatchFailure(
			fmt.Sprintf("failed to persist new instance %s", id), err)
	}

	return inst, nil
}

// recordResume appends the phase to the resumed instance's history, applying
// a model override when the trigger carried one. The queued task is marked
// failed if the history cannot be recorded, so it is never picked up for an
// instance whose document does not reflect it.
func (d *Dispatcher) recordResume(ctx context.Context, task *queue.Task, res workflow.Resolution) error {
	attrs := instance.Attrs{
		IssueNumber: task.IssueNumber,
		ModelSet:    res.Model,
	}
	if _, err := d.store.Append(ctx, task.InstanceID, res.Phase.Name, attrs); err != nil {
		if failErr := d.tasks.Complete(ctx, task.ID, err); failErr != nil {
			d.telemetry.Logger.WithError(failErr).WithTaskID(task.ID).Warn("Failed to abandon orphaned task")
		}
		return workflow.NewDispatchFailure(
			fmt.Sprintf("failed to record %s for %s", res.Phase.Token, task.InstanceID), err)
	}
	return nil
}

func (d *Dispatcher) refreshGauges(ctx context.Context, family workflow.Family) {
	if count, err := d.store.ActiveCount(ctx, family); err == nil {
		d.telemetry.Metrics.SetActiveInstances(string(family), float64(count))
	}
	if slots, err := d.allocator.ReservedSlots(family); err == nil {
		d.telemetry.Metrics.SetPortSlotsReserved(string(family), float64(slots))
	}
}
