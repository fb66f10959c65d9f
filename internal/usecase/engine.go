// Package usecase orchestrates the approval core: it loads aggregates,
// applies one transition, persists the result and forwards drained events,
// all inside one transaction per command.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/tracing"
	"github.com/s35241607/ticket-system/internal/pkg/worker"
)

// Escalator picks who a step is escalated to.
type Escalator interface {
	EscalationTarget(ctx context.Context, approvers []uuid.UUID) (uuid.UUID, error)
}

// Config holds engine settings.
type Config struct {
	// SystemUserID acts for automatic decisions such as auto-approval on timeout.
	SystemUserID uuid.UUID
	// SweepBatchSize bounds how many timed out approvals one sweep handles.
	SweepBatchSize int
}

// Engine runs approval commands.
type Engine struct {
	store     domain.Store
	documents domain.DocumentReader
	resolvers domain.Resolvers
	escalator Escalator
	sweepPool *worker.Pool
	cfg       Config
	validate  *validator.Validate
	now       func() time.Time
}

// NewEngine creates an engine. sweepPool may be nil, in which case timed-out
// approvals are handled one after another.
func NewEngine(
	store domain.Store,
	documents domain.DocumentReader,
	resolvers domain.Resolvers,
	escalator Escalator,
	sweepPool *worker.Pool,
	cfg Config,
) *Engine {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	return &Engine{
		store:     store,
		documents: documents,
		resolvers: resolvers,
		escalator: escalator,
		sweepPool: sweepPool,
		cfg:       cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}

type eventSource interface {
	TakeEvents() []domain.Event
}

// publish drains every source in order and hands the events to the sink.
func publish(ctx context.Context, repos domain.Repositories, sources ...eventSource) error {
	var events []domain.Event
	for _, s := range sources {
		events = append(events, s.TakeEvents()...)
	}
	if len(events) == 0 {
		return nil
	}
	if err := repos.Events.Publish(ctx, events); err != nil {
		return fmt.Errorf("publish %d events: %w", len(events), err)
	}
	return nil
}

// run executes fn in one transaction under a span named approval.<op>.
func (e *Engine) run(ctx context.Context, op string, actor uuid.UUID, fn func(ctx context.Context, repos domain.Repositories) error, attrs ...attribute.KeyValue) (err error) {
	ctx, span := tracing.StartSpan(ctx, "approval."+op, attrs...)
	defer tracing.End(span, &err)

	if actor != uuid.Nil {
		ctx = domain.WithActor(ctx, actor)
	}
	return e.store.WithinTx(ctx, fn)
}

func (e *Engine) check(entity domain.Entity, cmd any) error {
	err := e.validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &domain.ValidationError{Entity: entity, Message: err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return &domain.ValidationError{Entity: entity, Message: strings.Join(msgs, "; ")}
}

func (e *Engine) loadDocument(ctx context.Context, id uuid.UUID) (domain.DocumentView, error) {
	doc, err := e.documents.GetDocumentView(ctx, id)
	if err != nil {
		return domain.DocumentView{}, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

func loadApproval(ctx context.Context, repos domain.Repositories, id uuid.UUID) (*domain.Approval, error) {
	a, err := repos.Approvals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load approval %s: %w", id, err)
	}
	return a, nil
}

func loadWorkflow(ctx context.Context, repos domain.Repositories, id uuid.UUID) (*domain.Workflow, error) {
	w, err := repos.Workflows.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	return w, nil
}

// currentStep returns the workflow step the approval is waiting on.
func currentStep(a *domain.Approval, wf *domain.Workflow) (*domain.Step, error) {
	if a.CurrentStepID == nil {
		return nil, &domain.StateError{From: a.Status, Operation: "current_step"}
	}
	step := wf.StepByID(*a.CurrentStepID)
	if step == nil {
		return nil, &domain.ValidationError{
			Entity:  domain.EntityApproval,
			Message: fmt.Sprintf("current step %s no longer exists in workflow %s", *a.CurrentStepID, wf.ID),
		}
	}
	return step, nil
}
