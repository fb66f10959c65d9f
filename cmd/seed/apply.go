package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/repository/postgres"
	"github.com/s35241607/ticket-system/internal/usecase"
)

// workflowSeeder is the part of the engine the seeder needs.
type workflowSeeder interface {
	WorkflowByName(ctx context.Context, name string) (*domain.Workflow, error)
	CreateWorkflow(ctx context.Context, cmd usecase.CreateWorkflowCommand) (*domain.Workflow, error)
}

type directoryWriter interface {
	UpsertUser(ctx context.Context, u postgres.DirectoryUser) error
}

type documentWriter interface {
	UpsertDocument(ctx context.Context, title string, view domain.DocumentView) error
}

// seedReport counts what one run wrote.
type seedReport struct {
	Users            int
	Documents        int
	WorkflowsCreated int
	WorkflowsSkipped int
}

type seeder struct {
	workflows workflowSeeder
	directory directoryWriter
	documents documentWriter
	actor     uuid.UUID
}

// apply writes users first so that manager references resolve, then
// documents, then workflows. Existing workflows are matched by name and left
// untouched, so a run is idempotent.
func (s *seeder) apply(ctx context.Context, file *seedFile) (seedReport, error) {
	var report seedReport

	for _, u := range file.Users {
		if err := s.directory.UpsertUser(ctx, u.directoryUser()); err != nil {
			return report, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		report.Users++
	}

	for _, d := range file.Documents {
		if err := s.documents.UpsertDocument(ctx, d.Title, d.view()); err != nil {
			return report, fmt.Errorf("seed document %s: %w", d.ID, err)
		}
		report.Documents++
	}

	for _, w := range file.Workflows {
		_, err := s.workflows.WorkflowByName(ctx, w.Name)
		switch {
		case err == nil:
			logger.Info("workflow exists, skipping", zap.String("workflow", w.Name))
			report.WorkflowsSkipped++
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return report, fmt.Errorf("look up workflow %q: %w", w.Name, err)
		}

		cmd, err := w.command(s.actor)
		if err != nil {
			return report, err
		}
		created, err := s.workflows.CreateWorkflow(ctx, cmd)
		if err != nil {
			return report, fmt.Errorf("create workflow %q: %w", w.Name, err)
		}
		logger.Info("workflow seeded",
			zap.String("workflow", created.Name),
			zap.String("workflow_id", created.ID.String()),
			zap.Int("steps", len(cmd.Steps)),
		)
		report.WorkflowsCreated++
	}
	return report, nil
}
