// Package main seeds directory users, document projections and workflow
// templates from a YAML file.
//
// Events written while seeding stay PENDING in the outbox; the server's
// stale relay job delivers them.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/config"
	"github.com/s35241607/ticket-system/internal/infrastructure"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/repository/postgres"
	"github.com/s35241607/ticket-system/internal/resolver"
	"github.com/s35241607/ticket-system/internal/usecase"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	fileFlag := &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "Path to the seed YAML file",
		Required: true,
		Sources:  cli.EnvVars("SEED_FILE"),
	}
	return &cli.Command{
		Name:  "seed",
		Usage: "Seed the approval engine from a YAML file",
		Commands: []*cli.Command{
			{
				Name:    "validate",
				Aliases: []string{"v"},
				Usage:   "Check a seed file without touching the database",
				Flags:   []cli.Flag{fileFlag},
				Action: func(_ context.Context, command *cli.Command) error {
					file, err := loadSeedFile(command.String("file"))
					if err != nil {
						return err
					}
					fmt.Printf("ok: %d users, %d documents, %d workflows\n",
						len(file.Users), len(file.Documents), len(file.Workflows))
					return nil
				},
			},
			{
				Name:  "apply",
				Usage: "Write the seed file to the database",
				Flags: []cli.Flag{
					fileFlag,
					&cli.BoolFlag{
						Name:  "migrate",
						Usage: "Apply schema migrations before seeding",
					},
				},
				Action: runApply,
			},
		},
	}
}

func loadSeedFile(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return parseSeedFile(raw)
}

func runApply(ctx context.Context, command *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	file, err := loadSeedFile(command.String("file"))
	if err != nil {
		return err
	}

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if command.Bool("migrate") {
		if err := db.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	store := postgres.NewStore(db.Pool)
	directory := store.Directory()
	engine := usecase.NewEngine(
		store,
		store.Documents(),
		resolver.New(directory),
		resolver.NewManagerEscalator(directory, cfg.Approval.EscalationFallbackUser()),
		nil,
		usecase.Config{SystemUserID: cfg.Approval.SystemUser()},
	)

	s := &seeder{
		workflows: engine,
		directory: directory,
		documents: store.Documents(),
		actor:     cfg.Approval.SystemUser(),
	}
	logger.Info("Starting data seeding...")
	report, err := s.apply(ctx, file)
	if err != nil {
		return err
	}
	logger.Info("Data seeding completed successfully",
		zap.Int("users", report.Users),
		zap.Int("documents", report.Documents),
		zap.Int("workflows_created", report.WorkflowsCreated),
		zap.Int("workflows_skipped", report.WorkflowsSkipped),
	)
	return nil
}
