// Package app is the composition root. Bootstrap stays orchestration-only:
// modules own their wiring.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"github.com/s35241607/ticket-system/internal/api/handlers"
	"github.com/s35241607/ticket-system/internal/app/modules"
	"github.com/s35241607/ticket-system/internal/config"
	"github.com/s35241607/ticket-system/internal/infrastructure"
	"github.com/s35241607/ticket-system/internal/pkg/worker"
	"github.com/s35241607/ticket-system/internal/usecase"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Engine  *usecase.Engine
	Modules []modules.Module

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	approvalModule, err := modules.NewApprovalModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init approval module: %w", err)
	}
	eventsModule, err := modules.NewEventsModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init events module: %w", err)
	}
	allModules := []modules.Module{
		approvalModule,
		eventsModule,
		modules.NewGovernanceModule(infra),
	}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config:  cfg,
		Router:  newRouter(server),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Engine:  approvalModule.Engine(),
		Modules: allModules,
		infra:   infra,
	}, nil
}
