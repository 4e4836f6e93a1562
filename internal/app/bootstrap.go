// Package app is the composition root. Bootstrap stays orchestration-only;
// construction lives in the modules package.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/api/handlers"
	"procurement.io/orchestrator/internal/app/modules"
	"procurement.io/orchestrator/internal/config"
	"procurement.io/orchestrator/internal/infrastructure"
	"procurement.io/orchestrator/internal/pkg/logger"
	"procurement.io/orchestrator/internal/pkg/telemetry"
	"procurement.io/orchestrator/internal/pkg/worker"
	"procurement.io/orchestrator/internal/usecase"
)

// Version is stamped at build time with
// -ldflags "-X procurement.io/orchestrator/internal/app.Version=...".
var Version = "dev"

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	Service *usecase.OrchestrationService
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module

	infra             *modules.Infrastructure
	telemetryShutdown telemetry.ShutdownFunc
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}
	fail := func(format string, err error) (*Application, error) {
		infra.Close()
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf(format, err)
	}

	relayModule := modules.NewRelayModule(infra)
	workers := river.NewWorkers()
	relayModule.RegisterWorkers(workers)
	if err := infra.InitRiver(workers, relayModule.PeriodicJobs()); err != nil {
		return fail("init river workers: %w", err)
	}

	orchestrationModule, err := modules.NewOrchestrationModule(infra)
	if err != nil {
		return fail("init orchestration module: %w", err)
	}

	allModules := []modules.Module{relayModule, orchestrationModule}
	server := handlers.NewServer(modules.NewServerDeps(cfg, allModules))

	logger.Info("Application bootstrapped",
		zap.String("version", Version),
		zap.Bool("outbox", infra.Outbox),
	)
	return &Application{
		Config:            cfg,
		Router:            newRouter(cfg, server),
		Service:           orchestrationModule.Service(),
		DB:                infra.DB,
		Pools:             infra.Pools,
		Modules:           allModules,
		infra:             infra,
		telemetryShutdown: shutdownTracing,
	}, nil
}
