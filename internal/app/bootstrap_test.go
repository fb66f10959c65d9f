package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s35241607/ticket-system/internal/config"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestBootstrap_NoDB(t *testing.T) {
	// Bootstrap without a real database should fail at DB connection.
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     65432, // Non-existent port
			User:     "test",
			Password: "test",
			Database: "test",
			SSLMode:  "disable",
			MaxConns: 5,
			MinConns: 1,
		},
		Worker: config.WorkerConfig{
			GeneralPoolSize: 10,
			SweepPoolSize:   5,
		},
		Approval: config.ApprovalConfig{
			TimeoutSweepSchedule: "*/5 * * * *",
		},
	}

	ctx := context.Background()
	app, err := Bootstrap(ctx, cfg)
	require.Error(t, err, "Bootstrap should fail without database")
	assert.Nil(t, app, "Application should be nil on bootstrap failure")
}

func TestApplication_Config(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Log:    config.LogConfig{Level: "error", Format: "json"},
	}

	app := &Application{
		Config: cfg,
	}

	assert.Equal(t, 8080, app.Config.Server.Port, "Port should be set correctly")
}

func TestApplication_StartWithoutRiver(t *testing.T) {
	app := &Application{}
	assert.NoError(t, app.Start(context.Background()))
}

func TestApplication_Shutdown_Nil(t *testing.T) {
	// Shutdown on empty application should not panic.
	app := &Application{}

	assert.NotPanics(t, func() {
		app.Shutdown()
	}, "Shutdown on empty Application should not panic")
}

type fakeStopper struct {
	stopErr   error
	cancelled bool
}

func (f *fakeStopper) Stop(context.Context) error { return f.stopErr }

func (f *fakeStopper) StopAndCancel(context.Context) error {
	f.cancelled = true
	return nil
}

func TestStopJobs(t *testing.T) {
	tests := []struct {
		name       string
		stopErr    error
		wantCancel bool
	}{
		{"graceful", nil, false},
		{"deadline cancels running jobs", context.DeadlineExceeded, true},
		{"other error does not cancel", errors.New("already stopped"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStopper{stopErr: tt.stopErr}
			stopJobs(context.Background(), s, time.Second)
			assert.Equal(t, tt.wantCancel, s.cancelled)
		})
	}
}

func TestApplication_JobStopTimeout(t *testing.T) {
	assert.Equal(t, defaultJobStopTimeout, (&Application{}).jobStopTimeout())

	cfg := &config.Config{}
	cfg.Server.ShutdownTimeout = 5 * time.Second
	assert.Equal(t, 5*time.Second, (&Application{Config: cfg}).jobStopTimeout())
}
