package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/marshal/internal/config"
	"github.com/berfenger/marshal/internal/dispatch"
	"github.com/berfenger/marshal/pkg/energy_device"
	_ "github.com/joho/godotenv/autoload"
)

// Agent is the part of the daemon the status server reports on and triggers.
type Agent interface {
	Healthy() bool
	LastReport() (*dispatch.CycleReport, error)
	TryRunOnce(ctx context.Context) (*dispatch.CycleReport, error)
	Hardware() config.HardwareConfig
	Family() energy_device.Family
}

type Server struct {
	port    uint
	httpLog bool
	agent   Agent
	metrics http.Handler
}

func NewServer(cfg config.Config, agent Agent, metrics http.Handler) *http.Server {
	NewServer := &Server{
		port:    cfg.Daemon.Port,
		httpLog: cfg.Daemon.HttpLog,
		agent:   agent,
		metrics: metrics,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return server
}
