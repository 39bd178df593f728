package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
)

// serviceStopTimeout bounds how long the service manager waits for a
// graceful shutdown.
const serviceStopTimeout = 45 * time.Second

// Program adapts Run to the service manager lifecycle.
type Program struct {
	params RunParams
	cancel context.CancelFunc
	done   chan error
}

var _ service.Interface = (*Program)(nil)

// NewProgram creates a Program that runs chatmem with params.
func NewProgram(params RunParams) *Program {
	return &Program{params: params}
}

// Start implements service.Interface. It must not block.
func (p *Program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- Run(ctx, p.params)
	}()
	return nil
}

// Stop implements service.Interface.
func (p *Program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(serviceStopTimeout):
		return errors.New("app: service stop timed out")
	}
}

// NewService builds the system service definition. The service re-executes
// the current binary with "service run" and an absolute config path.
func NewService(params RunParams) (service.Service, error) {
	args := []string{"service", "run"}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("app: resolving config path: %w", err)
		}
		params.ConfigPath = abs
		args = append(args, "--config", abs)
	}
	if params.DataDir != "" {
		args = append(args, "--data-dir", params.DataDir)
	}

	cfg := &service.Config{
		Name:        "chatmem",
		DisplayName: "chatmem",
		Description: "Bounded conversation history with automatic summarization.",
		Arguments:   args,
	}
	svc, err := service.New(NewProgram(params), cfg)
	if err != nil {
		return nil, fmt.Errorf("app: creating service: %w", err)
	}
	return svc, nil
}

// StatusString renders a service status for humans.
func StatusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
