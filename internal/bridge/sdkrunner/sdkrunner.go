// Package sdkrunner registers in-process agent runners for instances that
// have no terminal window. The router dispatches chat messages to them
// directly instead of typing keystrokes.
package sdkrunner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/errors"
	"github.com/discode/discode/internal/common/logger"
)

// Runner is one in-process agent. Implementations emit hook events back into
// the pipeline like any terminal agent would.
type Runner interface {
	// SubmitMessage delivers one user message to the agent.
	SubmitMessage(ctx context.Context, text string) error
}

// Registry maps instance ids to their runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
	logger  *logger.Logger
}

// NewRegistry creates an empty runner registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		runners: make(map[string]Runner),
		logger:  log.WithFields(zap.String("component", "sdkrunner-registry")),
	}
}

// Register binds a runner to an instance id, replacing any prior binding.
func (r *Registry) Register(instanceID string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[instanceID] = runner
}

// Unregister removes the runner for an instance id.
func (r *Registry) Unregister(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, instanceID)
}

// Get returns the runner for an instance id.
func (r *Registry) Get(instanceID string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[instanceID]
	if !ok {
		return nil, errors.NotFound("sdk runner", instanceID)
	}
	return runner, nil
}

// StopAll empties the registry and stops every runner that supports it.
func (r *Registry) StopAll() {
	r.mu.Lock()
	runners := r.runners
	r.runners = make(map[string]Runner)
	r.mu.Unlock()

	for id, runner := range runners {
		stopper, ok := runner.(interface{ Stop() error })
		if !ok {
			continue
		}
		if err := stopper.Stop(); err != nil {
			r.logger.Debug("runner stop", zap.String("instance", id), zap.Error(err))
		}
	}
}

// Submit dispatches a message to the instance's runner as a detached task.
// Delivery failures are logged; the caller's flow is never blocked.
func (r *Registry) Submit(instanceID, text string) error {
	runner, err := r.Get(instanceID)
	if err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runner.SubmitMessage(ctx, text); err != nil {
			r.logger.WithError(err).Warn("sdk runner submit failed",
				zap.String("instance", instanceID))
		}
	}()
	return nil
}
