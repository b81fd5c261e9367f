// Package pipeline accepts hook event POSTs, validates and resolves them,
// and dispatches handlers serialized per chat channel.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/agents"
	"github.com/discode/discode/internal/bridge/fallback"
	"github.com/discode/discode/internal/bridge/handlers"
	"github.com/discode/discode/internal/bridge/pending"
	"github.com/discode/discode/internal/bridge/streaming"
	"github.com/discode/discode/internal/bridge/timers"
	"github.com/discode/discode/internal/common/config"
	"github.com/discode/discode/internal/common/errors"
	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/events"
	"github.com/discode/discode/internal/events/bus"
	"github.com/discode/discode/internal/platform"
	"github.com/discode/discode/internal/runtime"
	"github.com/discode/discode/internal/state"
)

// MaxBodyBytes is the hook POST body limit; anything larger is a 413.
const MaxBodyBytes = 256 * 1024

// ensurePendingTypes synthesize a pending entry when none exists, so hook
// bursts from terminal-initiated turns still render.
var ensurePendingTypes = map[string]bool{
	events.TypeToolActivity: true,
	events.TypeSessionIdle:  true,
	events.TypePromptSubmit: true,
}

// Pipeline owns the per-channel queues, the timer registries, and the
// dispatch path from validated envelope to handler.
type Pipeline struct {
	store     state.Store
	client    platform.Client
	tracker   *pending.Tracker
	streams   *streaming.Updater
	fallbacks *fallback.Scheduler
	handlers  *handlers.Set
	bus       bus.EventBus
	rt        runtime.Runtime
	agents    *agents.Catalog
	cfg       *config.Config
	logger    *logger.Logger

	queues    *channelQueues
	thinking  *timers.Registry
	lifecycle *timers.Registry
	prompts   *timers.Registry
}

// New wires a pipeline. rt may be nil when no terminal runtime is configured.
func New(cfg *config.Config, store state.Store, client platform.Client, tracker *pending.Tracker,
	streams *streaming.Updater, fallbacks *fallback.Scheduler, eventBus bus.EventBus,
	rt runtime.Runtime, catalog *agents.Catalog, log *logger.Logger) *Pipeline {

	p := &Pipeline{
		store:     store,
		client:    client,
		tracker:   tracker,
		streams:   streams,
		fallbacks: fallbacks,
		bus:       eventBus,
		rt:        rt,
		agents:    catalog,
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "event-pipeline")),
		queues:    newChannelQueues(),
		thinking:  timers.NewRegistry(),
		lifecycle: timers.NewRegistry(),
		prompts:   timers.NewRegistry(),
	}
	p.handlers = handlers.NewSet(handlers.Deps{
		Client:          client,
		Tracker:         tracker,
		Streams:         streams,
		Thinking:        p.thinking,
		Lifecycle:       p.lifecycle,
		Prompts:         p.prompts,
		Logger:          log,
		ApprovalTimeout: cfg.Prompts.ApprovalTimeout(),
		QuestionTimeout: cfg.Prompts.QuestionTimeout(),
	})
	return p
}

// Accept validates and enqueues one hook event. A nil return means the event
// was accepted (or deliberately ignored); handler errors never surface here.
func (p *Pipeline) Accept(ctx context.Context, event *events.Envelope) error {
	if err := event.Validate(); err != nil {
		return err
	}

	if !events.Recognized[event.Type] {
		p.logger.Info("ignoring unrecognized hook event",
			zap.String("type", event.Type),
			zap.String("project", event.ProjectName))
		return nil
	}

	// prompt.submit only comes from adapters that advertise the capability;
	// anything else emitting it is noise.
	if event.Type == events.TypePromptSubmit && p.agents != nil &&
		!p.agents.PromptSubmitSupported(event.EffectiveAgentType()) {
		p.logger.Debug("dropping prompt.submit from non-advertising agent",
			zap.String("agent", event.EffectiveAgentType()),
			zap.String("project", event.ProjectName))
		return nil
	}

	project, err := p.store.GetProject(ctx, event.ProjectName)
	if err != nil {
		p.logger.Warn("hook event for unknown project",
			zap.String("project", event.ProjectName),
			zap.String("type", event.Type))
		return errors.ProjectNotFound(event.ProjectName)
	}

	instanceKey := event.InstanceKey()
	instance, err := p.store.GetInstance(ctx, project.Name, instanceKey)
	if err != nil {
		instance, err = p.store.PrimaryInstance(ctx, project.Name)
		if err != nil {
			p.logger.Warn("hook event for unresolvable instance",
				zap.String("project", project.Name),
				zap.String("instance", instanceKey))
			return errors.ChannelUnresolved(project.Name, instanceKey)
		}
	}

	channelID := instance.Channel(project)
	if channelID == "" {
		return errors.ChannelUnresolved(project.Name, instanceKey)
	}

	key := pending.Key{Project: project.Name, Agent: event.EffectiveAgentType(), Instance: instanceKey}
	if ensurePendingTypes[event.Type] && !p.tracker.HasPending(key) {
		p.tracker.EnsurePending(project.Name, event.EffectiveAgentType(), channelID, instanceKey)
	}

	// Snapshot now: a newer markPending while this event waits in the queue
	// must not change what the handler sees.
	snapshot, hasPending := p.tracker.GetPending(key)

	hctx := &handlers.Context{
		Event:       event,
		Project:     project,
		Instance:    instance,
		ChannelID:   channelID,
		InstanceKey: instanceKey,
		Key:         key,
		Pending:     snapshot,
		HasPending:  hasPending,
	}

	enqueued := p.queues.Enqueue(channelID, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := p.handlers.Dispatch(jobCtx, hctx); err != nil {
			p.logger.WithError(err).Warn("handler failed",
				zap.String("type", event.Type),
				zap.String("channel", channelID))
		}
	})
	if !enqueued {
		p.logger.Warn("event dropped during shutdown", zap.String("type", event.Type))
		return nil
	}

	p.publish(event, project.Name, instanceKey)
	return nil
}

// publish mirrors the accepted event onto the bus for gateway subscribers.
func (p *Pipeline) publish(event *events.Envelope, project, instanceKey string) {
	if p.bus == nil {
		return
	}
	data := map[string]interface{}{
		"project":  project,
		"instance": instanceKey,
		"agent":    event.EffectiveAgentType(),
	}
	if text := event.BodyText(); text != "" {
		data["text"] = text
	}
	busEvent := bus.NewEvent(event.Type, "pipeline", data)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.bus.Publish(ctx, "discode.hook."+event.Type, busEvent); err != nil {
		p.logger.WithError(err).Debug("bus publish failed", zap.String("type", event.Type))
	}
}

// Shutdown stops timers and drains outstanding channel queues.
func (p *Pipeline) Shutdown(timeout time.Duration) {
	p.thinking.StopAll()
	p.lifecycle.StopAll()
	p.prompts.StopAll()
	if p.fallbacks != nil {
		p.fallbacks.Shutdown()
	}
	if !p.queues.Drain(timeout) {
		p.logger.Warn("channel queues did not settle before timeout")
	}
	p.streams.Shutdown()
}
