package sdkrunner

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/state"
)

// Provision starts a process runner for every configured SDK instance that
// carries a runner command and registers it under the instance id. Failures
// are logged per instance; one broken runner must not block the rest.
func Provision(ctx context.Context, store state.Store, reg *Registry, sink EventSink, log *logger.Logger) {
	projects, err := store.ListProjects(ctx)
	if err != nil {
		log.Warn("Failed to list projects for runner provisioning", zap.Error(err))
		return
	}
	for _, project := range projects {
		instances, err := store.ListInstances(ctx, project.Name)
		if err != nil {
			log.Warn("Failed to list instances", zap.String("project", project.Name), zap.Error(err))
			continue
		}
		for _, instance := range instances {
			if instance.Kind != state.KindSDK {
				continue
			}
			command := strings.Fields(instance.Command)
			if len(command) == 0 {
				log.Warn("SDK instance has no runner command",
					zap.String("project", project.Name),
					zap.String("instance", instance.ID))
				continue
			}
			runner, err := StartProcessRunner(ctx, command, project.Path, sink, log)
			if err != nil {
				log.Warn("Failed to start SDK runner",
					zap.String("project", project.Name),
					zap.String("instance", instance.ID),
					zap.Error(err))
				continue
			}
			reg.Register(instance.ID, runner)
			log.Info("Started SDK runner",
				zap.String("project", project.Name),
				zap.String("instance", instance.ID),
				zap.String("command", command[0]))
		}
	}
}
