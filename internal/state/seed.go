package state

import (
	"context"

	"github.com/discode/discode/internal/common/config"
)

// Seed provisions projects and instances from the config file into the store.
// Existing entries are left alone so a persistent store can be re-seeded at
// every boot.
func Seed(ctx context.Context, store Store, projects []config.ProjectConfig) error {
	for _, p := range projects {
		if _, err := store.GetProject(ctx, p.Name); err != nil {
			project := &Project{
				Name:      p.Name,
				Path:      p.Path,
				ChannelID: p.ChannelID,
			}
			if err := store.CreateProject(ctx, project); err != nil {
				return err
			}
		}

		for _, i := range p.Instances {
			if i.ID != "" {
				if _, err := store.GetInstance(ctx, p.Name, i.ID); err == nil {
					continue
				}
			}
			kind := i.Kind
			if kind == "" {
				kind = KindTerminal
			}
			instance := &Instance{
				ID:          i.ID,
				ProjectName: p.Name,
				AgentType:   i.AgentType,
				ChannelID:   i.ChannelID,
				WindowID:    i.WindowID,
				Kind:        kind,
				Command:     i.Command,
				Primary:     i.Primary,
			}
			if err := store.CreateInstance(ctx, instance); err != nil {
				return err
			}
		}
	}
	return nil
}
