// Package state holds the project and agent-instance registry the bridge
// resolves hook events and chat messages against.
package state

import (
	"context"
	"time"
)

// Instance kinds.
const (
	KindTerminal = "terminal" // lives in a runtime window, receives keystrokes
	KindSDK      = "sdk"      // in-process runner, receives messages directly
)

// Project is a working directory bound to a chat channel.
type Project struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	ChannelID  string    `json:"channelId"`
	LastActive time.Time `json:"lastActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Instance is one agent under a project. Terminal instances carry a window
// target; SDK instances are keyed into the runner registry by ID.
type Instance struct {
	ID          string    `json:"id"`
	ProjectName string    `json:"projectName"`
	AgentType   string    `json:"agentType"`
	ChannelID   string    `json:"channelId"` // empty means inherit the project channel
	WindowID    string    `json:"windowId"`
	Kind        string    `json:"kind"`
	Command     string    `json:"command"` // runner launch command for SDK instances
	Primary     bool      `json:"primary"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Channel returns the channel this instance posts to, falling back to the
// project channel.
func (i *Instance) Channel(p *Project) string {
	if i.ChannelID != "" {
		return i.ChannelID
	}
	return p.ChannelID
}

// Store is the registry storage interface. Implementations must be safe for
// concurrent use.
type Store interface {
	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	DeleteProject(ctx context.Context, name string) error
	TouchProject(ctx context.Context, name string, at time.Time) error

	// Instance operations
	CreateInstance(ctx context.Context, instance *Instance) error
	GetInstance(ctx context.Context, projectName, key string) (*Instance, error)
	ListInstances(ctx context.Context, projectName string) ([]*Instance, error)
	DeleteInstance(ctx context.Context, id string) error
	PrimaryInstance(ctx context.Context, projectName string) (*Instance, error)

	// ResolveChannel maps a chat channel to its project and instance.
	// An instance-level channel wins; a project-level channel resolves to
	// the project's primary instance.
	ResolveChannel(ctx context.Context, channelID string) (*Project, *Instance, error)

	// Close releases storage resources.
	Close() error
}
