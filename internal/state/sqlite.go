package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/discode/discode/internal/common/errors"
)

// SQLiteStore implements Store on a SQLite database so the registry survives
// bridge restarts.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the registry database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the registry tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		channel_id TEXT DEFAULT '',
		last_active DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		project_name TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		channel_id TEXT DEFAULT '',
		window_id TEXT DEFAULT '',
		kind TEXT DEFAULT 'terminal',
		command TEXT DEFAULT '',
		is_primary INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (project_name) REFERENCES projects(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_instances_project ON instances(project_name);
	CREATE INDEX IF NOT EXISTS idx_instances_channel ON instances(channel_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateProject adds a project.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *Project) error {
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (name, path, channel_id, last_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, project.Name, project.Path, project.ChannelID, project.LastActive, project.CreatedAt, project.UpdatedAt)
	return err
}

// GetProject retrieves a project by name.
func (s *SQLiteStore) GetProject(ctx context.Context, name string) (*Project, error) {
	project := &Project{}
	var lastActive sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT name, path, channel_id, last_active, created_at, updated_at
		FROM projects WHERE name = ?
	`, name).Scan(&project.Name, &project.Path, &project.ChannelID, &lastActive, &project.CreatedAt, &project.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, errors.ProjectNotFound(name)
	}
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		project.LastActive = lastActive.Time
	}
	return project, nil
}

// ListProjects returns all projects.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, path, channel_id, last_active, created_at, updated_at
		FROM projects ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Project
	for rows.Next() {
		project := &Project{}
		var lastActive sql.NullTime
		if err := rows.Scan(&project.Name, &project.Path, &project.ChannelID, &lastActive, &project.CreatedAt, &project.UpdatedAt); err != nil {
			return nil, err
		}
		if lastActive.Valid {
			project.LastActive = lastActive.Time
		}
		result = append(result, project)
	}
	return result, rows.Err()
}

// DeleteProject removes a project; instances cascade.
func (s *SQLiteStore) DeleteProject(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ProjectNotFound(name)
	}
	return nil
}

// TouchProject records user activity on a project.
func (s *SQLiteStore) TouchProject(ctx context.Context, name string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET last_active = ?, updated_at = ? WHERE name = ?
	`, at, time.Now().UTC(), name)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ProjectNotFound(name)
	}
	return nil
}

// CreateInstance adds an instance under an existing project.
func (s *SQLiteStore) CreateInstance(ctx context.Context, instance *Instance) error {
	if instance.ID == "" {
		instance.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	instance.CreatedAt = now
	instance.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, project_name, agent_type, channel_id, window_id, kind, command, is_primary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, instance.ID, instance.ProjectName, instance.AgentType, instance.ChannelID, instance.WindowID, instance.Kind, instance.Command, instance.Primary, instance.CreatedAt, instance.UpdatedAt)
	return err
}

// GetInstance resolves an instance within a project by id, falling back to
// agent type.
func (s *SQLiteStore) GetInstance(ctx context.Context, projectName, key string) (*Instance, error) {
	instance, err := s.scanInstance(s.db.QueryRowContext(ctx, `
		SELECT id, project_name, agent_type, channel_id, window_id, kind, command, is_primary, created_at, updated_at
		FROM instances WHERE project_name = ? AND id = ?
	`, projectName, key))
	if err == nil {
		return instance, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	instance, err = s.scanInstance(s.db.QueryRowContext(ctx, `
		SELECT id, project_name, agent_type, channel_id, window_id, kind, command, is_primary, created_at, updated_at
		FROM instances WHERE project_name = ? AND agent_type = ? LIMIT 1
	`, projectName, key))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("instance", key)
	}
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ListInstances returns all instances under a project.
func (s *SQLiteStore) ListInstances(ctx context.Context, projectName string) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_name, agent_type, channel_id, window_id, kind, command, is_primary, created_at, updated_at
		FROM instances WHERE project_name = ? ORDER BY created_at
	`, projectName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Instance
	for rows.Next() {
		instance := &Instance{}
		if err := rows.Scan(&instance.ID, &instance.ProjectName, &instance.AgentType, &instance.ChannelID, &instance.WindowID, &instance.Kind, &instance.Command, &instance.Primary, &instance.CreatedAt, &instance.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, instance)
	}
	return result, rows.Err()
}

// DeleteInstance removes an instance by id.
func (s *SQLiteStore) DeleteInstance(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NotFound("instance", id)
	}
	return nil
}

// PrimaryInstance returns the project's primary instance, or its only
// instance when none is flagged.
func (s *SQLiteStore) PrimaryInstance(ctx context.Context, projectName string) (*Instance, error) {
	instance, err := s.scanInstance(s.db.QueryRowContext(ctx, `
		SELECT id, project_name, agent_type, channel_id, window_id, kind, command, is_primary, created_at, updated_at
		FROM instances WHERE project_name = ? AND is_primary = 1 LIMIT 1
	`, projectName))
	if err == nil {
		return instance, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	instances, err := s.ListInstances(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if len(instances) == 1 {
		return instances[0], nil
	}
	return nil, errors.NotFound("primary instance", projectName)
}

// ResolveChannel maps a chat channel to its project and instance.
func (s *SQLiteStore) ResolveChannel(ctx context.Context, channelID string) (*Project, *Instance, error) {
	instance, err := s.scanInstance(s.db.QueryRowContext(ctx, `
		SELECT id, project_name, agent_type, channel_id, window_id, kind, command, is_primary, created_at, updated_at
		FROM instances WHERE channel_id = ? LIMIT 1
	`, channelID))
	if err == nil {
		project, perr := s.GetProject(ctx, instance.ProjectName)
		if perr != nil {
			return nil, nil, perr
		}
		return project, instance, nil
	}
	if err != sql.ErrNoRows {
		return nil, nil, err
	}

	var name string
	err = s.db.QueryRowContext(ctx, `SELECT name FROM projects WHERE channel_id = ?`, channelID).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, nil, errors.NotFound("channel mapping", channelID)
	}
	if err != nil {
		return nil, nil, err
	}

	project, err := s.GetProject(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	instance, err = s.PrimaryInstance(ctx, name)
	if err != nil {
		return nil, nil, errors.ChannelUnresolved(name, "")
	}
	return project, instance, nil
}

// scanInstance scans one instance row.
func (s *SQLiteStore) scanInstance(row *sql.Row) (*Instance, error) {
	instance := &Instance{}
	err := row.Scan(&instance.ID, &instance.ProjectName, &instance.AgentType, &instance.ChannelID, &instance.WindowID, &instance.Kind, &instance.Command, &instance.Primary, &instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return instance, nil
}
