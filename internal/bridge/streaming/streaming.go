// Package streaming maintains one evolving chat message per active agent
// turn. Progress is rendered by editing the message in place; edits are
// debounced and coalesced so bursts never spam the platform API.
package streaming

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/bridge/timers"
	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/platform"
)

// DefaultHeader prefixes the final flush when no override is given.
const DefaultHeader = "✅ Done"

// Session edit states.
const (
	stateIdle = iota
	stateScheduled
	stateFlushing
)

type session struct {
	channelID string
	messageID string
	history   []string
	display   string
	state     int
	dirty     bool
}

// Updater owns the per-session edit state. One edit is in flight per session
// at most; appends while an edit is flushing set a dirty flag that triggers
// the next flush as soon as the current one completes.
type Updater struct {
	mu       sync.Mutex
	cond     *sync.Cond
	sessions map[string]*session

	client   platform.Client
	debounce time.Duration
	timers   *timers.Registry
	logger   *logger.Logger
}

// NewUpdater creates an updater editing messages through client.
func NewUpdater(client platform.Client, debounce time.Duration, log *logger.Logger) *Updater {
	u := &Updater{
		sessions: make(map[string]*session),
		client:   client,
		debounce: debounce,
		timers:   timers.NewRegistry(),
		logger:   log.WithFields(zap.String("component", "streaming-updater")),
	}
	u.cond = sync.NewCond(&u.mu)
	return u
}

func sessionKey(project, instanceKey string) string {
	return project + "/" + instanceKey
}

// Start binds a streaming session to an existing chat message.
func (u *Updater) Start(project, instanceKey, channelID, messageID string) {
	key := sessionKey(project, instanceKey)

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.sessions[key]; exists {
		return
	}
	u.sessions[key] = &session{channelID: channelID, messageID: messageID}
}

// Has reports whether a session exists.
func (u *Updater) Has(project, instanceKey string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.sessions[sessionKey(project, instanceKey)]
	return ok
}

// Append replaces the session's current display with line and schedules a
// debounced edit.
func (u *Updater) Append(project, instanceKey, line string) {
	key := sessionKey(project, instanceKey)

	u.mu.Lock()
	s, ok := u.sessions[key]
	if !ok {
		u.mu.Unlock()
		return
	}
	s.display = line
	u.markDirtyLocked(key, s)
	u.mu.Unlock()
}

// AppendCumulative appends line to the session's ordered history; the display
// becomes the joined history.
func (u *Updater) AppendCumulative(project, instanceKey, line string) {
	key := sessionKey(project, instanceKey)

	u.mu.Lock()
	s, ok := u.sessions[key]
	if !ok {
		u.mu.Unlock()
		return
	}
	s.history = append(s.history, line)
	s.display = strings.Join(s.history, "\n")
	u.markDirtyLocked(key, s)
	u.mu.Unlock()
}

// markDirtyLocked arms the debounce timer when the session is idle. The
// deadline is fixed at the first append of a burst; later appends ride along.
func (u *Updater) markDirtyLocked(key string, s *session) {
	s.dirty = true
	if s.state == stateIdle {
		s.state = stateScheduled
		u.timers.Replace(key, u.debounce, func() { u.flush(key) })
	}
}

// flush performs one edit with the latest state, then re-flushes immediately
// if an append landed while the edit was in flight.
func (u *Updater) flush(key string) {
	u.mu.Lock()
	s, ok := u.sessions[key]
	if !ok || s.state == stateFlushing {
		u.mu.Unlock()
		return
	}
	s.state = stateFlushing
	s.dirty = false
	channelID, messageID, text := s.channelID, s.messageID, s.display
	u.mu.Unlock()

	u.edit(channelID, messageID, text)

	u.mu.Lock()
	s, ok = u.sessions[key]
	if !ok {
		u.cond.Broadcast()
		u.mu.Unlock()
		return
	}
	s.state = stateIdle
	again := s.dirty
	if again {
		s.state = stateScheduled
	}
	u.cond.Broadcast()
	u.mu.Unlock()

	if again {
		go u.flush(key)
	}
}

// Finalize flushes the final state prefixed with header (default "✅ Done")
// and closes the session. It supersedes any pending debounce timer and waits
// for an in-flight edit before writing the final text. An edit failure is
// logged but the session closes regardless.
func (u *Updater) Finalize(ctx context.Context, project, instanceKey, headerOverride, targetMessageID string) {
	key := sessionKey(project, instanceKey)
	u.timers.Clear(key)

	u.mu.Lock()
	s, ok := u.sessions[key]
	if !ok {
		u.mu.Unlock()
		return
	}
	for s.state == stateFlushing {
		u.cond.Wait()
		if _, still := u.sessions[key]; !still {
			u.mu.Unlock()
			return
		}
	}
	delete(u.sessions, key)

	header := headerOverride
	if header == "" {
		header = DefaultHeader
	}
	text := header
	if s.display != "" {
		text = header + "\n" + s.display
	}
	channelID, messageID := s.channelID, s.messageID
	if targetMessageID != "" {
		messageID = targetMessageID
	}
	u.mu.Unlock()

	if err := u.client.EditMessage(ctx, channelID, messageID, text); err != nil {
		u.logger.WithError(err).Warn("final streaming edit failed",
			zap.String("session", key))
	}
}

// Discard closes the session without flushing.
func (u *Updater) Discard(project, instanceKey string) {
	key := sessionKey(project, instanceKey)
	u.timers.Clear(key)

	u.mu.Lock()
	delete(u.sessions, key)
	u.cond.Broadcast()
	u.mu.Unlock()
}

// Shutdown cancels all pending edits.
func (u *Updater) Shutdown() {
	u.timers.StopAll()

	u.mu.Lock()
	u.sessions = make(map[string]*session)
	u.cond.Broadcast()
	u.mu.Unlock()
}

// edit performs one debounced edit. Failures are logged and dropped; the next
// flush retries with the latest state.
func (u *Updater) edit(channelID, messageID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := u.client.EditMessage(ctx, channelID, messageID, text); err != nil {
		u.logger.WithError(err).Debug("streaming edit failed",
			zap.String("channel", channelID),
			zap.String("message", messageID))
	}
}
