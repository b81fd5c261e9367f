// Package fallback probes the terminal buffer when an agent emits no hook
// events, delivering the screen's last command block to chat once the buffer
// stabilizes. Interactive menus surface this way; idle prompt chrome must not.
package fallback

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discode/discode/internal/bridge/pending"
	"github.com/discode/discode/internal/bridge/timers"
	"github.com/discode/discode/internal/common/config"
	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/platform"
	"github.com/discode/discode/internal/runtime"
)

// promptPrefixes mark the agent TUI's input line.
var promptPrefixes = []string{"❯", "> "}

type probe struct {
	windowID     string
	channelID    string
	lastSnapshot string
	hasSnapshot  bool
	checks       int
}

// Scheduler owns the fallback timers and per-key probe state.
type Scheduler struct {
	rt      runtime.Runtime
	tracker *pending.Tracker
	client  platform.Client
	cfg     config.FallbackConfig
	timers  *timers.Registry
	logger  *logger.Logger

	mu     sync.Mutex
	probes map[string]*probe
}

// NewScheduler creates a fallback scheduler. rt may be nil when no terminal
// runtime is configured; Schedule is then a no-op.
func NewScheduler(rt runtime.Runtime, tracker *pending.Tracker, client platform.Client, cfg config.FallbackConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{
		rt:      rt,
		tracker: tracker,
		client:  client,
		cfg:     cfg,
		timers:  timers.NewRegistry(),
		logger:  log.WithFields(zap.String("component", "buffer-fallback")),
		probes:  make(map[string]*probe),
	}
}

// Schedule cancels any prior fallback for this key and installs a new one.
func (s *Scheduler) Schedule(project, agent, instanceKey, channelID, windowID string) {
	if s.rt == nil || windowID == "" {
		return
	}
	key := pending.Key{Project: project, Agent: agent, Instance: instanceKey}
	id := key.String()

	s.mu.Lock()
	s.probes[id] = &probe{windowID: windowID, channelID: channelID}
	s.mu.Unlock()

	s.timers.Replace(id, s.cfg.InitialDelay(), func() { s.check(key) })
}

// Shutdown cancels all fallback timers.
func (s *Scheduler) Shutdown() {
	s.timers.StopAll()
	s.mu.Lock()
	s.probes = make(map[string]*probe)
	s.mu.Unlock()
}

func (s *Scheduler) check(key pending.Key) {
	id := key.String()

	s.mu.Lock()
	p, ok := s.probes[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	// Hooks took over, or the turn already settled.
	entry, live := s.tracker.GetPending(key)
	if !live || entry.HookActive {
		s.drop(id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	snapshot, err := s.rt.CapturePane(ctx, p.windowID)
	cancel()
	if err != nil {
		// A vanished window means nothing to surface.
		s.logger.WithError(err).Debug("capture failed", zap.String("key", id))
		s.drop(id)
		return
	}

	s.mu.Lock()
	stable := p.hasSnapshot && p.lastSnapshot == snapshot
	p.lastSnapshot = snapshot
	p.hasSnapshot = true
	p.checks++
	checks := p.checks
	channelID := p.channelID
	s.mu.Unlock()

	if !stable {
		if checks >= s.cfg.MaxChecks {
			s.drop(id)
			return
		}
		s.timers.Replace(id, s.cfg.StableCheck(), func() { s.check(key) })
		return
	}

	s.drop(id)

	block := extractLastCommandBlock(snapshot)
	if block == "" || s.isIdleChrome(block) {
		return
	}

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := s.client.SendMessage(ctx, channelID, "```\n"+block+"\n```"); err != nil {
		s.logger.WithError(err).Warn("fallback delivery failed", zap.String("key", id))
		return
	}
	s.tracker.MarkCompleted(key)
}

func (s *Scheduler) drop(id string) {
	s.timers.Clear(id)
	s.mu.Lock()
	delete(s.probes, id)
	s.mu.Unlock()
}

// extractLastCommandBlock returns the region from the last prompt-prefixed
// line to the end of the buffer, trailing blanks trimmed.
func extractLastCommandBlock(snapshot string) string {
	lines := strings.Split(snapshot, "\n")
	start := -1
	for i, line := range lines {
		if isPromptLine(line) {
			start = i
		}
	}
	if start < 0 {
		return ""
	}
	block := lines[start:]
	for len(block) > 0 && strings.TrimSpace(block[len(block)-1]) == "" {
		block = block[:len(block)-1]
	}
	return strings.Join(block, "\n")
}

func isPromptLine(line string) bool {
	trimmed := strings.TrimLeft(line, " ")
	for _, prefix := range promptPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return trimmed == ">"
}

// isIdleChrome classifies a block as prompt chrome: the prompt line, a
// separator immediately after it, and at most ChromeMaxLines further
// substantive lines (the TUI's status bar).
func (s *Scheduler) isIdleChrome(block string) bool {
	lines := strings.Split(block, "\n")
	if len(lines) == 0 || !isPromptLine(lines[0]) {
		return false
	}

	rest := lines[1:]
	i := 0
	for i < len(rest) && strings.TrimSpace(rest[i]) == "" {
		i++
	}
	if i >= len(rest) || !s.isSeparator(rest[i]) {
		return false
	}

	substantive := 0
	for _, line := range rest[i+1:] {
		if strings.TrimSpace(line) == "" || s.isSeparator(line) {
			continue
		}
		substantive++
	}
	return substantive <= s.cfg.ChromeMaxLines
}

// isSeparator reports whether ≥90% of the line's non-space characters are
// separator glyphs.
func (s *Scheduler) isSeparator(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	total, matched := 0, 0
	for _, r := range trimmed {
		total++
		if strings.ContainsRune(s.cfg.SeparatorGlyphs, r) {
			matched++
		}
	}
	return float64(matched)/float64(total) >= 0.9
}
