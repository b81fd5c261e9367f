package fallback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/discode/internal/bridge/pending"
	"github.com/discode/discode/internal/common/config"
	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/platform/platformtest"
	"github.com/discode/discode/internal/runtime"
)

// fakeRuntime serves a scripted sequence of pane snapshots.
type fakeRuntime struct {
	mu        sync.Mutex
	snapshots []string
	captures  int
	missing   bool
}

func (f *fakeRuntime) CapturePane(ctx context.Context, windowID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing {
		return "", fmt.Errorf("capture: %w", runtime.ErrWindowNotFound)
	}
	idx := f.captures
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	f.captures++
	return f.snapshots[idx], nil
}

func (f *fakeRuntime) TypeKeys(ctx context.Context, windowID, text string) error { return nil }
func (f *fakeRuntime) SendEnter(ctx context.Context, windowID string) error      { return nil }
func (f *fakeRuntime) ListWindows(ctx context.Context) ([]runtime.WindowInfo, error) {
	return nil, nil
}
func (f *fakeRuntime) FocusWindow(ctx context.Context, windowID string) error { return nil }
func (f *fakeRuntime) KillWindow(ctx context.Context, windowID string) error  { return nil }
func (f *fakeRuntime) EnsureWindow(ctx context.Context, name, dir, command string) error {
	return nil
}

var testKey = pending.Key{Project: "myapp", Agent: "claude", Instance: "i1"}

func testCfg() config.FallbackConfig {
	return config.FallbackConfig{
		InitialDelayMs:  20,
		StableCheckMs:   20,
		MaxChecks:       3,
		SeparatorGlyphs: "-─━═│┃┌┐└┘├┤┬┴┼╭╮╯╰╴╶",
		ChromeMaxLines:  2,
	}
}

func newScheduler(rt runtime.Runtime) (*Scheduler, *pending.Tracker, *platformtest.FakeClient) {
	client := platformtest.NewFakeClient()
	tracker := pending.NewTracker(client, logger.Default())
	return NewScheduler(rt, tracker, client, testCfg(), logger.Default()), tracker, client
}

const menuSnapshot = "some earlier output\n❯ /model\n──────────\n1. claude-sonnet\n2. claude-opus\n3. claude-haiku\n4. gpt-4\n5. custom\n"

const chromeSnapshot = "❯ \n──────────\nmyapp · main\nready\n"

func TestFallbackDeliversStableMenu(t *testing.T) {
	rt := &fakeRuntime{snapshots: []string{menuSnapshot}}
	s, tracker, client := newScheduler(rt)
	defer s.Shutdown()

	tracker.EnsurePending("myapp", "claude", "ch1", "i1")
	s.Schedule("myapp", "claude", "i1", "ch1", "win-1")

	// Initial probe records the snapshot; the recheck finds it stable.
	require.Eventually(t, func() bool {
		return len(client.Sent()) == 1
	}, time.Second, 10*time.Millisecond)

	sent := client.Sent()[0]
	assert.Contains(t, sent.Text, "```")
	assert.Contains(t, sent.Text, "claude-sonnet")
	assert.NotContains(t, sent.Text, "earlier output")
	assert.False(t, tracker.HasPending(testKey))
}

func TestFallbackSuppressesIdleChrome(t *testing.T) {
	rt := &fakeRuntime{snapshots: []string{chromeSnapshot}}
	s, tracker, client := newScheduler(rt)
	defer s.Shutdown()

	tracker.EnsurePending("myapp", "claude", "ch1", "i1")
	s.Schedule("myapp", "claude", "i1", "ch1", "win-1")

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, client.Sent())
	assert.True(t, tracker.HasPending(testKey))
}

func TestFallbackAbortsWhenHookActive(t *testing.T) {
	rt := &fakeRuntime{snapshots: []string{menuSnapshot}}
	s, tracker, client := newScheduler(rt)
	defer s.Shutdown()

	tracker.EnsurePending("myapp", "claude", "ch1", "i1")
	tracker.SetHookActive(testKey)
	s.Schedule("myapp", "claude", "i1", "ch1", "win-1")

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, client.Sent())
	assert.Zero(t, rt.captures)
}

func TestFallbackAbortsWithoutPendingEntry(t *testing.T) {
	rt := &fakeRuntime{snapshots: []string{menuSnapshot}}
	s, _, client := newScheduler(rt)
	defer s.Shutdown()

	s.Schedule("myapp", "claude", "i1", "ch1", "win-1")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, client.Sent())
}

func TestFallbackAbortsOnMissingWindow(t *testing.T) {
	rt := &fakeRuntime{missing: true}
	s, tracker, client := newScheduler(rt)
	defer s.Shutdown()

	tracker.EnsurePending("myapp", "claude", "ch1", "i1")
	s.Schedule("myapp", "claude", "i1", "ch1", "win-1")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, client.Sent())
	assert.True(t, tracker.HasPending(testKey))
}

func TestFallbackGivesUpOnUnstableBuffer(t *testing.T) {
	rt := &fakeRuntime{snapshots: []string{
		"❯ step 1\n", "❯ step 2\n", "❯ step 3\n", "❯ step 4\n",
	}}
	s, tracker, client := newScheduler(rt)
	defer s.Shutdown()

	tracker.EnsurePending("myapp", "claude", "ch1", "i1")
	s.Schedule("myapp", "claude", "i1", "ch1", "win-1")

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, client.Sent())
	assert.LessOrEqual(t, rt.captures, 3)
}

func TestFallbackRescheduleReplacesPrior(t *testing.T) {
	rt := &fakeRuntime{snapshots: []string{menuSnapshot}}
	s, tracker, client := newScheduler(rt)
	defer s.Shutdown()

	tracker.EnsurePending("myapp", "claude", "ch1", "i1")
	s.Schedule("myapp", "claude", "i1", "ch1", "win-1")
	s.Schedule("myapp", "claude", "i1", "ch1", "win-1")

	require.Eventually(t, func() bool {
		return len(client.Sent()) >= 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, client.Sent(), 1)
}

func TestIdleChromeClassificationBoundary(t *testing.T) {
	s, _, _ := newScheduler(&fakeRuntime{})

	// Prompt + separator + 2 status lines: chrome.
	assert.True(t, s.isIdleChrome("❯ \n──────────\nstatus one\nstatus two"))
	// Prompt + separator + 3 substantive lines: real content.
	assert.False(t, s.isIdleChrome("❯ \n──────────\nitem one\nitem two\nitem three"))
	// No separator after prompt: real content.
	assert.False(t, s.isIdleChrome("❯ \nsome output\nmore output"))
	// Blank lines between prompt and separator are tolerated.
	assert.True(t, s.isIdleChrome("❯ \n\n──────────\nstatus"))
}

func TestIsSeparatorThreshold(t *testing.T) {
	s, _, _ := newScheduler(&fakeRuntime{})

	assert.True(t, s.isSeparator("──────────"))
	assert.True(t, s.isSeparator("  ---------- "))
	// 9 dashes + 1 letter = 90%.
	assert.True(t, s.isSeparator("---------x"))
	// 8 dashes + 2 letters = 80%.
	assert.False(t, s.isSeparator("--------xx"))
	assert.False(t, s.isSeparator("plain text"))
	assert.False(t, s.isSeparator("   "))
}

func TestExtractLastCommandBlock(t *testing.T) {
	block := extractLastCommandBlock("old\n❯ first\noutput a\n❯ second\noutput b\n\n")
	assert.Equal(t, "❯ second\noutput b", block)

	assert.Empty(t, extractLastCommandBlock("no prompt here\njust text"))
}
