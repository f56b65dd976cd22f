// Package hookstate keeps per-session state for Claude Code hooks: whether a
// session has delegated to a sub-agent, which rule files and which directory
// READMEs have already been injected into its context.
package hookstate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/sessionstore"
)

// AgentUsage records sub-agent delegation for a session.
type AgentUsage struct {
	AgentUsed     bool      `json:"agentUsed"`
	ReminderCount int       `json:"reminderCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// InjectedRules lists rule files already injected, with their content hashes.
type InjectedRules struct {
	Files  []string `json:"files"`
	Hashes []string `json:"hashes"`
}

// InjectedPaths lists directories whose README was already injected.
type InjectedPaths struct {
	Dirs []string `json:"dirs"`
}

// Store directory names under the hooks directory.
const (
	agentUsageDir = "agent-usage"
	rulesDir      = "rules-injector"
	readmeDir     = "readme-injector"
)

// State holds the three hook stores.
type State struct {
	usage  *sessionstore.Store[AgentUsage]
	rules  *sessionstore.Store[InjectedRules]
	paths  *sessionstore.Store[InjectedPaths]
	now    func() time.Time
	logger *log.Logger
}

// New creates hook state rooted at dir (normally <state_dir>/hooks).
func New(dir string) *State {
	return &State{
		usage:  sessionstore.New[AgentUsage](filepath.Join(dir, agentUsageDir)),
		rules:  sessionstore.New[InjectedRules](filepath.Join(dir, rulesDir)),
		paths:  sessionstore.New[InjectedPaths](filepath.Join(dir, readmeDir)),
		now:    time.Now,
		logger: debug.Logger("hook"),
	}
}

// AgentUsage returns the session's agent usage record.
func (s *State) AgentUsage(sessionID string) (AgentUsage, bool) {
	return s.usage.Load(sessionID)
}

// InjectedRules returns the session's injected rule files.
func (s *State) InjectedRules(sessionID string) (InjectedRules, bool) {
	return s.rules.Load(sessionID)
}

// InjectedPaths returns the session's injected README directories.
func (s *State) InjectedPaths(sessionID string) (InjectedPaths, bool) {
	return s.paths.Load(sessionID)
}

// MarkAgentUsed records that the session delegated to a sub-agent.
func (s *State) MarkAgentUsed(sessionID string) error {
	u, _ := s.usage.Load(sessionID)
	u.AgentUsed = true
	u.UpdatedAt = s.now()
	return s.usage.Save(sessionID, u)
}

// RecordReminder increments the reminder count and returns the new record.
func (s *State) RecordReminder(sessionID string) (AgentUsage, error) {
	u, _ := s.usage.Load(sessionID)
	u.ReminderCount++
	u.UpdatedAt = s.now()
	return u, s.usage.Save(sessionID, u)
}

// RecordRule records an injected rule file. It returns false when the same
// content was already injected under any file name.
func (s *State) RecordRule(sessionID, file, hash string) (bool, error) {
	r, _ := s.rules.Load(sessionID)
	if slices.Contains(r.Hashes, hash) {
		return false, nil
	}
	r.Hashes = append(r.Hashes, hash)
	if !slices.Contains(r.Files, file) {
		r.Files = append(r.Files, file)
	}
	return true, s.rules.Save(sessionID, r)
}

// MarkPathInjected records a README directory. It returns false when the
// directory was already recorded.
func (s *State) MarkPathInjected(sessionID, dir string) (bool, error) {
	p, _ := s.paths.Load(sessionID)
	if slices.Contains(p.Dirs, dir) {
		return false, nil
	}
	p.Dirs = append(p.Dirs, dir)
	return true, s.paths.Save(sessionID, p)
}

// ClearSession removes all hook state for the session.
func (s *State) ClearSession(sessionID string) error {
	return errors.Join(
		s.usage.Clear(sessionID),
		s.rules.Clear(sessionID),
		s.paths.Clear(sessionID),
	)
}

// ApplyEvent updates state for one hook event:
//   - PostToolUse of Task or Agent marks the agent as used.
//   - PostToolUse of Read records the file's directory, and rule files
//     (CLAUDE.md, AGENTS.md, .claude/rules/*) with their content hash.
//   - Stop without agent use counts a reminder.
//   - SessionEnd and PreCompact clear the session.
func (s *State) ApplyEvent(ev Event) error {
	if err := sessionstore.ValidateID(ev.SessionID); err != nil {
		return err
	}
	s.logger.Debug("hook event", "event", ev.Type, "session", ev.SessionID, "tool", ev.ToolName)

	switch ev.Type {
	case EventPostToolUse:
		switch ev.ToolName {
		case "Task", "Agent":
			return s.MarkAgentUsed(ev.SessionID)
		case "Read":
			return s.recordRead(ev)
		}
	case EventStop:
		u, _ := s.usage.Load(ev.SessionID)
		if !u.AgentUsed {
			_, err := s.RecordReminder(ev.SessionID)
			return err
		}
	case EventSessionEnd, EventPreCompact:
		return s.ClearSession(ev.SessionID)
	}
	return nil
}

func (s *State) recordRead(ev Event) error {
	file := ev.FilePath()
	if file == "" {
		return nil
	}
	if !filepath.IsAbs(file) && ev.CWD != "" {
		file = filepath.Join(ev.CWD, file)
	}
	file = filepath.Clean(file)

	if _, err := s.MarkPathInjected(ev.SessionID, filepath.Dir(file)); err != nil {
		return fmt.Errorf("record read path: %w", err)
	}
	if !IsRuleFile(file) {
		return nil
	}
	if _, err := s.RecordRule(ev.SessionID, file, hashFile(file)); err != nil {
		return fmt.Errorf("record rule file: %w", err)
	}
	return nil
}

// IsRuleFile reports whether path names a rule file the assistant loads as
// instructions.
func IsRuleFile(path string) bool {
	switch filepath.Base(path) {
	case "CLAUDE.md", "CLAUDE.local.md", "AGENTS.md":
		return true
	}
	slashed := filepath.ToSlash(path)
	return strings.Contains(slashed, "/.claude/rules/") && strings.HasSuffix(slashed, ".md")
}

// hashFile hashes the file content, falling back to the path when the file
// cannot be read.
func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		data = []byte(path)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
