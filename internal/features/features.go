// Package features switches operations on and off by tool name or group.
package features

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/greeddj/mailbridge-go/internal/model"
)

// Tool is a gated operation and the group it belongs to. Groups are dotted;
// configuring "mail" also covers "mail.list".
type Tool struct {
	Name  string
	Group string
}

func (t Tool) String() string { return t.Name }

// Known tools.
var (
	ListMessages   = Tool{"list_messages", "mail.list"}
	ListEvents     = Tool{"list_events", "calendar.read"}
	ListTasks      = Tool{"list_tasks", "tasks.read"}
	GetMessage     = Tool{"get_message", "mail.detail"}
	GetEvent       = Tool{"get_event", "calendar.read"}
	GetTask        = Tool{"get_task", "tasks.read"}
	GetThread      = Tool{"get_thread", "mail.detail"}
	GetAttachments = Tool{"get_attachments", "mail.detail"}
	MessageAction  = Tool{"message_action", "mail.actions"}
	EventAction    = Tool{"event_action", "calendar.write"}
	TaskAction     = Tool{"task_action", "tasks.write"}
	BatchAction    = Tool{"batch_action", "batch"}
	SendMessage    = Tool{"send_message", "mail.actions"}
	CreateEvent    = Tool{"create_event", "calendar.write"}
	CreateTask     = Tool{"create_task", "tasks.write"}
	PendingReplies = Tool{"pending_replies", "mail.list"}
	FindFreeTime   = Tool{"find_free_time", "calendar.freebusy"}
	Availability   = Tool{"attendee_availability", "calendar.freebusy"}
	ListFolders    = Tool{"list_folders", "folders"}
	CacheStats     = Tool{"cache_stats", "system"}
	ResetCache     = Tool{"reset_cache", "system"}
)

// All lists every known tool.
var All = []Tool{
	ListMessages, ListEvents, ListTasks, GetMessage, GetEvent, GetTask, GetThread, GetAttachments,
	MessageAction, EventAction, TaskAction, BatchAction, SendMessage, CreateEvent, CreateTask,
	PendingReplies, FindFreeTime, Availability, ListFolders, CacheStats, ResetCache,
}

func byKind(kind model.Kind, mail, event, task Tool) Tool {
	switch kind {
	case model.KindEvent:
		return event
	case model.KindTask:
		return task
	}
	return mail
}

// ListTool is the listing tool for kind.
func ListTool(kind model.Kind) Tool { return byKind(kind, ListMessages, ListEvents, ListTasks) }

// DetailTool is the detail tool for kind.
func DetailTool(kind model.Kind) Tool { return byKind(kind, GetMessage, GetEvent, GetTask) }

// ActTool is the mutation tool for kind.
func ActTool(kind model.Kind) Tool { return byKind(kind, MessageAction, EventAction, TaskAction) }

// CreateTool is the creation tool for kind.
func CreateTool(kind model.Kind) Tool { return byKind(kind, SendMessage, CreateEvent, CreateTask) }

// Settings is the gate configuration.
type Settings struct {
	EnabledTools   []string `json:"enabled_tools"   yaml:"enabled_tools"`
	DisabledTools  []string `json:"disabled_tools"  yaml:"disabled_tools"`
	EnabledGroups  []string `json:"enabled_groups"  yaml:"enabled_groups"`
	DisabledGroups []string `json:"disabled_groups" yaml:"disabled_groups"`
}

// Gate decides whether a tool may run. Disables override enables; when any
// enable list is set, only listed tools and groups run. It is safe for
// concurrent use and can be reloaded.
type Gate struct {
	mu             sync.RWMutex
	enabledTools   map[string]bool
	disabledTools  map[string]bool
	enabledGroups  []string
	disabledGroups []string
}

// New builds a gate from s.
func New(s Settings) *Gate {
	g := &Gate{}
	g.Update(s)
	return g
}

// Update replaces the configuration.
func (g *Gate) Update(s Settings) {
	et, dt := set(s.EnabledTools), set(s.DisabledTools)
	eg, dg := groups(s.EnabledGroups), groups(s.DisabledGroups)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabledTools, g.disabledTools = et, dt
	g.enabledGroups, g.disabledGroups = eg, dg
}

// Enabled reports whether t may run. A nil gate allows everything.
func (g *Gate) Enabled(t Tool) bool {
	if g == nil {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	name := strings.ToLower(t.Name)
	if g.disabledTools[name] || inGroups(t.Group, g.disabledGroups) {
		return false
	}
	if len(g.enabledTools) == 0 && len(g.enabledGroups) == 0 {
		return true
	}
	return g.enabledTools[name] || inGroups(t.Group, g.enabledGroups)
}

// Disabled lists the known tools the gate blocks, sorted by name.
func (g *Gate) Disabled() []string {
	var out []string
	for _, t := range All {
		if !g.Enabled(t) {
			out = append(out, t.Name)
		}
	}
	sort.Strings(out)
	return out
}

func set(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			m[n] = true
		}
	}
	return m
}

func groups(names []string) []string {
	var out []string
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func inGroups(group string, configured []string) bool {
	group = strings.ToLower(group)
	if group == "" {
		return false
	}
	for _, c := range configured {
		if group == c || strings.HasPrefix(group, c+".") {
			return true
		}
	}
	return false
}
