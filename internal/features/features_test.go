package features

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greeddj/mailbridge-go/internal/model"
)

func TestGate(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		tool     Tool
		want     bool
	}{
		{name: "default allows", tool: ListMessages, want: true},
		{name: "tool disabled", settings: Settings{DisabledTools: []string{"list_messages"}}, tool: ListMessages, want: false},
		{name: "group disabled", settings: Settings{DisabledGroups: []string{"calendar.write"}}, tool: CreateEvent, want: false},
		{name: "parent group disabled", settings: Settings{DisabledGroups: []string{"Calendar"}}, tool: FindFreeTime, want: false},
		{name: "sibling group untouched", settings: Settings{DisabledGroups: []string{"calendar.write"}}, tool: ListEvents, want: true},
		{name: "allow list excludes others", settings: Settings{EnabledGroups: []string{"mail"}}, tool: ListTasks, want: false},
		{name: "allow list by group", settings: Settings{EnabledGroups: []string{"mail"}}, tool: PendingReplies, want: true},
		{name: "allow list by tool", settings: Settings{EnabledTools: []string{"cache_stats"}}, tool: CacheStats, want: true},
		{
			name:     "disable beats enable",
			settings: Settings{EnabledTools: []string{"send_message"}, DisabledGroups: []string{"mail.actions"}},
			tool:     SendMessage,
			want:     false,
		},
		{
			name:     "tool disable beats group enable",
			settings: Settings{EnabledGroups: []string{"mail"}, DisabledTools: []string{" GET_MESSAGE "}},
			tool:     GetMessage,
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.settings).Enabled(tt.tool))
		})
	}
}

func TestGateUpdateAndNil(t *testing.T) {
	var nilGate *Gate
	assert.True(t, nilGate.Enabled(ResetCache))

	g := New(Settings{DisabledGroups: []string{"system"}})
	assert.Equal(t, []string{"cache_stats", "reset_cache"}, g.Disabled())

	g.Update(Settings{})
	assert.Empty(t, g.Disabled())
}

func TestToolsByKind(t *testing.T) {
	assert.Equal(t, ListEvents, ListTool(model.KindEvent))
	assert.Equal(t, GetTask, DetailTool(model.KindTask))
	assert.Equal(t, MessageAction, ActTool(model.KindMessage))
	assert.Equal(t, CreateTask, CreateTool(model.KindTask))
}
