package bot

import (
	"testing"

	"github.com/gemrelay/gemrelay/internal/config"
)

func TestAllowMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		perms    config.Permissions
		allowDMs bool
		in       gateInput
		want     bool
	}{
		{
			name:     "no rules allows everyone",
			allowDMs: true,
			in:       gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want:     true,
		},
		{
			name: "blocked user denied",
			perms: config.Permissions{
				Users: config.UserScope{ScopeRules: config.ScopeRules{BlockedIDs: []string{"1"}}},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want: false,
		},
		{
			name: "user allow list excludes others",
			perms: config.Permissions{
				Users: config.UserScope{ScopeRules: config.ScopeRules{AllowedIDs: []string{"2"}}},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want: false,
		},
		{
			name: "user allow list admits listed user",
			perms: config.Permissions{
				Users: config.UserScope{ScopeRules: config.ScopeRules{AllowedIDs: []string{"1"}}},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want: true,
		},
		{
			name: "allowed role admits user",
			perms: config.Permissions{
				Roles: config.ScopeRules{AllowedIDs: []string{"r1"}},
			},
			in:   gateInput{UserID: "1", RoleIDs: []string{"r1", "r2"}, ChannelIDs: []string{"10"}},
			want: true,
		},
		{
			name: "role allow list excludes user without it",
			perms: config.Permissions{
				Roles: config.ScopeRules{AllowedIDs: []string{"r1"}},
			},
			in:   gateInput{UserID: "1", RoleIDs: []string{"r9"}, ChannelIDs: []string{"10"}},
			want: false,
		},
		{
			name: "blocked role denies otherwise allowed user",
			perms: config.Permissions{
				Roles: config.ScopeRules{BlockedIDs: []string{"r2"}},
			},
			in:   gateInput{UserID: "1", RoleIDs: []string{"r2"}, ChannelIDs: []string{"10"}},
			want: false,
		},
		{
			name: "channel allow list scopes by channel and parents",
			perms: config.Permissions{
				Channels: config.ScopeRules{AllowedIDs: []string{"cat1"}},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10", "cat1"}},
			want: true,
		},
		{
			name: "channel not in allow list denied",
			perms: config.Permissions{
				Channels: config.ScopeRules{AllowedIDs: []string{"cat1"}},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want: false,
		},
		{
			name: "blocked channel denied",
			perms: config.Permissions{
				Channels: config.ScopeRules{BlockedIDs: []string{"10"}},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want: false,
		},
		{
			name:     "dm allowed by flag",
			allowDMs: true,
			in:       gateInput{UserID: "1", IsDM: true},
			want:     true,
		},
		{
			name:     "dm denied by flag",
			allowDMs: false,
			in:       gateInput{UserID: "1", IsDM: true},
			want:     false,
		},
		{
			name: "admin bypasses dm flag",
			perms: config.Permissions{
				Users: config.UserScope{AdminIDs: []string{"1"}},
			},
			allowDMs: false,
			in:       gateInput{UserID: "1", IsDM: true},
			want:     true,
		},
		{
			name: "admin bypasses user allow list",
			perms: config.Permissions{
				Users: config.UserScope{
					ScopeRules: config.ScopeRules{AllowedIDs: []string{"2"}},
					AdminIDs:   []string{"1"},
				},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want: true,
		},
		{
			name: "admin does not bypass explicit user block",
			perms: config.Permissions{
				Users: config.UserScope{
					ScopeRules: config.ScopeRules{BlockedIDs: []string{"1"}},
					AdminIDs:   []string{"1"},
				},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want: false,
		},
		{
			name: "admin does not bypass channel block",
			perms: config.Permissions{
				Users:    config.UserScope{AdminIDs: []string{"1"}},
				Channels: config.ScopeRules{BlockedIDs: []string{"10"}},
			},
			in:   gateInput{UserID: "1", ChannelIDs: []string{"10"}},
			want: false,
		},
		{
			name: "dm ignores role allow list",
			perms: config.Permissions{
				Roles: config.ScopeRules{AllowedIDs: []string{"r1"}},
			},
			allowDMs: true,
			in:       gateInput{UserID: "1", IsDM: true},
			want:     true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := allowMessage(tt.perms, tt.allowDMs, tt.in)
			if got != tt.want {
				t.Fatalf("allowMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}
