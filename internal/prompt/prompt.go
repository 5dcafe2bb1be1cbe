package prompt

import (
	"sort"
	"strings"
	"time"

	"github.com/gemrelay/gemrelay/internal/store"
)

// Params contains everything needed to render the system prompt.
type Params struct {
	Base        string
	Preferences store.Preferences
	GuildName   string
	UserIDs     []string
	Now         time.Time
}

// Compose renders the base prompt template with runtime variables, the current
// server name, and a known-users block for every participant with a stored
// description. Pure function, no I/O.
func Compose(params Params) string {
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	rendered := strings.ReplaceAll(params.Base, "{date}", now.Format("January 2 2006"))
	rendered = strings.ReplaceAll(rendered, "{time}", now.Format("15:04:05 MST-0700"))
	rendered = strings.TrimSpace(rendered)

	if params.GuildName != "" {
		rendered += "\n\nCurrent server: " + params.GuildName
	}

	userLines := knownUserLines(params.Preferences, params.UserIDs)
	if len(userLines) > 0 {
		rendered += "\n\nKnown users in this conversation:\n" + strings.Join(userLines, "\n")
		rendered += "\n\nWhen addressing users, use their display names naturally in conversation."
	}

	return rendered
}

func knownUserLines(prefs store.Preferences, userIDs []string) []string {
	sorted := append([]string(nil), userIDs...)
	sort.Strings(sorted)

	var lines []string
	for _, id := range sorted {
		if prefs.Users != nil {
			rec, ok := prefs.Users[id]
			if !ok || rec.Description == "" {
				continue
			}
			lines = append(lines, "- <@"+id+"> (Display: "+rec.DisplayName+"): "+rec.Description)
			continue
		}
		if prefs.User != nil && prefs.User.Description != "" {
			lines = append(lines, "- "+prefs.User.DisplayName+": "+prefs.User.Description)
		}
	}
	return lines
}
