package store

// Key identifies a guild's data file, or a single user's file for DMs.
type Key struct {
	GuildID string
	UserID  string
}

// IsDM reports whether the key addresses a direct-message context.
func (k Key) IsDM() bool {
	return k.GuildID == ""
}

func (k Key) fileStem() string {
	if k.IsDM() {
		return "dm_" + k.UserID
	}
	return k.GuildID
}

// UserRecord holds per-user personalization state.
type UserRecord struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	FirstSeen   string `json:"first_seen"`
	LastUpdated string `json:"last_updated"`
}

// Preferences is one guild's (or DM's) stored record. Guild records carry a
// Users map keyed by user ID; DM records carry a single User instead.
type Preferences struct {
	Model        string                `json:"model"`
	SystemPrompt string                `json:"system_prompt"`
	Users        map[string]UserRecord `json:"users,omitempty"`
	User         *UserRecord           `json:"user,omitempty"`
}

// UserFor returns the stored record for userID, honoring the DM single-user
// shape.
func (p Preferences) UserFor(userID string) (UserRecord, bool) {
	if p.User != nil {
		return *p.User, true
	}
	rec, ok := p.Users[userID]
	return rec, ok
}
