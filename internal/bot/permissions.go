package bot

import (
	"github.com/gemrelay/gemrelay/internal/config"
)

// gateInput is everything the permission gate needs from one incoming event.
type gateInput struct {
	UserID     string
	RoleIDs    []string
	ChannelIDs []string
	IsDM       bool
}

// allowMessage evaluates the allow/block rules for user, role, and channel
// scopes. An empty allow-set means "allow all" for that scope; DM channels are
// gated by allowDMs instead. Admins bypass allow-checks but not block-lists.
func allowMessage(perms config.Permissions, allowDMs bool, in gateInput) bool {
	isAdmin := containsID(perms.Users.AdminIDs, in.UserID)

	allowAllUsers := len(perms.Users.AllowedIDs) == 0
	if !in.IsDM {
		allowAllUsers = allowAllUsers && len(perms.Roles.AllowedIDs) == 0
	}
	isGoodUser := isAdmin || allowAllUsers ||
		containsID(perms.Users.AllowedIDs, in.UserID) ||
		intersects(perms.Roles.AllowedIDs, in.RoleIDs)
	isBadUser := !isGoodUser ||
		containsID(perms.Users.BlockedIDs, in.UserID) ||
		intersects(perms.Roles.BlockedIDs, in.RoleIDs)

	var isGoodChannel bool
	if in.IsDM {
		isGoodChannel = isAdmin || allowDMs
	} else {
		isGoodChannel = len(perms.Channels.AllowedIDs) == 0 ||
			intersects(perms.Channels.AllowedIDs, in.ChannelIDs)
	}
	isBadChannel := !isGoodChannel || intersects(perms.Channels.BlockedIDs, in.ChannelIDs)

	return !isBadUser && !isBadChannel
}

func containsID(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, id := range b {
		if containsID(a, id) {
			return true
		}
	}
	return false
}
