package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/optikakg/optika_tg/internal/store"
)

type Permission string

const (
	PermFindClients    Permission = "find_clients"
	PermEditVisions    Permission = "edit_visions"
	PermEditClients    Permission = "edit_clients"
	PermMessageClients Permission = "message_clients"
	PermBroadcast      Permission = "broadcast"
	PermEditContent    Permission = "edit_content"
	PermManageAdmins   Permission = "manage_admins"
	PermDevPanel       Permission = "dev_panel"
)

// Owners can do everything; listed here are the rights of other staff.
var rolePermissions = map[string]map[Permission]bool{
	store.RoleAdmin: {
		PermFindClients:    true,
		PermEditVisions:    true,
		PermEditClients:    true,
		PermMessageClients: true,
	},
}

// roleOf trusts the config for owners and the database for everyone else.
func (a *App) roleOf(ctx context.Context, userID int64) string {
	if a.cfg.IsOwner(userID) {
		return store.RoleOwner
	}
	role, err := a.store.Role(ctx, userID)
	if err != nil {
		a.log.Warn("⚠️ Не удалось получить роль", zap.Int64("user_id", userID), zap.Error(err))
		return store.RoleClient
	}
	if role == store.RoleOwner {
		// owner rights are never granted from the database
		return store.RoleAdmin
	}
	return role
}

func (a *App) hasPermission(ctx context.Context, userID int64, perm Permission) bool {
	role := a.roleOf(ctx, userID)
	if role == store.RoleOwner {
		return true
	}
	return rolePermissions[role][perm]
}

func (a *App) isStaff(ctx context.Context, userID int64) bool {
	role := a.roleOf(ctx, userID)
	return role == store.RoleOwner || role == store.RoleAdmin
}
