package chatfilm

import "log/slog"

// onConnectionClosed runs when a transport connection goes away. The
// disconnect only carries the connection handle, so the roster is asked to
// free whichever role was bound to it; the remaining participant, if
// connected, gets a single userOffline notification.
func (app *App) onConnectionClosed(connID string) {
	conn, ok := app.roster.UnregisterByConn(connID)
	if !ok {
		// never joined, or already superseded by a newer join
		return
	}

	app.logger.Info("user offline", slog.String("role", conn.Role))

	_, otherRole, ok := app.roles.Resolve(conn.Role)
	if !ok {
		return
	}
	other, ok := app.roster.Lookup(otherRole)
	if !ok {
		return
	}

	app.eventRouter.EmitToConns(UserOfflineEvent, UserOfflinePayload{Role: conn.Role}, other.ID)
}
