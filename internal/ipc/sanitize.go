package ipc

import "github.com/al-bashkir/session-rendezvous/internal/logsanitize"

// sanitizeIPCValue cleans client-supplied request fields (user IDs,
// session names, addresses) before they reach the log.
func sanitizeIPCValue(s string) string {
	return logsanitize.Sanitize(s)
}
