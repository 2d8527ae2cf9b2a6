package identity

import (
	"context"

	"friendsbar/internal/logging"
)

// Session exposes the ambient host state the resolver reads.
// Each accessor returns "" when the value is absent.
type Session interface {
	// CurrentUser reads the host's in-memory current-user reference.
	CurrentUser(ctx context.Context) (string, error)
	// Cookie returns the raw value of a named cookie.
	Cookie(ctx context.Context, name string) (string, error)
	// Global reads a dotted global path such as "AccountData.steamid".
	Global(ctx context.Context, path string) (string, error)
}

// GlobalPaths are the host shortcuts checked last.
var GlobalPaths = []string{"g_steamID", "__steamid", "AccountData.steamid", "User.steamid"}

// Resolved is the outcome of one resolution pass.
type Resolved struct {
	ID     ID
	Token  string
	Source string // "current-user", "cookie", "global:<path>" or ""
}

// Resolver derives the current user's identity and session token.
type Resolver struct {
	session Session
}

// NewResolver creates a resolver over session.
func NewResolver(session Session) *Resolver {
	return &Resolver{session: session}
}

// Resolve never fails: errors from individual sources are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context) Resolved {
	var out Resolved

	cookieID, token := r.fromCookie(ctx)
	out.Token = token

	if raw, err := r.session.CurrentUser(ctx); err != nil {
		logging.IdentityDebug("current user lookup failed: %v", err)
	} else if id, ok := Normalize(raw); ok {
		out.ID, out.Source = id, "current-user"
		return out
	}

	if cookieID.Valid() {
		out.ID, out.Source = cookieID, "cookie"
		return out
	}

	for _, path := range GlobalPaths {
		raw, err := r.session.Global(ctx, path)
		if err != nil {
			logging.IdentityDebug("global %s lookup failed: %v", path, err)
			continue
		}
		if id, ok := Normalize(raw); ok {
			out.ID, out.Source = id, "global:"+path
			return out
		}
	}
	return out
}

func (r *Resolver) fromCookie(ctx context.Context) (ID, string) {
	raw, err := r.session.Cookie(ctx, SessionCookie)
	if err != nil {
		logging.IdentityDebug("session cookie lookup failed: %v", err)
		return 0, ""
	}
	if raw == "" {
		return 0, ""
	}
	return SplitSessionCookie(raw)
}
