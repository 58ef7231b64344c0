package handoff

import (
	"errors"
	"net/url"
	"strings"

	"github.com/dkeye/Livecall/internal/domain"
)

const sessionPrefix = "/session/"

var ErrNotSessionRoute = errors.New("not a session route")

// SessionRoute is the page a participant is redirected to for a session.
func SessionRoute(id domain.SessionID, role domain.Role) string {
	return sessionPrefix + url.PathEscape(string(id)) + "?role=" + url.QueryEscape(string(role))
}

// ParseSessionRoute reverses SessionRoute.
func ParseSessionRoute(route string) (domain.SessionID, domain.Role, error) {
	u, err := url.Parse(route)
	if err != nil {
		return "", "", err
	}
	raw, ok := strings.CutPrefix(u.EscapedPath(), sessionPrefix)
	if !ok || raw == "" || strings.Contains(raw, "/") {
		return "", "", ErrNotSessionRoute
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", "", err
	}
	role := domain.Role(u.Query().Get("role"))
	if !role.Valid() {
		return "", "", ErrNotSessionRoute
	}
	return domain.SessionID(id), role, nil
}
