package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Livecall/internal/domain"
)

func TestSessionRouteRoundTrip(t *testing.T) {
	route := SessionRoute("a b/c", domain.RoleUser)
	id, role, err := ParseSessionRoute(route)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("a b/c"), id)
	assert.Equal(t, domain.RoleUser, role)
}

func TestParseSessionRouteRejectsOtherPages(t *testing.T) {
	for _, route := range []string{"/", "/session/", "/session/s1", "/session/s1?role=admin", "/queue/s1?role=user"} {
		_, _, err := ParseSessionRoute(route)
		assert.ErrorIs(t, err, ErrNotSessionRoute, route)
	}
}
