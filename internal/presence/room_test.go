package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"presence-service/internal/registry"
)

func att(connID, userID, name string, joinedAt int64, active bool) registry.Attachment {
	return registry.Attachment{
		ConnID:    connID,
		RoomID:    "doc-1",
		UserID:    userID,
		UserName:  name,
		UserEmail: name + "@example.com",
		JoinedAt:  joinedAt,
		IsActive:  active,
	}
}

func TestRebuildSessionsCountsConnectionsPerUser(t *testing.T) {
	sessions := rebuildSessions([]registry.Attachment{
		att("c1", "u1", "Ada", 100, true),
		att("c2", "u1", "Ada", 200, true),
		att("c3", "u2", "Grace", 150, true),
	})

	assert.Len(t, sessions, 2)
	assert.Len(t, sessions["u1"].conns, 2)
	assert.Len(t, sessions["u2"].conns, 1)
}

func TestRebuildSessionsKeepsEarliestJoin(t *testing.T) {
	sessions := rebuildSessions([]registry.Attachment{
		att("c1", "u1", "Ada", 500, true),
		att("c2", "u1", "Ada", 100, true),
	})

	assert.Equal(t, int64(100), sessions["u1"].user.JoinedAt)
}

func TestRebuildSessionsPreservesInactiveState(t *testing.T) {
	sessions := rebuildSessions([]registry.Attachment{
		att("c1", "u1", "Ada", 100, false),
		att("c2", "u1", "Ada", 200, false),
	})

	assert.False(t, sessions["u1"].user.IsActive)
}

func TestRebuildSessionsSkipsAnonymousAttachments(t *testing.T) {
	sessions := rebuildSessions([]registry.Attachment{
		att("c1", "", "", 100, true),
		att("c2", "u1", "Ada", 200, true),
	})

	assert.Len(t, sessions, 1)
	assert.NotNil(t, sessions["u1"])
}

func TestRebuildSessionsIsDeterministic(t *testing.T) {
	atts := []registry.Attachment{
		att("c1", "u1", "Ada", 100, true),
		att("c2", "u2", "Grace", 50, false),
		att("c3", "u1", "Ada", 90, true),
	}
	reversed := []registry.Attachment{atts[2], atts[1], atts[0]}

	a := rebuildSessions(atts)
	b := rebuildSessions(reversed)

	assert.Equal(t, a["u1"].user, b["u1"].user)
	assert.Equal(t, a["u1"].conns, b["u1"].conns)
	assert.Equal(t, a["u2"].user, b["u2"].user)
}

func TestRosterSortedByJoinTime(t *testing.T) {
	r := &Room{sessions: rebuildSessions([]registry.Attachment{
		att("c1", "u2", "Grace", 300, true),
		att("c2", "u1", "Ada", 100, true),
		att("c3", "u3", "Joan", 300, true),
	})}

	roster := r.roster()

	assert.Equal(t, []string{"u1", "u2", "u3"}, []string{roster[0].ID, roster[1].ID, roster[2].ID})
}
