package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finary/internal/core"
)

func TestFromHeaders(t *testing.T) {
	tests := []struct {
		name    string
		auth    string
		userID  string
		wantErr bool
	}{
		{name: "valid", auth: "Bearer abc", userID: "u1"},
		{name: "lowercase scheme", auth: "bearer abc", userID: "u1"},
		{name: "missing user id", auth: "Bearer abc", userID: "", wantErr: true},
		{name: "missing token", auth: "Bearer ", userID: "u1", wantErr: true},
		{name: "basic auth", auth: "Basic abc", userID: "u1", wantErr: true},
		{name: "no header", auth: "", userID: "u1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := FromHeaders(tt.auth, tt.userID, "ana@example.com", "")
			if tt.wantErr {
				require.ErrorIs(t, err, core.ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "abc", id.Token)
			assert.Equal(t, "u1", id.UserID)
			assert.Equal(t, "ana", id.DisplayName())
		})
	}
}

func TestSessionKey(t *testing.T) {
	a := Identity{UserID: "u1", Token: "t1"}
	b := Identity{UserID: "u1", Token: "t2"}

	assert.Len(t, a.SessionKey(), 64)
	assert.Equal(t, a.SessionKey(), Identity{UserID: "other", Token: "t1"}.SessionKey())
	assert.NotEqual(t, a.SessionKey(), b.SessionKey())
}

func TestContextProvider(t *testing.T) {
	var p ContextProvider

	_, err := p.Resolve(context.Background())
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1"})
	_, err = p.Resolve(ctx)
	assert.ErrorIs(t, err, core.ErrUnauthenticated, "token is required too")

	ctx = WithIdentity(context.Background(), Identity{UserID: "u1", Token: "t"})
	id, err := p.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestStatic(t *testing.T) {
	_, err := Static{}.Resolve(context.Background())
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	id, err := Static{UserID: "u1", Token: "t"}.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}
