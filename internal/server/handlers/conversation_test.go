package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBanChecker struct {
	banned map[string]bool // "a|b", one direction per entry
}

func (s stubBanChecker) IsBanned(_ context.Context, userID, otherID string) (bool, error) {
	return s.banned[userID+"|"+otherID] || s.banned[otherID+"|"+userID], nil
}

type stubMembershipChecker struct {
	members map[string]bool // "megaphoneID|userID"
}

func (s stubMembershipChecker) IsMember(_ context.Context, megaphoneID, userID string) (bool, error) {
	return s.members[megaphoneID+"|"+userID], nil
}

func TestCanAccessConversationDirect(t *testing.T) {
	social := stubBanChecker{banned: map[string]bool{"alice|mallory": true}}
	megaphones := stubMembershipChecker{}

	tests := []struct {
		name   string
		userID string
		conv   string
		want   bool
	}{
		{"first participant", "alice", "dm:alice:bob", true},
		{"second participant", "bob", "dm:alice:bob", true},
		{"outsider", "eve", "dm:alice:bob", false},
		{"suffix overlap is not participation", "bob", "dm:alice:bobby", false},
		{"prefix overlap is not participation", "ali", "dm:alice:bob", false},
		{"banned pair", "mallory", "dm:alice:mallory", false},
		{"missing peer", "alice", "dm:alice", false},
		{"empty participant", "bob", "dm::bob", false},
		{"unknown kind", "alice", "room:42", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canAccessConversation(context.Background(), social, megaphones, tt.userID, tt.conv)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanAccessConversationMegaphone(t *testing.T) {
	megaphones := stubMembershipChecker{members: map[string]bool{"m1|alice": true}}

	got, err := canAccessConversation(context.Background(), stubBanChecker{}, megaphones, "alice", "mp:m1")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = canAccessConversation(context.Background(), stubBanChecker{}, megaphones, "eve", "mp:m1")
	require.NoError(t, err)
	assert.False(t, got)
}
