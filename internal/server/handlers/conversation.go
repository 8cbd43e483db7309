package handlers

import (
	"context"
	"strings"
)

// banChecker and membershipChecker are the slices of the social and megaphone
// stores that conversation authorization reads from.
type banChecker interface {
	IsBanned(ctx context.Context, userID, otherID string) (bool, error)
}

type membershipChecker interface {
	IsMember(ctx context.Context, megaphoneID, userID string) (bool, error)
}

// directParticipants splits a direct-conversation ID into its two participant
// IDs. Malformed IDs report ok=false.
func directParticipants(conversationID string) (string, string, bool) {
	parts := strings.SplitN(strings.TrimPrefix(conversationID, "dm:"), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// canAccessConversation decides whether a user may read and write a
// conversation: direct threads require the user to be exactly one of the two
// participants with no ban on either side, megaphone threads require
// membership. Malformed and unknown IDs are denied. Both the HTTP chat
// handlers and the websocket gateway route through this check.
func canAccessConversation(ctx context.Context, social banChecker, megaphones membershipChecker, userID, conversationID string) (bool, error) {
	switch {
	case strings.HasPrefix(conversationID, "dm:"):
		a, b, ok := directParticipants(conversationID)
		if !ok {
			return false, nil
		}
		if a != userID && b != userID {
			return false, nil
		}
		peerID := a
		if peerID == userID {
			peerID = b
		}
		banned, err := social.IsBanned(ctx, userID, peerID)
		if err != nil {
			return false, err
		}
		return !banned, nil

	case strings.HasPrefix(conversationID, "mp:"):
		return megaphones.IsMember(ctx, strings.TrimPrefix(conversationID, "mp:"), userID)

	default:
		return false, nil
	}
}
