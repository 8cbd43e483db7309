package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizedConversationsDropsForeignThreads(t *testing.T) {
	h := &GatewayHandler{
		social:     stubBanChecker{},
		megaphones: stubMembershipChecker{members: map[string]bool{"m1|eve": true}},
	}

	// Eve may track her own DM and the megaphone she joined, nothing else.
	requested := []string{"dm:alice:bob", "mp:m1", "mp:m2", "dm:bob:eve"}
	allowed := h.authorizedConversations(context.Background(), "eve", requested)

	assert.Equal(t, []string{"mp:m1", "dm:bob:eve"}, allowed)
}

func TestAuthorizedConversationsBannedPeer(t *testing.T) {
	h := &GatewayHandler{
		social:     stubBanChecker{banned: map[string]bool{"alice|bob": true}},
		megaphones: stubMembershipChecker{},
	}

	allowed := h.authorizedConversations(context.Background(), "bob", []string{"dm:alice:bob"})
	assert.Empty(t, allowed)
}

func TestPushAfterCloseDoesNotPanic(t *testing.T) {
	c := &wsClient{send: make(chan []byte, 1)}

	c.push(map[string]string{"type": "welcome"})
	assert.Len(t, c.send, 1)

	c.closeSend()
	c.closeSend()

	// A listener callback landing after teardown must be a no-op.
	assert.NotPanics(t, func() {
		c.push(map[string]string{"type": "presence"})
	})
}
