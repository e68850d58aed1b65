package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToggleReactionIsInvolution(t *testing.T) {
	msg := Message{ID: "m"}

	msg.ToggleReaction("❤️", "ABCDEF")
	require.Equal(t, []string{"ABCDEF"}, msg.Reactions["❤️"])

	msg.ToggleReaction("❤️", "ABCDEF")
	_, exists := msg.Reactions["❤️"]
	require.False(t, exists, "empty reaction sets are removed")
}

func TestToggleReactionKeepsOtherUsers(t *testing.T) {
	msg := Message{ID: "m"}
	msg.ToggleReaction("👍", "AAAAAA")
	msg.ToggleReaction("👍", "BBBBBB")
	msg.ToggleReaction("👍", "AAAAAA")

	require.Equal(t, []string{"BBBBBB"}, msg.Reactions["👍"])
}

func TestReactionKeysSorted(t *testing.T) {
	msg := Message{ID: "m"}
	msg.ToggleReaction("🔥", "AAAAAA")
	msg.ToggleReaction("👍", "AAAAAA")
	msg.ToggleReaction("❤️", "BBBBBB")

	keys := msg.ReactionKeys()
	require.Len(t, keys, 3)
	require.IsNonDecreasing(t, keys)
}

func TestCloneDoesNotShareReactions(t *testing.T) {
	msg := Message{ID: "m"}
	msg.ToggleReaction("👍", "AAAAAA")

	cp := msg.Clone()
	cp.ToggleReaction("👍", "BBBBBB")

	require.Len(t, msg.Reactions["👍"], 1)
	require.Len(t, cp.Reactions["👍"], 2)
}

func TestRoomHelpers(t *testing.T) {
	room := Room{ID: "K7M2PQ", HostID: "K7M2PQ", AdminIDs: []string{"K7M2PQ"}, ActiveBots: []BotKind{BotMeme}}
	require.True(t, room.IsAdmin("K7M2PQ"))
	require.False(t, room.IsAdmin("ABCDEF"))
	require.True(t, room.HasBot(BotMeme))
	require.False(t, room.HasBot(BotModerator))

	cp := room.Clone()
	cp.ActiveBots = append(cp.ActiveBots, BotHelper)
	require.False(t, room.HasBot(BotHelper))
}
