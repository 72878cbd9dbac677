package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageIsEncrypted(t *testing.T) {
	require.True(t, Message{Content: "U2FsdGVkX1+abcdef"}.IsEncrypted())
	require.False(t, Message{Content: "hello"}.IsEncrypted())
}

func TestWithLikeToggledDoesNotAliasOriginal(t *testing.T) {
	orig := Message{ID: "m1", LikedByIDs: []string{"a", "b"}}

	liked := orig.WithLikeToggled("c")
	require.Equal(t, []string{"a", "b", "c"}, liked.LikedByIDs)
	require.Equal(t, []string{"a", "b"}, orig.LikedByIDs)

	unliked := liked.WithLikeToggled("a")
	require.Equal(t, []string{"b", "c"}, unliked.LikedByIDs)
	require.False(t, unliked.LikedBy("a"))
	require.True(t, liked.LikedBy("a"))
}

func TestChatLastMessage(t *testing.T) {
	_, ok := Chat{ID: "1"}.LastMessage()
	require.False(t, ok)

	last, ok := Chat{ID: "1", Messages: []Message{{ID: "x"}, {ID: "y"}}}.LastMessage()
	require.True(t, ok)
	require.Equal(t, "y", last.ID)
}
