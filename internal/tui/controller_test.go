package tui

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/csheth/docchat/internal/conversation"
)

func TestControllerStreamsFormattedReply(t *testing.T) {
	c := newController()

	request, ok := c.Submit("Hi")
	require.True(t, ok)
	require.Equal(t, []conversation.Turn{{Role: conversation.RoleUser, Content: "Hi"}}, request)
	require.Equal(t, stateSending, c.state)

	c.BeginStream()
	require.Equal(t, stateStreaming, c.state)

	var rendered []string
	for _, chunk := range []string{"Hel", "lo ", "there."} {
		c.ApplyChunk(chunk)
		last, _ := c.conv.Last()
		rendered = append(rendered, last.Content)
	}
	require.Equal(t, []string{"Hel", "Hello ", "Hello there.\n"}, rendered)

	c.Finish()
	require.Equal(t, stateIdle, c.state)
	require.Equal(t, []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Hi"},
		{Role: conversation.RoleAssistant, Content: "Hello there.\n"},
	}, c.Turns())
}

func TestControllerRejectsSubmitWhileInFlight(t *testing.T) {
	c := newController()
	_, ok := c.Submit("first")
	require.True(t, ok)

	_, ok = c.Submit("second")
	require.False(t, ok)
	c.BeginStream()
	_, ok = c.Submit("third")
	require.False(t, ok)
	require.False(t, c.BeginUpload())
	require.False(t, c.Clear())

	require.Len(t, c.Turns(), 2)
}

func TestControllerRejectsBlankInput(t *testing.T) {
	c := newController()
	_, ok := c.Submit("   ")
	require.False(t, ok)
	require.Equal(t, stateIdle, c.state)
	require.Empty(t, c.Turns())
}

func TestControllerFailKeepsPartialReply(t *testing.T) {
	c := newController()
	c.Submit("count")
	c.BeginStream()
	c.ApplyChunk("one. two")
	c.Fail(errors.New("stream reset"))

	require.Equal(t, stateErrorDisplayed, c.state)
	turns := c.Turns()
	require.Len(t, turns, 3)
	require.Equal(t, "one.\ntwo", turns[1].Content)
	require.Equal(t, replyErrorPrefix+"stream reset", turns[2].Content)

	_, ok := c.Submit("again")
	require.True(t, ok, "a new submission acknowledges the error")
}

func TestControllerFailBeforeFirstChunk(t *testing.T) {
	c := newController()
	c.Submit("Hi")
	c.Fail(errors.New("Error sending message to chat model"))

	require.Equal(t, []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Hi"},
		{Role: conversation.RoleAssistant, Content: "Sorry, there was an error processing your request: Error sending message to chat model"},
	}, c.Turns())

	c.Acknowledge()
	require.Equal(t, stateIdle, c.state)
}

func TestControllerDropsEmptyPlaceholderOnFailure(t *testing.T) {
	c := newController()
	c.Submit("Hi")
	c.BeginStream()
	c.Fail(errors.New("boom"))

	turns := c.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, conversation.RoleUser, turns[0].Role)
	require.Equal(t, replyErrorPrefix+"boom", turns[1].Content)
}

func TestControllerUploadSeedsNewConversation(t *testing.T) {
	c := newController()
	c.Submit("old question")
	c.BeginStream()
	c.ApplyChunk("old answer")
	c.Finish()

	require.True(t, c.BeginUpload())
	_, ok := c.Submit("during upload")
	require.False(t, ok)
	c.CompleteUpload("\n  The document covers X.\n\n")

	require.Equal(t, stateIdle, c.state)
	require.Equal(t, []conversation.Turn{{Role: conversation.RoleAssistant, Content: "The document covers X."}}, c.Turns())

	request, ok := c.Submit("Tell me more")
	require.True(t, ok)
	require.Len(t, request, 2)
	require.Equal(t, "The document covers X.", request[0].Content)
}

func TestControllerFailedUploadKeepsConversation(t *testing.T) {
	c := newController()
	c.Submit("Hi")
	c.BeginStream()
	c.ApplyChunk("Hello")
	c.Finish()

	require.True(t, c.BeginUpload())
	c.FailUpload()
	require.Equal(t, stateIdle, c.state)
	require.Len(t, c.Turns(), 2)
}

func TestControllerBoundsRequestWindow(t *testing.T) {
	c := newController()
	c.maxHistory = 4
	for i := 0; i < 5; i++ {
		c.Submit(fmt.Sprintf("q%d", i))
		c.BeginStream()
		c.ApplyChunk(fmt.Sprintf("a%d", i))
		c.Finish()
	}

	request, ok := c.Submit("latest")
	require.True(t, ok)
	require.Len(t, request, 5)
	require.Equal(t, "latest", request[4].Content)
	require.Equal(t, "q3", request[0].Content)
	require.Len(t, c.Turns(), 11, "display keeps every turn")
}
