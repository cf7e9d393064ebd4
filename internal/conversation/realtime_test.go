package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionFrame(fields string) []byte {
	return []byte(`{"identifier":"{}","message":{"result":{"data":{"aiCompletionResponse":{` + fields + `}}}}}`)
}

func chunkFrame(requestID, content string, chunk int) []byte {
	return completionFrame(fmt.Sprintf(`"requestId":%q,"content":%q,"role":"ASSISTANT","threadId":"thread-1","timestamp":"2025-06-01T12:00:01Z","chunkId":%d`, requestID, content, chunk))
}

func finalFrame(requestID, content string) []byte {
	return completionFrame(fmt.Sprintf(`"id":"final-1","requestId":%q,"content":%q,"role":"ASSISTANT","threadId":"thread-1","timestamp":"2025-06-01T12:00:02Z","chunkId":null`, requestID, content))
}

func TestChunksAssembleIntoOneMessage(t *testing.T) {
	s, _ := newSignedInStore(t, Options{})

	s.HandleRealtimeEvent(chunkFrame("req-1", "Hel", 1))
	s.HandleRealtimeEvent(chunkFrame("req-1", "lo ", 2))
	s.HandleRealtimeEvent(chunkFrame("req-1", "world", 3))

	msgs := s.Snapshot().Messages["thread-1"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello world", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, "3", msgs[0].ChunkID)
	assert.Empty(t, s.Events(), "chunks do not complete a response")
}

func TestFinalMessageReplacesChunks(t *testing.T) {
	s, gql := newSignedInStore(t, Options{})
	gql.reply(aiActionMutation, `{"aiAction":{"requestId":"req-1","errors":[],"threadId":"thread-1"}}`)
	_, err := s.SendMessage(context.Background(), "hi", "thread-1")
	require.NoError(t, err)
	require.True(t, s.Snapshot().Loading)

	s.HandleRealtimeEvent(chunkFrame("req-1", "partial", 1))
	s.HandleRealtimeEvent(finalFrame("req-1", "Full answer."))

	snap := s.Snapshot()
	msgs := snap.Messages["thread-1"]
	assert.Equal(t, []string{"hi", "Full answer."}, contents(msgs))
	assert.Equal(t, "final-1", msgs[1].ID)
	assert.Empty(t, msgs[1].ChunkID)
	assert.False(t, snap.Loading)

	select {
	case ev := <-s.Events():
		assert.Equal(t, Event{Kind: EventResponseCompleted, ThreadID: "thread-1", RequestID: "req-1"}, ev)
	default:
		t.Fatal("no completion event")
	}
}

func TestFinalMessageWithoutChunksAppends(t *testing.T) {
	s, _ := newSignedInStore(t, Options{})

	s.HandleRealtimeEvent(finalFrame("req-1", "one"))
	s.HandleRealtimeEvent(finalFrame("req-2", "two"))

	assert.Equal(t, []string{"one", "two"}, contents(s.Snapshot().Messages["thread-1"]))
}

func TestChunkWithoutRequestIDIsFinal(t *testing.T) {
	s, _ := newSignedInStore(t, Options{})

	s.HandleRealtimeEvent(completionFrame(`"content":"a","role":"assistant","threadId":"thread-1","chunkId":1`))
	s.HandleRealtimeEvent(completionFrame(`"content":"b","role":"assistant","threadId":"thread-1","chunkId":2`))

	assert.Equal(t, []string{"a", "b"}, contents(s.Snapshot().Messages["thread-1"]))
	assert.Len(t, s.Events(), 2)
}

func TestRealtimeFramesWithoutCompletionAreIgnored(t *testing.T) {
	frames := map[string][]byte{
		"null payload":  []byte(`{"identifier":"{}","message":{"result":{"data":{"aiCompletionResponse":null}}}}`),
		"null sentinel": []byte(`{"aiCompletionResponse":"<null>"}`),
		"invalid":       completionFrame(`"content":"","role":"assistant","threadId":"thread-1"`),
		"unrelated":     []byte(`{"identifier":"{}","message":{"more":true}}`),
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			s, gql := newSignedInStore(t, Options{})
			before := s.Snapshot()
			threadLoads := len(gql.callsTo(threadsQuery))

			s.HandleRealtimeEvent(frame)

			after := s.Snapshot()
			assert.Equal(t, before.Messages, after.Messages)
			assert.Equal(t, before.Threads, after.Threads)
			assert.Len(t, gql.callsTo(threadsQuery), threadLoads)
		})
	}
}

func TestCompletionRoles(t *testing.T) {
	tests := []struct {
		wire string
		want Role
	}{
		{wire: "system", want: RoleSystem},
		{wire: "SYSTEM", want: RoleSystem},
		{wire: "USER", want: RoleUser},
		{wire: "assistant", want: RoleAssistant},
		{wire: "bot", want: RoleAssistant},
	}
	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			s, _ := newSignedInStore(t, Options{})
			s.HandleRealtimeEvent(completionFrame(fmt.Sprintf(`"content":"x","role":%q,"threadId":"thread-1"`, tt.wire)))

			msgs := s.Snapshot().Messages["thread-1"]
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.want, msgs[0].Role)
		})
	}
}

func TestSystemMessageDoesNotReplaceAnswer(t *testing.T) {
	s, gql := newSignedInStore(t, Options{})
	gql.reply(aiActionMutation, `{"aiAction":{"requestId":"req-1","errors":[],"threadId":"thread-1"}}`)
	_, err := s.SendMessage(context.Background(), "hi", "thread-1")
	require.NoError(t, err)

	s.HandleRealtimeEvent(chunkFrame("req-1", "partial", 1))
	s.HandleRealtimeEvent(completionFrame(`"requestId":"req-1","content":"policy notice","role":"system","threadId":"thread-1"`))

	snap := s.Snapshot()
	msgs := snap.Messages["thread-1"]
	assert.Equal(t, []string{"hi", "partial", "policy notice"}, contents(msgs))
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, RoleSystem, msgs[2].Role)
	assert.True(t, snap.Loading)
	assert.Empty(t, s.Events())

	s.HandleRealtimeEvent(finalFrame("req-1", "Full answer."))
	msgs = s.Snapshot().Messages["thread-1"]
	assert.Equal(t, []string{"hi", "Full answer.", "policy notice"}, contents(msgs))
	assert.False(t, s.Snapshot().Loading)
}

func TestCompletionForUnknownThreadReloadsThreads(t *testing.T) {
	s, gql := newSignedInStore(t, Options{})
	gql.reply(threadsQuery, `{"aiConversationThreads":{"nodes":[{"id":"thread-2","title":"Other"},{"id":"thread-1","title":"First"}]}}`)

	s.HandleRealtimeEvent(completionFrame(`"requestId":"r","content":"hey","role":"assistant","threadId":"thread-2"`))

	assert.Equal(t, []string{"hey"}, contents(s.Snapshot().Messages["thread-2"]))
	require.Eventually(t, func() bool {
		return len(threadIDs(s.Snapshot().Threads)) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"thread-2", "thread-1"}, threadIDs(s.Snapshot().Threads))
	assert.Len(t, gql.callsTo(threadsQuery), 2)
}

func TestKnownThreadDoesNotReload(t *testing.T) {
	s, gql := newSignedInStore(t, Options{})
	s.HandleRealtimeEvent(finalFrame("req-1", "hello"))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, gql.callsTo(threadsQuery), 1)
}

func newRealtimeStore(t *testing.T) (*Store, *fakeGQL, *fakeTransport) {
	t.Helper()
	gql := newFakeGQL()
	gql.reply(currentUserQuery, currentUserData)
	gql.reply(threadsQuery, `{"aiConversationThreads":{"nodes":[{"id":"thread-1","title":"First"}]}}`)
	tr := &fakeTransport{}
	s := NewStore(gql, tr, fixedSession(testBaseURL), Options{Now: func() time.Time { return testNow }})
	require.NoError(t, s.FetchCurrentUser(context.Background()))
	require.NoError(t, s.LoadThreads(context.Background()))
	return s, gql, tr
}

func TestSetupSubscriptionsWaitsForReadyTransport(t *testing.T) {
	s, _, tr := newRealtimeStore(t)

	require.NoError(t, s.SetupSubscriptions())
	assert.Empty(t, tr.subscribes)

	tr.becomeReady()
	require.Len(t, tr.subscribes, 1)

	sub := tr.subscribes[0]
	assert.Equal(t, completionSubscription, sub.query)
	assert.Equal(t, completionOperation, sub.operationName)
	assert.Equal(t, map[string]any{
		"userId":               testUserID,
		"aiAction":             "CHAT",
		"clientSubscriptionId": s.ClientSubscriptionID(),
	}, sub.variables)
}

func TestSetupSubscriptionsReplacesPrevious(t *testing.T) {
	s, _, tr := newRealtimeStore(t)
	tr.becomeReady()

	require.NoError(t, s.SetupSubscriptions())

	require.Len(t, tr.subscribes, 2)
	assert.Equal(t, []string{completionOperation + "_1"}, tr.unsubscribes)
}

func TestSetupSubscriptionsRequiresUser(t *testing.T) {
	tr := &fakeTransport{ready: true}
	s := NewStore(newFakeGQL(), tr, fixedSession(testBaseURL), Options{})

	assert.ErrorIs(t, s.SetupSubscriptions(), ErrUserNotFound)
	assert.Empty(t, tr.subscribes)
}

func TestSetupSubscriptionsWithoutTransport(t *testing.T) {
	s, _ := newSignedInStore(t, Options{})
	assert.ErrorIs(t, s.SetupSubscriptions(), errNoTransport)
}

func TestStartNewConversationRotatesSubscriptionID(t *testing.T) {
	s, _, tr := newRealtimeStore(t)
	tr.becomeReady()
	first := s.ClientSubscriptionID()

	require.NoError(t, s.StartNewConversation())

	second := s.ClientSubscriptionID()
	assert.NotEqual(t, first, second)
	require.Len(t, tr.subscribes, 2)
	assert.Equal(t, second, tr.subscribes[1].variables["clientSubscriptionId"])
}

func TestSubscriptionHandlerAppliesFrames(t *testing.T) {
	s, _, tr := newRealtimeStore(t)
	tr.becomeReady()
	require.Len(t, tr.subscribes, 1)

	tr.subscribes[0].handler(finalFrame("req-9", "pushed"))

	assert.Equal(t, []string{"pushed"}, contents(s.Snapshot().Messages["thread-1"]))
}
