package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub/pkg/types"
	"github.com/streamhub/streamhub/server/internal/store"
)

// fakeConn records every envelope sent to it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   []types.Envelope
	closed bool
	full   bool
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(env types.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	if f.full {
		return ErrSendQueueFull
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) setFull() {
	f.mu.Lock()
	f.full = true
	f.mu.Unlock()
}

// take returns and clears everything sent so far.
func (f *fakeConn) take() []types.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func ofType(envs []types.Envelope, typ string) []types.Envelope {
	var out []types.Envelope
	for _, e := range envs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// only asserts envs holds exactly one envelope of typ and decodes it.
func only[T any](t *testing.T, envs []types.Envelope, typ string) T {
	t.Helper()
	matched := ofType(envs, typ)
	require.Len(t, matched, 1, "want exactly one %s in %v", typ, typesOf(envs))
	var v T
	require.NoError(t, matched[0].Decode(&v))
	return v
}

func typesOf(envs []types.Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}

func frame(t *testing.T, typ string, data interface{}) []byte {
	t.Helper()
	env, err := types.NewEnvelope(typ, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

// countingObserver tallies observer callbacks.
type countingObserver struct {
	mu       sync.Mutex
	received map[string]int
	dropped  map[string]int
	slow     int
}

func newObserver() *countingObserver {
	return &countingObserver{received: map[string]int{}, dropped: map[string]int{}}
}

func (o *countingObserver) Received(typ string) {
	o.mu.Lock()
	o.received[typ]++
	o.mu.Unlock()
}

func (o *countingObserver) Dropped(reason string) {
	o.mu.Lock()
	o.dropped[reason]++
	o.mu.Unlock()
}

func (o *countingObserver) SlowConsumer() {
	o.mu.Lock()
	o.slow++
	o.mu.Unlock()
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []types.Notification
}

func (n *recordingNotifier) Notify(x types.Notification) {
	n.mu.Lock()
	n.got = append(n.got, x)
	n.mu.Unlock()
}

// newRelay builds a relay over the default seed: users 1-4, streams s1-s3,
// follows 1->2, 3->1, 4->1.
func newRelay(t *testing.T, opts ...Option) *Relay {
	t.Helper()
	st := store.New(store.DefaultHistoryLimit)
	seed, err := store.LoadSeed("")
	require.NoError(t, err)
	require.NoError(t, st.Apply(seed))
	return New(st, opts...)
}

func login(t *testing.T, r *Relay, userID string) *fakeConn {
	t.Helper()
	c := newConn("conn-" + userID)
	r.Connect(c)
	r.Dispatch(c, frame(t, types.TypeAuthenticate, types.AuthenticateRequest{UserID: userID}))
	res := only[types.AuthenticateResult](t, c.take(), types.TypeAuthenticateResult)
	require.True(t, res.Success, "authenticate %s: %+v", userID, res.Error)
	return c
}

func join(t *testing.T, r *Relay, c *fakeConn, streamID string) {
	t.Helper()
	r.Dispatch(c, frame(t, types.TypeJoinStream, types.StreamRequest{StreamID: streamID}))
}

func TestAuthenticate_ReportsOnlineFolloweesAndNotifiesFollowers(t *testing.T) {
	r := newRelay(t)
	c2 := login(t, r, "2")
	c3 := login(t, r, "3")

	c1 := newConn("conn-1")
	r.Connect(c1)
	r.Dispatch(c1, frame(t, types.TypeAuthenticate, types.AuthenticateRequest{UserID: "1"}))

	res := only[types.AuthenticateResult](t, c1.take(), types.TypeAuthenticateResult)
	assert.True(t, res.Success)
	require.NotNil(t, res.User)
	assert.Equal(t, "alexj", res.User.Handle)
	assert.True(t, res.User.Online)
	assert.Equal(t, []string{"2"}, res.Online)
	assert.Equal(t, StateAuthenticated, r.StateOf(c1))

	// 3 follows 1; 2 does not.
	pc := only[types.PresenceChanged](t, c3.take(), types.TypePresenceChanged)
	assert.Equal(t, types.PresenceChanged{UserID: "1", IsOnline: true}, pc)
	assert.Empty(t, c2.take())

	u, _ := r.Store().GetUser("1")
	assert.True(t, u.Online)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, r.OnlineUsers())
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	r := newRelay(t)
	c := newConn("c")
	r.Connect(c)
	r.Dispatch(c, frame(t, types.TypeAuthenticate, types.AuthenticateRequest{UserID: "nobody"}))

	res := only[types.Result](t, c.take(), types.TypeAuthenticateResult)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.KindNotFound, res.Error.Kind)
	assert.Equal(t, StateUnauthenticated, r.StateOf(c))
	assert.Empty(t, r.OnlineUsers())
}

func TestAuthenticate_Twice(t *testing.T) {
	r := newRelay(t)
	c := login(t, r, "1")
	r.Dispatch(c, frame(t, types.TypeAuthenticate, types.AuthenticateRequest{UserID: "2"}))

	res := only[types.Result](t, c.take(), types.TypeAuthenticateResult)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.KindInvalidOperation, res.Error.Kind)
	assert.False(t, r.IsOnline("2"))
}

func TestUnauthenticatedFollowIsRejected(t *testing.T) {
	r := newRelay(t)
	c := newConn("c")
	r.Connect(c)
	r.Dispatch(c, frame(t, types.TypeFollow, types.FollowRequest{FollowerID: "2", FollowingID: "3"}))

	res := only[types.Result](t, c.take(), types.TypeFollowResult)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.KindUnauthenticated, res.Error.Kind)
	assert.False(t, r.Store().IsFollowing("2", "3"))
}

func TestUnauthenticatedOperations(t *testing.T) {
	r := newRelay(t)
	for _, typ := range []string{
		types.TypeUnfollow, types.TypeJoinStream, types.TypeLeaveStream,
		types.TypeChatMessage, types.TypeNotificationRead,
	} {
		t.Run(typ, func(t *testing.T) {
			c := newConn("c-" + typ)
			r.Connect(c)
			r.Dispatch(c, frame(t, typ, map[string]string{"stream_id": "s1", "following_id": "1"}))
			res := only[types.Result](t, c.take(), types.ResultType(typ))
			require.NotNil(t, res.Error)
			assert.Equal(t, types.KindUnauthenticated, res.Error.Kind)
		})
	}
	assert.Empty(t, r.ViewersOf("s1"))
}

func TestFollow_DeliversToOnlineTarget(t *testing.T) {
	notifier := &recordingNotifier{}
	r := newRelay(t, WithNotifier(notifier))
	c3 := login(t, r, "3")
	c2 := login(t, r, "2")
	c3.take()

	r.Dispatch(c2, frame(t, types.TypeFollow, types.FollowRequest{FollowerID: "2", FollowingID: "3"}))

	res := only[types.FollowResult](t, c2.take(), types.TypeFollowResult)
	assert.True(t, res.Success)
	assert.Equal(t, types.TypeFollow, res.Action)
	assert.Equal(t, "3", res.FollowingID)
	assert.True(t, res.FollowingOnline)

	got := c3.take()
	nf := only[types.NewFollower](t, got, types.TypeNewFollower)
	assert.Equal(t, "2", nf.Follower.ID)
	assert.Equal(t, "sarahc", nf.Follower.Handle)
	n := only[types.Notification](t, got, types.TypeNotification)
	assert.Equal(t, types.NotifyFollow, n.Kind)
	assert.False(t, n.Read)
	assert.Equal(t, nf.Notification.ID, n.ID)

	st := r.Store()
	assert.True(t, st.IsFollowing("2", "3"))
	u3, _ := st.GetUser("3")
	assert.Equal(t, 1, u3.FollowerCount)
	u2, _ := st.GetUser("2")
	assert.Equal(t, 1, u2.FollowingCount)

	stored := st.Notifications("3")
	require.Len(t, stored, 1)
	assert.Equal(t, n.ID, stored[0].ID)
	assert.False(t, stored[0].Read)
	assert.Equal(t, 1, st.UnreadCount("3"))

	require.Len(t, notifier.got, 1)
	assert.Equal(t, n.ID, notifier.got[0].ID)
}

func TestFollow_OfflineTargetSeesNotificationOnLogin(t *testing.T) {
	r := newRelay(t)
	c2 := login(t, r, "2")
	r.Dispatch(c2, frame(t, types.TypeFollow, types.FollowRequest{FollowingID: "4"}))
	fr := only[types.FollowResult](t, c2.take(), types.TypeFollowResult)
	assert.True(t, fr.Success)
	assert.False(t, fr.FollowingOnline)

	c4 := newConn("conn-4")
	r.Connect(c4)
	r.Dispatch(c4, frame(t, types.TypeAuthenticate, types.AuthenticateRequest{UserID: "4"}))
	res := only[types.AuthenticateResult](t, c4.take(), types.TypeAuthenticateResult)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, types.NotifyFollow, res.Notifications[0].Kind)
}

func TestFollow_Failures(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")

	tests := []struct {
		name string
		req  types.FollowRequest
		want types.ErrorKind
	}{
		{"self", types.FollowRequest{FollowingID: "1"}, types.KindInvalidOperation},
		{"duplicate", types.FollowRequest{FollowingID: "2"}, types.KindConflict},
		{"unknown target", types.FollowRequest{FollowingID: "99"}, types.KindNotFound},
		{"impersonation", types.FollowRequest{FollowerID: "3", FollowingID: "4"}, types.KindInvalidOperation},
		{"missing target", types.FollowRequest{}, types.KindInvalidOperation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r.Dispatch(c1, frame(t, types.TypeFollow, tc.req))
			res := only[types.Result](t, c1.take(), types.TypeFollowResult)
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, tc.want, res.Error.Kind)
		})
	}

	u1, _ := r.Store().GetUser("1")
	assert.Equal(t, 1, u1.FollowingCount)
	assert.Equal(t, 3, r.Store().CountFollows())
}

func TestUnfollow(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")

	r.Dispatch(c1, frame(t, types.TypeUnfollow, types.FollowRequest{FollowingID: "2"}))
	res := only[types.FollowResult](t, c1.take(), types.TypeFollowResult)
	assert.True(t, res.Success)
	assert.Equal(t, types.TypeUnfollow, res.Action)

	u2, _ := r.Store().GetUser("2")
	assert.Equal(t, 0, u2.FollowerCount)

	r.Dispatch(c1, frame(t, types.TypeUnfollow, types.FollowRequest{FollowingID: "2"}))
	res = only[types.FollowResult](t, c1.take(), types.TypeFollowResult)
	assert.False(t, res.Success)
	assert.Nil(t, res.Error)
}

func TestJoinChatLeave(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")
	c2 := login(t, r, "2")
	c1.take()

	join(t, r, c1, "s1")
	got := c1.take()
	hist := only[types.ChatHistory](t, got, types.TypeChatHistory)
	assert.Empty(t, hist.Messages)
	assert.Equal(t, 1, only[types.ViewerEvent](t, got, types.TypeViewerJoined).Count)

	join(t, r, c2, "s1")
	got = c2.take()
	only[types.ChatHistory](t, got, types.TypeChatHistory)
	ev := only[types.ViewerEvent](t, got, types.TypeViewerJoined)
	assert.Equal(t, 2, ev.Count)
	ev = only[types.ViewerEvent](t, c1.take(), types.TypeViewerJoined)
	assert.Equal(t, 2, ev.Count)
	require.NotNil(t, ev.User)
	assert.Equal(t, "2", ev.User.ID)

	st, _ := r.Store().GetStream("s1")
	assert.Equal(t, 2, st.ViewerCount)

	r.Dispatch(c2, frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: "  hi  "}))
	for _, c := range []*fakeConn{c1, c2} {
		msg := only[types.Message](t, c.take(), types.TypeNewMessage)
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "2", msg.AuthorID)
		assert.Equal(t, "sarahc", msg.AuthorHandle)
		assert.Equal(t, types.MessageChat, msg.Kind)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.SentAt.IsZero())
	}
	require.Len(t, r.Store().Messages("s1"), 1)

	r.Dispatch(c2, frame(t, types.TypeLeaveStream, types.StreamRequest{StreamID: "s1"}))
	assert.Equal(t, 1, only[types.ViewerEvent](t, c2.take(), types.TypeStreamViewerCount).Count)
	left := only[types.ViewerEvent](t, c1.take(), types.TypeViewerLeft)
	assert.Equal(t, 1, left.Count)
	assert.Equal(t, "2", left.User.ID)

	st, _ = r.Store().GetStream("s1")
	assert.Equal(t, 1, st.ViewerCount)
	assert.Equal(t, []string{"1"}, r.ViewersOf("s1"))

	// Nothing from s1 reaches the viewer that left.
	r.Dispatch(c1, frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: "still here"}))
	msg := only[types.Message](t, c1.take(), types.TypeNewMessage)
	assert.Equal(t, "still here", msg.Content)
	got = c2.take()
	assert.Empty(t, ofType(got, types.TypeNewMessage))
	assert.Empty(t, ofType(got, types.TypeViewerJoined))
	assert.Empty(t, ofType(got, types.TypeViewerLeft))
}

func TestJoin_Twice(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")
	join(t, r, c1, "s1")
	c1.take()

	join(t, r, c1, "s1")
	got := c1.take()
	assert.Empty(t, ofType(got, types.TypeChatHistory), "history is sent once per join")
	assert.Equal(t, 1, only[types.ViewerEvent](t, got, types.TypeStreamViewerCount).Count)
	assert.Empty(t, ofType(got, types.TypeViewerJoined))
}

func TestJoinAndLeave_UnknownStream(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")
	for _, typ := range []string{types.TypeJoinStream, types.TypeLeaveStream} {
		r.Dispatch(c1, frame(t, typ, types.StreamRequest{StreamID: "nope"}))
		res := only[types.Result](t, c1.take(), types.ResultType(typ))
		require.NotNil(t, res.Error)
		assert.Equal(t, types.KindNotFound, res.Error.Kind)
	}
}

func TestLeave_NotJoined(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")
	c2 := login(t, r, "2")
	join(t, r, c2, "s2")
	c1.take()
	c2.take()

	r.Dispatch(c1, frame(t, types.TypeLeaveStream, types.StreamRequest{StreamID: "s2"}))
	assert.Equal(t, 1, only[types.ViewerEvent](t, c1.take(), types.TypeStreamViewerCount).Count)
	assert.Empty(t, c2.take())
}

func TestChat_Rejected(t *testing.T) {
	r := newRelay(t, WithMaxMessageLength(5))
	c1 := login(t, r, "1")
	c2 := login(t, r, "2")
	join(t, r, c1, "s1")
	c1.take()
	c2.take()

	tests := []struct {
		name string
		conn *fakeConn
		req  types.ChatRequest
		want types.ErrorKind
	}{
		{"not a viewer", c2, types.ChatRequest{StreamID: "s1", Message: "hey"}, types.KindInvalidOperation},
		{"empty", c1, types.ChatRequest{StreamID: "s1", Message: "   "}, types.KindInvalidOperation},
		{"too long", c1, types.ChatRequest{StreamID: "s1", Message: "toolong"}, types.KindInvalidOperation},
		{"system kind", c1, types.ChatRequest{StreamID: "s1", Message: "hey", Kind: types.MessageSystem}, types.KindInvalidOperation},
		{"unknown stream", c1, types.ChatRequest{StreamID: "zz", Message: "hey"}, types.KindNotFound},
		{"impersonation", c1, types.ChatRequest{StreamID: "s1", UserID: "2", Message: "hey"}, types.KindInvalidOperation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r.Dispatch(tc.conn, frame(t, types.TypeChatMessage, tc.req))
			res := only[types.Result](t, tc.conn.take(), types.TypeChatMessageResult)
			require.NotNil(t, res.Error)
			assert.Equal(t, tc.want, res.Error.Kind)
		})
	}
	assert.Empty(t, r.Store().Messages("s1"))
}

func TestChat_LimitCountsRunes(t *testing.T) {
	r := newRelay(t, WithMaxMessageLength(5))
	c1 := login(t, r, "1")
	join(t, r, c1, "s1")
	c1.take()

	r.Dispatch(c1, frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: "héllo"}))
	msg := only[types.Message](t, c1.take(), types.TypeNewMessage)
	assert.Equal(t, "héllo", msg.Content)

	r.SetMaxMessageLength(3)
	r.Dispatch(c1, frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: "héllo"}))
	res := only[types.Result](t, c1.take(), types.TypeChatMessageResult)
	assert.False(t, res.Success)
}

func TestChat_GiftKind(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")
	join(t, r, c1, "s1")
	c1.take()

	r.Dispatch(c1, frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: "rose", Kind: types.MessageGift}))
	msg := only[types.Message](t, c1.take(), types.TypeNewMessage)
	assert.Equal(t, types.MessageGift, msg.Kind)
}

func TestChat_DeliveryFollowsHistoryOrder(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")
	c2 := login(t, r, "2")
	c3 := login(t, r, "3")
	for _, c := range []*fakeConn{c1, c2, c3} {
		join(t, r, c, "s1")
	}
	for _, c := range []*fakeConn{c1, c2, c3} {
		c.take()
	}

	const perSender = 50
	frames := make([][]byte, perSender)
	for i := range frames {
		frames[i] = frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: fmt.Sprintf("m-%02d", i)})
	}
	var wg sync.WaitGroup
	for _, c := range []*fakeConn{c1, c2} {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			for _, f := range frames {
				r.Dispatch(c, f)
			}
		}(c)
	}
	wg.Wait()

	delivered := ofType(c3.take(), types.TypeNewMessage)
	require.Len(t, delivered, 2*perSender)

	history := r.Store().Messages("s1")
	require.Len(t, history, 2*perSender)

	next := map[string]int{}
	for i, env := range delivered {
		var msg types.Message
		require.NoError(t, env.Decode(&msg))
		assert.Equal(t, history[i].ID, msg.ID, "delivery %d out of history order", i)
		assert.Equal(t, fmt.Sprintf("m-%02d", next[msg.AuthorID]), msg.Content)
		next[msg.AuthorID]++
	}
}

func TestDisconnect_LeavesStreamsAndGoesOffline(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")
	c3 := login(t, r, "3")
	c4 := login(t, r, "4")
	join(t, r, c1, "s1")
	join(t, r, c1, "s2")
	join(t, r, c3, "s1")
	join(t, r, c4, "s2")
	for _, c := range []*fakeConn{c1, c3, c4} {
		c.take()
	}

	r.Disconnect(c1)

	got3 := c3.take()
	left := only[types.ViewerEvent](t, got3, types.TypeViewerLeft)
	assert.Equal(t, "s1", left.StreamID)
	assert.Equal(t, 1, left.Count)
	assert.Equal(t, types.PresenceChanged{UserID: "1", IsOnline: false},
		only[types.PresenceChanged](t, got3, types.TypePresenceChanged))

	got4 := c4.take()
	left = only[types.ViewerEvent](t, got4, types.TypeViewerLeft)
	assert.Equal(t, "s2", left.StreamID)
	assert.Equal(t, 1, left.Count)
	only[types.PresenceChanged](t, got4, types.TypePresenceChanged)

	u1, _ := r.Store().GetUser("1")
	assert.False(t, u1.Online)
	assert.False(t, r.IsOnline("1"))
	assert.Equal(t, map[string]int{"s1": 1, "s2": 1}, r.ViewerCounts())
	assert.Equal(t, StateClosed, r.StateOf(c1))
	assert.Equal(t, 2, r.ConnectionCount())

	// Second disconnect of the same connection is a no-op.
	r.Disconnect(c1)
	assert.Empty(t, c3.take())
}

func TestDisconnect_Unauthenticated(t *testing.T) {
	r := newRelay(t)
	c3 := login(t, r, "3")
	anon := newConn("anon")
	r.Connect(anon)
	assert.Equal(t, 2, r.ConnectionCount())

	r.Disconnect(anon)
	assert.Empty(t, c3.take())
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestReauthenticate_EvictsStaleConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	old := NewMockConnection(ctrl)
	old.EXPECT().ID().Return("old").AnyTimes()
	old.EXPECT().Send(gomock.Any()).Return(nil).AnyTimes()
	old.EXPECT().Close().Return(nil).Times(1)

	r := newRelay(t)
	c3 := login(t, r, "3")
	c2 := login(t, r, "2")
	join(t, r, c2, "s1")
	r.Connect(old)
	r.Dispatch(old, frame(t, types.TypeAuthenticate, types.AuthenticateRequest{UserID: "1"}))
	r.Dispatch(old, frame(t, types.TypeJoinStream, types.StreamRequest{StreamID: "s1"}))
	c3.take()
	c2.take()
	require.ElementsMatch(t, []string{"1", "2"}, r.ViewersOf("s1"))

	fresh := login(t, r, "1")
	assert.Equal(t, StateClosed, r.StateOf(old))
	assert.Empty(t, ofType(c3.take(), types.TypePresenceChanged), "user never went offline")

	// The evicted connection's streams are left; the new one starts clean.
	assert.Equal(t, []string{"2"}, r.ViewersOf("s1"))
	left := only[types.ViewerEvent](t, c2.take(), types.TypeViewerLeft)
	assert.Equal(t, 1, left.Count)
	assert.Equal(t, "1", left.User.ID)

	r.Dispatch(c2, frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: "hi"}))
	assert.Empty(t, ofType(fresh.take(), types.TypeNewMessage))

	// Frames racing in on the evicted connection are ignored.
	r.Dispatch(old, frame(t, types.TypeJoinStream, types.StreamRequest{StreamID: "s1"}))
	assert.Equal(t, []string{"2"}, r.ViewersOf("s1"))

	r.Disconnect(old)
	assert.True(t, r.IsOnline("1"))
	u1, _ := r.Store().GetUser("1")
	assert.True(t, u1.Online)
	assert.Empty(t, c3.take())
	assert.Empty(t, ofType(c2.take(), types.TypeViewerLeft))

	conn, ok := r.presence.ConnectionFor("1")
	require.True(t, ok)
	assert.Equal(t, fresh.ID(), conn.ID())
}

// A frame on a connection whose user has already moved to a newer
// connection, but whose session is not yet marked closed, must not run
// without an identity.
func TestDispatch_ConnectionLosingItsUserIsIgnored(t *testing.T) {
	r := newRelay(t)
	c1 := login(t, r, "1")
	next := newConn("conn-1-next")
	r.Connect(next)

	r.presenceMu.Lock()
	r.presence.Register(next, "1")
	r.presenceMu.Unlock()

	assert.Equal(t, StateClosed, r.StateOf(c1))
	join(t, r, c1, "s1")
	r.Dispatch(c1, frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: "hi"}))

	assert.Empty(t, r.ViewersOf("s1"))
	assert.Empty(t, r.Store().Messages("s1"))
	assert.Empty(t, c1.take())
	st, _ := r.Store().GetStream("s1")
	assert.Equal(t, 0, st.ViewerCount)
}

func TestSlowConsumerIsClosed(t *testing.T) {
	obs := newObserver()
	r := newRelay(t, WithObserver(obs))
	c1 := login(t, r, "1")
	c2 := login(t, r, "2")
	join(t, r, c1, "s1")
	join(t, r, c2, "s1")
	c1.take()
	c2.take()

	c2.setFull()
	r.Dispatch(c1, frame(t, types.TypeChatMessage, types.ChatRequest{StreamID: "s1", Message: "hello"}))

	assert.True(t, c2.isClosed())
	assert.Equal(t, StateClosed, r.StateOf(c2))
	assert.Equal(t, 1, obs.slow)
	only[types.Message](t, c1.take(), types.TypeNewMessage)
}

func TestDispatch_DropsBadFrames(t *testing.T) {
	obs := newObserver()
	r := newRelay(t, WithObserver(obs))
	c := newConn("c")
	r.Connect(c)

	r.Dispatch(c, []byte("not json"))
	r.Dispatch(c, []byte(`{"data":{}}`))
	r.Dispatch(c, []byte(`{"type":"dance","data":{}}`))

	assert.Empty(t, c.take())
	assert.Equal(t, 2, obs.dropped["malformed"])
	assert.Equal(t, 1, obs.dropped["unknown_type"])
	assert.Equal(t, StateUnauthenticated, r.StateOf(c))
}

func TestDispatch_BadPayload(t *testing.T) {
	obs := newObserver()
	r := newRelay(t, WithObserver(obs))
	c1 := login(t, r, "1")

	r.Dispatch(c1, []byte(`{"type":"join_stream","data":"s1"}`))
	res := only[types.Result](t, c1.take(), types.TypeJoinStreamResult)
	require.NotNil(t, res.Error)
	assert.Equal(t, types.KindInvalidOperation, res.Error.Kind)
	assert.Equal(t, 1, obs.received[types.TypeJoinStream])
}

func TestNotificationRead(t *testing.T) {
	r := newRelay(t)
	c2 := login(t, r, "2")
	c3 := login(t, r, "3")
	r.Dispatch(c2, frame(t, types.TypeFollow, types.FollowRequest{FollowingID: "3"}))
	n := only[types.Notification](t, c3.take(), types.TypeNotification)

	r.Dispatch(c3, frame(t, types.TypeNotificationRead, types.NotificationReadRequest{NotificationID: n.ID}))
	res := only[types.NotificationReadResult](t, c3.take(), types.TypeNotificationReadResult)
	assert.True(t, res.Success)
	assert.Equal(t, n.ID, res.NotificationID)
	assert.Equal(t, 0, r.Store().UnreadCount("3"))

	// Another user's notification is not found for this user.
	r.Dispatch(c2, frame(t, types.TypeNotificationRead, types.NotificationReadRequest{NotificationID: n.ID}))
	fail := only[types.Result](t, c2.take(), types.TypeNotificationReadResult)
	require.NotNil(t, fail.Error)
	assert.Equal(t, types.KindNotFound, fail.Error.Kind)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, types.KindUnauthenticated, kindOf(ErrUnauthenticated))
	assert.Equal(t, types.KindNotFound, kindOf(fmt.Errorf("x: %w", store.ErrNotFound)))
	assert.Equal(t, types.KindConflict, kindOf(fmt.Errorf("x: %w", store.ErrConflict)))
	assert.Equal(t, types.KindInvalidOperation, kindOf(invalidf("bad %s", "input")))
	assert.True(t, strings.HasPrefix(invalidf("bad %s", "input").Error(), "bad input"))
}
