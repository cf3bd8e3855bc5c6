package orch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/classmeet/internal/app"
	"github.com/dkeye/classmeet/internal/core"
	"github.com/dkeye/classmeet/internal/core/coretest"
	"github.com/dkeye/classmeet/internal/domain"
	"github.com/dkeye/classmeet/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t     *testing.T
	o     *Orchestrator
	conns map[core.SessionID]*coretest.Conn
	mu    sync.Mutex
}

func newFixture(t *testing.T, waitingRoom bool) *fixture {
	settings := domain.DefaultSettings()
	settings.WaitingRoomEnabled = waitingRoom
	reg := app.NewRegistry()
	rooms := app.NewRoomManager(coretest.NewTransport(), settings)
	return &fixture{
		t: t,
		o: &Orchestrator{
			Registry:  reg,
			Rooms:     rooms,
			Admission: app.NewAdmissionController(),
			Relay:     app.NewRelay(reg, rooms, app.SimplePolicy{}),
		},
		conns: map[core.SessionID]*coretest.Conn{},
	}
}

func (f *fixture) connect(sid core.SessionID) *coretest.Conn {
	c := coretest.NewConn()
	f.mu.Lock()
	f.conns[sid] = c
	f.mu.Unlock()
	f.o.OnConnect(sid, c, "token-"+string(sid))
	return c
}

func (f *fixture) join(sid core.SessionID, room, name string, teacher bool) *coretest.Conn {
	c := f.connect(sid)
	require.NoError(f.t, f.o.Join(context.Background(), sid, room, name, teacher))
	return c
}

func (f *fixture) room(id domain.RoomID) *core.Room {
	r, ok := f.o.Rooms.Get(id)
	require.True(f.t, ok, "room %s exists", id)
	return r
}

func TestScenarioOpenRoom(t *testing.T) {
	f := newFixture(t, false)
	amy := f.join("amy", "Alpha", "Amy", true)
	bob := f.join("bob", "Alpha", "Bob", false)

	c, ok := f.room("Alpha").Creator()
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantID("amy"), c.ParticipantID)

	joinedAmy := coretest.Find[*protocol.UserJoined](amy)
	require.Len(t, joinedAmy, 1)
	assert.Equal(t, domain.ParticipantID("bob"), joinedAmy[0].ParticipantID)
	assert.Equal(t, "Bob", joinedAmy[0].UserName)
	assert.False(t, joinedAmy[0].IsTeacher)

	rj := coretest.Find[*protocol.RoomJoined](bob)
	require.Len(t, rj, 1)
	assert.Equal(t, domain.ParticipantID("bob"), rj[0].YourID)
	require.Len(t, rj[0].Participants, 1)
	assert.Equal(t, domain.ParticipantID("amy"), rj[0].Participants[0].ID)
	assert.Equal(t, "Amy", rj[0].Participants[0].Name)
	assert.True(t, rj[0].Participants[0].IsTeacher)
	assert.False(t, rj[0].IsCreator)
	assert.NotEmpty(t, rj[0].ICEServers)

	req := coretest.Find[*protocol.RequestMediaState](amy)
	require.Len(t, req, 1)
	assert.Equal(t, domain.ParticipantID("bob"), req[0].NewParticipantID)
	assert.Empty(t, coretest.Find[*protocol.WaitingForApproval](bob))
}

func TestScenarioWaitingRoomAdmit(t *testing.T) {
	f := newFixture(t, true)
	amy := f.join("amy", "Beta", "Amy", true)
	cara := f.join("cara", "Beta", "Cara", false)

	assert.Len(t, coretest.Find[*protocol.WaitingForApproval](cara), 1)
	assert.Empty(t, coretest.Find[*protocol.RoomJoined](cara))
	w := coretest.Find[*protocol.WaitingParticipant](amy)
	require.Len(t, w, 1)
	assert.Equal(t, domain.ParticipantID("cara"), w[0].ParticipantID)
	assert.True(t, f.room("Beta").IsWaiting("cara"))

	require.NoError(t, f.o.Admit("amy", "cara"))

	room := f.room("Beta")
	assert.False(t, room.IsWaiting("cara"))
	_, ok := room.Participant("cara")
	assert.True(t, ok)
	assert.Len(t, coretest.Find[*protocol.RoomJoined](cara), 1)
	uj := coretest.Find[*protocol.UserJoined](amy)
	require.Len(t, uj, 1)
	assert.Equal(t, domain.ParticipantID("cara"), uj[0].ParticipantID)

	id, err := f.o.Registry.Lookup("cara")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("Beta"), id.RoomID)
}

func TestScenarioStudentCannotAdmit(t *testing.T) {
	f := newFixture(t, true)
	f.join("amy", "Beta", "Amy", true)
	f.join("cara", "Beta", "Cara", false)
	require.NoError(t, f.o.Admit("amy", "cara"))
	dan := f.join("dan", "Beta", "Dan", false)

	err := f.o.Admit("cara", "dan")
	assert.ErrorIs(t, err, core.ErrNotAuthorized)
	err = f.o.Deny("cara", "dan")
	assert.ErrorIs(t, err, core.ErrNotAuthorized)

	waiting := f.room("Beta").Waiting()
	require.Len(t, waiting, 1)
	assert.Equal(t, domain.ParticipantID("dan"), waiting[0].ID)
	assert.Empty(t, coretest.Find[*protocol.RoomJoined](dan))
}

func TestScenarioAnswerToDisconnectedPeer(t *testing.T) {
	f := newFixture(t, false)
	amy := f.join("amy", "Alpha", "Amy", true)
	f.join("bob", "Alpha", "Bob", false)

	require.NoError(t, f.o.Signal("bob", "amy", &protocol.Offer{Type: protocol.KindOffer, To: "amy", Offer: "sdp"}))
	assert.Len(t, coretest.Find[*protocol.Offer](amy), 1)
	before := f.room("Alpha").ParticipantCount()

	f.o.OnDisconnect("bob")

	err := f.o.Signal("amy", "bob", &protocol.Answer{Type: protocol.KindAnswer, To: "bob", Answer: "sdp"})
	assert.NoError(t, err)
	assert.False(t, amy.Closed())
	assert.Equal(t, before-1, f.room("Alpha").ParticipantCount())

	left := coretest.Find[*protocol.UserLeft](amy)
	require.Len(t, left, 1)
	assert.Equal(t, "Bob", left[0].UserName)
}

func TestDenyTellsRequester(t *testing.T) {
	f := newFixture(t, true)
	amy := f.join("amy", "Beta", "Amy", true)
	cara := f.join("cara", "Beta", "Cara", false)

	require.NoError(t, f.o.Deny("amy", "cara"))
	denied := coretest.Find[*protocol.JoinDenied](cara)
	require.Len(t, denied, 1)
	assert.Equal(t, protocol.ReasonDenied, denied[0].Reason)
	assert.False(t, f.room("Beta").IsWaiting("cara"))
	_, waiting := f.o.Registry.WaitingRoom("cara")
	assert.False(t, waiting)

	removed := coretest.Find[*protocol.WaitingRemoved](amy)
	require.Len(t, removed, 1)
	assert.Equal(t, protocol.ReasonDenied, removed[0].Reason)

	assert.NoError(t, f.o.Deny("amy", "cara"), "a second decision is absorbed")
}

func TestWaitingDisconnectIsSilent(t *testing.T) {
	f := newFixture(t, true)
	amy := f.join("amy", "Beta", "Amy", true)
	cara := f.join("cara", "Beta", "Cara", false)

	f.o.OnDisconnect("cara")
	assert.False(t, f.room("Beta").IsWaiting("cara"))
	assert.Empty(t, coretest.Find[*protocol.JoinDenied](cara))
	removed := coretest.Find[*protocol.WaitingRemoved](amy)
	require.Len(t, removed, 1)
	assert.Equal(t, protocol.ReasonLeft, removed[0].Reason)

	assert.NoError(t, f.o.Admit("amy", "cara"))
	assert.Equal(t, 1, f.room("Beta").ParticipantCount())
}

func TestRoomClosingDeniesWaiters(t *testing.T) {
	f := newFixture(t, true)
	f.join("amy", "Beta", "Amy", true)
	cara := f.join("cara", "Beta", "Cara", false)

	f.o.OnDisconnect("amy")

	_, ok := f.o.Rooms.Get("Beta")
	assert.False(t, ok)
	denied := coretest.Find[*protocol.JoinDenied](cara)
	require.Len(t, denied, 1)
	assert.Equal(t, protocol.ReasonRoomClosed, denied[0].Reason)

	require.NoError(t, f.o.Join(context.Background(), "cara", "Beta", "Cara", false))
	assert.Len(t, coretest.Find[*protocol.RoomJoined](cara), 1, "fresh room admits its first joiner")
}

func TestWaitingRoomDisabledAlwaysAdmits(t *testing.T) {
	f := newFixture(t, false)
	for i := 0; i < 5; i++ {
		c := f.join(core.SessionID(fmt.Sprintf("s%d", i)), "Gamma", fmt.Sprintf("User %d", i), false)
		assert.Len(t, coretest.Find[*protocol.RoomJoined](c), 1)
		assert.Empty(t, coretest.Find[*protocol.WaitingForApproval](c))
	}
	assert.Empty(t, f.room("Gamma").Waiting())
	assert.Equal(t, 5, f.room("Gamma").ParticipantCount())
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t, false)
	f.connect("amy")
	assert.ErrorIs(t, f.o.Join(context.Background(), "amy", "", "Amy", false), domain.ErrRoomIDEmpty)
	assert.ErrorIs(t, f.o.Join(context.Background(), "amy", "Alpha", "  ", false), domain.ErrUsernameEmpty)
	assert.Equal(t, 0, f.o.Rooms.Len())

	require.NoError(t, f.o.Join(context.Background(), "amy", "Alpha", "Amy", false))
	assert.ErrorIs(t, f.o.Join(context.Background(), "amy", "Other", "Amy", false), app.ErrAlreadyBound)
}

func TestJoinFullRoom(t *testing.T) {
	f := newFixture(t, false)
	f.join("amy", "Alpha", "Amy", true)
	max := 1
	f.room("Alpha").UpdateSettings(domain.SettingsPatch{MaxParticipants: &max})

	f.connect("bob")
	err := f.o.Join(context.Background(), "bob", "Alpha", "Bob", false)
	assert.ErrorIs(t, err, core.ErrRoomFull)
	_, err = f.o.Registry.Lookup("bob")
	assert.Error(t, err)
}

func TestLeaveThenDisconnect(t *testing.T) {
	f := newFixture(t, false)
	amy := f.join("amy", "Alpha", "Amy", true)
	bob := f.join("bob", "Alpha", "Bob", false)

	f.o.Leave("bob")
	f.o.Leave("bob")
	f.o.OnDisconnect("bob")

	assert.Len(t, coretest.Find[*protocol.RoomLeft](bob), 1)
	assert.Len(t, coretest.Find[*protocol.UserLeft](amy), 1)
	assert.Equal(t, 1, f.room("Alpha").ParticipantCount())
}

func TestTeardownAfterAllDisconnects(t *testing.T) {
	f := newFixture(t, false)
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		sid := core.SessionID(fmt.Sprintf("s%d", i))
		f.connect(sid)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.o.Join(context.Background(), sid, "Delta", "User", false))
			f.o.OnDisconnect(sid)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, f.o.Rooms.Len())
	assert.Equal(t, 0, f.o.Registry.Len())
}

func TestModeratorActions(t *testing.T) {
	f := newFixture(t, false)
	amy := f.join("amy", "Alpha", "Amy", true)
	bob := f.join("bob", "Alpha", "Bob", false)
	cara := f.join("cara", "Alpha", "Cara", false)

	assert.ErrorIs(t, f.o.ModeratorMute("bob", "cara"), core.ErrNotAuthorized)
	assert.Empty(t, coretest.Find[*protocol.Moderation](cara))

	require.NoError(t, f.o.ModeratorMute("amy", "cara"))
	mute := coretest.Find[*protocol.Moderation](cara)
	require.Len(t, mute, 1)
	assert.Equal(t, protocol.KindModeratorMuteReq, mute[0].Type)
	assert.Equal(t, domain.ParticipantID("amy"), mute[0].ModeratorID)
	assert.Empty(t, coretest.Find[*protocol.Moderation](bob))

	require.NoError(t, f.o.ModeratorToggleVideo("amy", "ghost"))

	require.NoError(t, f.o.ModeratorRemove("amy", "bob"))
	assert.Len(t, coretest.Find[*protocol.Kicked](bob), 1)
	assert.Len(t, coretest.Find[*protocol.RoomLeft](bob), 1)
	assert.False(t, bob.Closed())
	_, ok := f.room("Alpha").Participant("bob")
	assert.False(t, ok)
	assert.Len(t, coretest.Find[*protocol.UserLeft](amy), 1)
}

func TestChat(t *testing.T) {
	f := newFixture(t, false)
	amy := f.join("amy", "Alpha", "Amy", true)
	bob := f.join("bob", "Alpha", "Bob", false)

	require.NoError(t, f.o.Chat("bob", "  hello  "))
	for _, c := range []*coretest.Conn{amy, bob} {
		got := coretest.Find[*protocol.Chat](c)
		require.Len(t, got, 1)
		assert.Equal(t, "hello", got[0].Message)
		assert.Equal(t, "Bob", got[0].ParticipantName)
		assert.NotZero(t, got[0].Timestamp)
	}

	assert.ErrorIs(t, f.o.Chat("bob", ""), ErrEmptyMessage)

	off := false
	require.NoError(t, f.o.UpdateSettings("amy", domain.SettingsPatch{ChatAllowed: &off}))
	assert.ErrorIs(t, f.o.Chat("bob", "hi"), ErrFeatureDisabled)
	assert.NoError(t, f.o.Chat("amy", "teachers may"))

	assert.ErrorIs(t, f.o.UpdateSettings("bob", domain.SettingsPatch{ChatAllowed: &off}), core.ErrNotAuthorized)
}

func TestTogglesAndPins(t *testing.T) {
	f := newFixture(t, false)
	amy := f.join("amy", "Alpha", "Amy", true)
	f.join("bob", "Alpha", "Bob", false)

	require.NoError(t, f.o.ToggleMedia("bob", protocol.KindToggleVideo, false))
	got := coretest.Find[*protocol.Toggle](amy)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.KindVideoToggled, got[0].Type)
	assert.False(t, got[0].Enabled)
	p, _ := f.room("Alpha").Participant("bob")
	assert.False(t, p.Media.HasVideo)

	require.NoError(t, f.o.Pin("amy", "bob", true))
	p, _ = f.room("Alpha").Participant("bob")
	assert.True(t, p.UI.IsPinned)

	require.NoError(t, f.o.Hand("bob", true))
	hands := coretest.Find[*protocol.Hand](amy)
	require.Len(t, hands, 1)
	assert.Equal(t, protocol.KindHandRaised, hands[0].Type)

	f.connect("stranger")
	assert.ErrorIs(t, f.o.Hand("stranger", true), ErrNotInRoom)
}

func TestMediaStatePushGoesToOneTarget(t *testing.T) {
	f := newFixture(t, false)
	amy := f.join("amy", "Alpha", "Amy", true)
	bob := f.join("bob", "Alpha", "Bob", false)
	cara := f.join("cara", "Alpha", "Cara", false)

	require.NoError(t, f.o.PushMediaState("amy", &protocol.MediaState{To: "cara", VideoEnabled: true}))
	got := coretest.Find[*protocol.MediaState](cara)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ParticipantID("amy"), got[0].ParticipantID)
	assert.True(t, got[0].VideoEnabled)
	assert.Empty(t, coretest.Find[*protocol.MediaState](bob))
	assert.Empty(t, coretest.Find[*protocol.MediaState](amy))
}

func TestBreakouts(t *testing.T) {
	f := newFixture(t, false)
	amy := f.join("amy", "Alpha", "Amy", true)
	bob := f.join("bob", "Alpha", "Bob", false)
	f.join("cara", "Alpha", "Cara", false)

	_, err := f.o.CreateBreakout("bob", "nope")
	assert.ErrorIs(t, err, core.ErrNotAuthorized)

	b, err := f.o.CreateBreakout("amy", "Group 1")
	require.NoError(t, err)
	assert.Len(t, coretest.Find[*protocol.BreakoutCreated](bob), 1)

	amy.Reset()
	require.NoError(t, f.o.MoveToBreakout("amy", "bob", b.ID))
	assert.Len(t, coretest.Find[*protocol.UserLeft](amy), 1)
	bj := coretest.Find[*protocol.BreakoutJoined](bob)
	require.Len(t, bj, 1)
	assert.Empty(t, bj[0].Participants)

	bob.Reset()
	require.NoError(t, f.o.Signal("amy", "bob", &protocol.Offer{Type: protocol.KindOffer, Offer: "sdp"}))
	assert.Empty(t, coretest.Find[*protocol.Offer](bob), "offers do not cross scopes")

	require.NoError(t, f.o.CloseBreakouts("amy"))
	closed := coretest.Find[*protocol.BreakoutsClosed](bob)
	require.Len(t, closed, 1)
	assert.Len(t, closed[0].Participants, 2)
	assert.True(t, f.room("Alpha").SameScope("amy", "bob"))
}

func TestRecordingFlag(t *testing.T) {
	f := newFixture(t, false)
	f.join("amy", "Alpha", "Amy", true)
	bob := f.join("bob", "Alpha", "Bob", false)

	assert.ErrorIs(t, f.o.ToggleRecording("bob", true), core.ErrNotAuthorized)
	require.NoError(t, f.o.ToggleRecording("amy", true))
	assert.True(t, f.room("Alpha").Recording())
	rs := coretest.Find[*protocol.RecordingState](bob)
	require.Len(t, rs, 1)
	assert.True(t, rs[0].Recording)
}

// enterWaiting queues a waiting request the way Join does, without
// marking the connection yet.
func (f *fixture) enterWaiting(sid core.SessionID, roomID domain.RoomID, name string) (*core.Room, domain.Identity) {
	room := f.room(roomID)
	id, err := domain.NewIdentity(string(roomID), sid.ParticipantID(), name, false)
	require.NoError(f.t, err)
	decision, _, err := f.o.Admission.Enter(room, id)
	require.NoError(f.t, err)
	require.Equal(f.t, domain.Wait, decision)
	return room, id
}

func TestWaitingRequestOutlivesRoom(t *testing.T) {
	f := newFixture(t, true)
	f.join("amy", "Beta", "Amy", true)
	cara := f.connect("cara")
	room, id := f.enterWaiting("cara", "Beta", "Cara")

	f.o.OnDisconnect("amy")
	_, alive := f.o.Rooms.Get("Beta")
	require.False(t, alive)

	require.NoError(t, f.o.awaitApproval("cara", room, id))

	denied := coretest.Find[*protocol.JoinDenied](cara)
	require.Len(t, denied, 1)
	assert.Equal(t, protocol.ReasonRoomClosed, denied[0].Reason)
	_, waiting := f.o.Registry.WaitingRoom("cara")
	assert.False(t, waiting)

	require.NoError(t, f.o.Join(context.Background(), "cara", "Beta", "Cara", false))
	assert.Len(t, coretest.Find[*protocol.RoomJoined](cara), 1)
}

func TestWaitingRequestAdmittedBeforeMark(t *testing.T) {
	f := newFixture(t, true)
	f.join("amy", "Beta", "Amy", true)
	cara := f.connect("cara")
	room, id := f.enterWaiting("cara", "Beta", "Cara")

	require.NoError(t, f.o.Admit("amy", "cara"))
	require.NoError(t, f.o.awaitApproval("cara", room, id))

	assert.Len(t, coretest.Find[*protocol.RoomJoined](cara), 1)
	assert.Empty(t, coretest.Find[*protocol.JoinDenied](cara))
	bound, err := f.o.Registry.Lookup("cara")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("Beta"), bound.RoomID)
	_, waiting := f.o.Registry.WaitingRoom("cara")
	assert.False(t, waiting)
}

func TestWaitingRequestAdmittedAfterMark(t *testing.T) {
	f := newFixture(t, true)
	f.join("amy", "Beta", "Amy", true)
	cara := f.join("cara", "Beta", "Cara", false)
	_, waiting := f.o.Registry.WaitingRoom("cara")
	require.True(t, waiting)

	require.NoError(t, f.o.Admit("amy", "cara"))

	assert.Len(t, coretest.Find[*protocol.RoomJoined](cara), 1)
	_, waiting = f.o.Registry.WaitingRoom("cara")
	assert.False(t, waiting)
}

func TestWaitingRequestDeniedBeforeMark(t *testing.T) {
	f := newFixture(t, true)
	f.join("amy", "Beta", "Amy", true)
	cara := f.connect("cara")
	room, id := f.enterWaiting("cara", "Beta", "Cara")

	require.NoError(t, f.o.Deny("amy", "cara"))
	assert.Empty(t, coretest.Find[*protocol.JoinDenied](cara))

	require.NoError(t, f.o.awaitApproval("cara", room, id))

	denied := coretest.Find[*protocol.JoinDenied](cara)
	require.Len(t, denied, 1)
	assert.Equal(t, protocol.ReasonDenied, denied[0].Reason)
	_, waiting := f.o.Registry.WaitingRoom("cara")
	assert.False(t, waiting)

	require.NoError(t, f.o.Join(context.Background(), "cara", "Beta", "Cara", false))
	assert.True(t, f.room("Beta").IsWaiting("cara"))
}

func TestMediaHandleFollowsParticipant(t *testing.T) {
	f := newFixture(t, true)
	f.join("amy", "Beta", "Amy", true)
	f.join("cara", "Beta", "Cara", false)
	require.NoError(t, f.o.Admit("amy", "cara"))

	router, ok := f.room("Beta").Router().(*coretest.Router)
	require.True(t, ok)
	amyHandle, ok := router.Handle("amy")
	require.True(t, ok)
	caraHandle, ok := router.Handle("cara")
	require.True(t, ok, "admitted participants get a handle too")

	f.o.OnDisconnect("cara")
	assert.Equal(t, 1, caraHandle.Closed())
	assert.Equal(t, 0, amyHandle.Closed())

	f.o.Leave("amy")
	assert.Equal(t, 1, amyHandle.Closed())
	assert.True(t, router.Closed())
}
