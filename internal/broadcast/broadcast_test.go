package broadcast

import (
	"encoding/hex"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/bus"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/event"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/mutes"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/payload"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/registry"
)

// fakeHandle records every pushed frame.
type fakeHandle struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func newFakeHandle(id string) *fakeHandle { return &fakeHandle{id: id} }

func (f *fakeHandle) ID() string   { return f.id }
func (f *fakeHandle) Kind() string { return "fake" }
func (f *fakeHandle) Close() error { return nil }

func (f *fakeHandle) Push(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeHandle) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// fakePublish is one recorded bus publish.
type fakePublish struct {
	subject string
	data    []byte
}

// fakeBus records publishes and lets tests inject inbound messages.
type fakeBus struct {
	mu        sync.Mutex
	published []fakePublish
	handlers  map[string]bus.MsgHandler
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]bus.MsgHandler)}
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, fakePublish{subject: subject, data: data})
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler bus.MsgHandler) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return &fakeSub{bus: b, subject: subject}, nil
}

func (b *fakeBus) Close() {}

func (b *fakeBus) publishes() []fakePublish {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]fakePublish, len(b.published))
	copy(out, b.published)
	return out
}

func (b *fakeBus) subscribed(subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[subject]
	return ok
}

// inject delivers a message as if it arrived from another process.
func (b *fakeBus) inject(t *testing.T, subject string, data []byte) {
	t.Helper()
	b.mu.Lock()
	handler, ok := b.handlers[subject]
	b.mu.Unlock()
	require.True(t, ok, "no subscription for %s", subject)
	handler(subject, data)
}

type fakeSub struct {
	bus     *fakeBus
	subject string
}

func (s *fakeSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers, s.subject)
	return nil
}

type harness struct {
	coord    *Coordinator
	registry *registry.Registry
	bus      *fakeBus
	mutes    *mutes.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewTestMetrics()
	reg := registry.NewRegistry(logger, metrics)
	opt := payload.NewOptimizer(config.Default().Payload)
	deliver := NewDeliverer(reg, opt, logger)
	muteStore := mutes.NewStore()
	b := newFakeBus()
	coord := NewCoordinator(reg, b, deliver, muteStore, logger, metrics)
	require.NoError(t, coord.Start())
	t.Cleanup(coord.Stop)
	return &harness{coord: coord, registry: reg, bus: b, mutes: muteStore}
}

func (h *harness) connect(t *testing.T, playerID, roomID string) *fakeHandle {
	t.Helper()
	handle := newFakeHandle(playerID + "-h")
	_, err := h.registry.Register(playerID, handle)
	require.NoError(t, err)
	if roomID != "" {
		h.registry.SetRoom(playerID, roomID)
	}
	return handle
}

const (
	foyerRoom    = "earth_arkhamcity_sanitarium_room_foyer_001"
	hallwayRoom  = "earth_arkhamcity_sanitarium_room_hallway_002"
	derbyRoom    = "earth_arkhamcity_downtown_room_derby_st_011"
	foyerSubject = "rooms.arkhamcity.sanitarium"
)

func TestStrategyFactory_RegisterAndGet(t *testing.T) {
	logger := zap.NewNop()
	f := NewStrategyFactory(func(raw string) Strategy {
		return NewUnknownChannelStrategy(raw, logger)
	})
	s := NewGlobalStrategy(nil, logger)
	f.Register("global", s)

	assert.Same(t, s, f.Get("global"))
	assert.Contains(t, f.Known(), "global")
}

func TestStrategyFactory_UnknownNeverNil(t *testing.T) {
	logger := zap.NewNop()
	f := NewStrategyFactory(func(raw string) Strategy {
		return NewUnknownChannelStrategy(raw, logger)
	})

	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.String().Draw(t, "raw")
		s := f.Get(raw)
		require.NotNil(t, s)
		assert.Equal(t, raw, s.ChannelType())
	})
}

func TestRoomBased_DeliversToRoomExcludingSender(t *testing.T) {
	h := newHarness(t)
	sender := h.connect(t, "p1", foyerRoom)
	listener := h.connect(t, "p2", foyerRoom)
	elsewhere := h.connect(t, "p3", derbyRoom)

	env := h.coord.Compose("chat_message", "say", "p1", map[string]any{"text": "hello"})
	err := h.coord.Publish(env, Route{RoomID: foyerRoom, SenderID: "p1"})
	require.NoError(t, err)

	assert.Equal(t, 1, listener.frameCount())
	assert.Zero(t, sender.frameCount())
	assert.Zero(t, elsewhere.frameCount())

	pubs := h.bus.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, foyerSubject, pubs[0].subject)

	remote, roomID, err := event.DecodeWire(pubs[0].data)
	require.NoError(t, err)
	assert.Equal(t, foyerRoom, roomID)
	assert.Equal(t, "chat_message", remote.EventType)
	assert.Equal(t, event.ChannelRoomLocal, remote.Channel.Kind)
}

func TestRoomBased_EmptyRoomIDNoSideEffects(t *testing.T) {
	h := newHarness(t)
	listener := h.connect(t, "p2", foyerRoom)

	env := h.coord.Compose("chat_message", "say", "p1", map[string]any{"text": "hello"})
	err := h.coord.Publish(env, Route{RoomID: "", SenderID: "p1"})
	require.NoError(t, err)

	assert.Zero(t, listener.frameCount())
	assert.Empty(t, h.bus.publishes())
}

func TestRoomBased_MutedListenerSkipped(t *testing.T) {
	h := newHarness(t)
	muted := h.connect(t, "p2", foyerRoom)
	open := h.connect(t, "p3", foyerRoom)
	h.connect(t, "p1", foyerRoom)
	h.mutes.MutePlayer("p2", "p1")

	env := h.coord.Compose("chat_message", "say", "p1", map[string]any{"text": "hello"})
	require.NoError(t, h.coord.Publish(env, Route{RoomID: foyerRoom, SenderID: "p1"}))

	assert.Zero(t, muted.frameCount())
	assert.Equal(t, 1, open.frameCount())
	// Mutes are listener-side: the envelope still crosses the bus.
	assert.Len(t, h.bus.publishes(), 1)
}

func TestGlobal_DeliversToAllExcludingSender(t *testing.T) {
	h := newHarness(t)
	sender := h.connect(t, "p1", foyerRoom)
	near := h.connect(t, "p2", foyerRoom)
	far := h.connect(t, "p3", derbyRoom)

	env := h.coord.Compose("chat_message", "global", "p1", map[string]any{"text": "hear ye"})
	require.NoError(t, h.coord.Publish(env, Route{SenderID: "p1"}))

	assert.Zero(t, sender.frameCount())
	assert.Equal(t, 1, near.frameCount())
	assert.Equal(t, 1, far.frameCount())

	pubs := h.bus.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, event.SubjectGlobal, pubs[0].subject)
}

func TestWhisper_DeliversOnceWithoutBusPublish(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "p1", foyerRoom)
	target := h.connect(t, "p2", derbyRoom)
	bystander := h.connect(t, "p3", foyerRoom)

	env := h.coord.Compose("chat_message", "whisper", "p1", map[string]any{"text": "psst"})
	require.NoError(t, h.coord.Publish(env, Route{TargetPlayerID: "p2", SenderID: "p1"}))

	assert.Equal(t, 1, target.frameCount())
	assert.Zero(t, bystander.frameCount())
	assert.Empty(t, h.bus.publishes())
}

func TestWhisper_MissingTargetIsNoop(t *testing.T) {
	h := newHarness(t)
	target := h.connect(t, "p2", foyerRoom)

	env := h.coord.Compose("chat_message", "whisper", "p1", nil)
	require.NoError(t, h.coord.Publish(env, Route{SenderID: "p1"}))

	assert.Zero(t, target.frameCount())
}

func TestWhisper_MutedSenderSkipped(t *testing.T) {
	h := newHarness(t)
	target := h.connect(t, "p2", foyerRoom)
	h.mutes.MutePlayer("p2", "p1")

	env := h.coord.Compose("chat_message", "whisper", "p1", nil)
	require.NoError(t, h.coord.Publish(env, Route{TargetPlayerID: "p2", SenderID: "p1"}))

	assert.Zero(t, target.frameCount())
}

func TestParty_DropsWithoutError(t *testing.T) {
	h := newHarness(t)
	member := h.connect(t, "p2", foyerRoom)

	env := h.coord.Compose("chat_message", "party", "p1", nil)
	require.NoError(t, h.coord.Publish(env, Route{PartyID: "party-9", SenderID: "p1"}))

	assert.Zero(t, member.frameCount())
	assert.Empty(t, h.bus.publishes())
}

func TestUnknownChannel_DropsWithoutError(t *testing.T) {
	h := newHarness(t)
	listener := h.connect(t, "p2", foyerRoom)

	env := h.coord.Compose("chat_message", "yodel", "p1", nil)
	require.NoError(t, h.coord.Publish(env, Route{RoomID: foyerRoom, SenderID: "p1"}))

	assert.Zero(t, listener.frameCount())
	assert.Empty(t, h.bus.publishes())
}

func TestSystemAdmin_DeliversToAllAndPublishesSystem(t *testing.T) {
	h := newHarness(t)
	p2 := h.connect(t, "p2", foyerRoom)
	p3 := h.connect(t, "p3", derbyRoom)

	env := h.coord.Compose("system_notice", "system", "", map[string]any{"text": "restart in 5m"})
	require.NoError(t, h.coord.Publish(env, Route{}))

	assert.Equal(t, 1, p2.frameCount())
	assert.Equal(t, 1, p3.frameCount())

	pubs := h.bus.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, event.SubjectSystem, pubs[0].subject)
}

func TestCoordinator_RemoteDeliveryDoesNotRepublish(t *testing.T) {
	h := newHarness(t)
	local := h.connect(t, "p2", foyerRoom)

	// A remote process published a say envelope for the foyer's subject.
	env := h.coord.Compose("chat_message", "say", "remote-p9", map[string]any{"text": "from afar"})
	wire, err := event.EncodeWire(env, foyerRoom)
	require.NoError(t, err)
	h.bus.inject(t, foyerSubject, wire)

	assert.Equal(t, 1, local.frameCount())
	assert.Empty(t, h.bus.publishes())
}

func TestCoordinator_StartSubscribesReservedSubjects(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.bus.subscribed(event.SubjectGlobal))
	assert.True(t, h.bus.subscribed(event.SubjectSystem))
}

func TestCoordinator_RoomSubscriptionFollowsOccupancy(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.bus.subscribed(foyerSubject))

	h.connect(t, "p1", foyerRoom)
	assert.True(t, h.bus.subscribed(foyerSubject))

	// Same sub-zone, same subject: still one subscription.
	h.connect(t, "p2", hallwayRoom)
	assert.True(t, h.bus.subscribed(foyerSubject))

	h.coord.MovePlayer("p1", derbyRoom)
	assert.True(t, h.bus.subscribed(foyerSubject), "p2 still holds the sub-zone")
	assert.True(t, h.bus.subscribed("rooms.arkhamcity.downtown"))

	h.coord.MovePlayer("p2", derbyRoom)
	assert.False(t, h.bus.subscribed(foyerSubject))
}

func TestCoordinator_MovePlayerEmitsPresence(t *testing.T) {
	h := newHarness(t)
	watcherOld := h.connect(t, "p2", foyerRoom)
	watcherNew := h.connect(t, "p3", derbyRoom)
	h.connect(t, "p1", foyerRoom)
	watcherOld.mu.Lock()
	watcherOld.frames = nil
	watcherOld.mu.Unlock()

	h.coord.MovePlayer("p1", derbyRoom)

	require.Equal(t, 1, watcherOld.frameCount())
	require.Equal(t, 1, watcherNew.frameCount())
	assert.Contains(t, string(watcherOld.frames[0]), "player_left")
	assert.Contains(t, string(watcherNew.frames[0]), "player_entered")
}

func TestCoordinator_MovePlayerSameRoomIsNoop(t *testing.T) {
	h := newHarness(t)
	watcher := h.connect(t, "p2", foyerRoom)
	h.connect(t, "p1", foyerRoom)
	watcher.mu.Lock()
	watcher.frames = nil
	watcher.mu.Unlock()

	h.coord.MovePlayer("p1", foyerRoom)

	assert.Zero(t, watcher.frameCount())
}

func TestCoordinator_SequenceNumbersMonotonicPerSender(t *testing.T) {
	h := newHarness(t)
	first := h.coord.Compose("chat_message", "say", "p1", nil)
	second := h.coord.Compose("chat_message", "say", "p1", nil)
	other := h.coord.Compose("chat_message", "say", "p2", nil)

	assert.Greater(t, second.SequenceNumber, first.SequenceNumber)
	assert.Equal(t, uint64(1), other.SequenceNumber)
}

func TestDeliverer_OversizedPayloadSurfacesToProducer(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "p2", foyerRoom)

	// Hex of random bytes carries four bits of entropy per character,
	// so 256 KiB of it cannot deflate under the compressed-size ceiling.
	rng := rand.New(rand.NewSource(1))
	raw := make([]byte, 128<<10)
	_, _ = rng.Read(raw)
	env := h.coord.Compose("chat_message", "say", "p1", map[string]any{"blob": hex.EncodeToString(raw)})

	err := h.coord.Publish(env, Route{RoomID: foyerRoom, SenderID: "p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, payload.ErrPayloadTooLarge)
	assert.Empty(t, h.bus.publishes())
}
