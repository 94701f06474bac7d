package fanout

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/senutpal/devradar/internal/natsx"
	"github.com/senutpal/devradar/internal/presence"
	"github.com/senutpal/devradar/internal/protocol"
	"github.com/senutpal/devradar/internal/workerpool"
)

// fakeFeed 进程内变更源，记录每个主题的处理函数
type fakeFeed struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	detached []string
}

type fakeSub struct {
	feed    *fakeFeed
	subject string
}

func (s *fakeSub) Unsubscribe() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.handlers, s.subject)
	s.feed.detached = append(s.feed.detached, s.subject)
	return nil
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[string]func([]byte))}
}

func (f *fakeFeed) Subscribe(subject string, handler func(data []byte)) (natsx.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = handler
	return &fakeSub{feed: f, subject: subject}, nil
}

func (f *fakeFeed) emit(subject string, data []byte) {
	f.mu.Lock()
	handler := f.handlers[subject]
	f.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

func (f *fakeFeed) attached(subject string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[subject]
	return ok
}

// fakeSender 记录投递，liveUsers 之外的用户视为离线
type fakeSender struct {
	mu        sync.Mutex
	liveUsers map[int64]bool
	delivered map[int64][][]byte
}

func newFakeSender(live ...int64) *fakeSender {
	s := &fakeSender{
		liveUsers: make(map[int64]bool),
		delivered: make(map[int64][][]byte),
	}
	for _, id := range live {
		s.liveUsers[id] = true
	}
	return s
}

func (s *fakeSender) SendToUser(userID int64, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveUsers[userID] {
		return false
	}
	s.delivered[userID] = append(s.delivered[userID], data)
	return true
}

func (s *fakeSender) frames(userID int64) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered[userID]
}

// inlinePool 同步执行，测试无需等待
type inlinePool struct{}

func (inlinePool) Submit(task workerpool.Task) bool {
	task()
	return true
}

func presenceEvent(t *testing.T, rec *presence.Record) []byte {
	t.Helper()
	data, err := json.Marshal(&presence.Event{Presence: rec})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestRouterSubscribeAttachesOnce(t *testing.T) {
	feed := newFakeFeed()
	router := NewRouter(feed, newFakeSender(), inlinePool{}, slog.Default())

	// 两个订阅者共用一个频道监听
	if err := router.Subscribe(1, 100); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := router.Subscribe(2, 100); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !feed.attached(presence.Subject(100)) {
		t.Error("Expected channel listener to be attached")
	}
	if router.SubscriberCount(100) != 2 {
		t.Errorf("Expected 2 subscribers, got %d", router.SubscriberCount(100))
	}
	if router.ChannelCount() != 1 {
		t.Errorf("Expected 1 channel, got %d", router.ChannelCount())
	}
}

func TestRouterUnsubscribeDetachesOnLast(t *testing.T) {
	feed := newFakeFeed()
	router := NewRouter(feed, newFakeSender(), inlinePool{}, slog.Default())

	router.Subscribe(1, 100)
	router.Subscribe(2, 100)

	router.Unsubscribe(1, 100)
	if !feed.attached(presence.Subject(100)) {
		t.Error("Listener should survive while subscribers remain")
	}

	router.Unsubscribe(2, 100)
	if feed.attached(presence.Subject(100)) {
		t.Error("Listener should be detached when last subscriber leaves")
	}
	if router.ChannelCount() != 0 {
		t.Errorf("Expected 0 channels, got %d", router.ChannelCount())
	}
}

func TestRouterResubscribeSurvivesStaleCleanup(t *testing.T) {
	feed := newFakeFeed()
	sender := newFakeSender(1)
	router := NewRouter(feed, sender, inlinePool{}, slog.Default())

	// 顶号场景：旧会话尚未收尾，新会话已经订阅同一批好友
	router.Subscribe(1, 100)
	router.Subscribe(1, 100)

	// 旧会话收尾只抵消一次订阅，新会话的订阅必须存活
	router.UnsubscribeAll(1, []int64{100})

	if router.SubscriberCount(100) != 1 {
		t.Fatalf("Expected 1 subscriber after stale cleanup, got %d", router.SubscriberCount(100))
	}
	if !feed.attached(presence.Subject(100)) {
		t.Error("Listener must survive stale session cleanup")
	}

	feed.emit(presence.Subject(100), presenceEvent(t, &presence.Record{
		UserID: 100,
		Status: protocol.StatusOnline,
	}))
	if len(sender.frames(1)) != 1 {
		t.Errorf("Expected new session to keep receiving frames, got %d", len(sender.frames(1)))
	}

	// 新会话收尾后频道才真正拆除
	router.UnsubscribeAll(1, []int64{100})
	if feed.attached(presence.Subject(100)) {
		t.Error("Listener should be detached when the new session also leaves")
	}
	if router.ChannelCount() != 0 {
		t.Errorf("Expected 0 channels, got %d", router.ChannelCount())
	}
}

func TestRouterDispatchToLiveSubscribers(t *testing.T) {
	feed := newFakeFeed()
	sender := newFakeSender(1) // 只有用户 1 在线
	router := NewRouter(feed, sender, inlinePool{}, slog.Default())

	router.Subscribe(1, 100)
	router.Subscribe(2, 100) // 订阅了但不在线

	rec := &presence.Record{
		UserID:    100,
		Status:    protocol.StatusOnline,
		Activity:  &protocol.Activity{Language: "go"},
		UpdatedAt: 1724500000000,
	}
	feed.emit(presence.Subject(100), presenceEvent(t, rec))

	frames := sender.frames(1)
	if len(frames) != 1 {
		t.Fatalf("Expected exactly 1 frame for live subscriber, got %d", len(frames))
	}

	env, err := protocol.Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != protocol.TypeFriendStatus {
		t.Errorf("Expected FRIEND_STATUS, got %s", env.Type)
	}

	var p protocol.FriendStatusPayload
	if err := env.Bind(&p); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if p.UserID != 100 || p.Status != protocol.StatusOnline || p.Activity == nil || p.Activity.Language != "go" {
		t.Errorf("Unexpected payload: %+v", p)
	}

	// 离线订阅者静默丢弃，不排队
	if len(sender.frames(2)) != 0 {
		t.Error("Offline subscriber must not receive fanout traffic")
	}
}

func TestRouterDispatchAfterUnsubscribe(t *testing.T) {
	feed := newFakeFeed()
	sender := newFakeSender(1)
	router := NewRouter(feed, sender, inlinePool{}, slog.Default())

	router.Subscribe(1, 100)
	router.Unsubscribe(1, 100)

	feed.emit(presence.Subject(100), presenceEvent(t, &presence.Record{
		UserID: 100,
		Status: protocol.StatusOnline,
	}))

	if len(sender.frames(1)) != 0 {
		t.Error("Unsubscribed viewer must not receive frames")
	}
}

func TestRouterDispatchAchievement(t *testing.T) {
	feed := newFakeFeed()
	sender := newFakeSender(1)
	router := NewRouter(feed, sender, inlinePool{}, slog.Default())

	router.Subscribe(1, 100)

	data, err := json.Marshal(&presence.Event{Achievement: &protocol.AchievementPayload{
		UserID: 100,
		Kind:   "streak_7",
		Streak: 7,
	}})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	feed.emit(presence.Subject(100), data)

	frames := sender.frames(1)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 achievement frame, got %d", len(frames))
	}

	env, err := protocol.Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != protocol.TypeAchievement {
		t.Errorf("Expected ACHIEVEMENT, got %s", env.Type)
	}
}

func TestRouterDispatchMalformedEvent(t *testing.T) {
	feed := newFakeFeed()
	sender := newFakeSender(1)
	router := NewRouter(feed, sender, inlinePool{}, slog.Default())

	router.Subscribe(1, 100)

	// 异常事件只记日志，不投递也不崩溃
	feed.emit(presence.Subject(100), []byte("not-json"))

	if len(sender.frames(1)) != 0 {
		t.Error("Malformed event must not produce frames")
	}
}
