package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"medalbot/internal/bili"
	"medalbot/internal/ledger"
	logx "medalbot/pkg/logx"
)

// fakeClient scripts the remote surface for tests. All state is mutexed so
// the orchestrator's goroutines can hit it concurrently.
type fakeClient struct {
	mu sync.Mutex

	medals    []bili.Medal
	medalsErr error

	status    map[int64]bili.LiveStatus // by room id
	statusErr map[int64]error

	progress    map[int64]int64 // raw units by target id
	progressErr map[int64]error

	lit map[int64]bool

	// litAfterLikes lights a badge once the target's room has received
	// this many likes (0 disables, use lit map directly).
	litAfterLikes map[int64]int

	// progressPerHeartbeat advances progress on each heartbeat.
	progressPerHeartbeat int64

	likeErr func(roomID int64, call int) error
	msgErr  func(roomID int64, call int) error
	hbErr   func(roomID int64, call int) error

	likeCalls map[int64]int // by room id
	msgCalls  map[int64]int
	hbCalls   map[int64]int
	wearCalls int

	hbActive  int
	hbOverlap bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		status:        map[int64]bili.LiveStatus{},
		statusErr:     map[int64]error{},
		progress:      map[int64]int64{},
		progressErr:   map[int64]error{},
		lit:           map[int64]bool{},
		litAfterLikes: map[int64]int{},
		likeCalls:     map[int64]int{},
		msgCalls:      map[int64]int{},
		hbCalls:       map[int64]int{},
	}
}

func (f *fakeClient) LoginVerify(ctx context.Context) (bili.Account, error) {
	return bili.Account{UID: 99, Name: "tester"}, nil
}

func (f *fakeClient) Medals(ctx context.Context) ([]bili.Medal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.medalsErr != nil {
		return nil, f.medalsErr
	}
	out := make([]bili.Medal, len(f.medals))
	copy(out, f.medals)
	return out, nil
}

func (f *fakeClient) LiveStatus(ctx context.Context, roomID int64) (bili.LiveStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[roomID]; err != nil {
		return bili.StatusOffline, err
	}
	return f.status[roomID], nil
}

func (f *fakeClient) WatchProgress(ctx context.Context, targetID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.progressErr[targetID]; err != nil {
		return 0, err
	}
	return f.progress[targetID], nil
}

func (f *fakeClient) BadgeLit(ctx context.Context, targetID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.litLocked(targetID), nil
}

func (f *fakeClient) litLocked(targetID int64) bool {
	if f.lit[targetID] {
		return true
	}
	if need, ok := f.litAfterLikes[targetID]; ok && need > 0 {
		total := 0
		for _, n := range f.likeCalls {
			total += n
		}
		if total >= need {
			return true
		}
	}
	return false
}

func (f *fakeClient) Like(ctx context.Context, roomID, targetID, uid int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likeCalls[roomID]++
	if f.likeErr != nil {
		return f.likeErr(roomID, f.likeCalls[roomID])
	}
	return nil
}

func (f *fakeClient) SendMessage(ctx context.Context, roomID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCalls[roomID]++
	if f.msgErr != nil {
		return f.msgErr(roomID, f.msgCalls[roomID])
	}
	return nil
}

func (f *fakeClient) Heartbeat(ctx context.Context, roomID, targetID int64) error {
	f.mu.Lock()
	if f.hbActive > 0 {
		f.hbOverlap = true
	}
	f.hbActive++
	f.hbCalls[roomID]++
	call := f.hbCalls[roomID]
	var err error
	if f.hbErr != nil {
		err = f.hbErr(roomID, call)
	}
	if err == nil && f.progressPerHeartbeat > 0 {
		f.progress[targetID] += f.progressPerHeartbeat
	}
	f.mu.Unlock()

	// Hold the "active" flag briefly so overlapping sessions would be seen.
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.hbActive--
	f.mu.Unlock()
	return err
}

func (f *fakeClient) WearMedal(ctx context.Context, medalID int64) error {
	f.mu.Lock()
	f.wearCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() {}

func (f *fakeClient) likes(roomID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.likeCalls[roomID]
}

func (f *fakeClient) msgs(roomID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgCalls[roomID]
}

func (f *fakeClient) heartbeats(roomID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hbCalls[roomID]
}

func (f *fakeClient) wearCallsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wearCalls
}

func (f *fakeClient) overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hbOverlap
}

// medal builds a well-formed badge entry.
func medal(targetID, roomID int64, guard int, lit bool) bili.Medal {
	return bili.Medal{
		MedalID:    targetID * 10,
		TargetID:   targetID,
		TargetName: "t" + string(rune('0'+targetID%10)),
		RoomID:     roomID,
		GuardLevel: guard,
		Level:      5,
		IsLit:      lit,
	}
}

// openTestLedger opens a file ledger pinned to a fixed day.
func openTestLedger(t *testing.T, day time.Time) ledger.Store {
	t.Helper()
	led, err := ledger.Open(ledger.Config{
		Driver:  "file",
		Path:    t.TempDir(),
		Account: "99",
		Now:     func() time.Time { return day },
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })
	return led
}

// fastTiming keeps orchestrator tests quick.
func fastTiming() Timing {
	return Timing{
		PassDelay:    time.Millisecond,
		ManagerIdle:  time.Millisecond,
		HeartbeatGap: time.Millisecond,
		RolloverPoll: time.Millisecond,
		RetryGapEng:  time.Millisecond,
		RetryGapMsg:  time.Millisecond,
	}
}
