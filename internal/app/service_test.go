package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/rumble/internal/app"
	"github.com/okian/rumble/internal/config"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/notify"
	"github.com/okian/rumble/pkg/logger"
)

func init() {
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func testConfig() *config.Config {
	cfg := config.New(context.Background())
	cfg.PartyID = "party-1"
	cfg.ReconcileIntervalMS = 0
	return cfg
}

func newService(cfg *config.Config) *service.Service {
	svc, err := service.New(context.Background(), cfg, service.WithLogger(logger.Nop()))
	So(err, ShouldBeNil)
	return svc
}

func TestService_New(t *testing.T) {
	Convey("Given the default memory configuration", t, func() {
		svc := newService(testConfig())
		defer func() { _ = svc.Stop(context.Background()) }()

		Convey("Then it serves the configured party", func() {
			So(svc.Party(), ShouldEqual, "party-1")
			So(svc.Hub(), ShouldNotBeNil)
		})
	})

	Convey("Given a bonus table with an unknown row", t, func() {
		cfg := testConfig()
		cfg.Bonuses = map[string]int{"bogus": 4}

		_, err := service.New(context.Background(), cfg, service.WithLogger(logger.Nop()))

		Convey("Then construction fails", func() {
			So(errors.Is(err, service.ErrBonusTable), ShouldBeTrue)
		})
	})

	Convey("Given an unknown store driver", t, func() {
		cfg := testConfig()
		cfg.StoreDriver = "mongo"

		_, err := service.New(context.Background(), cfg, service.WithLogger(logger.Nop()))

		Convey("Then construction fails", func() {
			So(errors.Is(err, service.ErrOpenStore), ShouldBeTrue)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc := newService(testConfig())

		Convey("When getting stats before starting", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["party"], ShouldEqual, "party-1")
			So(stats["players"], ShouldEqual, 0)
			So(svc.Stop(ctx), ShouldBeNil)
		})

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)

			Convey("And stopping it", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats()["started"], ShouldEqual, false)

				Convey("Then it cannot be restarted", func() {
					So(errors.Is(svc.Start(ctx), service.ErrStopped), ShouldBeTrue)
					So(svc.Stop(ctx), ShouldBeNil)
				})
			})
		})
	})
}

func TestService_Deduper(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc := newService(testConfig())
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("A key is new once, then seen until unrecorded", func() {
			So(svc.SeenAndRecord(ctx, "POST /outcomes k1"), ShouldBeFalse)
			So(svc.SeenAndRecord(ctx, "POST /outcomes k1"), ShouldBeTrue)
			So(svc.Size(), ShouldEqual, 1)
			svc.Unrecord(ctx, "POST /outcomes k1")
			So(svc.SeenAndRecord(ctx, "POST /outcomes k1"), ShouldBeFalse)
		})
	})
}

func TestService_Standings(t *testing.T) {
	Convey("Given players with points", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc := newService(testConfig())
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		for _, id := range []string{"alice", "bob", "cy"} {
			_, err := svc.RegisterPlayer(ctx, id, strings.ToUpper(id))
			So(err, ShouldBeNil)
		}
		_, err := svc.AdjustPoints(ctx, "alice", 3, "trivia", "adj-1")
		So(err, ShouldBeNil)
		_, err = svc.AdjustPoints(ctx, "bob", 3, "trivia", "adj-2")
		So(err, ShouldBeNil)

		Convey("The leaderboard shares ranks between ties", func() {
			board, err := svc.Leaderboard(ctx, 10)
			So(err, ShouldBeNil)
			So(board, ShouldHaveLength, 3)
			So(board[0].PlayerID, ShouldEqual, "alice")
			So(board[0].Rank, ShouldEqual, 1)
			So(board[1].Rank, ShouldEqual, 1)
			So(board[2].PlayerID, ShouldEqual, "cy")
			So(board[2].Rank, ShouldEqual, 3)
		})

		Convey("A single player's rank is available", func() {
			entry, err := svc.Rank(ctx, "cy")
			So(err, ShouldBeNil)
			So(entry.Points, ShouldEqual, 0)
			So(entry.Rank, ShouldEqual, 3)
			So(svc.GetStats()["players"], ShouldEqual, 3)
		})
	})
}

func TestService_Viewers(t *testing.T) {
	Convey("Given a started service with a websocket viewer", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc := newService(testConfig())
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv := httptest.NewServer(http.HandlerFunc(svc.Hub().Handle))
		defer srv.Close()
		conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		So(err, ShouldBeNil)
		defer conn.Close()

		Convey("The viewer is greeted with both divisions", func() {
			msg := read(conn)
			So(msg["type"], ShouldEqual, "snapshot")
			data, ok := msg["data"].(map[string]any)
			So(ok, ShouldBeTrue)
			So(data["party"], ShouldEqual, "party-1")
			So(data["divisions"], ShouldContainKey, string(model.DivisionPrimary))
			So(data["divisions"], ShouldContainKey, string(model.DivisionSecondary))
		})

		Convey("A recorded entry is pushed to the viewer", func() {
			_ = read(conn)
			So(waitFor(func() bool { return svc.Hub().Count() == 1 }), ShouldBeTrue)

			_, err := svc.RecordEntry(ctx, model.DivisionPrimary, 1, "Cody", "", time.Time{})
			So(err, ShouldBeNil)

			msg := read(conn)
			So(msg["type"], ShouldEqual, "event")
			event, ok := msg["event"].(map[string]any)
			So(ok, ShouldBeTrue)
			So(event["type"], ShouldEqual, "entry_recorded")
			So(event["slot"], ShouldEqual, 1.0)
			So(event["wrestler"], ShouldEqual, "Cody")
		})
	})
}

// gatedSink holds every delivery until open is closed.
type gatedSink struct {
	open chan struct{}
	mu   sync.Mutex
	got  []notify.Event
}

func (s *gatedSink) Name() string { return "gated" }

func (s *gatedSink) Deliver(ctx context.Context, e notify.Event) error {
	select {
	case <-s.open:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	return nil
}

func (s *gatedSink) entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.got {
		if e.Type == notify.EntryRecorded {
			n++
		}
	}
	return n
}

func TestService_StopDrains(t *testing.T) {
	Convey("Given a started service whose sink is stalled", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sink := &gatedSink{open: make(chan struct{})}
		svc, err := service.New(ctx, testConfig(), service.WithLogger(logger.Nop()), service.WithSink(sink))
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)

		for n := 1; n <= 10; n++ {
			_, err := svc.RecordEntry(ctx, model.DivisionPrimary, n, "W"+string(rune('A'+n)), "", time.Time{})
			So(err, ShouldBeNil)
		}

		Convey("Stop still delivers every queued event", func() {
			close(sink.open)
			So(svc.Stop(ctx), ShouldBeNil)
			So(sink.entries(), ShouldEqual, 10)
		})
	})
}

func TestService_SQLite(t *testing.T) {
	Convey("Given a service on a sqlite file", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cfg := testConfig()
		cfg.StoreDriver = config.DriverSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "rumble.db")

		svc := newService(cfg)
		_, err := svc.RegisterPlayer(ctx, "alice", "Alice")
		So(err, ShouldBeNil)
		_, err = svc.AdjustPoints(ctx, "alice", 2, "costume", "adj-1")
		So(err, ShouldBeNil)
		So(svc.Stop(ctx), ShouldBeNil)

		Convey("Points survive a restart", func() {
			again := newService(cfg)
			defer func() { _ = again.Stop(ctx) }()

			entry, err := again.Rank(ctx, "alice")
			So(err, ShouldBeNil)
			So(entry.Points, ShouldEqual, 2)

			total, err := again.AdjustPoints(ctx, "alice", 2, "costume", "adj-1")
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 2)
		})
	})
}

func read(conn *websocket.Conn) map[string]any {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	So(err, ShouldBeNil)
	var msg map[string]any
	So(json.Unmarshal(payload, &msg), ShouldBeNil)
	return msg
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
