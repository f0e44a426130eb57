package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"

	"sensorgate/internal/alert"
	"sensorgate/internal/connector"
	"sensorgate/internal/mock"
	"sensorgate/internal/pkg"
	"sensorgate/internal/sensor"
)

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func startMock(t *testing.T, values [4]uint16) (*mock.Server, int) {
	srv := mock.NewServerWithBank(context.Background(), mock.ServerConfig{Host: "127.0.0.1"}, mock.NewRegisterBank(values))
	if err := srv.Start(); err != nil {
		t.Fatalf("启动模拟设备失败: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	_, port, _ := net.SplitHostPort(srv.Addr().String())
	p, _ := strconv.Atoi(port)
	return srv, p
}

// step 一次读寄存器的结果
type step struct {
	data  []byte
	err   error
	delay time.Duration
}

// scriptedClient 按顺序返回预设结果, 用完后重复最后一个
type scriptedClient struct {
	mu    sync.Mutex
	steps []step
	calls int
	dials int
}

func (c *scriptedClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	c.mu.Lock()
	i := c.calls
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	s := c.steps[i]
	c.calls++
	c.mu.Unlock()
	time.Sleep(s.delay)
	return s.data, s.err
}

func (c *scriptedClient) Close() error { return nil }

func (c *scriptedClient) factory(ctx context.Context, opts connector.Options) (connector.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials++
	return c, nil
}

func (c *scriptedClient) dialCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

func regBytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func thingConfig(id, pos string, port int) pkg.ThingConfig {
	return pkg.ThingConfig{
		ID:  id,
		Pos: pos,
		Opts: pkg.ThingOpts{
			Address:  "127.0.0.1",
			Port:     port,
			UnitID:   intp(1),
			Register: intp(3),
			Timeout:  time.Second,
		},
	}
}

func TestSenecaCapability(t *testing.T) {
	Convey("Seneca 设备能力", t, func() {
		c := SenecaCapability("sensor-rack")
		So(c.ThingType, ShouldEqual, "sensor-rack-temp-seneca")
		So(c.Tags, ShouldResemble, []string{"temp", "seneca"})
		So(c.SpecTags, ShouldResemble, []string{"sensor"})
	})
}

func TestWorker(t *testing.T) {
	Convey("轮询 worker", t, func() {
		ctx := pkg.WithLogger(context.Background(), zaptest.NewLogger(t))
		w := New(ctx, Options{
			Capability: SenecaCapability("sensor-rack"),
			Interval:   20 * time.Millisecond,
			AlertConf: map[string]pkg.AlertConf{
				"cabinet_temp_high": {Params: pkg.AlertParams{Temp: floatp(30)}},
			},
		})

		Convey("参数不完整的设备不会连接", func() {
			for _, opts := range []pkg.ThingOpts{
				{Port: 502, UnitID: intp(1), Register: intp(3)},
				{Address: "127.0.0.1", UnitID: intp(1), Register: intp(3)},
				{Address: "127.0.0.1", Port: 502, Register: intp(3)},
				{Address: "127.0.0.1", Port: 502, UnitID: intp(1)},
			} {
				thg := w.AddThing(pkg.ThingConfig{ID: "partial", Opts: opts})
				ok, err := w.ConnectThing(ctx, thg)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(thg.Driver(), ShouldBeNil)
			}
			So(w.PollOnce(ctx), ShouldBeEmpty)
		})

		Convey("unitId 为 0 也是完整参数", func() {
			_, port := startMock(t, [4]uint16{300, 310, 320, 330})
			cfg := thingConfig("zero-unit", "rack-0_lv-1", port)
			cfg.Opts.UnitID = intp(0)
			thg := w.AddThing(cfg)
			ok, err := w.ConnectThing(ctx, thg)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(w.DisconnectThing(thg), ShouldBeNil)
		})

		Convey("SelectThingInfo", func() {
			thg := w.AddThing(thingConfig("s1", "rack-0_lv-1", 5020))
			info := w.SelectThingInfo(thg)
			So(info.Address, ShouldEqual, "127.0.0.1")
			So(info.Port, ShouldEqual, 5020)
			So(*info.UnitID, ShouldEqual, 1)
			So(thg.Position().Category, ShouldEqual, alert.CategoryCabinet)
		})

		Convey("正常读数生成报告并触发告警", func() {
			_, port := startMock(t, [4]uint16{300, 310, 320, 330})
			w.AddThing(thingConfig("s1", "rack-0_lv-1", port))
			sink := make(chan *Report, 4)
			w.AddSink(sink)

			reports := w.PollOnce(ctx)
			So(len(reports), ShouldEqual, 1)
			r := reports[0]
			So(r.ID, ShouldNotBeEmpty)
			So(r.ThingID, ShouldEqual, "s1")
			So(r.ThingType, ShouldEqual, "sensor-rack-temp-seneca")
			So(r.Snap.Stats.Status, ShouldEqual, sensor.StatusOK)
			So(r.Snap.Stats.TempC, ShouldEqual, 31.0)
			So(len(r.Alerts), ShouldEqual, 1)
			So(r.Alerts[0].Name, ShouldEqual, "cabinet_temp_high")

			select {
			case got := <-sink:
				So(got, ShouldPointTo, r)
			default:
				t.Fatal("sink 没有收到报告")
			}
		})

		Convey("读取失败时报告离线并断开, 恢复后重新连接", func() {
			srv, port := startMock(t, [4]uint16{300, 310, 320, 330})
			thg := w.AddThing(thingConfig("s1", "rack-0_lv-1", port))

			So(len(w.PollOnce(ctx)), ShouldEqual, 1)
			So(thg.Driver(), ShouldNotBeNil)

			So(srv.Stop(), ShouldBeNil)
			reports := w.PollOnce(ctx)
			So(len(reports), ShouldEqual, 1)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOffline)
			So(reports[0].Alerts, ShouldBeEmpty)
			So(thg.Driver(), ShouldBeNil)

			// 端口不变地重新启动
			So(srv.Start(), ShouldBeNil)
			reports = w.PollOnce(ctx)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOK)
		})

		Convey("故障值不触发温度告警, 状态为 error", func() {
			_, port := startMock(t, [4]uint16{300, mock.FaultSentinel, 320, 330})
			w.AddThing(thingConfig("s1", "rack-0_lv-1", port))

			reports := w.PollOnce(ctx)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusError)
			So(reports[0].Snap.Stats.TempC, ShouldEqual, 850.0)
			So(reports[0].Alerts, ShouldBeEmpty)
		})

		Convey("sink 通道满时丢弃报告", func() {
			_, port := startMock(t, [4]uint16{300, 310, 320, 330})
			w.AddThing(thingConfig("s1", "rack-0_lv-1", port))
			sink := make(chan *Report, 1)
			w.AddSink(sink)
			w.PollOnce(ctx)
			w.PollOnce(ctx)
			So(len(sink), ShouldEqual, 1)
		})

		Convey("Run 周期轮询直到取消", func() {
			_, port := startMock(t, [4]uint16{300, 310, 320, 330})
			thg := w.AddThing(thingConfig("s1", "rack-0_lv-1", port))
			sink := make(chan *Report, 16)
			w.AddSink(sink)

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				w.Run(runCtx)
				close(done)
			}()
			time.Sleep(100 * time.Millisecond)
			cancel()
			<-done

			So(len(sink), ShouldBeGreaterThanOrEqualTo, 2)
			So(thg.Driver(), ShouldBeNil)
		})
	})
}

func TestWorkerReadErrors(t *testing.T) {
	Convey("读取错误与故障记录", t, func() {
		ctx := pkg.WithLogger(context.Background(), zaptest.NewLogger(t))
		newWorker := func(client *scriptedClient, useCache bool) (*Worker, *Thing) {
			w := New(ctx, Options{
				Capability: SenecaCapability("sensor-rack"),
				Factory:    client.factory,
				UseCache:   useCache,
			})
			cfg := thingConfig("s1", "rack-0_lv-1", 5020)
			cfg.Opts.Timeout = 50 * time.Millisecond
			return w, w.AddThing(cfg)
		}

		Convey("超时只报告离线, 保留驱动和故障记录", func() {
			client := &scriptedClient{steps: []step{
				{data: regBytes(mock.FaultSentinel)},
				{data: regBytes(310), delay: 200 * time.Millisecond},
				{data: regBytes(310)},
			}}
			w, thg := newWorker(client, false)

			reports := w.PollOnce(ctx)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusError)
			driver := thg.Driver()

			reports = w.PollOnce(ctx)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOffline)
			So(thg.Driver(), ShouldPointTo, driver)

			reports = w.PollOnce(ctx)
			So(reports[0].Snap.Stats.TempC, ShouldEqual, 31.0)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusError)
			So(reports[0].Snap.Stats.Errors, ShouldResemble, []sensor.FaultRecord{{Name: sensor.FaultSensorError}})
			So(client.dialCount(), ShouldEqual, 1)
		})

		Convey("空应答只报告离线, 不重新连接", func() {
			client := &scriptedClient{steps: []step{{data: []byte{}}, {data: regBytes(310)}}}
			w, _ := newWorker(client, false)

			So(w.PollOnce(ctx)[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOffline)
			So(w.PollOnce(ctx)[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOK)
			So(client.dialCount(), ShouldEqual, 1)
		})

		Convey("传输错误会重新连接, 故障记录延续到新驱动", func() {
			client := &scriptedClient{steps: []step{
				{data: regBytes(mock.FaultSentinel)},
				{err: errors.New("connection reset by peer")},
				{data: regBytes(310)},
			}}
			w, thg := newWorker(client, false)

			So(w.PollOnce(ctx)[0].Snap.Stats.Status, ShouldEqual, sensor.StatusError)

			reports := w.PollOnce(ctx)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOffline)
			So(thg.Driver(), ShouldBeNil)

			reports = w.PollOnce(ctx)
			So(client.dialCount(), ShouldEqual, 2)
			So(reports[0].Snap.Stats.TempC, ShouldEqual, 31.0)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusError)
			So(len(reports[0].Snap.Stats.Errors), ShouldEqual, 1)
		})

		Convey("UseCache 时超时退回到上一次读数", func() {
			client := &scriptedClient{steps: []step{
				{data: regBytes(310)},
				{data: regBytes(320), delay: 200 * time.Millisecond},
			}}
			w, _ := newWorker(client, true)

			So(w.PollOnce(ctx)[0].Snap.Stats.TempC, ShouldEqual, 31.0)
			reports := w.PollOnce(ctx)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOK)
			So(reports[0].Snap.Stats.TempC, ShouldEqual, 31.0)
		})

		Convey("UseCache 时还没有读数则报告离线", func() {
			client := &scriptedClient{steps: []step{{data: []byte{}}}}
			w, thg := newWorker(client, true)
			So(w.PollOnce(ctx)[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOffline)
			So(thg.Driver(), ShouldNotBeNil)
		})
	})
}

func TestWorkerUseCacheWithMock(t *testing.T) {
	Convey("UseCache 时在线设备每次轮询都有读数", t, func() {
		ctx := pkg.WithLogger(context.Background(), zaptest.NewLogger(t))
		srv, port := startMock(t, [4]uint16{300, 310, 320, 330})
		w := New(ctx, Options{Capability: SenecaCapability("sensor-rack"), UseCache: true})
		w.AddThing(thingConfig("s1", "rack-0_lv-1", port))

		for i := 0; i < 3; i++ {
			reports := w.PollOnce(ctx)
			So(len(reports), ShouldEqual, 1)
			So(reports[0].Snap.Stats.Status, ShouldEqual, sensor.StatusOK)
			So(reports[0].Snap.Stats.TempC, ShouldEqual, 31.0)
		}
		So(srv.Listening(), ShouldBeTrue)
	})
}

func TestNewFromConfig(t *testing.T) {
	Convey("根据配置创建 worker", t, func() {
		config := &pkg.Config{
			Worker: pkg.WorkerConfig{ThingType: "sensor-rack", Interval: time.Second},
			Things: []pkg.ThingConfig{thingConfig("a", "rack-0_tr-1", 5020), {Pos: "rack-0_lv-2"}},
			Alerts: pkg.AlertsConfig{
				Custom: []pkg.CustomAlertConfig{{Name: "too_cold", Probe: "TempC < 5"}},
			},
		}
		ctx := pkg.WithConfig(context.Background(), config)

		w, err := NewFromConfig(ctx)
		So(err, ShouldBeNil)
		So(w.Capability().ThingType, ShouldEqual, "sensor-rack-temp-seneca")
		So(len(w.Things()), ShouldEqual, 2)
		So(w.Things()[1].ID, ShouldNotBeEmpty)
		_, ok := w.opts.Registry.Get(alert.SpecCategory, "too_cold")
		So(ok, ShouldBeTrue)

		config.Alerts.Custom = []pkg.CustomAlertConfig{{Name: "broken", Probe: "TempC <"}}
		_, err = NewFromConfig(ctx)
		So(err, ShouldNotBeNil)
	})
}
