package mock

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"

	"sensorgate/internal/pkg"
)

func performRequest(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAgent(t *testing.T) {
	Convey("模拟设备控制接口", t, func() {
		gin.SetMode(gin.TestMode)
		ctx := pkg.WithLogger(context.Background(), zaptest.NewLogger(t))

		agent, err := NewAgent(ctx, []ThingSpec{
			{ID: "s1", ServerConfig: ServerConfig{Host: "127.0.0.1", Type: "seneca"}},
			{ServerConfig: ServerConfig{Host: "127.0.0.1", Type: "SENECA", Error: true}},
		}, 0)
		So(err, ShouldBeNil)
		So(agent.Init(), ShouldBeNil)
		defer agent.Close(context.Background())

		ids := agent.IDs()
		So(len(ids), ShouldEqual, 2)
		So(ids[0], ShouldEqual, "s1")
		So(ids[1], ShouldNotBeEmpty)

		Convey("健康检查", func() {
			w := performRequest(agent.Handler(), http.MethodGet, "/health")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldEqual, "OK")
		})

		Convey("列出所有设备", func() {
			w := performRequest(agent.Handler(), http.MethodGet, "/api/v1/things")
			So(w.Code, ShouldEqual, http.StatusOK)
			var views []ThingView
			So(json.Unmarshal(w.Body.Bytes(), &views), ShouldBeNil)
			So(len(views), ShouldEqual, 2)
			So(views[0].Listening, ShouldBeTrue)
			So(views[1].State, ShouldResemble, [4]uint16{8500, 8500, 8500, 8500})
		})

		Convey("未知设备返回 404", func() {
			w := performRequest(agent.Handler(), http.MethodGet, "/api/v1/things/nope")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			w = performRequest(agent.Handler(), http.MethodPost, "/api/v1/things/nope/reset")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("复位返回初始状态", func() {
			srv, ok := agent.Thing("s1")
			So(ok, ShouldBeTrue)
			initial := srv.State()
			w := performRequest(agent.Handler(), http.MethodPost, "/api/v1/things/s1/reset")
			So(w.Code, ShouldEqual, http.StatusOK)
			var view ThingView
			So(json.Unmarshal(w.Body.Bytes(), &view), ShouldBeNil)
			So(view.State, ShouldResemble, initial)
		})

		Convey("停止与启动", func() {
			w := performRequest(agent.Handler(), http.MethodPost, "/api/v1/things/s1/stop")
			So(w.Code, ShouldEqual, http.StatusOK)
			var view ThingView
			So(json.Unmarshal(w.Body.Bytes(), &view), ShouldBeNil)
			So(view.Listening, ShouldBeFalse)

			w = performRequest(agent.Handler(), http.MethodPost, "/api/v1/things/s1/start")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(json.Unmarshal(w.Body.Bytes(), &view), ShouldBeNil)
			So(view.Listening, ShouldBeTrue)
			So(view.Addr, ShouldNotBeEmpty)
		})
	})
}

func TestNewAgent_Errors(t *testing.T) {
	Convey("任一设备类型不支持时整体失败", t, func() {
		_, err := NewAgent(context.Background(), []ThingSpec{
			{ServerConfig: ServerConfig{Type: "seneca"}},
			{ServerConfig: ServerConfig{Type: "acme"}},
		}, 0)
		So(err, ShouldNotBeNil)
	})

	Convey("id 重复", t, func() {
		_, err := NewAgent(context.Background(), []ThingSpec{
			{ID: "a", ServerConfig: ServerConfig{Type: "seneca"}},
			{ID: "a", ServerConfig: ServerConfig{Type: "seneca"}},
		}, 0)
		So(err, ShouldNotBeNil)
	})
}

func TestAgentInit_StopsStartedOnFailure(t *testing.T) {
	Convey("部分设备启动失败时停止已启动的设备", t, func() {
		ctx := pkg.WithLogger(context.Background(), zaptest.NewLogger(t))
		busy, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		defer busy.Close()
		busyPort := busy.Addr().(*net.TCPAddr).Port

		agent, err := NewAgent(ctx, []ThingSpec{
			{ID: "first", ServerConfig: ServerConfig{Host: "127.0.0.1", Type: "seneca"}},
			{ID: "second", ServerConfig: ServerConfig{Host: "127.0.0.1", Port: busyPort, Type: "seneca"}},
		}, 0)
		So(err, ShouldBeNil)

		err = agent.Init()
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "second")

		first, ok := agent.Thing("first")
		So(ok, ShouldBeTrue)
		So(first.Listening(), ShouldBeFalse)
		So(agent.Close(context.Background()), ShouldBeNil)
	})
}

func TestLoadBulk(t *testing.T) {
	Convey("读取批量设备文件", t, func() {
		path := filepath.Join(t.TempDir(), "bulk.json")
		content := `[{"id":"a","host":"127.0.0.1","port":5020,"type":"seneca"},{"port":5021,"type":"seneca","error":true}]`
		So(os.WriteFile(path, []byte(content), 0o644), ShouldBeNil)

		specs, err := LoadBulk(path)
		So(err, ShouldBeNil)
		So(len(specs), ShouldEqual, 2)
		So(specs[0].ID, ShouldEqual, "a")
		So(specs[0].Port, ShouldEqual, 5020)
		So(specs[1].Error, ShouldBeTrue)

		_, err = LoadBulk(filepath.Join(t.TempDir(), "missing.json"))
		So(err, ShouldNotBeNil)
	})

	Convey("读取 YAML 批量设备文件", t, func() {
		path := filepath.Join(t.TempDir(), "bulk.yaml")
		content := "- id: a\n  port: 5020\n  type: seneca\n- port: 5021\n  type: seneca\n  error: true\n"
		So(os.WriteFile(path, []byte(content), 0o644), ShouldBeNil)

		specs, err := LoadBulk(path)
		So(err, ShouldBeNil)
		So(len(specs), ShouldEqual, 2)
		So(specs[0].ID, ShouldEqual, "a")
		So(specs[0].Port, ShouldEqual, 5020)
		So(specs[1].Type, ShouldEqual, "seneca")
		So(specs[1].Error, ShouldBeTrue)
	})
}
