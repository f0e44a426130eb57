package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sensorgate/internal/pkg"
)

// ThingSpec 批量文件中的一项, 未给出 id 时自动生成
type ThingSpec struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	ServerConfig `yaml:",inline"`
}

// ThingView 控制接口返回的设备信息
type ThingView struct {
	ID        string                `json:"id"`
	Host      string                `json:"host"`
	Port      int                   `json:"port"`
	Type      string                `json:"type"`
	Error     bool                  `json:"error"`
	Listening bool                  `json:"listening"`
	Addr      string                `json:"addr,omitempty"`
	State     [RegisterCount]uint16 `json:"state"`
	Uptime    float64               `json:"uptime"`
}

// LoadBulk 读取批量设备文件, 内容为设备数组。.yaml/.yml 按 YAML 解析, 其他按 JSON 解析
func LoadBulk(path string) ([]ThingSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取批量文件失败: %w", err)
	}
	var specs []ThingSpec
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &specs)
	default:
		err = json.Unmarshal(data, &specs)
	}
	if err != nil {
		return nil, fmt.Errorf("解析批量文件失败: %w", err)
	}
	return specs, nil
}

// Agent 管理一组模拟设备, 并通过 HTTP 接口暴露启停与复位
type Agent struct {
	ctx  context.Context
	port int

	mu     sync.RWMutex
	ids    []string
	things map[string]*Server

	engine  *gin.Engine
	httpSrv *http.Server
}

// NewAgent 为每个 spec 创建模拟设备, 任一设备创建失败则整体失败。port 为 0 时不启动 HTTP 接口
func NewAgent(ctx context.Context, specs []ThingSpec, port int) (*Agent, error) {
	a := &Agent{
		ctx:    ctx,
		port:   port,
		things: make(map[string]*Server, len(specs)),
	}
	for _, spec := range specs {
		id := spec.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, exists := a.things[id]; exists {
			return nil, fmt.Errorf("模拟设备 id 重复: %s", id)
		}
		srv, err := NewServer(ctx, spec.ServerConfig)
		if err != nil {
			return nil, fmt.Errorf("创建模拟设备 %s 失败: %w", id, err)
		}
		a.ids = append(a.ids, id)
		a.things[id] = srv
	}
	a.engine = a.setupRouter()
	return a, nil
}

// Init 启动所有模拟设备以及控制接口
func (a *Agent) Init() error {
	log := pkg.LoggerFromContext(a.ctx)
	for i, id := range a.ids {
		if err := a.things[id].Start(); err != nil {
			// 停止已经启动的设备
			for _, started := range a.ids[:i] {
				if serr := a.things[started].Stop(); serr != nil {
					log.Warn("停止模拟设备失败", zap.String("id", started), zap.Error(serr))
				}
			}
			return fmt.Errorf("启动模拟设备 %s 失败: %w", id, err)
		}
	}
	if a.port == 0 {
		return nil
	}
	a.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.engine,
	}
	go func() {
		log.Info("模拟设备控制接口启动", zap.Int("port", a.port))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("控制接口异常退出", zap.Error(err))
			pkg.ReportErr(a.ctx, fmt.Errorf("控制接口异常退出: %w", err))
		}
	}()
	return nil
}

// Close 关闭控制接口和所有模拟设备
func (a *Agent) Close(ctx context.Context) error {
	var errs []error
	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range a.ids {
		if err := a.things[id].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler 控制接口的路由
func (a *Agent) Handler() http.Handler {
	return a.engine
}

// Thing 按 id 查找模拟设备
func (a *Agent) Thing(id string) (*Server, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	srv, ok := a.things[id]
	return srv, ok
}

// IDs 按创建顺序返回设备 id
func (a *Agent) IDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.ids...)
}

func (a *Agent) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(config))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	apiV1 := r.Group("/api/v1")
	{
		things := apiV1.Group("/things")
		{
			things.GET("", a.listThings)            // GET /api/v1/things
			things.GET("/:id", a.getThing)          // GET /api/v1/things/:id
			things.POST("/:id/reset", a.resetThing) // POST /api/v1/things/:id/reset
			things.POST("/:id/start", a.startThing) // POST /api/v1/things/:id/start
			things.POST("/:id/stop", a.stopThing)   // POST /api/v1/things/:id/stop
		}
	}
	return r
}

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func (a *Agent) view(id string, srv *Server) ThingView {
	cfg := srv.Config()
	v := ThingView{
		ID:        id,
		Host:      cfg.Host,
		Port:      cfg.Port,
		Type:      cfg.Type,
		Error:     cfg.Error,
		Listening: srv.Listening(),
		State:     srv.State(),
		Uptime:    srv.Uptime().Seconds(),
	}
	if addr := srv.Addr(); addr != nil {
		v.Addr = addr.String()
	}
	return v
}

func (a *Agent) lookup(c *gin.Context) (string, *Server, bool) {
	id := c.Param("id")
	srv, ok := a.Thing(id)
	if !ok {
		errorResponse(c, http.StatusNotFound, "设备未找到")
		return id, nil, false
	}
	return id, srv, true
}

func (a *Agent) listThings(c *gin.Context) {
	ids := a.IDs()
	views := make([]ThingView, 0, len(ids))
	for _, id := range ids {
		srv, _ := a.Thing(id)
		views = append(views, a.view(id, srv))
	}
	c.JSON(http.StatusOK, views)
}

func (a *Agent) getThing(c *gin.Context) {
	id, srv, ok := a.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.view(id, srv))
}

func (a *Agent) resetThing(c *gin.Context) {
	id, srv, ok := a.lookup(c)
	if !ok {
		return
	}
	srv.Reset()
	pkg.LoggerFromContext(a.ctx).Info("模拟设备已复位", zap.String("id", id))
	c.JSON(http.StatusOK, a.view(id, srv))
}

func (a *Agent) startThing(c *gin.Context) {
	id, srv, ok := a.lookup(c)
	if !ok {
		return
	}
	if err := srv.Start(); err != nil {
		errorResponse(c, http.StatusInternalServerError, "启动失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, a.view(id, srv))
}

func (a *Agent) stopThing(c *gin.Context) {
	id, srv, ok := a.lookup(c)
	if !ok {
		return
	}
	if err := srv.Stop(); err != nil {
		errorResponse(c, http.StatusInternalServerError, "停止失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, a.view(id, srv))
}
