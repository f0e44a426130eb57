package mock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"sensorgate/internal/pkg"
)

// ServerConfig 单个模拟设备的配置
type ServerConfig struct {
	Host  string `mapstructure:"host" json:"host" yaml:"host"`
	Port  int    `mapstructure:"port" json:"port" yaml:"port"`
	Type  string `mapstructure:"type" json:"type" yaml:"type"`
	Error bool   `mapstructure:"error" json:"error" yaml:"error"`
}

// Server 模拟设备的 Modbus TCP 服务端
type Server struct {
	ctx       context.Context
	cfg       ServerConfig
	bank      *RegisterBank
	startTime time.Time

	mu          sync.Mutex
	listener    net.Listener
	activeConns sync.Map // remote -> net.Conn
	wg          sync.WaitGroup
}

// NewServer 按设备类型生成初始状态并创建服务端, 类型不支持或状态生成失败时不会开始监听
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	bank, err := NewState(cfg.Type, cfg.Error)
	if err != nil {
		return nil, err
	}
	return NewServerWithBank(ctx, cfg, bank), nil
}

// NewServerWithBank 使用已有的寄存器组创建服务端
func NewServerWithBank(ctx context.Context, cfg ServerConfig, bank *RegisterBank) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Server{
		ctx:       ctx,
		cfg:       cfg,
		bank:      bank,
		startTime: time.Now(),
	}
}

// Start 开始监听, 已在监听时直接返回
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("模拟设备监听 %s 失败: %w", addr, err)
	}
	s.listener = listener
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok && s.cfg.Port == 0 {
		// 固定随机分配的端口, 重新启动时地址不变
		s.cfg.Port = tcpAddr.Port
	}
	pkg.LoggerFromContext(s.ctx).Info("模拟设备开始监听",
		zap.String("addr", listener.Addr().String()),
		zap.String("type", s.cfg.Type),
		zap.Bool("error", s.cfg.Error),
	)
	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	log := pkg.LoggerFromContext(s.ctx)
	for {
		// 只有监听器关闭才会退出
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Info("监听器已关闭，停止接受连接")
				return
			}
			log.Error("接受连接失败", zap.Error(err))
			continue
		}
		remote := conn.RemoteAddr().String()
		s.activeConns.Store(remote, conn)
		if !s.owns(listener) {
			// Stop 已经清理过活跃连接
			s.activeConns.Delete(remote)
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.activeConns.Delete(remote)
			defer conn.Close()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	log := pkg.LoggerFromContext(s.ctx).With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("建立连接")
	metrics := pkg.GetPerformanceMetrics()
	reader := bufio.NewReader(conn)
	for {
		frame, err := ReadFrame(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debug("连接关闭")
			} else {
				log.Warn("读取帧失败，断开连接", zap.Error(err))
			}
			return
		}
		metrics.IncMsgReceived("mock_server")
		reply := frame.Reply(s.handlePDU(frame.PDU))
		if _, err := conn.Write(reply.Bytes()); err != nil {
			metrics.IncMsgErrors("mock_server")
			log.Warn("写入应答失败", zap.Error(err))
			return
		}
		metrics.IncMsgProcessed("mock_server")
	}
}

func (s *Server) handlePDU(pdu []byte) []byte {
	function := pdu[0]
	if function != FuncReadHoldingRegisters {
		return exceptionPDU(function, ExceptionIllegalFunction)
	}
	req, ok := decodeReadRequest(pdu)
	if !ok {
		return readResponsePDU(nil)
	}
	return readResponsePDU(s.bank.HandleRead(req))
}

func (s *Server) owns(listener net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener == listener
}

// Stop 关闭监听器和所有活跃连接, 之后可以再次 Start
func (s *Server) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener == nil {
		return nil
	}
	err := listener.Close()
	s.closeAllActiveConnections()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("关闭模拟设备监听失败: %w", err)
	}
	pkg.LoggerFromContext(s.ctx).Info("模拟设备已停止", zap.String("type", s.Config().Type))
	return nil
}

func (s *Server) closeAllActiveConnections() {
	s.activeConns.Range(func(key, value interface{}) bool {
		if err := value.(net.Conn).Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			pkg.LoggerFromContext(s.ctx).Warn("关闭连接失败", zap.Any("remote", key), zap.Error(err))
		}
		s.activeConns.Delete(key)
		return true
	})
}

// Reset 恢复寄存器初始状态
func (s *Server) Reset() [RegisterCount]uint16 {
	return s.bank.Reset()
}

// State 当前寄存器值
func (s *Server) State() [RegisterCount]uint16 {
	return s.bank.Values()
}

// Bank 服务端使用的寄存器组
func (s *Server) Bank() *RegisterBank {
	return s.bank
}

// Config 服务端配置
func (s *Server) Config() ServerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Addr 当前监听地址, 未监听时返回 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listening 是否正在监听
func (s *Server) Listening() bool {
	return s.Addr() != nil
}

// Uptime 自创建以来的时间
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
