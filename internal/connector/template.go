package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"sensorgate/internal/pkg"
)

// DefaultTimeout 未配置超时时使用
const DefaultTimeout = 5 * time.Second

// Options 建立连接所需的参数
type Options struct {
	Address  string
	Port     int
	UnitID   uint8
	Protocol string
	Timeout  time.Duration
}

// Client 设备连接, 只暴露读保持寄存器
type Client interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	Close() error
}

// FactoryFunc 根据参数建立一个连接
type FactoryFunc func(ctx context.Context, opts Options) (Client, error)

var (
	factoriesMu sync.RWMutex
	// Factories 全局工厂映射, key 为协议名
	Factories = make(map[string]FactoryFunc)
)

// Register 注册一个协议的连接工厂
func Register(protocol string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	Factories[protocol] = factory
}

// Protocols 返回已注册的协议
func Protocols() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	protocols := make([]string, 0, len(Factories))
	for key := range Factories {
		protocols = append(protocols, key)
	}
	sort.Strings(protocols)
	return protocols
}

// New 按 opts.Protocol 建立连接, 协议为空时使用 tcp
func New(ctx context.Context, opts Options) (Client, error) {
	if opts.Protocol == "" {
		opts.Protocol = "tcp"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	factoriesMu.RLock()
	factory, ok := Factories[opts.Protocol]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未找到连接协议: %s", opts.Protocol)
	}
	pkg.LoggerFromContext(ctx).Debug("建立设备连接",
		zap.String("protocol", opts.Protocol),
		zap.String("address", opts.Address),
		zap.Int("port", opts.Port),
		zap.Uint8("unitId", opts.UnitID),
	)
	return factory(ctx, opts)
}
