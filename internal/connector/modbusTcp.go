package connector

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"sensorgate/internal/pkg"
)

func init() {
	Register("tcp", NewModbusTCP)
}

// ModbusTCPClient 基于 goburrow/modbus 的 Modbus TCP 连接
type ModbusTCPClient struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewModbusTCP 建立 Modbus TCP 连接, 拨号失败时返回错误
func NewModbusTCP(ctx context.Context, opts Options) (Client, error) {
	addr := net.JoinHostPort(opts.Address, strconv.Itoa(opts.Port))
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = opts.Timeout
	handler.SlaveId = opts.UnitID

	log := pkg.LoggerFromContext(ctx)
	if log.Core().Enabled(zap.DebugLevel) {
		// 输出收发的原始帧
		handler.Logger = zap.NewStdLog(log.With(zap.String("modbus", addr)))
	}

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("连接 Modbus 设备 %s 失败: %w", addr, err)
	}
	return &ModbusTCPClient{
		handler: handler,
		client:  modbus.NewClient(handler),
	}, nil
}

// ReadHoldingRegisters 读取保持寄存器, 返回原始字节
func (c *ModbusTCPClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadHoldingRegisters(address, quantity)
}

// Close 关闭连接, 可重复调用
func (c *ModbusTCPClient) Close() error {
	return c.handler.Close()
}
