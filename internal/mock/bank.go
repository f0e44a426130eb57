package mock

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
)

const (
	// RegisterCount 寄存器数量
	RegisterCount = 4
	// BaseAddress 第一个寄存器的外部地址, 有效地址为 2..5
	BaseAddress = 2
	// FaultSentinel 故障注入时写入寄存器的值, 即 850.0 °C
	FaultSentinel uint16 = 8500

	minReading = 300
	maxReading = 399
)

// ReadRequest 读保持寄存器请求
type ReadRequest struct {
	Address  int
	Quantity int
}

// RegisterBank 四个 16 位保持寄存器, 构造后只有 Reset 会修改它
type RegisterBank struct {
	mu      sync.RWMutex
	regs    [RegisterCount]uint16
	initial [RegisterCount]uint16 // 构造时的快照, 只用于 Reset
}

// NewRegisterBank 使用给定的值创建寄存器组
func NewRegisterBank(values [RegisterCount]uint16) *RegisterBank {
	return &RegisterBank{regs: values, initial: values}
}

// Generate 随机生成一个寄存器组, 每个值落在 [300,399]; fault 为 true 时全部为 FaultSentinel
func Generate(fault bool) (*RegisterBank, error) {
	return generateFrom(rand.Reader, fault)
}

func generateFrom(src io.Reader, fault bool) (*RegisterBank, error) {
	var values [RegisterCount]uint16
	for i := range values {
		if fault {
			values[i] = FaultSentinel
			continue
		}
		r, err := randomFraction(src)
		if err != nil {
			return nil, fmt.Errorf("生成寄存器 %d 初始值失败: %w", BaseAddress+i, err)
		}
		v := int(math.Floor(r*100)) + minReading
		if v > maxReading {
			// 两位小数舍入可能得到 1.00
			v = maxReading
		}
		values[i] = uint16(v)
	}
	return NewRegisterBank(values), nil
}

// randomFraction 读取 6 个随机字节 k, 得到 k/2^48 保留两位小数的值。
// 舍入在整数上完成, 恰好为 .5 时进位
func randomFraction(src io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(src, buf[2:]); err != nil {
		return 0, err
	}
	k := binary.BigEndian.Uint64(buf[:])
	cents := (100*k + 1<<47) >> 48
	return float64(cents) / 100, nil
}

// Serialize 按地址顺序输出 8 字节大端数据
func (b *RegisterBank) Serialize() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf := make([]byte, RegisterCount*2)
	for i, v := range b.regs {
		binary.BigEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

// Values 返回当前寄存器值的拷贝
func (b *RegisterBank) Values() [RegisterCount]uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.regs
}

// Reset 恢复到构造时的值, 不会重新随机
func (b *RegisterBank) Reset() [RegisterCount]uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs = b.initial
	return b.regs
}

// HandleRead 处理读请求。地址不在 2..5 时返回空切片, 这不是错误
func (b *RegisterBank) HandleRead(req ReadRequest) []byte {
	if req.Address < BaseAddress || req.Address >= BaseAddress+RegisterCount || req.Quantity <= 0 {
		return []byte{}
	}
	buf := b.Serialize()
	offset := (req.Address - BaseAddress) * 2
	end := offset + req.Quantity*2
	if end > len(buf) {
		end = len(buf)
	}
	return buf[offset:end]
}
