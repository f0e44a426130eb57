package mock

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"sensorgate/internal/pkg"
)

// StateFunc 根据是否注入故障生成设备的初始寄存器状态
type StateFunc func(fault bool) (*RegisterBank, error)

var (
	statesMu sync.RWMutex
	states   = make(map[string]StateFunc)
)

func init() {
	RegisterState("seneca", Generate)
}

// RegisterState 注册一个设备类型的初始状态生成函数, 类型名不区分大小写
func RegisterState(sensorType string, fn StateFunc) {
	statesMu.Lock()
	defer statesMu.Unlock()
	states[strings.ToLower(sensorType)] = fn
}

// SupportedTypes 返回已注册的设备类型
func SupportedTypes() []string {
	statesMu.RLock()
	defer statesMu.RUnlock()
	types := make([]string, 0, len(states))
	for t := range states {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// NewState 生成指定类型设备的初始状态
func NewState(sensorType string, fault bool) (*RegisterBank, error) {
	statesMu.RLock()
	fn, ok := states[strings.ToLower(sensorType)]
	statesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("设备类型 %q: %w", sensorType, pkg.ErrUnsupported)
	}
	bank, err := fn(fault)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrInvalidState, err)
	}
	return bank, nil
}
