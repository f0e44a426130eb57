package pkg

import "errors"

// 错误文本与设备侧约定的错误码保持一致，便于日志检索
var (
	// ErrNoClient 构造驱动时未提供连接工厂
	ErrNoClient = errors.New("ERR_NO_CLIENT")
	// ErrNoValue 读取成功但没有返回数据
	ErrNoValue = errors.New("ERR_NO_VALUE")
	// ErrTimeout 读取在超时时间内未完成
	ErrTimeout = errors.New("ERR_TIMEOUT")
	// ErrUnsupported 未知的设备类型
	ErrUnsupported = errors.New("ERR_UNSUPPORTED")
	// ErrInvalidState 初始状态生成失败
	ErrInvalidState = errors.New("ERR_INVALID_STATE")
	// ErrNotConnected 驱动尚未连接或已关闭
	ErrNotConnected = errors.New("ERR_NOT_CONNECTED")
	// ErrTransport 传输层读写失败, 连接需要重建
	ErrTransport = errors.New("ERR_TRANSPORT")
)
