/*
Package pkg 包含了项目的公共部分。具体地：

config.go -- 统一定义了所有配置的加载项，便于使用

logger.go -- 配置 logger 项, 以及 logger 在 context 上的传递

errChan.go -- 全局错误通道在 context 上的传递

errors.go -- 驱动、模拟设备共用的错误定义

perf.go -- 进程内的性能计数
*/
package pkg
