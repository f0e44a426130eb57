// Package worker 负责传感器设备的接入与轮询: 建立驱动连接, 周期性生成快照,
// 计算告警并把报告分发给各个 sink。
package worker
