// Package sensor 实现 Seneca 温度传感器驱动: 读取保持寄存器、解码温度、
// 识别 850.0 °C 故障值并生成可供告警使用的快照。
package sensor
