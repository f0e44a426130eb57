/*
Package mock 模拟 Seneca 温度传感器。

bank.go -- 4 个保持寄存器 (地址 2..5) 及其随机初始化、复位

state.go -- 设备类型到初始状态生成函数的注册表

frame.go / server.go -- Modbus TCP 服务端, 只响应读保持寄存器 (0x03)

control.go -- 批量模拟设备的 HTTP 控制接口
*/
package mock
