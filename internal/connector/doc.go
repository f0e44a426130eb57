/*
Package connector 提供到现场设备的连接能力。

template.go 中为主接口 Client 以及按协议注册的工厂函数, 驱动只依赖 FactoryFunc,
不关心具体的传输实现。

可以选择的协议包括：

- tcp (Modbus TCP, 基于 goburrow/modbus)

使用示例：

	func init() {
		Register("rtu", NewModbusRTU)
	}

	client, err := connector.New(ctx, connector.Options{Address: "127.0.0.1", Port: 5020, Protocol: "tcp"})
*/
package connector
