/*
Package sink 定义了轮询报告 (worker.Report) 的输出目标。

每种 sink 在 init 中通过 Register 注册工厂函数, New 根据配置中启用的 sink 逐个构造。
已实现的 sink：

- prometheus: 温度、故障数、告警状态以 gauge 暴露

- mqtt: JSON 发布到 <topic>/<thing>

- kafka: JSON 消息, key 为设备 id

- nats: JSON 发布到 <subject>.<thing>

使用示例：

	func init() {
		Register("MySink", NewMySink)
	}

	// GetType 返回 sink 类型
	func (s *MySink) GetType() string { return "MySink" }

	// Start 消费报告直到通道关闭或 ctx 结束
	func (s *MySink) Start(ch chan *worker.Report) {}
*/
package sink
