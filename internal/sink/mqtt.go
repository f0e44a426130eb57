package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"sensorgate/internal/pkg"
	"sensorgate/internal/worker"
)

func init() {
	Register("mqtt", NewMqttSink)
}

// MQTTClientInterface 定义了我们需要的 MQTT 客户端方法
type MQTTClientInterface interface {
	Connect() mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MqttInfo MQTT 的专属配置
type MqttInfo struct {
	Broker         string        `mapstructure:"broker"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"clientID"`
	Topic          string        `mapstructure:"topic"` // 基础 topic, 实际发布到 <topic>/<thing>
	QoS            byte          `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	KeepAliveSec   uint          `mapstructure:"keepAliveSec"`
	PingTimeoutSec uint          `mapstructure:"pingTimeoutSec"`
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
}

// MqttSink 将报告发布到 MQTT
type MqttSink struct {
	client MQTTClientInterface
	info   MqttInfo
	ctx    context.Context
	logger *zap.Logger
}

// NewMqttSink Step.0 构造函数
func NewMqttSink(ctx context.Context) (Template, error) {
	log := pkg.LoggerFromContext(ctx)
	var info MqttInfo
	if err := decodeSinkConfig(ctx, "mqtt", &info); err != nil {
		return nil, err
	}
	if err := info.normalize(); err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", info.Broker, info.Port))
	opts.SetClientID(info.ClientID)
	opts.SetUsername(info.Username)
	opts.SetPassword(info.Password)
	opts.SetKeepAlive(time.Duration(info.KeepAliveSec) * time.Second)
	opts.SetPingTimeout(time.Duration(info.PingTimeoutSec) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.OnConnect = func(client mqtt.Client) {
		log.Info("MQTT 已连接", zap.String("broker", info.Broker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Error("MQTT 连接断开", zap.Error(err), zap.String("broker", info.Broker))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt 连接 %s 失败: %w", info.Broker, token.Error())
	}
	return newMqttSink(ctx, client, info), nil
}

func (info *MqttInfo) normalize() error {
	if info.Broker == "" {
		return fmt.Errorf("mqtt 配置缺少 broker")
	}
	if info.Topic == "" {
		return fmt.Errorf("mqtt 配置缺少 topic")
	}
	if info.Port == 0 {
		info.Port = 1883
	}
	if info.ClientID == "" {
		info.ClientID = fmt.Sprintf("sensorgate-%d", time.Now().UnixNano())
	}
	if info.KeepAliveSec == 0 {
		info.KeepAliveSec = 60
	}
	if info.PingTimeoutSec == 0 {
		info.PingTimeoutSec = 2
	}
	if info.PublishTimeout == 0 {
		info.PublishTimeout = 5 * time.Second
	}
	return nil
}

func newMqttSink(ctx context.Context, client MQTTClientInterface, info MqttInfo) *MqttSink {
	return &MqttSink{
		client: client,
		info:   info,
		ctx:    ctx,
		logger: pkg.LoggerFromContext(ctx).With(zap.String("sink_type", "mqtt"), zap.String("base_topic", info.Topic)),
	}
}

// GetType Step.1
func (m *MqttSink) GetType() string {
	return "mqtt"
}

// Start Step.2
func (m *MqttSink) Start(ch chan *worker.Report) {
	metrics := pkg.GetPerformanceMetrics()
	m.logger.Info("===MqttSink Started===")
OuterLoop:
	for {
		select {
		case <-m.ctx.Done():
			break OuterLoop
		case report, ok := <-ch:
			if !ok {
				break OuterLoop
			}
			metrics.IncMsgReceived("mqtt_sink")
			timer := metrics.NewTimer("mqtt_sink_publish")
			err := m.Publish(report)
			timer.StopAndLog(m.logger)
			if err != nil {
				metrics.IncMsgErrors("mqtt_sink")
				m.logger.Warn("MQTT 发布失败", zap.Error(err))
				continue
			}
			metrics.IncMsgProcessed("mqtt_sink")
		}
	}
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.logger.Info("===MqttSink Stopped===")
}

// Topic 报告发布的 topic
func (m *MqttSink) Topic(report *worker.Report) string {
	return strings.TrimSuffix(m.info.Topic, "/") + "/" + report.ThingID
}

// Publish 发布一个报告
func (m *MqttSink) Publish(report *worker.Report) error {
	if report == nil {
		return fmt.Errorf("空报告")
	}
	payload, err := encodeReport(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	topic := m.Topic(report)
	token := m.client.Publish(topic, m.info.QoS, m.info.Retained, payload)
	if !token.WaitTimeout(m.info.PublishTimeout) {
		return fmt.Errorf("发布到 %s 超时", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("发布到 %s 失败: %w", topic, err)
	}
	m.logger.Debug("报告已发布", zap.String("topic", topic), zap.Int("payload_size", len(payload)))
	return nil
}
