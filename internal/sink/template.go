package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"sensorgate/internal/pkg"
	"sensorgate/internal/worker"
)

// Template 定义了所有 sink 的通用接口
type Template interface {
	GetType() string              // Step:1 sink 类型
	Start(chan *worker.Report)    // Step:2 消费报告, 阻塞直到通道关闭或 ctx 结束
	Publish(*worker.Report) error // Step:3 发送单个报告
}

// FactoryFunc 代表一个 sink 的工厂函数
type FactoryFunc func(context.Context) (Template, error)

// Factories 全局工厂映射, 这里面可能包含了没有启用的 sink
var Factories = make(map[string]FactoryFunc)

// Register 注册一个 sink
func Register(sinkType string, factory FactoryFunc) {
	Factories[sinkType] = factory
}

// TemplateCollection 已启用的 sink 集合
type TemplateCollection map[string]Template

// Start 为每个 sink 创建通道并挂到 worker 上
func (c TemplateCollection) Start(w *worker.Worker, bufSize int) {
	for _, s := range c {
		ch := make(chan *worker.Report, bufSize)
		w.AddSink(ch)
		go s.Start(ch)
	}
}

// New 初始化配置中所有启用的 sink
var New = func(ctx context.Context) (TemplateCollection, error) {
	collection := make(TemplateCollection)
	factoryTypes := make([]string, 0, len(Factories))
	for key := range Factories {
		factoryTypes = append(factoryTypes, key)
	}
	log := pkg.LoggerFromContext(ctx)
	log.Debug("Sink Factory:", zap.Strings("Factories", factoryTypes))
	for _, sinkConfig := range pkg.ConfigFromContext(ctx).Sink {
		if !sinkConfig.Enable {
			continue
		}
		log.Info(fmt.Sprintf("===正在启动Sink: %s===", sinkConfig.Type))
		factory, exists := Factories[sinkConfig.Type]
		if !exists {
			return nil, fmt.Errorf("未找到 sink 类型: %s", sinkConfig.Type)
		}
		s, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("初始化 sink %s 失败: %w", sinkConfig.Type, err)
		}
		collection[sinkConfig.Type] = s
	}
	return collection, nil
}

// decodeSinkConfig 找到第一个启用的 sinkType 配置块并解码到 out
func decodeSinkConfig(ctx context.Context, sinkType string, out interface{}) error {
	for _, sinkConfig := range pkg.ConfigFromContext(ctx).Sink {
		if !sinkConfig.Enable || sinkConfig.Type != sinkType {
			continue
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           out,
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		})
		if err != nil {
			return fmt.Errorf("创建 %s 配置解码器失败: %w", sinkType, err)
		}
		if err := decoder.Decode(sinkConfig.Para); err != nil {
			return fmt.Errorf("解析 %s 配置失败: %w", sinkType, err)
		}
		return nil
	}
	return fmt.Errorf("没有启用的 %s 配置", sinkType)
}

// encodeReport 报告的 JSON 负载
func encodeReport(report *worker.Report) ([]byte, error) {
	return json.Marshal(report)
}
