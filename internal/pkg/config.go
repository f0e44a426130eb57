package pkg

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SinkConfig 单个下游输出的配置，Para 中为各 sink 自定义的配置项
type SinkConfig struct {
	Type   string                 `mapstructure:"type"`    // sink 类型
	Enable bool                   `mapstructure:"enable"`  // 是否启用
	Para   map[string]interface{} `mapstructure:",remain"` // 自定义配置项
}

// LogConfig 日志配置
type LogConfig struct {
	LogPath    string `mapstructure:"log_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"`
}

// WorkerConfig 轮询 worker 的配置
type WorkerConfig struct {
	ThingType string        `mapstructure:"thingType"` // 基础设备类型, 例如 sensor-rack
	Interval  time.Duration `mapstructure:"interval"`  // 轮询周期
	UseCache  bool          `mapstructure:"useCache"`  // 是否使用缓存值生成快照
	Metrics   time.Duration `mapstructure:"metrics"`   // 性能指标输出周期, 0 表示不输出
}

// ThingOpts 单个传感器的连接参数。UnitID 与 Register 使用指针以区分 "未配置" 与 0
type ThingOpts struct {
	Address  string        `mapstructure:"address"`
	Port     int           `mapstructure:"port"`
	UnitID   *int          `mapstructure:"unitId"`
	Register *int          `mapstructure:"register"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ThingConfig 单个传感器
type ThingConfig struct {
	ID   string    `mapstructure:"id"`
	Pos  string    `mapstructure:"pos"` // 位置标签, 例如 rack-0_lv-1
	Opts ThingOpts `mapstructure:"opts"`
}

// AlertParams 告警参数
type AlertParams struct {
	Temp *float64 `mapstructure:"temp" json:"temp,omitempty"`
}

// AlertConf 单条告警的配置块
type AlertConf struct {
	Params AlertParams `mapstructure:"params" json:"params"`
}

// CustomAlertConfig 通过 expr 表达式定义的告警
type CustomAlertConfig struct {
	Name     string `mapstructure:"name"`
	Category string `mapstructure:"category"` // lv | tr | 空表示任意
	Valid    string `mapstructure:"valid"`
	Probe    string `mapstructure:"probe"`
}

// AlertsConfig 告警相关配置
type AlertsConfig struct {
	Conf   map[string]AlertConf `mapstructure:"conf"`
	Custom []CustomAlertConfig  `mapstructure:"custom"`
}

// MockConfig 模拟设备配置
type MockConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Type        string `mapstructure:"type"`
	Error       bool   `mapstructure:"error"`
	ControlPort int    `mapstructure:"controlPort"`
}

// Config 全局配置
type Config struct {
	Version string        `mapstructure:"version"`
	Log     LogConfig     `mapstructure:"log"`
	Mock    MockConfig    `mapstructure:"mock"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Things  []ThingConfig `mapstructure:"things"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	Sink    []SinkConfig  `mapstructure:"sink"`
}

// InitCommon 用于初始化全局配置, configDir 及其子目录下所有 yaml 文件会被合并
func InitCommon(configDir string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::")) // 设置 key 分隔符为 ::，因为默认的 . 会和 IP 地址冲突
	v.AddConfigPath(configDir)
	v.AutomaticEnv() // 读取环境变量
	setDefaults(v)

	err := filepath.WalkDir(configDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("访问路径 %s 失败: %w", filePath, err)
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(filePath)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		v.SetConfigFile(filePath)
		// 读取并合并配置文件 (会覆盖之前的配置)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var common Config
	if err := v.Unmarshal(&common); err != nil {
		return nil, fmt.Errorf("反序列化配置失败: %w", err)
	}
	return &common, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log::level", "info")
	v.SetDefault("worker::thingType", "sensor-rack")
	v.SetDefault("worker::interval", 5*time.Second)
	v.SetDefault("mock::host", "127.0.0.1")
	v.SetDefault("mock::port", 5020)
	v.SetDefault("mock::type", "seneca")
}

// 定义一个不导出的 key 类型，避免 context key 冲突
type configKey struct{}

// WithConfig 将配置指针存入 context 中
func WithConfig(ctx context.Context, config *Config) context.Context {
	return context.WithValue(ctx, configKey{}, config)
}

// ConfigFromContext 从 context 中提取配置指针, 不存在时返回空配置
func ConfigFromContext(ctx context.Context) *Config {
	if config, ok := ctx.Value(configKey{}).(*Config); ok {
		return config
	}
	return &Config{}
}
