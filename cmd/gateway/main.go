package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sensorgate/internal/pkg"
	"sensorgate/internal/sink"
	"sensorgate/internal/worker"
)

const sinkBufferSize = 16

// syncLog 安全地同步日志，忽略与标准输出相关的错误
func syncLog(log *zap.Logger) {
	// Windows平台上，同步标准输出时会出现"The handle is invalid"错误
	err := log.Sync()
	if err != nil && !strings.Contains(err.Error(), "The handle is invalid") {
		log.Error("程序退出时同步日志失败", zap.Error(err))
	}
}

func configDir() string {
	if dir := os.Getenv("SENSORGATE_CONFIG"); dir != "" {
		return dir
	}
	return "yaml"
}

func main() {

	// 1. 初始化common yaml
	config, err := pkg.InitCommon(configDir())
	if err != nil {
		fmt.Printf("[main] 加载配置失败: %s\n", err)
		os.Exit(1)
	}

	// 2. 初始化log
	log := pkg.NewLogger(&config.Log)

	log.Info("程序启动", zap.String("version", config.Version))
	log.Info("配置信息", zap.Any("common", config))
	log.Info("==== 初始化流程开始 ====")

	// 3. 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 10)
	ctx = pkg.WithErrChan(ctx, errChan)
	ctx = pkg.WithConfig(ctx, config)
	ctx = pkg.WithLogger(ctx, log)

	// 4. 创建 worker 和 sink
	w, err := worker.NewFromConfig(ctx)
	if err != nil {
		log.Error("创建 worker 失败", zap.Error(err))
		cancel()
		os.Exit(1)
	}
	sinks, err := sink.New(ctx)
	if err != nil {
		log.Error("创建 sink 失败", zap.Error(err))
		cancel()
		os.Exit(1)
	}
	sinks.Start(w, sinkBufferSize)
	printStartupLogo()

	// 5. 启动轮询
	go w.Run(ctx)
	log.Info("==== 初始化流程结束 ====", zap.Int("things", len(w.Things())), zap.Int("sinks", len(sinks)))

	// 6. 主线程监听终止信号
	si := make(chan os.Signal, 1)
	signal.Notify(si, os.Interrupt, syscall.SIGTERM)
	select {
	case <-si:
		log.Info("收到退出信号, 正在关闭网关")
		cancel()
		time.Sleep(1 * time.Second) // 给其他协程时间处理取消
		syncLog(log)
		os.Exit(0)
	case bad := <-errChan:
		log.Error("运行时错误, 正在关闭网关", zap.Error(bad))
		cancel()
		go func() {
			for err := range errChan {
				log.Error("关闭前的其他错误", zap.Error(err))
			}
		}()
		time.Sleep(1 * time.Second) // 确保日志输出完整
		syncLog(log)
		os.Exit(1)
	}
}

func printStartupLogo() {
	logo := `
  ___  ___ _ __  ___  ___  _ __ __ _  __ _| |_ ___
 / __|/ _ \ '_ \/ __|/ _ \| '__/ _' |/ _' | __/ _ \
 \__ \  __/ | | \__ \ (_) | | | (_| | (_| | ||  __/
 |___/\___|_| |_|___/\___/|_|  \__, |\__,_|\__\___|
                               |___/
`
	fmt.Print(logo)
}
