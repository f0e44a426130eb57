package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sensorgate/internal/mock"
	"sensorgate/internal/pkg"
)

type flags struct {
	host        string
	port        int
	sensorType  string
	fault       bool
	controlPort int
	bulk        string
	logLevel    string
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:          "sensorgate-mock",
		Short:        "Modbus TCP 温度传感器模拟器",
		Long:         `启动一个或多个模拟传感器, 通过保持寄存器 2..5 提供温度读数。使用 --bulk 从 JSON 文件批量启动。`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.host, "host", "127.0.0.1", "监听地址")
	cmd.Flags().IntVar(&f.port, "port", 5020, "监听端口")
	cmd.Flags().StringVar(&f.sensorType, "type", "seneca", "设备类型: "+strings.Join(mock.SupportedTypes(), ", "))
	cmd.Flags().BoolVar(&f.fault, "error", false, "注入传感器故障, 寄存器全部为 8500")
	cmd.Flags().IntVar(&f.controlPort, "mockControlPort", 0, "控制接口端口, 0 表示不启动")
	cmd.Flags().StringVar(&f.bulk, "bulk", "", "批量设备 JSON 文件")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "日志级别")
	return cmd
}

func run(parent context.Context, f flags) error {
	log := pkg.NewLogger(&pkg.LogConfig{Level: f.logLevel})
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	errChan := make(chan error, 10)
	ctx = pkg.WithErrChan(ctx, errChan)
	ctx = pkg.WithLoggerAndModule(ctx, log, "Mock")

	specs := []mock.ThingSpec{{ServerConfig: mock.ServerConfig{
		Host:  f.host,
		Port:  f.port,
		Type:  f.sensorType,
		Error: f.fault,
	}}}
	if f.bulk != "" {
		loaded, err := mock.LoadBulk(f.bulk)
		if err != nil {
			return err
		}
		specs = loaded
	}

	agent, err := mock.NewAgent(ctx, specs, f.controlPort)
	if err != nil {
		return err
	}
	if err := agent.Init(); err != nil {
		_ = agent.Close(context.Background())
		return err
	}
	log.Info("模拟设备已启动", zap.Strings("ids", agent.IDs()))

	si := make(chan os.Signal, 1)
	signal.Notify(si, os.Interrupt, syscall.SIGTERM)
	var runErr error
	select {
	case <-si:
		log.Info("收到退出信号")
	case runErr = <-errChan:
		log.Error("运行时错误", zap.Error(runErr))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := agent.Close(shutdownCtx); err != nil {
		log.Warn("关闭模拟设备失败", zap.Error(err))
	}
	return runErr
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
