package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sensorgate/internal/alert"
	"sensorgate/internal/pkg"
	"sensorgate/internal/worker"
)

// NewRootCommand 创建根命令, 配置目录不存在时使用空配置
func NewRootCommand(configDir string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sensorgate-cli",
		Short:         "Sensor gateway CLI for one-shot reads and alert checks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(NewSnapCommand(configDir))
	rootCmd.AddCommand(NewAlertsCommand(configDir))
	return rootCmd
}

func loadConfig(configDir string) *pkg.Config {
	config, err := pkg.InitCommon(configDir)
	if err != nil {
		return &pkg.Config{}
	}
	return config
}

// NewSnapCommand 创建 snap 子命令: 读取一次传感器并对结果求值告警
func NewSnapCommand(configDir string) *cobra.Command {
	var (
		thing   pkg.ThingConfig
		unitID  int
		reg     int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Read a sensor once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig(configDir)
			ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
			defer cancel()
			ctx = pkg.WithConfig(ctx, config)
			ctx = pkg.WithLogger(ctx, zap.NewNop())

			registry := alert.NewRegistry()
			alert.RegisterSensorSpecs(registry)
			if err := alert.RegisterCustom(registry, config.Alerts.Custom); err != nil {
				return err
			}
			thing.Opts.UnitID = &unitID
			thing.Opts.Register = &reg
			thing.Opts.Timeout = timeout

			w := worker.New(ctx, worker.Options{
				Capability: worker.SenecaCapability(config.Worker.ThingType),
				Registry:   registry,
				AlertConf:  config.Alerts.Conf,
			})
			thg := w.AddThing(thing)
			defer func() { _ = w.DisconnectThing(thg) }()

			reports := w.PollOnce(ctx)
			if len(reports) == 0 {
				return fmt.Errorf("没有得到有效快照")
			}
			return printJSON(cmd.OutOrStdout(), reports[0])
		},
	}
	cmd.Flags().StringVar(&thing.ID, "id", "cli", "设备 id")
	cmd.Flags().StringVar(&thing.Pos, "pos", "", "位置标签, 例如 rack-0_lv-1")
	cmd.Flags().StringVar(&thing.Opts.Address, "address", "127.0.0.1", "传感器地址")
	cmd.Flags().IntVar(&thing.Opts.Port, "port", 5020, "传感器端口")
	cmd.Flags().IntVar(&unitID, "unit", 1, "Modbus unit id")
	cmd.Flags().IntVar(&reg, "register", 2, "温度寄存器地址")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "读超时")
	return cmd
}

// NewAlertsCommand 创建 alerts 子命令: 列出已注册的告警
func NewAlertsCommand(configDir string) *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List registered alert specs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig(configDir)
			registry := alert.NewRegistry()
			alert.RegisterSensorSpecs(registry)
			if err := alert.RegisterCustom(registry, config.Alerts.Custom); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, spec := range registry.Specs(alert.SpecCategory) {
				conf, ok := config.Alerts.Conf[spec.Name]
				if ok && conf.Params.Temp != nil {
					fmt.Fprintf(out, "%-28s temp > %.1f\n", spec.Name, *conf.Params.Temp)
					continue
				}
				fmt.Fprintf(out, "%-28s (未配置)\n", spec.Name)
			}
			return nil
		},
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
