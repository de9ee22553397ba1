package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/internal/server"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"github.com/sshcollectorpro/netauto/simulate"
)

func newSimulateCommand(g *globalOptions) *cobra.Command {
	var file, listen string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run simulated network devices over SSH",
		Long: `Start an SSH server whose logins open simulated Cisco IOS or Huawei VRP consoles.
The SSH username selects the device: a device name from the file, or its login name.

Example:
  netauto simulate --file simulate/simulate.yaml --listen 127.0.0.1:2222
  ssh R1@127.0.0.1 -p 2222`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := g.loadConfig(); err != nil {
				return err
			}
			srv, err := simulate.StartFile(file, listen)
			if err != nil {
				return err
			}
			defer srv.Stop()
			sc, err := simulate.LoadConfig(file)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(sc.Devices))
			for name := range sc.Devices {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(cmd.OutOrStdout(), "simulating %d devices on %s: %v\n", len(names), srv.Addr(), names)
			logger.Infof("Simulate: listening on %s", srv.Addr())
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "simulate/simulate.yaml", "simulated device definitions")
	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}

func newServeCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.logLevel != "" {
				// 服务端自行加载配置，通过环境变量覆盖日志级别
				if err := os.Setenv(config.EnvPrefix+"_LOG_LEVEL", g.logLevel); err != nil {
					return err
				}
			}
			return server.Run(cmd.Context(), g.configPath)
		},
	}
}

// NewServerCommand 独立的服务端命令，参数与 netauto serve 相同
func NewServerCommand() *cobra.Command {
	g := &globalOptions{}
	cmd := newServeCommand(g)
	cmd.Use = "netauto-server"
	cmd.Version = fmt.Sprintf("%s (%s)", version, commit)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.Flags().StringVar(&g.configPath, "config", "", "config file (default: ./configs/config.yaml if present)")
	cmd.Flags().StringVar(&g.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	return cmd
}
