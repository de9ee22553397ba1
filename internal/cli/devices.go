package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sshcollectorpro/netauto/internal/bootstrap"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/sshcollectorpro/netauto/internal/service"
)

func newDevicesCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage the device inventory",
	}

	var filter database.DeviceFilter
	var names []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List inventory devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := g.newApp(cmd, bootstrap.Options{Database: true})
			if err != nil {
				return err
			}
			defer app.Close()
			filter.Names = names
			devs, err := app.Targets(cmd.Context(), filter)
			if err != nil {
				return err
			}
			records := make([]parser.Record, 0, len(devs))
			for _, t := range devs {
				records = append(records, parser.Record{
					{Name: "name", Value: parser.StringValue(t.Name)},
					{Name: "host", Value: parser.StringValue(t.Host)},
					{Name: "port", Value: parser.IntValue(int64(t.Port))},
					{Name: "platform", Value: parser.StringValue(t.Platform)},
					{Name: "username", Value: parser.StringValue(t.Username)},
				})
			}
			content, err := report.Render(records, report.FormatSpec{Format: report.FormatText, Title: "Devices"})
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), content)
			return err
		},
	}
	list.Flags().StringVar(&filter.Platform, "platform", "", "only devices of this platform")
	list.Flags().StringVar(&filter.Tag, "tag", "", "only devices carrying this tag")
	list.Flags().StringSliceVar(&names, "name", nil, "only these device names")
	list.Flags().BoolVar(&filter.IncludeDisabled, "all", false, "include disabled devices")

	importCmd := &cobra.Command{
		Use:   "import <inventory.yaml>",
		Short: "Import devices from a YAML inventory into the database",
		Long: `Read a YAML inventory and upsert every device into the database by name.
Secrets are never stored; give each device a credential key instead.

Example inventory:
  devices:
    - name: R1
      host: 10.0.0.1
      platform: cisco_ios
      tags: core,dc1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := service.LoadInventoryFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database.SQLite)
			if err != nil {
				return err
			}
			defer database.Close(db)
			n, err := database.ImportDevices(cmd.Context(), db, devs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d devices\n", n)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete devices from the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database.SQLite)
			if err != nil {
				return err
			}
			defer database.Close(db)
			var missing []string
			for _, name := range args {
				err := database.DeleteDevice(cmd.Context(), db, name)
				if errors.Is(err, database.ErrNotFound) {
					missing = append(missing, name)
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
			if len(missing) > 0 {
				return fmt.Errorf("not found: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}

	cmd.AddCommand(list, importCmd, remove)
	return cmd
}
