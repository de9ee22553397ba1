package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/sshcollectorpro/netauto/internal/bootstrap"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/dispatch"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/sshcollectorpro/netauto/internal/service"
	"gopkg.in/yaml.v3"
)

// targetFlags 设备选择参数
type targetFlags struct {
	devices  []string
	platform string
	tag      string
	names    []string
	username string
	askPass  bool
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.devices, "device", "d", nil, "device as [name=]host[:port], repeatable; bypasses the inventory")
	cmd.Flags().StringVar(&f.platform, "platform", "", "platform of --device targets, or inventory filter")
	cmd.Flags().StringVar(&f.tag, "tag", "", "select inventory devices carrying this tag")
	cmd.Flags().StringSliceVar(&f.names, "name", nil, "select inventory devices by name")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "login username for --device targets")
	cmd.Flags().BoolVar(&f.askPass, "ask-pass", false, "prompt for missing passwords on the terminal")
}

// parseDevice 解析 [name=]host[:port]
func parseDevice(spec string) (service.Target, error) {
	var t service.Target
	spec = strings.TrimSpace(spec)
	if name, rest, ok := strings.Cut(spec, "="); ok {
		t.Name = strings.TrimSpace(name)
		spec = strings.TrimSpace(rest)
	}
	if spec == "" {
		return t, errors.New("empty device address")
	}
	host, port, err := net.SplitHostPort(spec)
	if err != nil {
		// 没有端口
		t.Host = strings.Trim(spec, "[]")
		return t, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return t, fmt.Errorf("invalid port in %q", spec)
	}
	t.Host, t.Port = host, p
	return t, nil
}

// targets 命令行设备优先，否则按筛选条件取清单
func (f *targetFlags) targets(cmd *cobra.Command, app *bootstrap.App) ([]service.Target, error) {
	if len(f.devices) > 0 {
		out := make([]service.Target, 0, len(f.devices))
		for _, spec := range f.devices {
			t, err := parseDevice(spec)
			if err != nil {
				return nil, fmt.Errorf("--device %q: %w", spec, err)
			}
			t.Platform = f.platform
			t.Username = f.username
			out = append(out, t)
		}
		return out, nil
	}
	return app.Targets(cmd.Context(), database.DeviceFilter{Names: f.names, Platform: f.platform, Tag: f.tag})
}

func (f *targetFlags) options() bootstrap.Options {
	return bootstrap.Options{
		Database:    len(f.devices) == 0,
		Interactive: f.askPass,
		Username:    f.username,
	}
}

type showOptions struct {
	targetFlags
	commands   []string
	privileged bool
	parse      bool
	format     string
	store      bool
	jsonOut    bool
}

func newShowCommand(g *globalOptions) *cobra.Command {
	o := &showOptions{}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Run show commands and optionally parse them into records",
		Long: `Run one or more show commands on every selected device.

Examples:
  netauto show -d R1=10.0.0.1 --platform cisco_ios -c "show version"
  netauto show --tag core -c "show ip interface brief" --parse --format markdown
  netauto show --name R1,R2 -c "show running-config" --privileged`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShow(cmd, g, o)
		},
	}
	o.register(cmd)
	cmd.Flags().StringArrayVarP(&o.commands, "command", "c", nil, "command to run, repeatable")
	cmd.Flags().BoolVar(&o.privileged, "privileged", false, "run in privileged mode")
	cmd.Flags().BoolVar(&o.parse, "parse", false, "parse output with the template registry")
	cmd.Flags().StringVar(&o.format, "format", "", "render parsed records as text, markdown, csv, json or html")
	cmd.Flags().BoolVar(&o.store, "store", false, "write the rendered report to the configured storage")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "print the full run report as JSON")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func runShow(cmd *cobra.Command, g *globalOptions, o *showOptions) error {
	var format report.Format
	if o.format != "" {
		var err error
		if format, err = report.ParseFormat(o.format); err != nil {
			return err
		}
		o.parse = true
	}
	app, err := g.newApp(cmd, o.options())
	if err != nil {
		return err
	}
	defer app.Close()

	targets, err := o.targets(cmd, app)
	if err != nil {
		return err
	}
	mode := driver.Exec
	if o.privileged {
		mode = driver.Privileged
	}
	rep, err := app.Runner.RunMany(cmd.Context(), targets, service.Job{Commands: o.commands, Mode: mode, Parse: o.parse})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.jsonOut {
		if err := writeJSON(out, rep); err != nil {
			return err
		}
	} else {
		printRun(out, rep, o.format == "")
	}
	if o.format != "" {
		spec := report.FormatSpec{Format: format, Title: strings.Join(o.commands, ", ")}
		if err := emitReport(cmd, app, rep, spec, o.store); err != nil {
			return err
		}
	}
	return finish(out, rep.Summary())
}

// emitReport 输出或存储渲染后的报表
func emitReport(cmd *cobra.Command, app *bootstrap.App, rep service.RunReport, spec report.FormatSpec, store bool) error {
	records := rep.Records("")
	if store {
		obj, err := report.Publish(cmd.Context(), app.Sink, app.Config.Report.Prefix, time.Now(), records, spec)
		var fe *report.FallbackError
		if errors.As(err, &fe) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			obj, err = fe.Object, nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d bytes)\n", obj.URI, obj.Size)
		return nil
	}
	content, err := report.Render(records, spec)
	if err != nil {
		return err
	}
	_, err = io.WriteString(cmd.OutOrStdout(), content)
	return err
}

// printRun 按设备打印命令输出
func printRun(w io.Writer, rep service.RunReport, withOutput bool) {
	for _, d := range rep.Devices {
		fmt.Fprintf(w, "=== %s (%s) ===\n", d.Device, d.Host)
		if d.Error != nil {
			fmt.Fprintf(w, "error [%s]: %s\n", d.Error.Code, d.Error.Message)
		}
		for _, c := range d.Commands {
			status := "ok"
			if !c.Success {
				status = "failed: " + c.Error
			}
			fmt.Fprintf(w, "--- %s (%s)\n", c.Command, status)
			if withOutput && c.Output != "" {
				fmt.Fprintln(w, strings.TrimRight(c.Output, "\r\n"))
			}
			if c.ParseError != nil {
				fmt.Fprintf(w, "parse [%s]: %s\n", c.ParseError.Code, c.ParseError.Message)
			} else if c.Template != "" {
				fmt.Fprintf(w, "parsed %d records with %s\n", len(c.Records), c.Template)
			}
		}
	}
}

// finish 打印汇总行，有失败设备时返回错误
func finish(w io.Writer, s report.SummaryLine) error {
	fmt.Fprintln(w, s.String())
	if s.Failed > 0 {
		return fmt.Errorf("%d of %d devices failed", s.Failed, s.Total)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type configOptions struct {
	targetFlags
	commands  []string
	file      string
	loopbacks string
	abort     bool
	save      bool
	jsonOut   bool
}

func newConfigCommand(g *globalOptions) *cobra.Command {
	o := &configOptions{}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Apply configuration commands to devices",
		Long: `Enter configuration mode on every selected device, run the commands and return to privileged mode.

Examples:
  netauto config -d R1=10.0.0.1 -c "ntp server 10.0.0.5" -c "logging host 10.0.0.6"
  netauto config --tag edge --file changes.txt --abort-on-failure
  netauto config --tag core --loopbacks loopbacks.yaml
  netauto config --name R1 -c "ntp server 10.0.0.5" --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfig(cmd, g, o)
		},
	}
	o.register(cmd)
	cmd.Flags().StringArrayVarP(&o.commands, "command", "c", nil, "configuration command, repeatable")
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "read configuration commands from a file, one per line")
	cmd.Flags().StringVar(&o.loopbacks, "loopbacks", "", "YAML list of loopbacks to create and verify")
	cmd.Flags().BoolVar(&o.abort, "abort-on-failure", false, "stop at the first rejected command")
	cmd.Flags().BoolVar(&o.save, "save", false, "save the running configuration when every command succeeded")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "print the full result as JSON")
	cmd.MarkFlagsMutuallyExclusive("loopbacks", "command")
	cmd.MarkFlagsMutuallyExclusive("loopbacks", "save")
	cmd.MarkFlagsMutuallyExclusive("loopbacks", "file")
	return cmd
}

// readCommandFile 每行一条命令，忽略空行与 ! # 开头的注释
func readCommandFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, trimmed)
	}
	return out, nil
}

// readLoopbacks 读取 loopback 列表
func readLoopbacks(path string) ([]service.LoopbackSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Loopbacks []service.LoopbackSpec `yaml:"loopbacks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Loopbacks, nil
}

func runConfig(cmd *cobra.Command, g *globalOptions, o *configOptions) error {
	commands := o.commands
	if o.file != "" {
		fromFile, err := readCommandFile(o.file)
		if err != nil {
			return err
		}
		commands = append(commands, fromFile...)
	}
	var loopbacks []service.LoopbackSpec
	if o.loopbacks != "" {
		var err error
		if loopbacks, err = readLoopbacks(o.loopbacks); err != nil {
			return err
		}
		if err := (service.LoopbackPlan{Loopbacks: loopbacks}).Validate(); err != nil {
			return err
		}
	} else if len(commands) == 0 {
		return errors.New("nothing to apply: use --command, --file or --loopbacks")
	}

	app, err := g.newApp(cmd, o.options())
	if err != nil {
		return err
	}
	defer app.Close()
	targets, err := o.targets(cmd, app)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if loopbacks != nil {
		return applyLoopbacks(cmd, app, targets, loopbacks, o)
	}
	rep, err := app.Runner.RunMany(cmd.Context(), targets, service.Job{
		Commands: commands,
		Mode:     driver.Config,
		Policy:   dispatch.Policy{AbortOnFirstFailure: o.abort},
		Save:     o.save,
	})
	if err != nil {
		return err
	}
	if o.jsonOut {
		if err := writeJSON(out, rep); err != nil {
			return err
		}
	} else {
		printRun(out, rep, true)
	}
	return finish(out, rep.Summary())
}

// applyLoopbacks 按设备平台生成命令，配置后回读校验
func applyLoopbacks(cmd *cobra.Command, app *bootstrap.App, targets []service.Target, specs []service.LoopbackSpec, o *configOptions) error {
	results, err := app.Runner.ApplyLoopbacksMany(cmd.Context(), targets, service.LoopbackPlan{Loopbacks: specs}, o.abort)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if o.jsonOut {
		if err := writeJSON(out, results); err != nil {
			return err
		}
	}
	verified := 0
	for _, r := range results {
		if r.OK() {
			verified++
		}
		if o.jsonOut {
			continue
		}
		fmt.Fprintf(out, "=== %s (%s) ===\n", r.Config.Device, r.Config.Host)
		if r.Config.Error != nil {
			fmt.Fprintf(out, "error [%s]: %s\n", r.Config.Error.Code, r.Config.Error.Message)
		}
		if r.Verify.Error != nil {
			fmt.Fprintf(out, "verify error [%s]: %s\n", r.Verify.Error.Code, r.Verify.Error.Message)
		}
		for _, c := range r.Checks {
			mark := "ok"
			if !c.OK {
				mark = "MISMATCH"
			}
			fmt.Fprintf(out, "%-16s expected %-18s found %-18s %s\n", c.Interface, c.Expected, c.Found, mark)
		}
	}
	fmt.Fprintf(out, "%d/%d devices verified\n", verified, len(results))
	if verified < len(results) {
		return fmt.Errorf("%d of %d devices not verified", len(results)-verified, len(results))
	}
	return nil
}

type backupOptions struct {
	targetFlags
	jsonOut bool
}

func newBackupCommand(g *globalOptions) *cobra.Command {
	o := &backupOptions{}
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up running configurations to the report storage",
		Long: `Read the running configuration of every selected device in privileged mode and
write it to the configured storage (local directory or MinIO) as <prefix>_<timestamp>_<hash>.cfg.

Examples:
  netauto backup --tag core
  netauto backup -d R1=10.0.0.1 --platform cisco_ios -u admin --ask-pass`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBackup(cmd, g, o)
		},
	}
	o.register(cmd)
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "print the full result as JSON")
	return cmd
}

func runBackup(cmd *cobra.Command, g *globalOptions, o *backupOptions) error {
	app, err := g.newApp(cmd, o.options())
	if err != nil {
		return err
	}
	defer app.Close()
	targets, err := o.targets(cmd, app)
	if err != nil {
		return err
	}
	rep, err := app.Runner.BackupMany(cmd.Context(), targets, app.Sink)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if o.jsonOut {
		if err := writeJSON(out, rep); err != nil {
			return err
		}
	} else {
		for _, d := range rep.Devices {
			switch {
			case d.Error != nil:
				fmt.Fprintf(out, "%-16s error [%s]: %s\n", d.Device, d.Error.Code, d.Error.Message)
			case d.Object != nil:
				fmt.Fprintf(out, "%-16s stored %s (%d bytes)\n", d.Device, d.Object.URI, d.Object.Size)
			}
		}
	}
	return finish(out, rep.Summary())
}
