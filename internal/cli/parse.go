package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/sshcollectorpro/netauto/internal/bootstrap"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/model"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/report"
	"gorm.io/gorm"
)

// readInput 路径为空或 "-" 时读标准输入
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

// registry 按配置加载模板，需要时打开数据库
func registry(cmd *cobra.Command, cfg *config.Config) (*parser.Registry, error) {
	var db *gorm.DB
	if cfg.Templates.DB {
		var err error
		if db, err = database.Open(cfg.Database.SQLite); err != nil {
			return nil, err
		}
		defer database.Close(db)
	}
	return bootstrap.LoadRegistry(cmd.Context(), cfg.Templates, db)
}

type parseOptions struct {
	platform string
	command  string
	input    string
	template string
	format   string
}

func newParseCommand(g *globalOptions) *cobra.Command {
	o := &parseOptions{}
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse saved command output into records",
		Long: `Parse raw command output with the template registered for a platform and command,
or with a template file given on the command line.

Examples:
  netauto parse --platform cisco_ios --command "show ip int brief" --input r1.txt
  cat r1.txt | netauto parse --template my.textfsm --format csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runParse(cmd, g, o)
		},
	}
	cmd.Flags().StringVar(&o.platform, "platform", "", "device platform, e.g. cisco_ios")
	cmd.Flags().StringVar(&o.command, "command", "", "command that produced the output")
	cmd.Flags().StringVarP(&o.input, "input", "i", "-", "file holding the raw output (- for stdin)")
	cmd.Flags().StringVarP(&o.template, "template", "t", "", "TextFSM template file to use instead of the registry")
	cmd.Flags().StringVar(&o.format, "format", "text", "output format: text, markdown, csv, json or html")
	return cmd
}

func runParse(cmd *cobra.Command, g *globalOptions, o *parseOptions) error {
	format, err := report.ParseFormat(o.format)
	if err != nil {
		return err
	}
	if o.template == "" && (o.platform == "" || o.command == "") {
		return errors.New("either --template or both --platform and --command are required")
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	raw, err := readInput(cmd, o.input)
	if err != nil {
		return err
	}

	var res parser.Result
	if o.template != "" {
		body, err := os.ReadFile(o.template)
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(filepath.Base(o.template), filepath.Ext(o.template))
		tpl, err := parser.Compile(id, string(body))
		if err != nil {
			return err
		}
		if res, err = tpl.Parse(raw); err != nil {
			return err
		}
	} else {
		reg, err := registry(cmd, cfg)
		if err != nil {
			return err
		}
		if res, err = reg.Parse(o.platform, o.command, raw); err != nil {
			return err
		}
	}
	if res.Partial > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d records dropped by type conversion\n", res.Partial)
	}
	content, err := report.Render(res.Records, report.FormatSpec{Format: format, Title: res.Template})
	if err != nil {
		return err
	}
	_, err = io.WriteString(cmd.OutOrStdout(), content)
	return err
}

type renderOptions struct {
	input   string
	format  string
	title   string
	columns []string
	store   bool
}

func newRenderCommand(g *globalOptions) *cobra.Command {
	o := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render JSON records as a report",
		Long: `Render a JSON array of records (objects of scalar or list values) as a report.

Columns take the form field[:header[:align[:min_width[:decimals]]]].

Examples:
  netauto render -i records.json --format markdown --title "Interfaces"
  netauto render -i records.json --format csv --columns interface:Port,mtu:MTU:right --store`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd, g, o)
		},
	}
	cmd.Flags().StringVarP(&o.input, "input", "i", "-", "JSON file with records (- for stdin)")
	cmd.Flags().StringVar(&o.format, "format", "text", "output format: text, markdown, csv, json or html")
	cmd.Flags().StringVar(&o.title, "title", "", "report title")
	cmd.Flags().StringSliceVar(&o.columns, "columns", nil, "column specs in display order")
	cmd.Flags().BoolVar(&o.store, "store", false, "write the report to the configured storage")
	return cmd
}

// parseColumn field[:header[:align[:min_width[:decimals]]]]
func parseColumn(s string) (report.ColumnSpec, error) {
	parts := strings.Split(s, ":")
	c := report.ColumnSpec{Field: strings.TrimSpace(parts[0])}
	if c.Field == "" {
		return c, fmt.Errorf("column %q: empty field name", s)
	}
	if len(parts) > 1 {
		c.Header = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		c.Align = report.Align(strings.ToLower(parts[2]))
	}
	var err error
	if len(parts) > 3 && parts[3] != "" {
		if c.MinWidth, err = strconv.Atoi(parts[3]); err != nil {
			return c, fmt.Errorf("column %q: invalid min width", s)
		}
	}
	if len(parts) > 4 && parts[4] != "" {
		if c.Decimals, err = strconv.Atoi(parts[4]); err != nil {
			return c, fmt.Errorf("column %q: invalid decimals", s)
		}
	}
	if len(parts) > 5 {
		return c, fmt.Errorf("column %q: too many parts", s)
	}
	return c, nil
}

func runRender(cmd *cobra.Command, g *globalOptions, o *renderOptions) error {
	format, err := report.ParseFormat(o.format)
	if err != nil {
		return err
	}
	spec := report.FormatSpec{Format: format, Title: o.title}
	for _, s := range o.columns {
		c, err := parseColumn(s)
		if err != nil {
			return err
		}
		spec.Columns = append(spec.Columns, c)
	}
	raw, err := readInput(cmd, o.input)
	if err != nil {
		return err
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return fmt.Errorf("records must be a JSON array of objects: %w", err)
	}
	records := make([]parser.Record, 0, len(rows))
	for i, row := range rows {
		rec, err := parser.RecordFromMap(row)
		if err != nil {
			return fmt.Errorf("record #%d: %w", i+1, err)
		}
		records = append(records, rec)
	}

	if !o.store {
		content, err := report.Render(records, spec)
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), content)
		return err
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	sink, err := report.NewSink(cfg.Storage, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	obj, err := report.Publish(cmd.Context(), sink, cfg.Report.Prefix, time.Now(), records, spec)
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

func fieldNames(fields []parser.FieldSpec) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

func newTemplatesCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List and manage parse templates",
	}
	var platform string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			reg, err := registry(cmd, cfg)
			if err != nil {
				return err
			}
			want := parser.NormalizePlatform(platform)
			var records []parser.Record
			for _, e := range reg.Entries() {
				if want != "" && e.Platform != want {
					continue
				}
				records = append(records, parser.Record{
					{Name: "platform", Value: parser.StringValue(e.Platform)},
					{Name: "command", Value: parser.StringValue(e.Command)},
					{Name: "template", Value: parser.StringValue(e.Template)},
					{Name: "source", Value: parser.StringValue(e.Source)},
					{Name: "fields", Value: parser.ListValue(fieldNames(e.Fields))},
				})
			}
			content, err := report.Render(records, report.FormatSpec{Format: report.FormatText, Title: "Templates"})
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), content)
			return err
		},
	}
	list.Flags().StringVar(&platform, "platform", "", "only list templates for this platform")

	rec := &model.TemplateRecord{Enabled: true}
	var file string
	var types map[string]string
	add := &cobra.Command{
		Use:   "add",
		Short: "Store a template in the database",
		Long: `Validate a TextFSM template and store it in the database. Database templates load after
the built-in ones and win for the same platform and command when templates.db is enabled.

Example:
  netauto templates add --platform cisco_ios --command "sh[[ow]] ntp ass[[ociations]]" \
    --name cisco_ios_show_ntp_associations --file ntp.textfsm --types STRATUM=int`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			rec.Body = string(body)
			if len(types) > 0 {
				b, _ := json.Marshal(types)
				rec.Types = string(b)
			}
			if rec.Name == "" {
				rec.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			}
			if err := database.ValidateTemplate(rec); err != nil {
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
			if err := database.SaveTemplate(cmd.Context(), db, rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved template %s for %s %q\n", rec.Name, rec.Platform, rec.Command)
			return nil
		},
	}
	add.Flags().StringVar(&rec.Platform, "platform", "", "device platform")
	add.Flags().StringVar(&rec.Command, "command", "", "command expression, sh[[ow]] abbreviations allowed")
	add.Flags().StringVar(&rec.Name, "name", "", "template name (default: file name)")
	add.Flags().StringVarP(&file, "file", "f", "", "TextFSM template file")
	add.Flags().StringToStringVar(&types, "types", nil, "field type overrides, e.g. MTU=int")
	add.Flags().BoolVar(&rec.Enabled, "enabled", true, "load the template into the registry")
	_ = add.MarkFlagRequired("platform")
	_ = add.MarkFlagRequired("command")
	_ = add.MarkFlagRequired("file")

	cmd.AddCommand(list, add)
	return cmd
}
