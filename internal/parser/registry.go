package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sshcollectorpro/netauto/internal/model"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// IndexFile 模板目录中的索引文件名
const IndexFile = "index.yaml"

// 模板来源
const (
	SourceEmbedded = "embedded"
	SourceDir      = "dir"
	SourceDB       = "db"
	SourceManual   = "manual"
)

// IndexEntry index.yaml 中的一项
type IndexEntry struct {
	Platform string            `yaml:"platform"`
	Command  string            `yaml:"command"`
	File     string            `yaml:"file"`
	Sample   string            `yaml:"sample,omitempty"`
	Types    map[string]string `yaml:"types,omitempty"`
}

// Index 模板索引
type Index struct {
	Templates []IndexEntry `yaml:"templates"`
}

// Entry 注册表条目（对外只读视图）
type Entry struct {
	Platform string      `json:"platform"`
	Command  string      `json:"command"`
	Template string      `json:"template"`
	Source   string      `json:"source"`
	Fields   []FieldSpec `json:"fields"`
}

type registration struct {
	platform string
	command  string
	matcher  *regexp.Regexp
	source   string
	tpl      *Template
}

// Registry (platform, command) 到模板的映射，后注册的同名条目优先
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// NormalizePlatform 平台名归一化：小写，连字符与空格改为下划线
func NormalizePlatform(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	return strings.NewReplacer("-", "_", " ", "_").Replace(p)
}

// NormalizeCommand 命令归一化：小写并压缩空白
func NormalizeCommand(c string) string {
	return strings.ToLower(strings.Join(strings.Fields(c), " "))
}

// ExpandCommand 返回命令表达式的完整写法，sh[[ow]] ver[[sion]] 得到 show version
func ExpandCommand(expr string) string {
	return NormalizeCommand(strings.NewReplacer("[[", "", "]]", "").Replace(expr))
}

// SameCommand 判断两条命令是否为同一命令的不同缩写：词数相同且逐词互为前缀
func SameCommand(a, b string) bool {
	ta, tb := strings.Fields(ExpandCommand(a)), strings.Fields(ExpandCommand(b))
	if len(ta) == 0 || len(ta) != len(tb) {
		return false
	}
	for i := range ta {
		if !strings.HasPrefix(ta[i], tb[i]) && !strings.HasPrefix(tb[i], ta[i]) {
			return false
		}
	}
	return true
}

// CommandPattern 将索引命令表达式编译为正则，支持 sh[[ow]] 缩写语法
func CommandPattern(expr string) (*regexp.Regexp, error) {
	tokens := strings.Fields(strings.ToLower(expr))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command expression")
	}
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		var b strings.Builder
		for tok != "" {
			i := strings.Index(tok, "[[")
			if i < 0 {
				b.WriteString(regexp.QuoteMeta(tok))
				break
			}
			j := strings.Index(tok[i:], "]]")
			if j < 0 {
				return nil, fmt.Errorf("unterminated [[ in %q", expr)
			}
			b.WriteString(regexp.QuoteMeta(tok[:i]))
			b.WriteString(optionalChain(tok[i+2 : i+j]))
			tok = tok[i+j+2:]
		}
		parts = append(parts, b.String())
	}
	return regexp.Compile(`^` + strings.Join(parts, ` `) + `$`)
}

// optionalChain "ow" -> (?:o(?:w)?)?
func optionalChain(s string) string {
	acc := ""
	runes := []rune(s)
	for i := len(runes) - 1; i >= 0; i-- {
		acc = "(?:" + regexp.QuoteMeta(string(runes[i])) + acc + ")?"
	}
	return acc
}

// Register 注册模板
func (r *Registry) Register(platform, command, source string, tpl *Template) error {
	if tpl == nil {
		return fmt.Errorf("register %s %q: nil template", platform, command)
	}
	m, err := CommandPattern(command)
	if err != nil {
		return fmt.Errorf("register %s %q: %w", platform, command, err)
	}
	r.mu.Lock()
	r.entries = append(r.entries, registration{
		platform: NormalizePlatform(platform),
		command:  command,
		matcher:  m,
		source:   source,
		tpl:      tpl,
	})
	r.mu.Unlock()
	return nil
}

// Lookup 查找模板，未找到返回 NoTemplateFoundError
func (r *Registry) Lookup(platform, command string) (*Template, error) {
	p := NormalizePlatform(platform)
	c := NormalizeCommand(command)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.platform == p && e.matcher.MatchString(c) {
			return e.tpl, nil
		}
	}
	return nil, &NoTemplateFoundError{Platform: platform, Command: command}
}

// Parse 查找模板并解析原始输出
func (r *Registry) Parse(platform, command, raw string) (Result, error) {
	tpl, err := r.Lookup(platform, command)
	if err != nil {
		return Result{Records: []Record{}}, err
	}
	return tpl.Parse(raw)
}

// Len 条目数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries 按平台、命令排序的条目列表
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Entry{
			Platform: e.platform,
			Command:  e.command,
			Template: e.tpl.ID(),
			Source:   e.source,
			Fields:   e.tpl.Fields(),
		})
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Command < out[j].Command
	})
	return out
}

// ReadIndex 读取 index.yaml
func ReadIndex(fsys fs.FS, dir string) (*Index, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("read template index: %w", err)
	}
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode template index: %w", err)
	}
	return &idx, nil
}

// LoadFS 按 index.yaml 从文件系统加载模板，任何一个模板编译失败即返回错误
func (r *Registry) LoadFS(fsys fs.FS, dir, source string) (int, error) {
	idx, err := ReadIndex(fsys, dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range idx.Templates {
		if e.Platform == "" || e.Command == "" || e.File == "" {
			return n, fmt.Errorf("template index entry %+v: platform, command and file are required", e)
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.File))
		if err != nil {
			return n, fmt.Errorf("read template %s: %w", e.File, err)
		}
		tpl, err := CompileWithTypes(strings.TrimSuffix(e.File, ".textfsm"), string(body), e.Types)
		if err != nil {
			return n, err
		}
		if err := r.Register(e.Platform, e.Command, source, tpl); err != nil {
			return n, err
		}
		n++
	}
	logger.Infof("Loaded %d templates from %s source", n, source)
	return n, nil
}

// LoadDir 从目录加载模板
func (r *Registry) LoadDir(dir string) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("template dir: %w", err)
	}
	return r.LoadFS(os.DirFS(dir), ".", SourceDir)
}

// LoadDB 加载数据库中启用的模板
func (r *Registry) LoadDB(ctx context.Context, db *gorm.DB) (int, error) {
	var rows []model.TemplateRecord
	if err := db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("query templates: %w", err)
	}
	n := 0
	for _, row := range rows {
		var types map[string]string
		if strings.TrimSpace(row.Types) != "" {
			if err := json.Unmarshal([]byte(row.Types), &types); err != nil {
				return n, fmt.Errorf("template %s types: %w", row.Name, err)
			}
		}
		tpl, err := CompileWithTypes(row.Name, row.Body, types)
		if err != nil {
			return n, err
		}
		if err := r.Register(row.Platform, row.Command, SourceDB, tpl); err != nil {
			return n, err
		}
		n++
	}
	logger.Infof("Loaded %d templates from %s source", n, SourceDB)
	return n, nil
}
