// Package templates 内置的 TextFSM 解析模板与样例输出
package templates

import (
	"embed"

	"github.com/sshcollectorpro/netauto/internal/parser"
)

// FS 模板、索引与样例
//
//go:embed index.yaml *.textfsm samples/*.txt
var FS embed.FS

// Load 将内置模板注册到 reg
func Load(reg *parser.Registry) (int, error) {
	return reg.LoadFS(FS, ".", parser.SourceEmbedded)
}
