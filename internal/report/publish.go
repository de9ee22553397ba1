package report

import (
	"context"
	"time"

	"github.com/sshcollectorpro/netauto/internal/parser"
)

// Publish 渲染并写入，文件名由前缀、时间与内容决定
func Publish(ctx context.Context, sink Sink, prefix string, ts time.Time, records []parser.Record, spec FormatSpec) (StoredObject, error) {
	format, err := ParseFormat(string(spec.Format))
	if err != nil {
		return StoredObject{}, err
	}
	spec.Format = format
	content, err := Render(records, spec)
	if err != nil {
		return StoredObject{}, err
	}
	return sink.Write(ctx, FileName(prefix, ts, content, format.Ext()), content, format.ContentType())
}

// PublishText 原样写入文本内容（如设备配置备份），文件名规则与报表相同
func PublishText(ctx context.Context, sink Sink, prefix string, ts time.Time, content, ext string) (StoredObject, error) {
	if ext == "" {
		ext = "txt"
	}
	return sink.Write(ctx, FileName(prefix, ts, content, ext), content, "text/plain; charset=utf-8")
}
