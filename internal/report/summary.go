package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DeviceOutcome 单台设备的执行概况
type DeviceOutcome struct {
	Device   string `json:"device"`
	Commands int    `json:"commands"`
	Failed   int    `json:"failed"`
	Records  int    `json:"records"`
	Error    string `json:"error,omitempty"`
}

// Succeeded 无会话错误且没有失败命令
func (o DeviceOutcome) Succeeded() bool {
	return o.Error == "" && o.Failed == 0
}

// SummaryLine 多设备汇总
type SummaryLine struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Records   int `json:"records"`
}

// Rate 成功率百分比，没有设备时为 0
func (s SummaryLine) Rate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) * 100 / float64(s.Total)
}

// String 如 "19/20 devices succeeded (95.0%), 1 failed, 42 records"
func (s SummaryLine) String() string {
	return fmt.Sprintf("%d/%d devices succeeded (%.1f%%), %d failed, %d records",
		s.Succeeded, s.Total, s.Rate(), s.Failed, s.Records)
}

// Summary 汇总设备结果
func Summary(outcomes []DeviceOutcome) SummaryLine {
	var s SummaryLine
	for _, o := range outcomes {
		s.Total++
		s.Records += o.Records
		if o.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// TimestampLayout 文件名中的时间格式
const TimestampLayout = "20060102_150405"

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// slug 转为安全的文件名片段
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_.")
}

// FileName 生成确定性的文件名 prefix_YYYYmmdd_HHMMSS_<hash8>.ext
// 相同的前缀、时间与内容总是得到相同的名字
func FileName(prefix string, ts time.Time, content, ext string) string {
	sum := sha256.Sum256([]byte(content))
	p := slug(prefix)
	if p == "" {
		p = "report"
	}
	name := fmt.Sprintf("%s_%s_%s", p, ts.Format(TimestampLayout), hex.EncodeToString(sum[:])[:8])
	if ext = strings.TrimPrefix(strings.TrimSpace(ext), "."); ext != "" {
		name += "." + ext
	}
	return name
}

// checksum sha256 校验值
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
