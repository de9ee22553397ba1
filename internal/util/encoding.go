package util

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// 自动探测时的候选编码，国产设备常见 GBK/GB18030
var fallbackEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
	charmap.Windows1252,
}

// LookupCharset 按名称返回编码；"" / utf-8 / auto 返回 nil
func LookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf8", "utf-8", "auto":
		return nil, nil
	case "gbk", "cp936":
		return simplifiedchinese.GBK, nil
	case "gb18030":
		return simplifiedchinese.GB18030, nil
	case "big5":
		return traditionalchinese.Big5, nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
}

// EnsureUTF8Bytes 非UTF-8字节按常见编码尝试解码，全部失败时原样返回
func EnsureUTF8Bytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range fallbackEncodings {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(b), enc.NewDecoder()))
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

// StreamDecoder 按块解码设备输出，跨块截断的多字节字符留到下一块
type StreamDecoder struct {
	auto    bool
	t       transform.Transformer
	pending []byte
}

// NewStreamDecoder 创建解码器
func NewStreamDecoder(charset string) (*StreamDecoder, error) {
	enc, err := LookupCharset(charset)
	if err != nil {
		return nil, err
	}
	d := &StreamDecoder{auto: strings.EqualFold(strings.TrimSpace(charset), "auto")}
	if enc != nil {
		d.t = enc.NewDecoder()
	}
	return d, nil
}

// Decode 解码一块数据
func (d *StreamDecoder) Decode(p []byte) string {
	src := p
	if len(d.pending) > 0 {
		src = append(d.pending, p...)
		d.pending = nil
	}
	if d.t == nil {
		cut := incompleteTail(src)
		if cut < len(src) {
			d.pending = append([]byte(nil), src[cut:]...)
			src = src[:cut]
		}
		if d.auto && !utf8.Valid(src) {
			return EnsureUTF8Bytes(src)
		}
		return string(src)
	}

	dst := make([]byte, len(src)*2+16)
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, false)
		switch err {
		case transform.ErrShortDst:
			dst = make([]byte, len(dst)*2)
			continue
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src[nSrc:]...)
		}
		return string(dst[:nDst])
	}
}

// Flush 返回剩余未解码字节
func (d *StreamDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	rest := d.pending
	d.pending = nil
	if d.t == nil {
		return string(rest)
	}
	out, _, err := transform.Bytes(d.t, rest)
	if err != nil {
		return string(rest)
	}
	return string(out)
}

// incompleteTail 返回末尾不完整UTF-8序列的起始位置
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			return len(b)
		}
	}
	return len(b)
}
