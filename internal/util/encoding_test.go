package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestEnsureUTF8BytesGBK(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("接口状态"))
	require.NoError(t, err)
	assert.Equal(t, "接口状态", EnsureUTF8Bytes(gbk))
	assert.Equal(t, "plain", EnsureUTF8Bytes([]byte("plain")))
}

func TestStreamDecoderSplitsUTF8(t *testing.T) {
	d, err := NewStreamDecoder("")
	require.NoError(t, err)
	raw := []byte("端口")
	// 在第一个汉字中间截断
	first := d.Decode(raw[:2])
	second := d.Decode(raw[2:])
	assert.Equal(t, "", first)
	assert.Equal(t, "端口", first+second)
	assert.Equal(t, "", d.Flush())
}

func TestStreamDecoderGBK(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("设备名称"))
	require.NoError(t, err)
	d, err := NewStreamDecoder("gbk")
	require.NoError(t, err)
	out := d.Decode(gbk[:3]) + d.Decode(gbk[3:]) + d.Flush()
	assert.Equal(t, "设备名称", out)
}

func TestLookupCharsetUnknown(t *testing.T) {
	_, err := LookupCharset("ebcdic")
	assert.Error(t, err)
	enc, err := LookupCharset("UTF-8")
	assert.NoError(t, err)
	assert.Nil(t, enc)
}
