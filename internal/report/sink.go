package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/pkg/logger"
)

// StoredObject 写入结果
type StoredObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

// Sink 报表写入目标
type Sink interface {
	Write(ctx context.Context, name, content, contentType string) (StoredObject, error)
}

// NewSink 根据配置创建写入目标
func NewSink(cfg config.StorageConfig, console io.Writer) (Sink, error) {
	local := &LocalSink{BaseDir: cfg.Local.BaseDir, Prefix: cfg.Local.Prefix, MkdirIfMissing: cfg.Local.MkdirIfMissing}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "console":
		return &ConsoleSink{W: console}, nil
	case "local":
		return local, nil
	case "minio":
		m, err := NewMinioSink(cfg.Minio)
		if err != nil {
			if !cfg.FallbackLocal {
				return nil, err
			}
			logger.Warnf("MinIO sink unavailable, writing reports locally: %v", err)
			return local, nil
		}
		if cfg.FallbackLocal {
			return &FallbackSink{Primary: m, Secondary: local}, nil
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// ConsoleSink 写到终端或任意 io.Writer
type ConsoleSink struct {
	W  io.Writer
	mu sync.Mutex
}

// Write 实现 Sink，多个报表之间以文件名标题分隔
func (s *ConsoleSink) Write(_ context.Context, name, content, contentType string) (StoredObject, error) {
	w := s.W
	if w == nil {
		w = os.Stdout
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		if _, err := fmt.Fprintf(w, "==> %s <==\n", name); err != nil {
			return StoredObject{}, err
		}
	}
	n, err := io.WriteString(w, content)
	if err != nil {
		return StoredObject{}, err
	}
	if !strings.HasSuffix(content, "\n") {
		_, _ = io.WriteString(w, "\n")
	}
	return StoredObject{
		URI:         "console://" + name,
		Size:        int64(n),
		Checksum:    checksum([]byte(content)),
		ContentType: contentTypeOr(contentType),
	}, nil
}

// LocalSink 写入本地目录
type LocalSink struct {
	BaseDir        string
	Prefix         string
	MkdirIfMissing bool
}

// Write 实现 Sink
func (s *LocalSink) Write(_ context.Context, name, content, contentType string) (StoredObject, error) {
	baseDir := strings.TrimSpace(s.BaseDir)
	if baseDir == "" {
		baseDir = "./data/reports"
	}
	parts := []string{baseDir}
	if p := strings.TrimSpace(s.Prefix); p != "" {
		parts = append(parts, p)
	}
	dirPath := filepath.Join(parts...)
	if s.MkdirIfMissing {
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
		}
	}
	fileName := filepath.Base(strings.TrimSpace(name))
	if fileName == "." || fileName == string(filepath.Separator) || fileName == "" {
		return StoredObject{}, fmt.Errorf("invalid report file name %q", name)
	}
	fullPath := filepath.Join(dirPath, fileName)

	data := []byte(content)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write file: %w", err)
	}
	abs, err := filepath.Abs(fullPath)
	if err != nil {
		abs = fullPath
	}
	return StoredObject{
		URI:         "file://" + abs,
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: contentTypeOr(contentType),
	}, nil
}

// MinioSink MinIO 对象存储
type MinioSink struct {
	cfg      config.MinioConfig
	client   *minio.Client
	endpoint string

	mu            sync.Mutex
	bucketEnsured bool
	// Backoff PutObject 重试的单次时限，同时作为重试间隔
	Backoff []time.Duration
}

// NewMinioSink 创建 MinIO 客户端，不做网络访问
func NewMinioSink(cfg config.MinioConfig) (*MinioSink, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || cfg.Port <= 0 {
		return nil, errors.New("minio configuration incomplete: host/port missing")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("minio bucket not configured")
	}
	endpoint := net.JoinHostPort(host, fmt.Sprint(cfg.Port))

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client initialization failed: %w", err)
	}
	return &MinioSink{
		cfg:      cfg,
		client:   client,
		endpoint: endpoint,
		Backoff:  []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
	}, nil
}

// ObjectName 对象路径：prefix/name
func (s *MinioSink) ObjectName(name string) string {
	parts := []string{}
	if p := strings.Trim(strings.TrimSpace(s.cfg.Prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, path.Base(strings.TrimSpace(name)))
	return path.Join(parts...)
}

// Write 实现 Sink
func (s *MinioSink) Write(ctx context.Context, name, content, contentType string) (StoredObject, error) {
	bucket := strings.TrimSpace(s.cfg.Bucket)
	objectName := s.ObjectName(name)
	data := []byte(content)
	ct := contentTypeOr(contentType)

	if err := s.fastConnectivityCheck(ctx); err != nil {
		return StoredObject{}, fmt.Errorf("minio connectivity failed to %s: %w", s.endpoint, err)
	}
	if err := s.ensureBucketOnce(ctx, bucket); err != nil {
		return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
	}

	var lastErr error
	for i, wait := range s.Backoff {
		attemptCtx, cancel := attemptContext(ctx, wait)
		_, err := s.client.PutObject(attemptCtx, bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: ct})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if i == len(s.Backoff)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return StoredObject{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}
	return StoredObject{
		URI:         "minio://" + path.Join(bucket, objectName),
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: ct,
	}, nil
}

// fastConnectivityCheck 使用 TCP 直连做快速连通性校验
func (s *MinioSink) fastConnectivityCheck(parent context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(parent, "tcp", s.endpoint)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (s *MinioSink) ensureBucketOnce(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketEnsured {
		return nil
	}
	if err := s.ensureBucket(ctx, bucket, 2); err != nil {
		return err
	}
	s.bucketEnsured = true
	return nil
}

// ensureBucket 校验并创建 bucket，支持有限重试
func (s *MinioSink) ensureBucket(parent context.Context, bucket string, retries int) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := attemptContext(parent, 10*time.Second)
		exists, err := s.client.BucketExists(ctx, bucket)
		if err == nil && !exists {
			err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		}
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-parent.Done():
			return parent.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return lastErr
}

// attemptContext 构造限时上下文，尊重父上下文的剩余截止时间
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		remain := time.Until(deadline)
		if remain > time.Second && prefer < remain {
			return context.WithTimeout(parent, prefer)
		}
		if remain > time.Second {
			return context.WithTimeout(parent, remain-time.Second)
		}
		return context.WithTimeout(parent, time.Second)
	}
	return context.WithTimeout(parent, prefer)
}

// FallbackSink 主目标失败时写入备用目标
type FallbackSink struct {
	Primary   Sink
	Secondary Sink
}

// Write 实现 Sink；回退成功时返回备用对象并附带主目标的错误说明
func (s *FallbackSink) Write(ctx context.Context, name, content, contentType string) (StoredObject, error) {
	obj, err := s.Primary.Write(ctx, name, content, contentType)
	if err == nil {
		return obj, nil
	}
	logger.Warnf("Primary report sink failed, falling back: %v", err)
	fb, ferr := s.Secondary.Write(ctx, name, content, contentType)
	if ferr != nil {
		return StoredObject{}, fmt.Errorf("primary sink failed: %v; fallback failed: %w", err, ferr)
	}
	return fb, &FallbackError{Primary: err, Object: fb}
}

// FallbackError 主目标失败但已写入备用目标
type FallbackError struct {
	Primary error
	Object  StoredObject
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("primary sink failed: %v; wrote %s instead", e.Primary, e.Object.URI)
}

func (e *FallbackError) Unwrap() error { return e.Primary }

func contentTypeOr(ct string) string {
	if ct != "" {
		return ct
	}
	return "text/plain; charset=utf-8"
}
