package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sshcollectorpro/netauto/pkg/logger"
)

// DebounceInterval 连续写入合并为一次重载
const DebounceInterval = 300 * time.Millisecond

// Watch 监听配置文件，变化后重新加载并回调，直到 ctx 结束
// 监听所在目录，编辑器以重命名方式保存时同样生效
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch init: %w", err)
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("config watch add %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		trigger := func() {
			cfg, err := Load(path)
			if err != nil {
				logger.Warnf("Config reload failed: %v", err)
				return
			}
			logger.Infof("Config reloaded from %s", path)
			onChange(cfg)
		}
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(DebounceInterval, trigger)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("Config watch error: %v", err)
			}
		}
	}()
	return nil
}
