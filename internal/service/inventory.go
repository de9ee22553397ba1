package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/model"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// inventoryFile 清单文件格式
//
//	devices:
//	  - name: core-1
//	    host: 10.0.0.1
//	    platform: cisco_ios
//	    credential: core
//	    tags: core,dc1
type inventoryFile struct {
	Devices []inventoryEntry `yaml:"devices"`
}

type inventoryEntry struct {
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Platform   string `yaml:"platform"`
	Username   string `yaml:"username"`
	Credential string `yaml:"credential"`
	Tags       string `yaml:"tags"`
	// 未填写时视为启用
	Enabled *bool `yaml:"enabled"`
}

// ReadInventory 解析 YAML 清单，名称重复或字段不合法时报错
func ReadInventory(r io.Reader) ([]model.Device, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	var f inventoryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	out := make([]model.Device, 0, len(f.Devices))
	seen := map[string]bool{}
	for i, e := range f.Devices {
		dev := model.Device{
			Name:       e.Name,
			Host:       e.Host,
			Port:       e.Port,
			Platform:   e.Platform,
			Username:   e.Username,
			Credential: e.Credential,
			Tags:       e.Tags,
			Enabled:    e.Enabled == nil || *e.Enabled,
		}
		if err := database.ValidateDevice(&dev); err != nil {
			return nil, fmt.Errorf("inventory entry #%d: %w", i+1, err)
		}
		if seen[dev.Name] {
			return nil, fmt.Errorf("inventory entry #%d: duplicate device name %s", i+1, dev.Name)
		}
		seen[dev.Name] = true
		out = append(out, dev)
	}
	return out, nil
}

// LoadInventoryFile 读取清单文件
func LoadInventoryFile(path string) ([]model.Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()
	return ReadInventory(f)
}

// FilterDevices 与数据库查询使用相同的筛选语义
func FilterDevices(devs []model.Device, f database.DeviceFilter) []model.Device {
	platform := parser.NormalizePlatform(f.Platform)
	var out []model.Device
	for _, d := range devs {
		switch {
		case !f.IncludeDisabled && !d.Enabled:
		case len(f.Names) > 0 && !slices.Contains(f.Names, d.Name):
		case platform != "" && d.Platform != platform:
		case f.Tag != "" && !database.HasTag(d.Tags, f.Tag):
		default:
			out = append(out, d)
		}
	}
	return out
}

// Targets 设备清单转为执行目标
func Targets(devs []model.Device) []Target {
	out := make([]Target, len(devs))
	for i, d := range devs {
		out[i] = TargetFromDevice(d)
	}
	return out
}

// LoadTargets 清单文件优先，否则查询数据库
func LoadTargets(ctx context.Context, file string, db *gorm.DB, f database.DeviceFilter) ([]Target, error) {
	var devs []model.Device
	switch {
	case file != "":
		all, err := LoadInventoryFile(file)
		if err != nil {
			return nil, err
		}
		devs = FilterDevices(all, f)
	case db != nil:
		rows, err := database.ListDevices(ctx, db, f)
		if err != nil {
			return nil, err
		}
		devs = rows
	default:
		return nil, errors.New("no inventory file or database configured")
	}
	if len(devs) == 0 {
		return nil, errors.New("inventory selection matched no devices")
	}
	return Targets(devs), nil
}
