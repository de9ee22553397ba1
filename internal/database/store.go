package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sshcollectorpro/netauto/internal/model"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"gorm.io/gorm"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// DeviceFilter 设备筛选条件，字段为空表示不限
type DeviceFilter struct {
	Names           []string
	Platform        string
	Tag             string
	IncludeDisabled bool
}

// HasTag 标签以逗号分隔，比较时忽略大小写
func HasTag(tags, tag string) bool {
	for _, t := range strings.Split(tags, ",") {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(tag)) {
			return true
		}
	}
	return false
}

// ListDevices 按名称排序返回设备
func ListDevices(ctx context.Context, db *gorm.DB, f DeviceFilter) ([]model.Device, error) {
	q := db.WithContext(ctx).Model(&model.Device{})
	if !f.IncludeDisabled {
		q = q.Where("enabled = ?", true)
	}
	if len(f.Names) > 0 {
		q = q.Where("name IN ?", f.Names)
	}
	if p := parser.NormalizePlatform(f.Platform); p != "" {
		q = q.Where("platform = ?", p)
	}
	var rows []model.Device
	if err := q.Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	if strings.TrimSpace(f.Tag) == "" {
		return rows, nil
	}
	out := rows[:0]
	for _, d := range rows {
		if HasTag(d.Tags, f.Tag) {
			out = append(out, d)
		}
	}
	return out, nil
}

// ValidateDevice 校验并规整设备字段
func ValidateDevice(dev *model.Device) error {
	dev.Name = strings.TrimSpace(dev.Name)
	dev.Host = strings.TrimSpace(dev.Host)
	if dev.Name == "" {
		return errors.New("device: name is required")
	}
	if dev.Host == "" {
		return fmt.Errorf("device %s: host is required", dev.Name)
	}
	if dev.Port == 0 {
		dev.Port = 22
	}
	if dev.Port < 1 || dev.Port > 65535 {
		return fmt.Errorf("device %s: port %d out of range", dev.Name, dev.Port)
	}
	dev.Platform = parser.NormalizePlatform(dev.Platform)
	if dev.Platform == "" {
		dev.Platform = "default"
	}
	return nil
}

// SaveDevice 按名称新增或更新设备
func SaveDevice(ctx context.Context, db *gorm.DB, dev *model.Device) error {
	if err := ValidateDevice(dev); err != nil {
		return err
	}
	return WithRetry(db.WithContext(ctx), func(tx *gorm.DB) error {
		var existing model.Device
		err := tx.Where("name = ?", dev.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			enabled := dev.Enabled
			if err := tx.Create(dev).Error; err != nil {
				return err
			}
			// enabled 列默认 true，创建时零值会被默认值覆盖
			if !enabled {
				dev.Enabled = false
				return tx.Model(dev).Update("enabled", false).Error
			}
			return nil
		case err != nil:
			return err
		}
		dev.ID = existing.ID
		dev.CreatedAt = existing.CreatedAt
		return tx.Save(dev).Error
	}, 5, 0)
}

// ImportDevices 在一个事务中批量保存
func ImportDevices(ctx context.Context, db *gorm.DB, devs []model.Device) (int, error) {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range devs {
			if err := SaveDevice(ctx, tx, &devs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(devs), nil
}

// DeleteDevice 按名称删除
func DeleteDevice(ctx context.Context, db *gorm.DB, name string) error {
	res := db.WithContext(ctx).Where("name = ?", name).Delete(&model.Device{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("device %s: %w", name, ErrNotFound)
	}
	return nil
}

// ListTemplates 按 id 返回全部模板
func ListTemplates(ctx context.Context, db *gorm.DB) ([]model.TemplateRecord, error) {
	var rows []model.TemplateRecord
	if err := db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	return rows, nil
}

// ValidateTemplate 编译模板正文与命令表达式，保存前调用
func ValidateTemplate(rec *model.TemplateRecord) error {
	rec.Name = strings.TrimSpace(rec.Name)
	if rec.Name == "" {
		return errors.New("template: name is required")
	}
	if parser.NormalizePlatform(rec.Platform) == "" {
		return fmt.Errorf("template %s: platform is required", rec.Name)
	}
	if _, err := parser.CommandPattern(rec.Command); err != nil {
		return fmt.Errorf("template %s: %w", rec.Name, err)
	}
	var types map[string]string
	if strings.TrimSpace(rec.Types) != "" {
		if err := json.Unmarshal([]byte(rec.Types), &types); err != nil {
			return fmt.Errorf("template %s types: %w", rec.Name, err)
		}
	}
	_, err := parser.CompileWithTypes(rec.Name, rec.Body, types)
	return err
}

// SaveTemplate 按名称新增或更新模板
func SaveTemplate(ctx context.Context, db *gorm.DB, rec *model.TemplateRecord) error {
	if err := ValidateTemplate(rec); err != nil {
		return err
	}
	return WithRetry(db.WithContext(ctx), func(tx *gorm.DB) error {
		var existing model.TemplateRecord
		err := tx.Where("name = ?", rec.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			enabled := rec.Enabled
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			if !enabled {
				rec.Enabled = false
				return tx.Model(rec).Update("enabled", false).Error
			}
			return nil
		case err != nil:
			return err
		}
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		return tx.Save(rec).Error
	}, 5, 0)
}
