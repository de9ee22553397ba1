package model

import "time"

// Device 设备清单
// - name: 唯一名称，日志与报表中使用
// - host/port: SSH 地址
// - platform: 交互平台（cisco_ios、huawei_vrp、h3c_comware、default）
// - credential: 凭据来源引用（env、prompt、ssh_config 别名等），不保存口令
// - tags: 逗号分隔的标签，用于批量筛选
//
// 注意：口令与 enable 密码不入库，由凭据提供者在运行时获取

type Device struct {
	ID         uint      `gorm:"primaryKey" json:"id" yaml:"-"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name" yaml:"name"`
	Host       string    `gorm:"not null" json:"host" yaml:"host"`
	Port       int       `gorm:"not null;default:22" json:"port" yaml:"port"`
	Platform   string    `gorm:"not null;default:default" json:"platform" yaml:"platform"`
	Username   string    `json:"username" yaml:"username"`
	Credential string    `json:"credential" yaml:"credential"`
	Tags       string    `json:"tags" yaml:"tags"`
	Enabled    bool      `gorm:"not null;default:true" json:"enabled" yaml:"enabled"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"-"`
}

func (Device) TableName() string { return "devices" }
