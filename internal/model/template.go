package model

import "time"

// TemplateRecord 数据库中维护的解析模板
// 表名：parse_templates
// - Platform / Command: 注册键，Command 支持 sh[[ow]] 缩写语法
// - Name: 模板标识，出现在解析错误中
// - Body: TextFSM 模板正文
// - Types: 字段类型覆盖，JSON 对象，如 {"MTU":"int"}
// - Enabled: 是否启用；数据库条目在内置模板之后加载，同键时优先

type TemplateRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Platform  string    `json:"platform" gorm:"type:varchar(64);index;not null"`
	Command   string    `json:"command" gorm:"type:varchar(255);not null"`
	Name      string    `json:"name" gorm:"type:varchar(128);uniqueIndex;not null"`
	Body      string    `json:"body" gorm:"type:text;not null"`
	Types     string    `json:"types" gorm:"type:text"`
	Enabled   bool      `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (TemplateRecord) TableName() string { return "parse_templates" }
