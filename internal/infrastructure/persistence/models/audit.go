package models

import "time"

// AuditEntryModel is the gorm row for entity.AuditEntry. Rows are
// append-only; nothing ever issues an UPDATE or DELETE against this table.
type AuditEntryModel struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time
	UserID    string `gorm:"size:64"`
	APIKeyID  string `gorm:"size:64"`
	Action    string `gorm:"size:128"`
	Resource  string `gorm:"size:255"`
	IP        string `gorm:"size:64"`
	Outcome   string `gorm:"size:32"`
	Detail    string `gorm:"type:text"`
	PrevHash  string `gorm:"size:128"`
	Hash      string `gorm:"size:128"`
}

func (AuditEntryModel) TableName() string { return "audit_log" }

// SettingModel is the gorm row for a Settings key/value pair.
type SettingModel struct {
	Key   string `gorm:"primaryKey;size:128"`
	Value string `gorm:"type:text"`
}

func (SettingModel) TableName() string { return "settings" }
