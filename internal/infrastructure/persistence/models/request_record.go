package models

import "time"

// RequestRecordModel is the gorm row for entity.RequestRecord.
type RequestRecordModel struct {
	ID           string `gorm:"primaryKey"`
	Timestamp    time.Time `gorm:"index"`
	Kind         string `gorm:"size:32"`
	Model        string `gorm:"size:255"`
	EndpointID   string `gorm:"size:64;index"`
	EndpointName string `gorm:"size:255"`
	EndpointIP   string `gorm:"size:64"`
	ClientIP     string `gorm:"size:64;index"`

	RequestBody  string `gorm:"type:text"`
	ResponseBody string `gorm:"type:text"`

	DurationMs int64
	Success    bool
	ErrorMessage string `gorm:"type:text"`
	CompletedAt  time.Time

	InputTokens  *int64
	OutputTokens *int64
	TotalTokens  *int64
	APIKeyID     string `gorm:"size:64"`
}

func (RequestRecordModel) TableName() string { return "request_history" }
