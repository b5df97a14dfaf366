package models

import "time"

// EndpointModel is the gorm row for entity.Endpoint.
type EndpointModel struct {
	ID      string `gorm:"primaryKey"`
	Name    string `gorm:"uniqueIndex;size:255"`
	BaseURL string `gorm:"size:512"`
	APIKey  string `gorm:"size:512"`

	EndpointType           string `gorm:"size:32"`
	EndpointTypeSource     string `gorm:"size:16"`
	EndpointTypeReason     string `gorm:"type:text"`
	EndpointTypeDetectedAt *time.Time

	Status     string `gorm:"size:16;index"`
	LatencyMs  *int64
	ErrorCount int
	LastSeen   *time.Time
	LastError  string `gorm:"type:text"`

	RegisteredAt time.Time

	HealthCheckIntervalSecs int
	InferenceTimeoutSecs    int

	Capabilities         string `gorm:"type:text"` // JSON array
	SupportsResponsesAPI bool

	Notes string `gorm:"type:text"`
}

func (EndpointModel) TableName() string { return "endpoints" }

// EndpointModelAssocModel is the gorm row for entity.EndpointModel — the
// (endpoint_id, model_id) association table.
type EndpointModelAssocModel struct {
	EndpointID    string `gorm:"primaryKey;size:64"`
	ModelID       string `gorm:"primaryKey;size:255"`
	ContextLength *int64
	SizeBytes     *int64
	Quantization  string `gorm:"size:64"`
	Family        string `gorm:"size:64"`
	ParameterSize string `gorm:"size:32"`

	Capabilities         string `gorm:"type:text"`
	SupportsResponsesAPI bool
	LastSyncedAt         time.Time
}

func (EndpointModelAssocModel) TableName() string { return "endpoint_models" }
