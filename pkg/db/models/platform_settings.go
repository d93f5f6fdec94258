package models

import "time"

// PlatformSettingsID is the primary key of the single settings row.
const PlatformSettingsID = 1

type PlatformSettings struct {
	ID              int       `gorm:"column:id;primaryKey"`
	MaintenanceMode bool      `gorm:"column:maintenance_mode;not null;default:false"`
	Announcement    string    `gorm:"column:announcement;not null;default:''"`
	ModelName       string    `gorm:"column:model_name;not null;default:''"`
	UpdatedBy       *string   `gorm:"column:updated_by"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PlatformSettings) TableName() string {
	return "platform_settings"
}
