package models

import (
	"time"

	"gorm.io/gorm"
)

// User owns bots and receives notifications according to its preferences.
type User struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	Email string `json:"email" gorm:"uniqueIndex;not null"`
	Name  string `json:"name"`

	// Notification preferences, checked by the dispatcher before sending.
	NotifyOnTrade      bool `json:"notify_on_trade" gorm:"default:true"`
	NotifyOnError      bool `json:"notify_on_error" gorm:"default:true"`
	NotifyOnRisk       bool `json:"notify_on_risk" gorm:"default:true"`
	NotifyDailySummary bool `json:"notify_daily_summary" gorm:"default:false"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	// Relations
	Bots []Bot `json:"bots,omitempty" gorm:"foreignKey:UserID"`
}
