package models

import "time"

// Profile is the user profile aggregate. Avatar is the watched attribute
// that drives thumbnail dispatch; Thumbnail is written only by the worker.
type Profile struct {
	ID          uint       `gorm:"primaryKey;autoIncrement"`
	UserID      uint       `gorm:"not null;uniqueIndex"`
	PhoneNumber string     `gorm:"type:varchar(20)"`
	Avatar      string     `gorm:"type:varchar(512)"`
	Thumbnail   string     `gorm:"type:varchar(512)"`
	Bio         string     `gorm:"type:text"`
	Location    string     `gorm:"type:varchar(30)"`
	BirthDate   *time.Time `gorm:"type:date"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
}

func (Profile) TableName() string { return "profiles" }
