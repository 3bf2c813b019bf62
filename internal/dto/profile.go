package dto

import "time"

type ProfileCreateDTO struct {
	UserID      uint       `json:"user_id" validate:"required"`
	PhoneNumber string     `json:"phone_number" validate:"max=20"`
	Avatar      string     `json:"avatar" validate:"max=512"`
	Bio         string     `json:"bio" validate:"max=500"`
	Location    string     `json:"location" validate:"max=30"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
}

// ProfileUpdateDTO is a partial update: nil fields are left untouched.
type ProfileUpdateDTO struct {
	PhoneNumber *string    `json:"phone_number" validate:"omitempty,max=20"`
	Avatar      *string    `json:"avatar" validate:"omitempty,max=512"`
	Bio         *string    `json:"bio" validate:"omitempty,max=500"`
	Location    *string    `json:"location" validate:"omitempty,max=30"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
}

type ProfileResponseDTO struct {
	ID           uint       `json:"id"`
	UserID       uint       `json:"user_id"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	Avatar       string     `json:"avatar,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Thumbnail    string     `json:"thumbnail,omitempty"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	Location     string     `json:"location,omitempty"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ProfileSaveResponseDTO reports the saved profile and, when the avatar
// changed, the thumbnail job that was dispatched for it.
type ProfileSaveResponseDTO struct {
	Profile       ProfileResponseDTO `json:"profile"`
	ThumbnailJob  string             `json:"thumbnail_job,omitempty"`
	DispatchError string             `json:"dispatch_error,omitempty"`
}
