package domain

import (
	"time"

	"github.com/google/uuid"
)

// MarkType discriminates which capture source produced a mark
type MarkType string

const (
	MarkText  MarkType = "text"
	MarkImage MarkType = "image"
	MarkScan  MarkType = "scan"
	MarkLink  MarkType = "link"
	MarkFile  MarkType = "file"
)

// Valid reports whether t is one of the known mark types
func (t MarkType) Valid() bool {
	switch t {
	case MarkText, MarkImage, MarkScan, MarkLink, MarkFile:
		return true
	}
	return false
}

// HasAsset reports whether marks of this type are backed by an image file
func (t MarkType) HasAsset() bool {
	return t == MarkImage || t == MarkScan
}

// Mark represents a single captured item
type Mark struct {
	ID        int64     `json:"id"`
	TagID     int64     `json:"tagId"`
	Type      MarkType  `json:"type"`
	Content   string    `json:"content"`
	Desc      string    `json:"desc"`
	URL       string    `json:"url"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tag groups marks under a user-defined category
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsPin     bool      `json:"isPin"`
	IsLocked  bool      `json:"isLocked"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chat is a conversation message recorded under a tag
type Chat struct {
	ID        int64     `json:"id"`
	TagID     int64     `json:"tagId"`
	Role      string    `json:"role"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Progress labels reported while a capture is in flight
const (
	ProgressCacheImage  = "cache image"
	ProgressOCR         = "OCR"
	ProgressAIAnalysis  = "AI analysis"
	ProgressSave        = "save"
	ProgressUploadImage = "upload image"
	ProgressFetch       = "fetch"
	ProgressReadFile    = "read file"
)

// MarkQueue is an in-flight capture tracked only in memory
type MarkQueue struct {
	QueueID   uuid.UUID `json:"queueId"`
	Type      MarkType  `json:"type"`
	Progress  string    `json:"progress"`
	StartTime time.Time `json:"startTime"`
}
