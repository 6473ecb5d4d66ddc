package domain

import (
	"time"

	"gorm.io/datatypes"
)

// User represents an account known to the builder. Credentials live with
// the identity provider, only the token version is tracked here.
type User struct {
	ID           uint64    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `gorm:"uniqueIndex" json:"email"`
	TokenVersion uint64    `gorm:"not null;default:0" json:"-"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SafeUser represents a user without sensitive information
type SafeUser struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// ToSafeUser converts a User to a SafeUser
func (u *User) ToSafeUser() SafeUser {
	return SafeUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		IsActive:  u.IsActive,
	}
}

type Website struct {
	ID             uint64         `json:"id"`
	OwnerID        uint64         `gorm:"not null;index" json:"owner_id"`
	Owner          *User          `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	Title          string         `gorm:"not null" json:"title"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	LastModifiedBy *uint64        `json:"last_modified_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Page struct {
	ID        uint64         `json:"id"`
	WebsiteID uint64         `gorm:"not null;uniqueIndex:idx_pages_website_route" json:"website_id"`
	Website   *Website       `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	Route     string         `gorm:"not null;uniqueIndex:idx_pages_website_route" json:"route"`
	Depth     int            `gorm:"not null;default:0" json:"depth"`
	Title     string         `json:"title"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	Revision  uint64         `gorm:"not null;default:0" json:"revision"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ComponentType string

const (
	TypeHeader  ComponentType = "header"
	TypeFooter  ComponentType = "footer"
	TypeSection ComponentType = "section"
	TypeText    ComponentType = "text"
	TypeButton  ComponentType = "button"
	TypeImage   ComponentType = "image"
	TypeVideo   ComponentType = "video"
	TypeAudio   ComponentType = "audio"
)

func (t ComponentType) Valid() bool {
	switch t {
	case TypeHeader, TypeFooter, TypeSection, TypeText, TypeButton, TypeImage, TypeVideo, TypeAudio:
		return true
	}
	return false
}

// IsStructural reports whether the type takes part in the website-wide row bands.
func (t ComponentType) IsStructural() bool {
	return t == TypeHeader || t == TypeFooter || t == TypeSection
}

// IsPublic reports whether components of this type render on every page of the site.
func (t ComponentType) IsPublic() bool {
	return t == TypeHeader || t == TypeFooter
}

func (t ComponentType) IsMedia() bool {
	return t == TypeImage || t == TypeVideo || t == TypeAudio
}

type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
	AssetAudio AssetKind = "audio"
)

// MediaKind is the asset kind a media component must reference.
func (t ComponentType) MediaKind() (AssetKind, bool) {
	switch t {
	case TypeImage:
		return AssetImage, true
	case TypeVideo:
		return AssetVideo, true
	case TypeAudio:
		return AssetAudio, true
	}
	return "", false
}

// Content is the type-tagged payload of a component. Only the fields
// meaningful for the component's type are populated.
type Content struct {
	Body  string  `json:"body,omitempty"`
	Alt   *string `json:"alt,omitempty"`
	Loop  *bool   `json:"loop,omitempty"`
	Label string  `json:"label,omitempty"`
	Href  string  `json:"href,omitempty"`
}

type Component struct {
	ID        uint64                      `json:"id"`
	PageID    uint64                      `gorm:"not null;index" json:"page_id"`
	Page      *Page                       `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	WebsiteID uint64                      `gorm:"not null;index" json:"website_id"`
	Type      ComponentType               `gorm:"type:varchar(16);not null" json:"type"`
	Content   datatypes.JSONType[Content] `json:"content"`
	AssetID   *uint64                     `gorm:"index" json:"asset_id,omitempty"`
	Asset     *Asset                      `gorm:"constraint:OnDelete:SET NULL;" json:"-"`
	ParentID  *uint64                     `gorm:"index" json:"parent_id,omitempty"`
	Parent    *Component                  `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	IsPublic  bool                        `gorm:"not null;default:false" json:"is_public"`
	Position  *ComponentPosition          `gorm:"foreignKey:ComponentID;constraint:OnDelete:CASCADE;" json:"position,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// ComponentPosition is the grid rectangle of a component, one per component.
type ComponentPosition struct {
	ComponentID uint64 `gorm:"primaryKey;autoIncrement:false" json:"component_id"`
	RowStart    int    `gorm:"not null" json:"row_start"`
	ColStart    int    `gorm:"not null" json:"col_start"`
	RowEnd      int    `gorm:"not null" json:"row_end"`
	ColEnd      int    `gorm:"not null" json:"col_end"`
	RowEndSpan  int    `gorm:"not null;default:0" json:"row_end_span"`
	ColEndSpan  int    `gorm:"not null;default:0" json:"col_end_span"`
}

type PermissionLevel int

const (
	LevelView         PermissionLevel = 10
	LevelEditContent  PermissionLevel = 20
	LevelEditSettings PermissionLevel = 30
)

func (l PermissionLevel) Valid() bool {
	return l == LevelView || l == LevelEditContent || l == LevelEditSettings
}

type Collaborator struct {
	WebsiteID       uint64          `gorm:"primaryKey;autoIncrement:false" json:"website_id"`
	Website         *Website        `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	UserID          uint64          `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	User            *User           `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	PermissionLevel PermissionLevel `gorm:"not null" json:"permission_level"`
	InvitedAt       time.Time       `json:"invited_at"`
}

type Asset struct {
	ID         uint64    `json:"id"`
	WebsiteID  uint64    `gorm:"not null;index" json:"website_id"`
	Website    *Website  `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	Kind       AssetKind `gorm:"type:varchar(8);not null" json:"kind"`
	StorageKey string    `gorm:"not null" json:"storage_key"`
	CreatedAt  time.Time `json:"created_at"`
}
