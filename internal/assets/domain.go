package assets

import (
	"time"

	"github.com/utv-amats/amats/internal/rbac"
)

// Status is the lifecycle state of an asset.
type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusIssued      Status = "ISSUED"
	StatusMaintenance Status = "MAINTENANCE"
	StatusRetired     Status = "RETIRED"
	StatusMissing     Status = "MISSING"
)

// Statuses lists every lifecycle state in display order.
var Statuses = []Status{StatusAvailable, StatusIssued, StatusMaintenance, StatusRetired, StatusMissing}

// Condition describes the physical state of an asset.
type Condition string

const (
	ConditionExcellent Condition = "EXCELLENT"
	ConditionGood      Condition = "GOOD"
	ConditionFair      Condition = "FAIR"
	ConditionPoor      Condition = "POOR"
	ConditionDamaged   Condition = "DAMAGED"
)

// Category groups assets and supplies the tag abbreviation.
type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Asset is a tracked piece of equipment.
type Asset struct {
	ID           int64      `json:"id"`
	Tag          string     `json:"asset_tag"`
	Name         string     `json:"name"`
	CategoryID   int64      `json:"category_id"`
	CategoryName string     `json:"category"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Model        string     `json:"model,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Status       Status     `json:"status"`
	Condition    Condition  `json:"condition"`
	Location     string     `json:"location,omitempty"`
	MACAddress   string     `json:"mac_address,omitempty"`
	IPAddress    string     `json:"ip_address,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	HolderID     *int64     `json:"holder_id,omitempty"`
	HolderName   string     `json:"holder,omitempty"`
	CreatedBy    *int64     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Scope returns the fields the access policy inspects.
func (a Asset) Scope() rbac.AssetScope {
	return rbac.AssetScope{Status: string(a.Status), HolderID: a.HolderID}
}

// CategoryInput creates a category.
type CategoryInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

// CreateAssetInput creates an asset. An empty Tag is generated.
type CreateAssetInput struct {
	Tag          string    `json:"asset_tag" validate:"omitempty,max=50"`
	Name         string    `json:"name" validate:"required,max=200"`
	CategoryID   int64     `json:"category_id" validate:"required,gt=0"`
	SerialNumber string    `json:"serial_number" validate:"omitempty,max=100"`
	Model        string    `json:"model" validate:"omitempty,max=100"`
	Manufacturer string    `json:"manufacturer" validate:"omitempty,max=100"`
	Condition    Condition `json:"condition" validate:"omitempty,oneof=EXCELLENT GOOD FAIR POOR DAMAGED"`
	Location     string    `json:"location" validate:"omitempty,max=200"`
	MACAddress   string    `json:"mac_address" validate:"omitempty,max=20"`
	Notes        string    `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateAssetInput patches descriptive fields. Nil fields stay unchanged.
type UpdateAssetInput struct {
	Name         *string    `json:"name" validate:"omitempty,min=1,max=200"`
	CategoryID   *int64     `json:"category_id" validate:"omitempty,gt=0"`
	SerialNumber *string    `json:"serial_number" validate:"omitempty,max=100"`
	Model        *string    `json:"model" validate:"omitempty,max=100"`
	Manufacturer *string    `json:"manufacturer" validate:"omitempty,max=100"`
	Condition    *Condition `json:"condition" validate:"omitempty,oneof=EXCELLENT GOOD FAIR POOR DAMAGED"`
	Location     *string    `json:"location" validate:"omitempty,max=200"`
	MACAddress   *string    `json:"mac_address" validate:"omitempty,max=20"`
	Notes        *string    `json:"notes" validate:"omitempty,max=2000"`
}

// ListFilter narrows asset listings.
type ListFilter struct {
	Search     string
	Status     Status
	CategoryID int64
	// VisibleTo restricts results to assets available or held by this user.
	VisibleTo int64
	Page      int
	PerPage   int
}
