package assignments

import (
	"strings"
	"time"

	"github.com/utv-amats/amats/internal/assets"
)

// Assignment records an asset held by a user over an interval. It is open
// while ReturnedAt is nil.
type Assignment struct {
	ID                int64            `json:"id"`
	AssetID           int64            `json:"asset_id"`
	AssetTag          string           `json:"asset_tag"`
	AssetName         string           `json:"asset_name"`
	HolderID          int64            `json:"holder_id"`
	HolderName        string           `json:"holder"`
	HolderEmail       string           `json:"-"`
	IssuedBy          *int64           `json:"issued_by,omitempty"`
	IssuedByName      string           `json:"issued_by_name,omitempty"`
	IssuedByEmail     string           `json:"-"`
	IssuedAt          time.Time        `json:"issued_at"`
	DueAt             *time.Time       `json:"due_at,omitempty"`
	ReturnedAt        *time.Time       `json:"returned_at,omitempty"`
	ReturnedBy        *int64           `json:"returned_by,omitempty"`
	Purpose           string           `json:"purpose,omitempty"`
	ConditionOut      assets.Condition `json:"condition_out"`
	ConditionReturned assets.Condition `json:"condition_returned,omitempty"`
	ReturnNote        string           `json:"return_note,omitempty"`
	CheckoutAddr      string           `json:"checkout_addr,omitempty"`
	ReturnAddr        string           `json:"return_addr,omitempty"`
}

// Open reports whether the asset has not been returned yet.
func (a Assignment) Open() bool {
	return a.ReturnedAt == nil
}

// OverdueAt reports whether an open assignment is past due at now.
func (a Assignment) OverdueAt(now time.Time) bool {
	return a.Open() && a.DueAt != nil && a.DueAt.Before(now)
}

// DaysOverdue returns whole days past due, zero when not overdue.
func (a Assignment) DaysOverdue(now time.Time) int {
	if !a.OverdueAt(now) {
		return 0
	}
	return int(now.Sub(*a.DueAt).Hours() / 24)
}

// AssetRef is the slice of asset state the workflow reads under lock.
type AssetRef struct {
	ID        int64
	Tag       string
	Name      string
	Status    assets.Status
	Condition assets.Condition
	HolderID  *int64
}

// Holder is a user who can receive an asset.
type Holder struct {
	ID       int64
	Username string
	FullName string
	Email    string
	Active   bool
}

// IssueInput checks an asset out to a holder.
type IssueInput struct {
	AssetID  int64      `json:"asset_id" validate:"required,gt=0"`
	HolderID int64      `json:"holder_id" validate:"required,gt=0"`
	DueAt    *time.Time `json:"due_at"`
	Purpose  string     `json:"purpose" validate:"max=500"`
}

// ReturnInput checks an assignment back in.
type ReturnInput struct {
	AssignmentID int64            `json:"-" validate:"required,gt=0"`
	Condition    assets.Condition `json:"condition" validate:"omitempty,oneof=EXCELLENT GOOD FAIR POOR DAMAGED"`
	Note         string           `json:"note" validate:"max=2000"`
}

// ListFilter narrows the assignment history.
type ListFilter struct {
	AssetID  int64
	HolderID int64
	OpenOnly bool
	Page     int
	PerPage  int
}

var (
	damageWords = []string{"damage", "broken", "faulty"}
	negations   = []string{"no ", "not ", "un", "without ", "never "}
)

// IndicatesDamage reports whether a return should route the asset to
// maintenance instead of back to the pool. Negated mentions such as
// "no damage" or "undamaged" do not count.
func IndicatesDamage(condition assets.Condition, note string) bool {
	if condition == assets.ConditionDamaged || condition == assets.ConditionPoor {
		return true
	}
	lower := strings.ToLower(note)
	for _, w := range damageWords {
		rest := lower
		offset := 0
		for {
			i := strings.Index(rest, w)
			if i < 0 {
				break
			}
			if !negated(lower[:offset+i]) {
				return true
			}
			offset += i + len(w)
			rest = rest[i+len(w):]
		}
	}
	return false
}

func negated(prefix string) bool {
	for _, n := range negations {
		if strings.HasSuffix(prefix, n) {
			return true
		}
	}
	return false
}
