// Package principals maps CSV rows to principal accounts for the object
// loader. The expected columns are uid, fullName and email, by header name
// for dialects with a header row and by position otherwise.
package principals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"portal-backend/internal/database"
	"portal-backend/internal/loader"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AllowedDeactivationFields lists the columns a deactivation clause may
// reference.
func AllowedDeactivationFields() []string {
	return []string{"uid", "email", "full_name"}
}

// Row is one principal account parsed from the input file.
type Row struct {
	rowNumber int64

	Uid      string
	FullName string
	Email    string
}

var _ loader.Loadable = (*Row)(nil)

func (r *Row) SourceRowNumber() int64 {
	return r.rowNumber
}

func (r *Row) SetSourceRowNumber(n int64) {
	r.rowNumber = n
}

func (r *Row) String() string {
	return fmt.Sprintf("Principal uid=%s fullName=%s email=%s", r.Uid, r.FullName, r.Email)
}

// UpdateOrCreate upserts the principal by uid. A created account is reported
// for the load report, an update is not.
func (r *Row) UpdateOrCreate(ctx context.Context, tx *gorm.DB) (*loader.CreatedObject, error) {
	var existing database.Principal
	err := tx.WithContext(ctx).Where("uid = ?", r.Uid).First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{
			"full_name": r.FullName,
			"email":     r.Email,
			"is_active": true,
		}
		return nil, tx.WithContext(ctx).Model(&existing).Updates(updates).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	principal := database.Principal{
		Id:       uuid.New(),
		Uid:      r.Uid,
		FullName: r.FullName,
		Email:    r.Email,
		IsActive: true,
	}
	if err := tx.WithContext(ctx).Create(&principal).Error; err != nil {
		return nil, err
	}
	return &loader.CreatedObject{Id: principal.Id.String(), RefId: r.Uid}, nil
}

// Mapper loads principal accounts. When deactivateNotFound is set, accounts
// matching the deactivation clause that are absent from the input file are
// deactivated at the end of the run, inside the load transaction.
type Mapper struct {
	deactivateNotFound bool
	deactivationClause string
}

var _ loader.Mapper[*Row] = (*Mapper)(nil)

func NewMapper(deactivateNotFound bool, deactivationClause string) *Mapper {
	return &Mapper{
		deactivateNotFound: deactivateNotFound,
		deactivationClause: deactivationClause,
	}
}

func (m *Mapper) LoadedObjectName() string {
	return "principal"
}

func (m *Mapper) Init(ctx context.Context) error {
	return nil
}

func (m *Mapper) CreateEmpty() *Row {
	return &Row{}
}

func (m *Mapper) Convert(record loader.Record, row *Row) (bool, error) {
	if record.HasHeader() {
		row.Uid = strings.TrimSpace(record.Get("uid"))
		row.FullName = strings.TrimSpace(record.Get("fullName"))
		row.Email = strings.TrimSpace(record.Get("email"))
	} else {
		row.Uid = strings.TrimSpace(record.Field(0))
		row.FullName = strings.TrimSpace(record.Field(1))
		row.Email = strings.TrimSpace(record.Field(2))
	}

	// Blank lines are skipped, not reported as invalid.
	if row.Uid == "" && row.FullName == "" && row.Email == "" {
		return true, nil
	}
	return false, nil
}

func (m *Mapper) Validate(ctx context.Context, batch []*Row) (map[int64]string, error) {
	invalid := make(map[int64]string)
	seen := make(map[string]int64, len(batch))

	for _, row := range batch {
		switch {
		case row.Uid == "":
			invalid[row.rowNumber] = "uid is required"
		case row.FullName == "":
			invalid[row.rowNumber] = "name is required"
		default:
			if first, dup := seen[row.Uid]; dup {
				invalid[row.rowNumber] = fmt.Sprintf("duplicate uid %s, already used at row %d", row.Uid, first)
			} else {
				seen[row.Uid] = row.rowNumber
			}
		}
	}
	return invalid, nil
}

func (m *Mapper) BeforeSave(ctx context.Context, tx *gorm.DB, batch []*Row) (*loader.HookReport, error) {
	return nil, nil
}

// AfterSave deactivates the accounts selected by the deactivation clause
// which are not part of the loaded batch.
func (m *Mapper) AfterSave(ctx context.Context, tx *gorm.DB, batch []*Row) (*loader.HookReport, error) {
	if !m.deactivateNotFound {
		return nil, nil
	}

	uids := make([]string, 0, len(batch))
	for _, row := range batch {
		uids = append(uids, row.Uid)
	}

	query := tx.WithContext(ctx).Model(&database.Principal{}).Where("is_active = ?", true)
	if len(uids) > 0 {
		query = query.Where("uid NOT IN ?", uids)
	}
	if m.deactivationClause != "" {
		query = query.Where(m.deactivationClause)
	}

	result := query.Update("is_active", false)
	if result.Error != nil {
		return nil, result.Error
	}

	return &loader.HookReport{
		Title:    "principal deactivation",
		Messages: []string{fmt.Sprintf("%d principals not found in the input file were deactivated", result.RowsAffected)},
	}, nil
}

func (m *Mapper) Close() {
}
