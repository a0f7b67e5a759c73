package loader

import (
	"context"

	"gorm.io/gorm"
)

// CreatedObject identifies an object created during a load run, for the
// report.
type CreatedObject struct {
	Id    string
	RefId string
}

// HookReport is a free text report section produced by the before or after
// save hook.
type HookReport struct {
	Title    string
	Messages []string
}

// Loadable is one object to load, mapped from a single input row.
type Loadable interface {
	// SourceRowNumber returns the data row this object was parsed from,
	// unique within one run.
	SourceRowNumber() int64
	SetSourceRowNumber(n int64)

	// UpdateOrCreate persists the object inside the load transaction. It
	// returns a non nil CreatedObject when a new record was created, nil
	// when an existing one was updated.
	UpdateOrCreate(ctx context.Context, tx *gorm.DB) (*CreatedObject, error)

	// String renders the object for the dry run dump.
	String() string
}

// Mapper converts parsed records into loadable objects and hooks into the
// persistence transaction. One mapper instance serves one load run at a time.
type Mapper[K Loadable] interface {
	// LoadedObjectName is the human readable object name used in the report.
	LoadedObjectName() string

	// Init is called once before parsing starts.
	Init(ctx context.Context) error

	// CreateEmpty returns a blank object to be filled by Convert.
	CreateEmpty() K

	// Convert fills obj from the record. It returns ignore=true to exclude
	// the row from the batch, or an error to abort the whole run.
	Convert(record Record, obj K) (ignore bool, err error)

	// Validate checks the whole batch without persisting anything and
	// returns the invalid rows as a source row number to error message map.
	Validate(ctx context.Context, batch []K) (map[int64]string, error)

	// BeforeSave runs inside the persistence transaction before the objects
	// are saved. An error rolls back the whole batch.
	BeforeSave(ctx context.Context, tx *gorm.DB, batch []K) (*HookReport, error)

	// AfterSave runs inside the persistence transaction after the objects
	// are saved. An error rolls back the whole batch.
	AfterSave(ctx context.Context, tx *gorm.DB, batch []K) (*HookReport, error)

	// Close is called once at the end of the run, whether it succeeded or
	// not.
	Close()
}
