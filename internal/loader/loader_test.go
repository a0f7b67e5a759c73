package loader_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"portal-backend/internal/database"
	"portal-backend/internal/loader"
	"portal-backend/internal/loader/principals"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func excelLoader(db *gorm.DB, ignoreInvalid, dryRun bool) *loader.Loader[*principals.Row] {
	return loader.New[*principals.Row](db, principals.NewMapper(false, ""), loader.Options{
		Format:            loader.FormatExcel,
		Charset:           loader.CharsetUTF8,
		IgnoreInvalidRows: ignoreInvalid,
		DryRun:            dryRun,
	})
}

func countPrincipals(t *testing.T, db *gorm.DB) int64 {
	var count int64
	require.NoError(t, db.Model(&database.Principal{}).Count(&count).Error)
	return count
}

func TestPerformLoadSuccess(t *testing.T) {
	db := createDB(t)
	l := excelLoader(db, false, false)

	input := "uid;fullName;email\njdoe;John Doe;jdoe@example.com\nasmith;Anna Smith;asmith@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.False(t, result.Failed)
	assert.Equal(t, 2, result.RowsParsed)
	assert.Len(t, result.NewlyCreated, 2)
	assert.Equal(t, int64(2), countPrincipals(t, db))

	report := result.Text()
	assert.Contains(t, report, ">>> Load report : SUCCESS")
	assert.Contains(t, report, ">>> Number of rows parsed : 2")
	assert.Contains(t, report, ">>> Newly created principal:")
	assert.Contains(t, report, "refId=jdoe")
}

func TestPerformLoadSecondRunUpdates(t *testing.T) {
	db := createDB(t)

	first := excelLoader(db, false, false).PerformLoad(context.Background(),
		strings.NewReader("uid;fullName;email\njdoe;John Doe;jdoe@example.com\n"))
	require.False(t, first.Failed)
	require.Len(t, first.NewlyCreated, 1)

	second := excelLoader(db, false, false).PerformLoad(context.Background(),
		strings.NewReader("uid;fullName;email\njdoe;John A. Doe;jdoe@example.com\n"))
	require.False(t, second.Failed)
	assert.Empty(t, second.NewlyCreated)
	assert.Equal(t, int64(1), countPrincipals(t, db))

	principal, err := database.GetPrincipalByUid(context.Background(), db, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "John A. Doe", principal.FullName)
}

func TestPerformLoadInvalidRowFailsTheRun(t *testing.T) {
	db := createDB(t)
	l := excelLoader(db, false, false)

	input := "uid;fullName;email\njdoe;John Doe;jdoe@example.com\nasmith;;asmith@example.com\nbjones;Bob Jones;bjones@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.True(t, result.Failed)
	assert.Equal(t, 3, result.RowsParsed)
	assert.Equal(t, int64(0), countPrincipals(t, db))

	report := result.Text()
	assert.Contains(t, report, ">>> Load report : FAILED")
	assert.Contains(t, report, ">>> Invalid rows :1")
	assert.Contains(t, report, "Row [2] = name is required")
}

func TestPerformLoadInvalidRowTolerated(t *testing.T) {
	db := createDB(t)
	l := excelLoader(db, true, false)

	input := "uid;fullName;email\njdoe;John Doe;jdoe@example.com\nasmith;;asmith@example.com\nbjones;Bob Jones;bjones@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.False(t, result.Failed)
	assert.Equal(t, 3, result.RowsParsed)
	assert.Len(t, result.NewlyCreated, 2)
	assert.Equal(t, int64(2), countPrincipals(t, db))

	report := result.Text()
	assert.Contains(t, report, ">>> Load report : SUCCESS")
	assert.Contains(t, report, ">>> Number of rows parsed : 3")
	assert.Contains(t, report, "Row [2] = name is required")
}

func TestPerformLoadDryRun(t *testing.T) {
	db := createDB(t)
	l := excelLoader(db, false, true)

	input := "uid;fullName;email\njdoe;John Doe;jdoe@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.False(t, result.Failed)
	assert.Equal(t, int64(0), countPrincipals(t, db))

	report := result.Text()
	assert.Contains(t, report, ">>> TEST MODE ACTIVATED")
	assert.Contains(t, report, "Principal uid=jdoe fullName=John Doe")
}

func TestPerformLoadDryRunRepeatable(t *testing.T) {
	db := createDB(t)

	input := "uid;fullName;email\njdoe;John Doe;jdoe@example.com\nasmith;Anna Smith;asmith@example.com\n"

	first := excelLoader(db, false, true).PerformLoad(context.Background(), strings.NewReader(input))
	require.False(t, first.Failed)
	second := excelLoader(db, false, true).PerformLoad(context.Background(), strings.NewReader(input))
	require.False(t, second.Failed)

	// Nothing is persisted, so the second pass sees the same outcome.
	assert.Equal(t, first.RowsParsed, second.RowsParsed)
	assert.Equal(t, first.DryRunRows, second.DryRunRows)
	assert.Equal(t, int64(0), countPrincipals(t, db))
}

func TestPerformLoadParseFailure(t *testing.T) {
	db := createDB(t)
	l := excelLoader(db, false, false)

	input := "uid;fullName;email\n\"jdoe;broken row\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.True(t, result.Failed)
	assert.Contains(t, result.FailureMessage, "Error during the file parsing")
	assert.Equal(t, int64(0), countPrincipals(t, db))
	assert.Contains(t, result.Text(), ">>> Load report : FAILED")
}

// failingMapper makes the after save hook fail so the transaction must roll
// back.
type failingMapper struct {
	*principals.Mapper
}

func (m *failingMapper) AfterSave(ctx context.Context, tx *gorm.DB, batch []*principals.Row) (*loader.HookReport, error) {
	return nil, errors.New("boom")
}

func TestPerformLoadRollsBackOnHookError(t *testing.T) {
	db := createDB(t)
	l := loader.New[*principals.Row](db, &failingMapper{principals.NewMapper(false, "")}, loader.Options{
		Format:  loader.FormatExcel,
		Charset: loader.CharsetUTF8,
	})

	input := "uid;fullName;email\njdoe;John Doe;jdoe@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.True(t, result.Failed)
	assert.Contains(t, result.FailureMessage, "Error during the database uploading")
	assert.Empty(t, result.NewlyCreated)
	assert.Equal(t, int64(0), countPrincipals(t, db))
}

func TestPerformLoadDeactivatesNotFound(t *testing.T) {
	db := createDB(t,
		&database.Principal{Id: uuid.New(), Uid: "ext-old", FullName: "Old Account", IsActive: true},
		&database.Principal{Id: uuid.New(), Uid: "local-admin", FullName: "Local Admin", IsActive: true},
	)

	l := loader.New[*principals.Row](db, principals.NewMapper(true, "uid like 'ext-%'"), loader.Options{
		Format:  loader.FormatExcel,
		Charset: loader.CharsetUTF8,
	})

	input := "uid;fullName;email\next-new;New Account;new@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))
	require.False(t, result.Failed)

	old, err := database.GetPrincipalByUid(context.Background(), db, "ext-old")
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	admin, err := database.GetPrincipalByUid(context.Background(), db, "local-admin")
	require.NoError(t, err)
	assert.True(t, admin.IsActive)

	assert.Contains(t, result.Text(), "1 principals not found in the input file were deactivated")
}

func TestPerformLoadISO88591(t *testing.T) {
	db := createDB(t)
	l := loader.New[*principals.Row](db, principals.NewMapper(false, ""), loader.Options{
		Format:  loader.FormatExcel,
		Charset: loader.CharsetISO88591,
	})

	input := []byte("uid;fullName;email\njgarcia;Jos\xe9 Garc\xeda;jgarcia@example.com\n")
	result := l.PerformLoad(context.Background(), strings.NewReader(string(input)))
	require.False(t, result.Failed)

	principal, err := database.GetPrincipalByUid(context.Background(), db, "jgarcia")
	require.NoError(t, err)
	assert.Equal(t, "José García", principal.FullName)
}

func TestPerformLoadStripsUTF8BOM(t *testing.T) {
	db := createDB(t)
	l := excelLoader(db, false, false)

	input := "\xef\xbb\xbfuid;fullName;email\njdoe;John Doe;jdoe@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))
	require.False(t, result.Failed)

	_, err := database.GetPrincipalByUid(context.Background(), db, "jdoe")
	assert.NoError(t, err)
}

func TestPerformLoadPositionalFormats(t *testing.T) {
	db := createDB(t)
	l := loader.New[*principals.Row](db, principals.NewMapper(false, ""), loader.Options{
		Format:  loader.FormatRFC4180,
		Charset: loader.CharsetUTF8,
	})

	input := "jdoe,John Doe,jdoe@example.com\nasmith,Anna Smith,asmith@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.False(t, result.Failed)
	assert.Equal(t, 2, result.RowsParsed)
	assert.Equal(t, int64(2), countPrincipals(t, db))
}

func TestPerformLoadMySQLFormat(t *testing.T) {
	db := createDB(t)
	l := loader.New[*principals.Row](db, principals.NewMapper(false, ""), loader.Options{
		Format:  loader.FormatMySQL,
		Charset: loader.CharsetUTF8,
	})

	// Tab separated, no header, bare quotes inside a field are kept as is.
	input := "jdoe\tJohn \"JD\" Doe\tjdoe@example.com\nasmith\tAnna Smith\tasmith@example.com\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.False(t, result.Failed)
	assert.Equal(t, 2, result.RowsParsed)
	assert.Equal(t, int64(2), countPrincipals(t, db))

	principal, err := database.GetPrincipalByUid(context.Background(), db, "jdoe")
	require.NoError(t, err)
	assert.Equal(t, `John "JD" Doe`, principal.FullName)
}

func TestPerformLoadSkipsBlankLines(t *testing.T) {
	db := createDB(t)
	l := excelLoader(db, false, false)

	input := "uid;fullName;email\njdoe;John Doe;jdoe@example.com\n;;\n"
	result := l.PerformLoad(context.Background(), strings.NewReader(input))

	assert.False(t, result.Failed)
	assert.Equal(t, 1, result.RowsParsed)
	assert.Equal(t, int64(1), countPrincipals(t, db))
}
