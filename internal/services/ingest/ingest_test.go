package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/rjcommerce/trackpool/internal/audit"
	"github.com/rjcommerce/trackpool/internal/models"
)

type insertedRow struct {
	class      models.PoolClass
	trackingID string
	uploadedBy string
}

type fakeImportTx struct {
	existing map[string]bool
	inserted []insertedRow

	existsErr   error
	insertErrOn string
	commitErr   error

	committed  bool
	rolledBack bool
}

func (f *fakeImportTx) ExistsAnywhere(_ context.Context, trackingID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.existing[trackingID], nil
}

func (f *fakeImportTx) Insert(_ context.Context, class models.PoolClass, trackingID, uploadedBy string) error {
	if f.insertErrOn == trackingID {
		return errors.New("insert boom")
	}
	f.existing[trackingID] = true
	f.inserted = append(f.inserted, insertedRow{class: class, trackingID: trackingID, uploadedBy: uploadedBy})
	return nil
}

func (f *fakeImportTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeImportTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeRepo struct {
	tx       *fakeImportTx
	beginErr error
}

func (f *fakeRepo) BeginImport(context.Context) (ImportTx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

func newTestService(t *testing.T, tx *fakeImportTx) (*Service, *audit.Logger) {
	t.Helper()
	auditLog, err := audit.New(t.TempDir())
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&fakeRepo{tx: tx}, auditLog, log), auditLog
}

func TestService_ProcessUpload(t *testing.T) {
	tx := &fakeImportTx{existing: map[string]bool{"CG2IN": true}}
	svc, auditLog := newTestService(t, tx)

	csvBody := strings.Join([]string{
		"EG1IN,extra,columns",
		"  CG3IN  ",
		"CG2IN",
		"eg4in",
		",second-col-only",
		"XY5IN",
		"EG1IN",
	}, "\n")

	sum, err := svc.ProcessUpload(context.Background(), UploadRequest{
		FileName:   "batch.csv",
		UploadedBy: "ops",
		Reader:     strings.NewReader(csvBody),
	})
	require.NoError(t, err)
	require.True(t, tx.committed)

	require.Equal(t, 7, sum.TotalLines)
	require.Equal(t, 1, sum.EGInserted)
	require.Equal(t, 1, sum.CGInserted)
	// CG2IN pre-existing plus EG1IN repeated within the file.
	require.Equal(t, 2, sum.Duplicates)
	require.Equal(t, 1, sum.Invalid)
	require.NotEmpty(t, sum.LogFile)

	require.Equal(t, []insertedRow{
		{class: models.PoolClassEG, trackingID: "EG1IN", uploadedBy: "ops"},
		{class: models.PoolClassCG, trackingID: "CG3IN", uploadedBy: "ops"},
	}, tx.inserted)

	data, err := auditLog.Read(sum.LogFile)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "Line 1: EG1IN (EG) - Successfully added")
	require.Contains(t, content, "Line 4: eg4in - Failed: Invalid format")
	require.Contains(t, content, "Line 5: (empty) - Failed: Empty tracking number")
	require.Contains(t, content, "Line 6: XY5IN - Failed: Unknown prefix (not EG or CG)")
	require.Contains(t, content, "Line 7: EG1IN - Failed: Duplicate (already exists in database)")
	require.Contains(t, content, "Total successfully added: 2")
}

func TestService_ProcessUpload_RejectedValuesInLog(t *testing.T) {
	tx := &fakeImportTx{existing: map[string]bool{"CG2IN": true}}
	svc, auditLog := newTestService(t, tx)

	sum, err := svc.ProcessUpload(context.Background(), UploadRequest{
		FileName:   "batch.csv",
		UploadedBy: "ops",
		Reader:     strings.NewReader("eg4in\nCG2IN\nXY5IN"),
	})
	require.NoError(t, err)

	data, err := auditLog.Read(sum.LogFile)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "Line 1: eg4in - Failed: Invalid format (should be like EG123456IN or CG123456IN)")
	require.Contains(t, content, "Line 2: CG2IN - Failed: Duplicate (already exists in database)")
	require.Contains(t, content, "Line 3: XY5IN - Failed: Unknown prefix (not EG or CG)")
}

func TestService_ProcessUpload_WhitespaceAndBlankLines(t *testing.T) {
	tx := &fakeImportTx{existing: map[string]bool{}}
	svc, auditLog := newTestService(t, tx)

	sum, err := svc.ProcessUpload(context.Background(), UploadRequest{
		FileName:   "batch.csv",
		UploadedBy: "ops",
		Reader:     strings.NewReader("   ,x\n\nEG1IN"),
	})
	require.NoError(t, err)
	require.Equal(t, 3, sum.TotalLines)
	require.Equal(t, 1, sum.EGInserted)
	require.Zero(t, sum.Invalid)
	require.Zero(t, sum.Duplicates)

	data, err := auditLog.Read(sum.LogFile)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "Line 1: (empty) - Failed: Empty tracking number")
	require.Contains(t, content, "Line 2: (empty) - Failed: Empty tracking number")
	require.Contains(t, content, "Line 3: EG1IN (EG) - Successfully added")
}

func TestService_ProcessUpload_EmptyRowsNotCountedAsSkipped(t *testing.T) {
	tx := &fakeImportTx{existing: map[string]bool{}}
	svc, _ := newTestService(t, tx)

	sum, err := svc.ProcessUpload(context.Background(), UploadRequest{
		FileName:   "batch.csv",
		UploadedBy: "ops",
		Reader:     strings.NewReader(",x\nEG1IN"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, sum.TotalLines)
	require.Equal(t, 1, sum.EGInserted)
	require.Zero(t, sum.Duplicates)
	require.Zero(t, sum.Invalid)
}

func TestService_ProcessUpload_StorageFailureRollsBack(t *testing.T) {
	tx := &fakeImportTx{existing: map[string]bool{}, insertErrOn: "CG9IN"}
	svc, auditLog := newTestService(t, tx)

	_, err := svc.ProcessUpload(context.Background(), UploadRequest{
		FileName:   "batch.csv",
		UploadedBy: "ops",
		Reader:     strings.NewReader("EG1IN\nCG9IN\nEG2IN"),
	})
	require.Error(t, err)
	require.True(t, tx.rolledBack)
	require.False(t, tx.committed)

	files, aerr := auditLog.List()
	require.NoError(t, aerr)
	require.Len(t, files, 1)
	data, aerr := auditLog.Read(files[0].Name)
	require.NoError(t, aerr)
	require.Contains(t, string(data), "Processing was aborted and changes were rolled back.")
}

func TestService_ProcessUpload_DuplicateCheckFailureAborts(t *testing.T) {
	tx := &fakeImportTx{existing: map[string]bool{}, existsErr: errors.New("db gone")}
	svc, _ := newTestService(t, tx)

	_, err := svc.ProcessUpload(context.Background(), UploadRequest{
		FileName:   "batch.csv",
		UploadedBy: "ops",
		Reader:     strings.NewReader("EG1IN"),
	})
	require.Error(t, err)
	require.True(t, tx.rolledBack)
}

func TestService_ProcessUpload_BeginFailure(t *testing.T) {
	auditLog, err := audit.New(t.TempDir())
	require.NoError(t, err)
	svc := New(&fakeRepo{beginErr: errors.New("no conn")}, auditLog, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = svc.ProcessUpload(context.Background(), UploadRequest{
		FileName: "batch.csv",
		Reader:   strings.NewReader("EG1IN"),
	})
	require.Error(t, err)
}
