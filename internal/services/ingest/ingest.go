package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/zoobzio/pipz"

	"github.com/rjcommerce/trackpool/internal/audit"
	"github.com/rjcommerce/trackpool/internal/models"
)

// trackingIDPattern matches India Post article numbers: two letters,
// digits, "IN" suffix.
var trackingIDPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]+IN$`)

// Per-row rejection reasons. These strings land verbatim in the upload
// audit log, so they stay stable.
var (
	errEmptyTracking = errors.New("Empty tracking number")
	errInvalidFormat = errors.New("Invalid format (should be like EG123456IN or CG123456IN)")
	errDuplicate     = errors.New("Duplicate (already exists in database)")
	errUnknownPrefix = errors.New("Unknown prefix (not EG or CG)")
)

// ImportTx is one open upload batch against the pool store.
type ImportTx interface {
	ExistsAnywhere(ctx context.Context, trackingID string) (bool, error)
	Insert(ctx context.Context, class models.PoolClass, trackingID, uploadedBy string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository opens upload batches.
type Repository interface {
	BeginImport(ctx context.Context) (ImportTx, error)
}

// UploadRequest is one CSV file to ingest. Tracking numbers are read
// from the first column; remaining columns are ignored.
type UploadRequest struct {
	FileName   string
	UploadedBy string
	Reader     io.Reader
}

// Summary is what one finished batch produced.
type Summary struct {
	TotalLines int    `json:"total_lines"`
	EGInserted int    `json:"eg_inserted"`
	CGInserted int    `json:"cg_inserted"`
	Duplicates int    `json:"duplicates"`
	Invalid    int    `json:"invalid"`
	LogFile    string `json:"log_file"`
}

type Service struct {
	repo  Repository
	audit *audit.Logger
	log   *slog.Logger
}

func New(repo Repository, auditLog *audit.Logger, log *slog.Logger) *Service {
	return &Service{repo: repo, audit: auditLog, log: log}
}

// row is one CSV line moving through the validation pipeline.
// TrackingID is the trimmed first column, set before the pipeline runs
// so rejected rows still carry their value into the upload log.
type row struct {
	Line       int
	TrackingID string
	Class      models.PoolClass
}

// newRowPipeline builds the per-batch validation sequence. The
// duplicate check runs inside the batch transaction so rows inserted
// earlier in the same file are rejected too.
func newRowPipeline(tx ImportTx) *pipz.Sequence[row] {
	validate := pipz.Apply("validate", func(_ context.Context, r row) (row, error) {
		if r.TrackingID == "" {
			return r, errEmptyTracking
		}
		if !trackingIDPattern.MatchString(r.TrackingID) {
			return r, errInvalidFormat
		}
		return r, nil
	})

	dedupe := pipz.Apply("dedupe", func(ctx context.Context, r row) (row, error) {
		exists, err := tx.ExistsAnywhere(ctx, r.TrackingID)
		if err != nil {
			return r, errors.Wrap(err, "check duplicate")
		}
		if exists {
			return r, errDuplicate
		}
		return r, nil
	})

	route := pipz.Apply("route", func(_ context.Context, r row) (row, error) {
		class, ok := models.ClassFromTrackingID(r.TrackingID)
		if !ok {
			return r, errUnknownPrefix
		}
		r.Class = class
		return r, nil
	})

	return pipz.NewSequence("csv-row", validate, dedupe, route)
}

// firstField parses one physical line as CSV and returns its first
// column. A blank line has no fields and reads as empty.
func firstField(text string) string {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rec, err := r.Read()
	if err != nil || len(rec) == 0 {
		return ""
	}
	return rec[0]
}

// ProcessUpload runs one CSV batch. Rejected rows are skipped and
// counted; a storage failure rolls the whole batch back. Either way an
// upload log file is written.
func (s *Service) ProcessUpload(ctx context.Context, req UploadRequest) (*Summary, error) {
	tx, err := s.repo.BeginImport(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin import")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pipeline := newRowPipeline(tx)

	report := &audit.UploadReport{
		FileName:   req.FileName,
		UploadedBy: req.UploadedBy,
	}

	// Line-oriented scan so blank lines keep their physical line number
	// in the log instead of being swallowed by the CSV reader.
	scanner := bufio.NewScanner(req.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	var fatal error
readLoop:
	for scanner.Scan() {
		line++
		in := row{Line: line, TrackingID: strings.TrimSpace(firstField(scanner.Text()))}

		// The pipeline returns a zero row alongside the error, so
		// failure branches report from in, not out.
		out, procErr := pipeline.Process(ctx, in)
		if procErr != nil {
			switch {
			case errors.Is(procErr, errEmptyTracking):
				report.Failures = append(report.Failures, audit.UploadFailure{
					Line: line, TrackingID: "(empty)", Reason: errEmptyTracking.Error(),
				})
			case errors.Is(procErr, errInvalidFormat):
				report.Invalid++
				report.Failures = append(report.Failures, audit.UploadFailure{
					Line: line, TrackingID: in.TrackingID, Reason: errInvalidFormat.Error(),
				})
			case errors.Is(procErr, errDuplicate):
				report.Duplicates++
				report.Failures = append(report.Failures, audit.UploadFailure{
					Line: line, TrackingID: in.TrackingID, Reason: errDuplicate.Error(),
				})
			case errors.Is(procErr, errUnknownPrefix):
				report.Failures = append(report.Failures, audit.UploadFailure{
					Line: line, TrackingID: in.TrackingID, Reason: errUnknownPrefix.Error(),
				})
			default:
				fatal = procErr
				break readLoop
			}
			continue
		}

		if ierr := tx.Insert(ctx, out.Class, out.TrackingID, req.UploadedBy); ierr != nil {
			fatal = errors.Wrap(ierr, "insert row")
			break
		}
		report.Successes = append(report.Successes, audit.UploadLine{
			Line: line, TrackingID: out.TrackingID, Class: out.Class,
		})
		switch out.Class {
		case models.PoolClassEG:
			report.EGCount++
		case models.PoolClassCG:
			report.CGCount++
		}
	}
	if serr := scanner.Err(); serr != nil && fatal == nil {
		fatal = errors.Wrap(serr, "read csv")
	}
	report.TotalLines = line

	if fatal == nil {
		if cerr := tx.Commit(ctx); cerr != nil {
			fatal = cerr
		}
	}

	if fatal != nil {
		_ = tx.Rollback(ctx)
		report.Err = fatal
		if _, aerr := s.audit.WriteUploadLog(report); aerr != nil {
			s.log.Warn("upload log write failed", "error", aerr)
		}
		s.log.Error("csv upload aborted",
			"file", req.FileName,
			"user", req.UploadedBy,
			"error", fatal,
		)
		return nil, errors.Wrap(fatal, "process upload")
	}

	logFile, aerr := s.audit.WriteUploadLog(report)
	if aerr != nil {
		s.log.Warn("upload log write failed", "error", aerr)
	}

	summary := &Summary{
		TotalLines: report.TotalLines,
		EGInserted: report.EGCount,
		CGInserted: report.CGCount,
		Duplicates: report.Duplicates,
		Invalid:    report.Invalid,
		LogFile:    logFile,
	}
	s.log.Info("csv upload processed",
		"file", req.FileName,
		"user", req.UploadedBy,
		"total_lines", summary.TotalLines,
		"eg_inserted", summary.EGInserted,
		"cg_inserted", summary.CGInserted,
		"duplicates", summary.Duplicates,
		"invalid", summary.Invalid,
	)
	return summary, nil
}
