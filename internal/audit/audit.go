package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rjcommerce/trackpool/internal/models"
)

// Per-file audit trail kept alongside the structured service logs.
// Operators read these files verbatim, so the line formats are stable.
const (
	assignmentLogName   = "tracking_assignment.log"
	assignmentErrLog    = "tracking_assignment_errors.log"
	statusUpdateLogName = "tracking_status_updates.log"

	timestampLayout = "2006-01-02 15:04:05"
)

// Logger writes operator-facing audit files into a single directory.
type Logger struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create logs dir")
	}
	return &Logger{dir: dir, now: time.Now}, nil
}

// UploadLine is one accepted CSV row.
type UploadLine struct {
	Line       int
	TrackingID string
	Class      models.PoolClass
}

// UploadFailure is one rejected CSV row and why it was skipped.
type UploadFailure struct {
	Line       int
	TrackingID string
	Reason     string
}

// UploadReport is everything one CSV batch produced.
type UploadReport struct {
	FileName   string
	UploadedBy string
	TotalLines int
	Successes  []UploadLine
	Failures   []UploadFailure
	EGCount    int
	CGCount    int
	Duplicates int
	Invalid    int

	// Err is set when the batch aborted and rolled back mid-stream.
	Err error
}

// WriteUploadLog renders one batch report into its own timestamped file
// and returns the file name.
func (l *Logger) WriteUploadLog(r *UploadReport) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	name := "tracking_upload_" + now.Format("2006-01-02_15-04-05") + ".log"

	var b strings.Builder
	rule := "==========================================================\n"
	thin := "----------------------------------------------------------\n"

	b.WriteString(rule)
	b.WriteString("Tracking CSV Upload Log\n")
	b.WriteString(rule)
	fmt.Fprintf(&b, "Date: %s\n", now.Format(timestampLayout))
	fmt.Fprintf(&b, "File: %s\n", r.FileName)
	fmt.Fprintf(&b, "User: %s\n", r.UploadedBy)
	b.WriteString(rule)
	b.WriteString("\nPROCESSING RESULTS:\n")
	b.WriteString(thin)
	b.WriteString("\n")

	if r.Err != nil {
		fmt.Fprintf(&b, "\nERROR:\n")
		b.WriteString(thin)
		fmt.Fprintf(&b, "An error occurred during processing: %s\n", r.Err)
		b.WriteString("Processing was aborted and changes were rolled back.\n")
	} else {
		fmt.Fprintf(&b, "SUCCESSFUL UPLOADS (%d):\n", len(r.Successes))
		b.WriteString(thin)
		if len(r.Successes) == 0 {
			b.WriteString("No tracking numbers were successfully uploaded.\n")
		}
		for _, s := range r.Successes {
			fmt.Fprintf(&b, "Line %d: %s (%s) - Successfully added\n", s.Line, s.TrackingID, s.Class)
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "FAILED UPLOADS (%d):\n", len(r.Failures))
		b.WriteString(thin)
		if len(r.Failures) == 0 {
			b.WriteString("No tracking numbers failed to upload.\n")
		}
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "Line %d: %s - Failed: %s\n", f.Line, f.TrackingID, f.Reason)
		}
		b.WriteString("\n")

		b.WriteString("SUMMARY:\n")
		b.WriteString(thin)
		fmt.Fprintf(&b, "Total lines processed: %d\n", r.TotalLines)
		fmt.Fprintf(&b, "Successfully added EG tracking numbers: %d\n", r.EGCount)
		fmt.Fprintf(&b, "Successfully added CG tracking numbers: %d\n", r.CGCount)
		fmt.Fprintf(&b, "Total successfully added: %d\n", r.EGCount+r.CGCount)
		fmt.Fprintf(&b, "Duplicates skipped: %d\n", r.Duplicates)
		fmt.Fprintf(&b, "Invalid format skipped: %d\n", r.Invalid)
		fmt.Fprintf(&b, "Total skipped: %d\n", r.Duplicates+r.Invalid)
	}

	if err := os.WriteFile(filepath.Join(l.dir, name), []byte(b.String()), 0o644); err != nil {
		return "", errors.Wrap(err, "write upload log")
	}
	return name, nil
}

// Assignment records a successful tracking-number binding.
func (l *Logger) Assignment(orderID, trackingID string, class models.PoolClass, weightGrams *float64) error {
	weight := "unknown"
	if weightGrams != nil {
		weight = fmt.Sprintf("%gg", *weightGrams)
	}
	line := fmt.Sprintf("[%s] Order #%s assigned %s tracking number %s. Weight: %s\n",
		l.now().Format(timestampLayout), orderID, class, trackingID, weight)
	return l.appendLine(assignmentLogName, line)
}

// AssignmentError records a binding attempt that produced no number.
func (l *Logger) AssignmentError(orderID, reason string) error {
	line := fmt.Sprintf("[%s] Order #%s tracking assignment failed: %s\n",
		l.now().Format(timestampLayout), orderID, reason)
	return l.appendLine(assignmentErrLog, line)
}

// StatusUpdate records a pool-entry status change driven by the shop.
func (l *Logger) StatusUpdate(trackingID string, class models.PoolClass, status string) error {
	line := fmt.Sprintf("[%s] %s tracking number %s status updated to: %s\n",
		l.now().Format(timestampLayout), class, trackingID, status)
	return l.appendLine(statusUpdateLogName, line)
}

func (l *Logger) appendLine(name, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open audit log")
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return errors.Wrap(err, "append audit log")
	}
	return nil
}

// FileInfo describes one audit file for the log viewer.
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// List returns all audit files, newest first.
func (l *Logger) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read logs dir")
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:       e.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedAt.After(out[j].ModifiedAt) })
	return out, nil
}

var ErrUnknownLog = errors.New("unknown log file")

// Read returns one audit file by name. Names never carry path
// separators; anything else is rejected before touching the disk.
func (l *Logger) Read(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, ".log") {
		return nil, ErrUnknownLog
	}
	data, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUnknownLog
		}
		return nil, errors.Wrap(err, "read audit log")
	}
	return data, nil
}
