package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Options struct {
	Format  Format
	Charset Charset
	// IgnoreInvalidRows saves the valid rows when some rows fail validation
	// instead of failing the whole run.
	IgnoreInvalidRows bool
	// DryRun parses and validates the input without touching the database.
	DryRun bool
}

// Loader runs the CSV load pipeline for one object type: parse, convert,
// validate, persist, report.
type Loader[K Loadable] struct {
	db     *gorm.DB
	mapper Mapper[K]
	opts   Options
}

func New[K Loadable](db *gorm.DB, mapper Mapper[K], opts Options) *Loader[K] {
	return &Loader[K]{db: db, mapper: mapper, opts: opts}
}

// RunResult aggregates the outcome of one load run. It only lives long enough
// to be rendered into the textual report.
type RunResult struct {
	RunAt          time.Time
	Failed         bool
	FailureMessage string
	RowsParsed     int
	InvalidRows    map[int64]string
	BeforeSave     *HookReport
	AfterSave      *HookReport
	NewlyCreated   []CreatedObject
	ObjectName     string
	DryRun         bool
	DryRunRows     []string
}

// PerformLoad executes the whole pipeline against the given CSV stream. The
// pipeline never returns an error: every failure is captured in the result
// and reported.
func (l *Loader[K]) PerformLoad(ctx context.Context, input io.Reader) *RunResult {
	result := &RunResult{
		RunAt:      time.Now(),
		ObjectName: l.mapper.LoadedObjectName(),
		DryRun:     l.opts.DryRun,
	}
	defer l.mapper.Close()

	batch, err := l.parse(ctx, input)
	if err != nil {
		result.Failed = true
		result.FailureMessage = "Error during the file parsing :\n" + err.Error()
		slog.Error("error while parsing the input file", "object", result.ObjectName, "error", err)
		return result
	}
	result.RowsParsed = len(batch)

	invalid, err := l.mapper.Validate(ctx, batch)
	if err != nil {
		result.Failed = true
		result.FailureMessage = "Error during the file parsing :\n" + err.Error()
		slog.Error("error while validating the input file", "object", result.ObjectName, "error", err)
		return result
	}
	result.InvalidRows = invalid
	if !l.opts.IgnoreInvalidRows && len(invalid) > 0 {
		result.Failed = true
		return result
	}

	valid := batch[:0:0]
	for _, obj := range batch {
		if _, bad := invalid[obj.SourceRowNumber()]; !bad {
			valid = append(valid, obj)
		}
	}

	if l.opts.DryRun {
		for _, obj := range valid {
			result.DryRunRows = append(result.DryRunRows, obj.String())
		}
		return result
	}

	if err := l.save(ctx, valid, result); err != nil {
		result.Failed = true
		result.FailureMessage = "Error during the database uploading :\n" + err.Error()
		result.BeforeSave = nil
		result.AfterSave = nil
		result.NewlyCreated = nil
		slog.Error("error during the database uploading", "object", result.ObjectName, "error", err)
	}

	return result
}

// parse converts every input record into a loadable object, dropping the rows
// the mapper asks to ignore. Any conversion error aborts the run.
func (l *Loader[K]) parse(ctx context.Context, input io.Reader) ([]K, error) {
	if err := l.mapper.Init(ctx); err != nil {
		return nil, err
	}

	records, err := readRecords(input, l.opts.Format, l.opts.Charset)
	if err != nil {
		return nil, err
	}

	var batch []K
	for _, record := range records {
		obj := l.mapper.CreateEmpty()
		obj.SetSourceRowNumber(record.Number)
		ignore, err := l.mapper.Convert(record, obj)
		if err != nil {
			return nil, fmt.Errorf("error while converting the csv row %d: %w", record.Number, err)
		}
		if !ignore {
			batch = append(batch, obj)
		}
	}
	return batch, nil
}

// save persists the valid objects in a single transaction, running the before
// and after save hooks inside it. Any error rolls back the whole batch.
func (l *Loader[K]) save(ctx context.Context, valid []K, result *RunResult) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		report, err := l.mapper.BeforeSave(ctx, tx, valid)
		if err != nil {
			return err
		}
		result.BeforeSave = report

		for _, obj := range valid {
			created, err := obj.UpdateOrCreate(ctx, tx)
			if err != nil {
				return fmt.Errorf("failed to save the object from row %d: %w", obj.SourceRowNumber(), err)
			}
			if created != nil {
				result.NewlyCreated = append(result.NewlyCreated, *created)
			}
		}

		report, err = l.mapper.AfterSave(ctx, tx, valid)
		if err != nil {
			return err
		}
		result.AfterSave = report
		return nil
	})
}

// Text renders the run result into the textual load report.
func (r *RunResult) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, ">>> Run at : %s\n", r.RunAt.Format(time.RFC1123))
	if r.Failed {
		b.WriteString(">>> Load report : FAILED\n")
	} else {
		b.WriteString(">>> Load report : SUCCESS\n")
	}
	fmt.Fprintf(&b, ">>> Number of rows parsed : %d\n", r.RowsParsed)

	if r.Failed && r.FailureMessage != "" {
		fmt.Fprintf(&b, ">>> Error message : %s\n", r.FailureMessage)
	}

	if len(r.InvalidRows) > 0 {
		fmt.Fprintf(&b, ">>> Invalid rows :%d\n\n", len(r.InvalidRows))
		rows := make([]int64, 0, len(r.InvalidRows))
		for row := range r.InvalidRows {
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })
		for _, row := range rows {
			fmt.Fprintf(&b, "Row [%d] = %s\n", row, r.InvalidRows[row])
		}
	}

	if !r.Failed {
		if r.BeforeSave != nil && len(r.BeforeSave.Messages) > 0 {
			fmt.Fprintf(&b, "\n\n>>> Reporting %s :\n", r.BeforeSave.Title)
			for _, message := range r.BeforeSave.Messages {
				b.WriteString(message)
				b.WriteByte('\n')
			}
		}
		if len(r.NewlyCreated) > 0 {
			fmt.Fprintf(&b, "\n\n>>> Newly created %s:\n", r.ObjectName)
			for _, created := range r.NewlyCreated {
				fmt.Fprintf(&b, "New %s refId=%s created with id=%s\n", r.ObjectName, created.RefId, created.Id)
			}
		}
		if r.AfterSave != nil && len(r.AfterSave.Messages) > 0 {
			fmt.Fprintf(&b, "\n\n>>> Reporting %s :\n", r.AfterSave.Title)
			for _, message := range r.AfterSave.Messages {
				b.WriteString(message)
				b.WriteByte('\n')
			}
		}
	}

	if r.DryRun {
		b.WriteString("\n\n>>> TEST MODE ACTIVATED\nThe following rows would have been saved into the database\n\n")
		for _, row := range r.DryRunRows {
			b.WriteString(row)
			b.WriteByte('\n')
		}
	}

	return b.String()
}
