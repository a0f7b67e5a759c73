package loader

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"portal-backend/internal/mailer"
	"portal-backend/internal/scheduler"
	"portal-backend/internal/storage"

	"gorm.io/gorm"
)

// MinFrequencyMinutes is the smallest accepted scheduling frequency.
const MinFrequencyMinutes = 5

const (
	startedMessage = "Object load started"
	busyMessage    = "A file is being processed, please wait for the completion of the current load"
)

var (
	startTimePattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3])h[0-5][0-9]$`)
	// clauseFieldPattern extracts the field names referenced by a
	// deactivation where clause, e.g. `uid = 'x' and (email like 'y%')`.
	clauseFieldPattern = regexp.MustCompile(`\s?\(?(\S*)\s?(=|like)\s*'`)
)

type RunnerConfig struct {
	Name               string `env:"LOADER_NAME" envDefault:"object-loader"`
	Bucket             string `env:"LOADER_BUCKET" envDefault:"portal"`
	InputPath          string `env:"LOADER_INPUT_PATH"`
	ReportPath         string `env:"LOADER_REPORT_PATH"`
	ReportEmail        string `env:"LOADER_REPORT_EMAIL"`
	Format             string `env:"LOADER_CSV_FORMAT" envDefault:"EXCEL"`
	Charset            string `env:"LOADER_CHARSET" envDefault:"UTF-8"`
	IgnoreInvalidRows  bool   `env:"LOADER_IGNORE_INVALID_ROWS" envDefault:"false"`
	TestMode           bool   `env:"LOADER_TEST_MODE" envDefault:"false"`
	AutomaticLoad      bool   `env:"LOADER_AUTOMATIC_LOAD" envDefault:"false"`
	FrequencyMinutes   int    `env:"LOADER_FREQUENCY_MINUTES" envDefault:"60"`
	StartTime          string `env:"LOADER_START_TIME" envDefault:"02h00"`
	DeactivateNotFound bool   `env:"LOADER_DEACTIVATE_NOT_FOUND" envDefault:"false"`
	DeactivationClause string `env:"LOADER_DEACTIVATION_CLAUSE"`
}

// Runner owns the lifecycle of one configured object load: the scheduled and
// manual triggers, the single-load-at-a-time guarantee and the report
// delivery. Loads run mutually exclusively, a trigger received while a load
// is in progress is refused.
type Runner[K Loadable] struct {
	cfg    RunnerConfig
	loader *Loader[K]
	store  storage.Provider
	sender mailer.Sender
	sched  *scheduler.Scheduler

	mu      sync.Mutex
	loading bool
	handle  *scheduler.Handle
}

// NewRunner validates the configuration and builds the runner. allowedFields
// whitelists the fields a deactivation clause may reference, a clause naming
// any other field is refused at startup.
func NewRunner[K Loadable](db *gorm.DB, mapper Mapper[K], cfg RunnerConfig, store storage.Provider,
	sender mailer.Sender, sched *scheduler.Scheduler, allowedFields []string) (*Runner[K], error) {

	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	charset, err := ParseCharset(cfg.Charset)
	if err != nil {
		return nil, err
	}

	if cfg.AutomaticLoad {
		if !startTimePattern.MatchString(cfg.StartTime) {
			return nil, fmt.Errorf("invalid time format %q for the load start time", cfg.StartTime)
		}
		if cfg.FrequencyMinutes < MinFrequencyMinutes {
			return nil, fmt.Errorf("invalid load frequency %d, must be at least %d minutes", cfg.FrequencyMinutes, MinFrequencyMinutes)
		}
	}

	if cfg.DeactivationClause != "" {
		for _, match := range clauseFieldPattern.FindAllStringSubmatch(cfg.DeactivationClause, -1) {
			field := match[1]
			allowed := false
			for _, name := range allowedFields {
				if name == field {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, fmt.Errorf("field %q not allowed in the deactivation clause, please use only %v", field, allowedFields)
			}
		}
	}

	opts := Options{
		Format:            format,
		Charset:           charset,
		IgnoreInvalidRows: cfg.IgnoreInvalidRows,
		DryRun:            cfg.TestMode,
	}
	return &Runner[K]{
		cfg:    cfg,
		loader: New(db, mapper, opts),
		store:  store,
		sender: sender,
		sched:  sched,
	}, nil
}

// Start programs the recurring load when automatic scheduling is enabled. The
// first run happens at the configured start time, then every configured
// frequency.
func (r *Runner[K]) Start() {
	if !r.cfg.AutomaticLoad {
		slog.Info("object loader started", "loader", r.cfg.Name)
		return
	}

	delay := durationUntilStartTime(r.cfg.StartTime, time.Now())
	interval := time.Duration(r.cfg.FrequencyMinutes) * time.Minute
	r.handle = r.sched.ScheduleRecurring(true, r.cfg.Name, delay, interval, r.runScheduled)
	slog.Info("object loader started, scheduler programmed",
		"loader", r.cfg.Name, "first_run_in_minutes", int(delay.Minutes()), "frequency_minutes", r.cfg.FrequencyMinutes)
}

func (r *Runner[K]) Stop() {
	if r.handle != nil {
		r.handle.Cancel()
		slog.Info("object loader scheduler stopped", "loader", r.cfg.Name)
	}
}

// Loading reports whether a load run is currently in progress.
func (r *Runner[K]) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

func (r *Runner[K]) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loading {
		return false
	}
	r.loading = true
	return true
}

func (r *Runner[K]) end() {
	r.mu.Lock()
	r.loading = false
	r.mu.Unlock()
}

// TriggerLoad starts a load in the background and immediately returns a
// status message for the caller. A trigger received while a load is running
// is refused, not queued.
func (r *Runner[K]) TriggerLoad() string {
	if !r.begin() {
		return busyMessage
	}

	go func() {
		defer r.end()
		if err := r.load(context.Background()); err != nil {
			slog.Error("object load failed", "loader", r.cfg.Name, "error", err)
			return
		}
		slog.Info("object load completed", "loader", r.cfg.Name)
	}()

	return startedMessage
}

func (r *Runner[K]) runScheduled() {
	if !r.begin() {
		slog.Warn("the scheduled load was blocked because another load was already running, "+
			"if you need it to be executed please proceed via the manual trigger", "loader", r.cfg.Name)
		return
	}
	defer r.end()

	if err := r.load(context.Background()); err != nil {
		slog.Error("scheduled object load failed", "loader", r.cfg.Name, "error", err)
		return
	}
	slog.Info("scheduled object load completed", "loader", r.cfg.Name)
}

// load runs the pipeline against the configured input file and delivers the
// report.
func (r *Runner[K]) load(ctx context.Context) error {
	input, err := r.store.GetObjectStream(ctx, r.cfg.Bucket, r.cfg.InputPath)
	if err != nil {
		return fmt.Errorf("failed to open the input file %s: %w", r.cfg.InputPath, err)
	}
	defer input.Close()

	result := r.loader.PerformLoad(ctx, input)
	return r.deliverReport(ctx, result.Text())
}

// deliverReport writes the report to shared storage and emails it, when a
// report path or address is configured.
func (r *Runner[K]) deliverReport(ctx context.Context, report string) error {
	if r.cfg.ReportPath != "" {
		path := r.cfg.ReportPath
		if strings.Contains(path, "%s") {
			path = fmt.Sprintf(path, time.Now().Format("20060102-150405"))
		}
		if err := r.store.PutObject(ctx, r.cfg.Bucket, path, strings.NewReader(report)); err != nil {
			return fmt.Errorf("error while writing the load report: %w", err)
		}
	}

	if r.cfg.ReportEmail != "" {
		subject := r.cfg.Name + " report"
		body := "<pre>" + report + "</pre>"
		if err := r.sender.Send(subject, "", body, r.cfg.ReportEmail); err != nil {
			return fmt.Errorf("error while sending the load report: %w", err)
		}
	}

	return nil
}

// durationUntilStartTime returns the delay until the next occurrence of the
// daily HH'h'MM start time. The result is always in [0, 24h).
func durationUntilStartTime(startTime string, now time.Time) time.Duration {
	parts := strings.SplitN(startTime, "h", 2)
	hour, _ := strconv.Atoi(parts[0])
	minute, _ := strconv.Atoi(parts[1])

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if next.Before(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
