package lifecycle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zulandar/shopfloor/internal/capacity"
	"github.com/zulandar/shopfloor/internal/events"
	"github.com/zulandar/shopfloor/internal/models"
	"github.com/zulandar/shopfloor/internal/timeclock"
	"github.com/zulandar/shopfloor/internal/workorder"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)

// fixture bundles a test database, an engine with a controllable clock,
// and the emitter whose queue the tests drain for event assertions.
type fixture struct {
	db      *gorm.DB
	engine  *Engine
	emitter *events.Emitter
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("test db pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.Job{},
		&models.Part{},
		&models.Operation{},
		&models.TimeEntry{},
		&models.Pause{},
		&models.Cell{},
		&models.EventRecord{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	f := &fixture{db: db, now: t0}
	clock := func() time.Time { return f.now }

	ledger := timeclock.NewLedger()
	ledger.Now = clock
	f.emitter = events.NewEmitter(db, 64)
	f.emitter.Now = clock
	f.engine = New(db, ledger, f.emitter)
	f.engine.Now = clock
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// drain empties the emitter queue and returns the events in emission order.
func (f *fixture) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-f.emitter.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (f *fixture) seedCell(t *testing.T, id string, limit int, threshold float64, enforce bool) {
	t.Helper()
	cell := models.Cell{
		ID:                  id,
		WipLimit:            limit,
		WipWarningThreshold: threshold,
		EnforceLimit:        enforce,
		Active:              true,
	}
	if err := f.db.Create(&cell).Error; err != nil {
		t.Fatalf("seed cell %s: %v", id, err)
	}
}

func (f *fixture) createJob(t *testing.T) *models.Job {
	t.Helper()
	job, err := workorder.CreateJob(f.db, workorder.JobOpts{Number: fmt.Sprintf("WO-%d", time.Now().UnixNano()), Title: "bracket run"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (f *fixture) addPart(t *testing.T, jobID, parentID string) *models.Part {
	t.Helper()
	part, err := workorder.AddPart(f.db, workorder.PartOpts{JobID: jobID, Name: "bracket", ParentID: parentID})
	if err != nil {
		t.Fatalf("add part: %v", err)
	}
	return part
}

func (f *fixture) addOp(t *testing.T, partID string, seq int, cell, nextCell string) *models.Operation {
	t.Helper()
	op, err := workorder.AddOperation(f.db, workorder.OperationOpts{
		PartID:          partID,
		Name:            fmt.Sprintf("step %d", seq),
		Sequence:        seq,
		CellID:          cell,
		RoutingNextCell: nextCell,
	})
	if err != nil {
		t.Fatalf("add op: %v", err)
	}
	return op
}

func (f *fixture) reloadOp(t *testing.T, id string) *models.Operation {
	t.Helper()
	var op models.Operation
	if err := f.db.Where("id = ?", id).First(&op).Error; err != nil {
		t.Fatalf("reload op %s: %v", id, err)
	}
	return &op
}

func (f *fixture) reloadPart(t *testing.T, id string) *models.Part {
	t.Helper()
	var part models.Part
	if err := f.db.Where("id = ?", id).First(&part).Error; err != nil {
		t.Fatalf("reload part %s: %v", id, err)
	}
	return &part
}

func (f *fixture) reloadJob(t *testing.T, id string) *models.Job {
	t.Helper()
	var job models.Job
	if err := f.db.Where("id = ?", id).First(&job).Error; err != nil {
		t.Fatalf("reload job %s: %v", id, err)
	}
	return &job
}

// --- StartOperation ---

func TestStartOperation_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.StartOperation("op-nope", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStartOperation_AdvancesOperationPartAndJob(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	started, err := f.engine.StartOperation(op.ID, "alice")
	if err != nil {
		t.Fatalf("StartOperation: %v", err)
	}
	if started.Status != models.StatusInProgress {
		t.Errorf("op status = %q, want in_progress", started.Status)
	}

	gotPart := f.reloadPart(t, part.ID)
	if gotPart.Status != models.StatusInProgress {
		t.Errorf("part status = %q, want in_progress", gotPart.Status)
	}
	if gotPart.CurrentCellID == nil || *gotPart.CurrentCellID != "machining" {
		t.Errorf("part current cell = %v, want machining", gotPart.CurrentCellID)
	}

	gotJob := f.reloadJob(t, job.ID)
	if gotJob.Status != models.StatusInProgress {
		t.Errorf("job status = %q, want in_progress", gotJob.Status)
	}
	if gotJob.StartedAt == nil {
		t.Error("job StartedAt should be set")
	}

	evs := f.drain()
	if len(evs) != 1 || evs[0].Type != events.OperationStarted {
		t.Fatalf("events = %+v, want one operation.started", evs)
	}
	if evs[0].Detail.OperatorID != "alice" {
		t.Errorf("event operator = %q, want alice", evs[0].Detail.OperatorID)
	}
}

func TestStartOperation_RejectsRunningAndCompleted(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	if _, err := f.engine.StartOperation(op.ID, "alice"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := f.engine.StartOperation(op.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("restart error = %v, want ErrInvalidTransition", err)
	}

	if _, err := f.engine.CompleteOperation(op.ID, Quantities{Good: 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.engine.StartOperation(op.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start-after-complete error = %v, want ErrInvalidTransition", err)
	}
}

func TestStartOperation_SecondOperationKeepsCurrentCell(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	f.seedCell(t, "inspection", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op1 := f.addOp(t, part.ID, 1, "machining", "")
	op2 := f.addOp(t, part.ID, 2, "inspection", "")

	f.engine.StartOperation(op1.ID, "alice")
	f.engine.StartOperation(op2.ID, "bob")

	gotPart := f.reloadPart(t, part.ID)
	if gotPart.CurrentCellID == nil || *gotPart.CurrentCellID != "machining" {
		t.Errorf("current cell = %v, want machining (first holder keeps it)", gotPart.CurrentCellID)
	}
}

// --- Pause / Resume ---

func TestPauseResume_Flow(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	f.engine.StartOperation(op.ID, "alice")

	f.advance(10 * time.Minute)
	if err := f.engine.PauseOperation(op.ID); err != nil {
		t.Fatalf("PauseOperation: %v", err)
	}
	if got := f.reloadOp(t, op.ID); got.Status != models.StatusPaused {
		t.Errorf("status = %q, want paused", got.Status)
	}
	var openPauses int64
	f.db.Model(&models.Pause{}).Where("resumed_at IS NULL").Count(&openPauses)
	if openPauses != 1 {
		t.Errorf("open pauses = %d, want 1", openPauses)
	}

	f.advance(5 * time.Minute)
	if err := f.engine.ResumeOperation(op.ID, "alice"); err != nil {
		t.Fatalf("ResumeOperation: %v", err)
	}
	if got := f.reloadOp(t, op.ID); got.Status != models.StatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
	f.db.Model(&models.Pause{}).Where("resumed_at IS NULL").Count(&openPauses)
	if openPauses != 0 {
		t.Errorf("open pauses after resume = %d, want 0", openPauses)
	}

	evs := f.drain()
	want := []string{events.OperationStarted, events.OperationPaused, events.OperationResumed}
	if len(evs) != len(want) {
		t.Fatalf("got %d events, want %d", len(evs), len(want))
	}
	for i, w := range want {
		if evs[i].Type != w {
			t.Errorf("event[%d] = %q, want %q", i, evs[i].Type, w)
		}
	}
}

func TestPauseOperation_RequiresInProgress(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	if err := f.engine.PauseOperation(op.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pause not_started error = %v, want ErrInvalidTransition", err)
	}
}

func TestResumeOperation_RequiresPaused(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	f.engine.StartOperation(op.ID, "alice")
	if err := f.engine.ResumeOperation(op.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resume in_progress error = %v, want ErrInvalidTransition", err)
	}
}

func TestResumeOperation_ReopensEntryAfterForceClose(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	f.seedCell(t, "inspection", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op1 := f.addOp(t, part.ID, 1, "machining", "")
	op2 := f.addOp(t, part.ID, 2, "inspection", "")

	f.engine.StartOperation(op1.ID, "alice")
	f.engine.PauseOperation(op1.ID)

	// Alice moves to another operation; her open entry on op1 is
	// force-closed, but op1 stays paused.
	f.engine.StartOperation(op2.ID, "alice")
	if got := f.reloadOp(t, op1.ID); got.Status != models.StatusPaused {
		t.Fatalf("op1 status after force-close = %q, want paused", got.Status)
	}

	// Bob resumes op1: a fresh entry opens for him.
	if err := f.engine.ResumeOperation(op1.ID, "bob"); err != nil {
		t.Fatalf("ResumeOperation: %v", err)
	}
	entry, err := timeclock.OpenEntryForOperation(f.db, op1.ID)
	if err != nil || entry == nil {
		t.Fatalf("open entry for op1 = %v, %v", entry, err)
	}
	if entry.OperatorID != "bob" {
		t.Errorf("entry operator = %q, want bob", entry.OperatorID)
	}
}

// --- CompleteOperation ---

func TestCompleteOperation_RecordsDurationAndQuantities(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	f.engine.StartOperation(op.ID, "alice")
	f.advance(30 * time.Minute)

	result, err := f.engine.CompleteOperation(op.ID, Quantities{Good: 12, Scrap: 1, ScrapReason: "porosity"})
	if err != nil {
		t.Fatalf("CompleteOperation: %v", err)
	}
	if result.AlreadyCompleted {
		t.Error("AlreadyCompleted should be false on first completion")
	}
	if result.ActualSeconds != 1800 {
		t.Errorf("ActualSeconds = %d, want 1800", result.ActualSeconds)
	}
	if result.Capacity != nil {
		t.Errorf("Capacity = %+v, want nil for terminal stage", result.Capacity)
	}

	got := f.reloadOp(t, op.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.ActualSeconds != 1800 {
		t.Errorf("actual seconds = %d, want 1800", got.ActualSeconds)
	}
	if got.QuantityGood != 12 || got.QuantityScrap != 1 {
		t.Errorf("quantities = %d/%d, want 12/1", got.QuantityGood, got.QuantityScrap)
	}

	gotPart := f.reloadPart(t, part.ID)
	if gotPart.CurrentCellID != nil {
		t.Errorf("current cell = %v, want nil after completion", gotPart.CurrentCellID)
	}
}

func TestCompleteOperation_FromPausedResolvesTrailingPause(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	f.engine.StartOperation(op.ID, "alice")
	f.advance(20 * time.Minute)
	f.engine.PauseOperation(op.ID)
	f.advance(40 * time.Minute)

	result, err := f.engine.CompleteOperation(op.ID, Quantities{Good: 1})
	if err != nil {
		t.Fatalf("CompleteOperation from paused: %v", err)
	}
	// 60 minutes elapsed, 40 of them in the trailing pause.
	if result.ActualSeconds != 1200 {
		t.Errorf("ActualSeconds = %d, want 1200", result.ActualSeconds)
	}

	var openPauses int64
	f.db.Model(&models.Pause{}).Where("resumed_at IS NULL").Count(&openPauses)
	if openPauses != 0 {
		t.Errorf("open pauses = %d, want 0", openPauses)
	}
	var openEntries int64
	f.db.Model(&models.TimeEntry{}).Where("end_time IS NULL").Count(&openEntries)
	if openEntries != 0 {
		t.Errorf("open entries = %d, want 0", openEntries)
	}
}

func TestCompleteOperation_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	f.engine.StartOperation(op.ID, "alice")
	f.advance(10 * time.Minute)

	first, err := f.engine.CompleteOperation(op.ID, Quantities{Good: 5})
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	version := first.Operation.Version

	second, err := f.engine.CompleteOperation(op.ID, Quantities{Good: 99})
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if !second.AlreadyCompleted {
		t.Error("second completion should report AlreadyCompleted")
	}

	got := f.reloadOp(t, op.ID)
	if got.QuantityGood != 5 {
		t.Errorf("quantities overwritten by no-op completion: good = %d, want 5", got.QuantityGood)
	}
	if got.Version != version {
		t.Errorf("version = %d, want %d (no second mutation)", got.Version, version)
	}

	var completedEvents int64
	f.db.Model(&models.EventRecord{}).Where("type = ?", events.OperationCompleted).Count(&completedEvents)
	if completedEvents != 1 {
		t.Errorf("operation.completed events = %d, want 1", completedEvents)
	}
}

func TestCompleteOperation_RequiresStarted(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	if _, err := f.engine.CompleteOperation(op.ID, Quantities{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete not_started error = %v, want ErrInvalidTransition", err)
	}
}

func TestCompleteOperation_BlockedByNextCell(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	f.seedCell(t, "inspection", 5, 0.8, true)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "inspection")

	// Saturate the next cell.
	for i := 0; i < 5; i++ {
		f.db.Create(&models.Operation{
			ID: fmt.Sprintf("op-busy%d", i), PartID: part.ID, Sequence: 10 + i,
			Name: "busy", CellID: "inspection", Status: models.StatusInProgress,
		})
	}

	f.engine.StartOperation(op.ID, "alice")
	f.drain()

	_, err := f.engine.CompleteOperation(op.ID, Quantities{Good: 1})
	var blocked *CapacityBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error = %v, want CapacityBlockedError", err)
	}
	if blocked.CellID != "inspection" || blocked.WIP != 5 || blocked.Limit != 5 {
		t.Errorf("blocked = %+v, want inspection 5/5", blocked)
	}

	// No state mutation: still in progress, entry still open, no event.
	if got := f.reloadOp(t, op.ID); got.Status != models.StatusInProgress {
		t.Errorf("status after block = %q, want in_progress", got.Status)
	}
	entry, _ := timeclock.OpenEntryForOperation(f.db, op.ID)
	if entry == nil {
		t.Error("time entry should remain open after a blocked completion")
	}
	if evs := f.drain(); len(evs) != 0 {
		t.Errorf("events emitted on blocked completion: %+v", evs)
	}
}

func TestCompleteOperation_WarningProceedsWithMetadata(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	f.seedCell(t, "inspection", 10, 0.8, true)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "inspection")

	for i := 0; i < 8; i++ {
		f.db.Create(&models.Operation{
			ID: fmt.Sprintf("op-busy%d", i), PartID: part.ID, Sequence: 10 + i,
			Name: "busy", CellID: "inspection", Status: models.StatusInProgress,
		})
	}

	f.engine.StartOperation(op.ID, "alice")
	result, err := f.engine.CompleteOperation(op.ID, Quantities{Good: 1})
	if err != nil {
		t.Fatalf("CompleteOperation: %v", err)
	}
	if result.Capacity == nil || result.Capacity.Decision != capacity.Warning {
		t.Errorf("capacity = %+v, want warning decision", result.Capacity)
	}
	if got := f.reloadOp(t, op.ID); got.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed despite warning", got.Status)
	}
}

func TestCompleteOperation_RepointsCurrentCell(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	f.seedCell(t, "inspection", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op1 := f.addOp(t, part.ID, 1, "machining", "")
	op2 := f.addOp(t, part.ID, 2, "inspection", "")

	f.engine.StartOperation(op1.ID, "alice")
	f.engine.StartOperation(op2.ID, "bob")

	// op2 keeps running; the part's cell follows it once op1 is done.
	if _, err := f.engine.CompleteOperation(op1.ID, Quantities{Good: 1}); err != nil {
		t.Fatalf("complete op1: %v", err)
	}
	gotPart := f.reloadPart(t, part.ID)
	if gotPart.CurrentCellID == nil || *gotPart.CurrentCellID != "inspection" {
		t.Errorf("current cell = %v, want inspection (the running sibling)", gotPart.CurrentCellID)
	}

	if _, err := f.engine.CompleteOperation(op2.ID, Quantities{Good: 1}); err != nil {
		t.Fatalf("complete op2: %v", err)
	}
	gotPart = f.reloadPart(t, part.ID)
	if gotPart.CurrentCellID != nil {
		t.Errorf("current cell = %v, want nil with no work running", gotPart.CurrentCellID)
	}
}

// --- Job hold / resume ---

func TestHoldAndResumeJob(t *testing.T) {
	f := newFixture(t)
	f.seedCell(t, "machining", 10, 0.8, false)
	job := f.createJob(t)
	part := f.addPart(t, job.ID, "")
	op := f.addOp(t, part.ID, 1, "machining", "")

	f.engine.StartOperation(op.ID, "alice")

	if err := f.engine.HoldJob(job.ID); err != nil {
		t.Fatalf("HoldJob: %v", err)
	}
	gotJob := f.reloadJob(t, job.ID)
	if gotJob.Status != models.StatusOnHold {
		t.Errorf("job status = %q, want on_hold", gotJob.Status)
	}
	if gotJob.HeldAt == nil {
		t.Error("HeldAt should be set")
	}
	// Holding a job does not touch operation timers.
	entry, _ := timeclock.OpenEntryForOperation(f.db, op.ID)
	if entry == nil {
		t.Error("operation timer should stay open across a job hold")
	}

	if err := f.engine.HoldJob(job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double hold error = %v, want ErrInvalidTransition", err)
	}

	if err := f.engine.ResumeJob(job.ID); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	gotJob = f.reloadJob(t, job.ID)
	if gotJob.Status != models.StatusInProgress {
		t.Errorf("resumed job status = %q, want in_progress (work had started)", gotJob.Status)
	}
}

func TestResumeJob_UntouchedJobReturnsToNotStarted(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)

	if err := f.engine.HoldJob(job.ID); err != nil {
		t.Fatalf("HoldJob: %v", err)
	}
	if err := f.engine.ResumeJob(job.ID); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if got := f.reloadJob(t, job.ID); got.Status != models.StatusNotStarted {
		t.Errorf("job status = %q, want not_started", got.Status)
	}
}
