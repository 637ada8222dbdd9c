package agent

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dyluth/taskboard/pkg/board"
)

// TaskRecord tracks one named unit of work owned by an agent.
type TaskRecord struct {
	Name            string        `json:"name"`
	OriginRequestID int64         `json:"origin_request_id"` // Request (or note) that created this task
	Subtype         board.Subtype `json:"subtype"`           // Subtype of the originating message
	ExecutionIDs    []int64       `json:"execution_ids"`     // Outstanding execution requests sent for this task
	DependencyIDs   []int64       `json:"dependency_ids"`    // Outstanding dependency requests and notes this task waits on
	DependentIDs    []int64       `json:"dependent_ids"`     // Notes from agents waiting on this task
}

// Ready reports whether the task has no outstanding obligations and must be dispatched.
func (t *TaskRecord) Ready() bool {
	return len(t.ExecutionIDs) == 0 && len(t.DependencyIDs) == 0
}

// TaskTable maps task names to records and remembers insertion order.
// The zero value is not usable; use NewTaskTable.
type TaskTable struct {
	order   []string
	records map[string]*TaskRecord
}

// NewTaskTable creates an empty table.
func NewTaskTable() *TaskTable {
	return &TaskTable{records: make(map[string]*TaskRecord)}
}

// Len returns the number of tasks.
func (t *TaskTable) Len() int {
	return len(t.order)
}

// Names returns the task names in insertion order.
func (t *TaskTable) Names() []string {
	return slices.Clone(t.order)
}

// Get returns the record for name.
func (t *TaskTable) Get(name string) (*TaskRecord, bool) {
	rec, ok := t.records[name]
	return rec, ok
}

// Add inserts rec at the end of the table. Returns false if a task with the
// same name already exists, in which case the table is unchanged.
func (t *TaskTable) Add(rec *TaskRecord) bool {
	if _, exists := t.records[rec.Name]; exists {
		return false
	}
	t.records[rec.Name] = rec
	t.order = append(t.order, rec.Name)
	return true
}

// Delete removes the task named name if present.
func (t *TaskTable) Delete(name string) {
	if _, ok := t.records[name]; !ok {
		return
	}
	delete(t.records, name)
	t.order = slices.DeleteFunc(t.order, func(n string) bool { return n == name })
}

// FindByExecutionID returns the task with id among its execution ids.
func (t *TaskTable) FindByExecutionID(id int64) *TaskRecord {
	return t.find(func(rec *TaskRecord) bool { return slices.Contains(rec.ExecutionIDs, id) })
}

// FindByDependencyID returns the task with id among its dependency ids.
func (t *TaskTable) FindByDependencyID(id int64) *TaskRecord {
	return t.find(func(rec *TaskRecord) bool { return slices.Contains(rec.DependencyIDs, id) })
}

// FindByOrigin returns the task created by the message with id.
func (t *TaskTable) FindByOrigin(id int64) *TaskRecord {
	return t.find(func(rec *TaskRecord) bool { return rec.OriginRequestID == id })
}

func (t *TaskTable) find(match func(*TaskRecord) bool) *TaskRecord {
	for _, name := range t.order {
		if rec := t.records[name]; match(rec) {
			return rec
		}
	}
	return nil
}

// MarshalJSON encodes the table as an ordered list of records.
func (t *TaskTable) MarshalJSON() ([]byte, error) {
	recs := make([]*TaskRecord, 0, len(t.order))
	for _, name := range t.order {
		recs = append(recs, t.records[name])
	}
	return json.Marshal(recs)
}

// UnmarshalJSON decodes an ordered list of records.
func (t *TaskTable) UnmarshalJSON(data []byte) error {
	var recs []*TaskRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return err
	}

	*t = TaskTable{records: make(map[string]*TaskRecord, len(recs))}
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		normalize(rec)
		if !t.Add(rec) {
			return fmt.Errorf("duplicate task %q in snapshot", rec.Name)
		}
	}
	return nil
}

// normalize replaces nil id slices with empty ones so snapshots compare equal
// after a round trip.
func normalize(rec *TaskRecord) {
	if rec.ExecutionIDs == nil {
		rec.ExecutionIDs = []int64{}
	}
	if rec.DependencyIDs == nil {
		rec.DependencyIDs = []int64{}
	}
	if rec.DependentIDs == nil {
		rec.DependentIDs = []int64{}
	}
}

func newTask(name string, origin int64, subtype board.Subtype) *TaskRecord {
	rec := &TaskRecord{Name: name, OriginRequestID: origin, Subtype: subtype}
	normalize(rec)
	return rec
}

func removeID(ids []int64, id int64) []int64 {
	return slices.DeleteFunc(ids, func(v int64) bool { return v == id })
}

func appendUnique(ids []int64, id int64) []int64 {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
