// Package taskstore is the authoritative store for Task entities: CRUD,
// filtered listing and the completion toggle, all scoped to a single owner.
package taskstore

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskflow/server/internal/db"
	"taskflow/server/internal/validate"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type StatusFilter string

const (
	FilterAll StatusFilter = "all"
	// FilterActive selects pending tasks; "active" is the listing vocabulary,
	// "pending" the stored status.
	FilterActive    StatusFilter = "active"
	FilterCompleted StatusFilter = "completed"
)

type Task struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Title       string
	Description string
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   *time.Time
}

var nowFunc = time.Now

type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) (*Store, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: gdb}, nil
}

// Create validates title and description, then persists a new pending task.
// Validation failures come back as *validate.FieldError.
func (s *Store) Create(ownerID uuid.UUID, title, description string) (Task, error) {
	cleanTitle, ferr := validate.Title(title)
	if ferr != nil {
		return Task{}, ferr
	}
	cleanDescription, ferr := validate.Description(description)
	if ferr != nil {
		return Task{}, ferr
	}
	row := db.Task{
		TaskID:      uuid.NewString(),
		OwnerID:     ownerID.String(),
		Title:       cleanTitle,
		Description: cleanDescription,
		Status:      string(StatusPending),
		CreatedAt:   nowFunc().UTC().UnixMilli(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return Task{}, err
	}
	return taskFromRow(row)
}

// List returns the owner's tasks filtered by status, newest first. Ties on
// created_at are broken by task_id so the order is deterministic.
func (s *Store) List(ownerID uuid.UUID, filter StatusFilter) ([]Task, error) {
	query := s.db.Where("owner_id = ?", ownerID.String())
	switch filter {
	case FilterActive:
		query = query.Where("status = ?", string(StatusPending))
	case FilterCompleted:
		query = query.Where("status = ?", string(StatusCompleted))
	case FilterAll, "":
	default:
		return nil, errors.New("unknown status filter: " + string(filter))
	}
	rows := make([]db.Task, 0, 16)
	if err := query.Order("created_at DESC, task_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		task, err := taskFromRow(row)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Get reports ok=false for a missing task and for a task owned by someone
// else; the two cases are indistinguishable to the caller.
func (s *Store) Get(ownerID, taskID uuid.UUID) (Task, bool, error) {
	row, ok, err := s.findOwned(ownerID, taskID)
	if err != nil || !ok {
		return Task{}, false, err
	}
	task, err := taskFromRow(row)
	if err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}

// UpdateText replaces title and description after re-validating both, and
// stamps updated_at.
func (s *Store) UpdateText(ownerID, taskID uuid.UUID, title, description string) (Task, bool, error) {
	cleanTitle, ferr := validate.Title(title)
	if ferr != nil {
		return Task{}, false, ferr
	}
	cleanDescription, ferr := validate.Description(description)
	if ferr != nil {
		return Task{}, false, ferr
	}
	row, ok, err := s.findOwned(ownerID, taskID)
	if err != nil || !ok {
		return Task{}, false, err
	}
	row.Title = cleanTitle
	row.Description = cleanDescription
	row.UpdatedAt = nowFunc().UTC().UnixMilli()
	if err := s.db.Save(&row).Error; err != nil {
		return Task{}, false, err
	}
	task, err := taskFromRow(row)
	if err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}

// ToggleCompletion flips pending<->completed. Completing stamps completed_at;
// reverting clears it. Both directions stamp updated_at. Two toggles restore
// the original status and completed_at.
func (s *Store) ToggleCompletion(ownerID, taskID uuid.UUID) (Task, bool, error) {
	row, ok, err := s.findOwned(ownerID, taskID)
	if err != nil || !ok {
		return Task{}, false, err
	}
	now := nowFunc().UTC().UnixMilli()
	if row.Status == string(StatusPending) {
		row.Status = string(StatusCompleted)
		row.CompletedAt = now
	} else {
		row.Status = string(StatusPending)
		row.CompletedAt = 0
	}
	row.UpdatedAt = now
	if err := s.db.Save(&row).Error; err != nil {
		return Task{}, false, err
	}
	task, err := taskFromRow(row)
	if err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}

// Delete removes the task and reports whether a row was actually deleted.
// Repeated deletes return false without error.
func (s *Store) Delete(ownerID, taskID uuid.UUID) (bool, error) {
	res := s.db.Where("task_id = ? AND owner_id = ?", taskID.String(), ownerID.String()).Delete(&db.Task{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) findOwned(ownerID, taskID uuid.UUID) (db.Task, bool, error) {
	var row db.Task
	err := s.db.Where("task_id = ? AND owner_id = ?", taskID.String(), ownerID.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Task{}, false, nil
	}
	if err != nil {
		return db.Task{}, false, err
	}
	return row, true, nil
}

func taskFromRow(row db.Task) (Task, error) {
	id, err := uuid.Parse(row.TaskID)
	if err != nil {
		return Task{}, err
	}
	owner, err := uuid.Parse(row.OwnerID)
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:          id,
		OwnerID:     owner,
		Title:       row.Title,
		Description: row.Description,
		Status:      Status(row.Status),
		CreatedAt:   time.UnixMilli(row.CreatedAt).UTC(),
		CompletedAt: optionalTime(row.CompletedAt),
		UpdatedAt:   optionalTime(row.UpdatedAt),
	}, nil
}

func optionalTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
