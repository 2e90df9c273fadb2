package repositories

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/taskstatus/internal/models"
)

// ErrNotFound is returned when no status record exists for an item uid
var ErrNotFound = errors.New("task status not found")

// TaskStatusRepository provides access to task status records
type TaskStatusRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewTaskStatusRepository creates a new task status repository. readOnlyDB
// may be nil, in which case reads go to db.
func NewTaskStatusRepository(db *gorm.DB, readOnlyDB *gorm.DB) *TaskStatusRepository {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	return &TaskStatusRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a status record by item uid
func (r *TaskStatusRepository) GetByID(ctx context.Context, uid string) (models.TaskStatus, error) {
	var status models.TaskStatus
	// Reads that feed a write go to the primary so they see the last upsert
	err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TaskStatus{}, errors.Wrapf(ErrNotFound, "uid %s", uid)
		}
		return models.TaskStatus{}, errors.Wrap(err, "failed to get task status by uid")
	}
	return status, nil
}

// Upsert inserts the record or replaces every column of the existing one
func (r *TaskStatusRepository) Upsert(ctx context.Context, status models.TaskStatus) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uid"}},
			UpdateAll: true,
		}).
		Create(&status).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert task status")
	}
	return nil
}

// Delete removes the record for uid. Deleting a missing record is not an error.
func (r *TaskStatusRepository) Delete(ctx context.Context, uid string) error {
	err := r.db.WithContext(ctx).
		Where("uid = ?", uid).
		Delete(&models.TaskStatus{}).Error
	if err != nil {
		return errors.Wrap(err, "failed to delete task status")
	}
	return nil
}

// CountCompleted counts the user's completed records
func (r *TaskStatusRepository) CountCompleted(ctx context.Context, userUID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TaskStatus{}).
		Where("user_uid = ? AND completed = ?", userUID, true).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count completed task statuses")
	}
	return count, nil
}

// CountUnfinishedPriority counts the user's priority records not yet completed
func (r *TaskStatusRepository) CountUnfinishedPriority(ctx context.Context, userUID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TaskStatus{}).
		Where("user_uid = ? AND priority = ? AND completed = ?", userUID, true, false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count priority task statuses")
	}
	return count, nil
}

// Find gets a status record for the read API
func (r *TaskStatusRepository) Find(ctx context.Context, uid string) (models.TaskStatus, error) {
	var status models.TaskStatus
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).Where("uid = ?", uid).First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TaskStatus{}, errors.Wrapf(ErrNotFound, "uid %s", uid)
		}
		return models.TaskStatus{}, errors.Wrap(err, "failed to find task status")
	}
	return status, nil
}

// Summary gets the aggregate counters for a user from the read-only database
func (r *TaskStatusRepository) Summary(ctx context.Context, userUID string) (priority int64, completed int64, err error) {
	row := struct {
		Priority  int64
		Completed int64
	}{}

	err = r.readOnlyDB.WithContext(ctx).
		Model(&models.TaskStatus{}).
		Select(
			"COALESCE(SUM(CASE WHEN priority AND NOT completed THEN 1 ELSE 0 END), 0) AS priority, "+
				"COALESCE(SUM(CASE WHEN completed THEN 1 ELSE 0 END), 0) AS completed",
		).
		Where("user_uid = ?", userUID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to summarize task statuses")
	}
	return row.Priority, row.Completed, nil
}
