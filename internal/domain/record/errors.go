package record

import "errors"

var (
	// ErrRecordNotFound indicates the record doesn't exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrNotTransitionable indicates the record is missing or in a terminal status.
	ErrNotTransitionable = errors.New("record not transitionable")
	// ErrStageNotApplicable indicates the stage is not part of the record's source type catalog.
	ErrStageNotApplicable = errors.New("stage not applicable to source type")
	// ErrStageOutOfOrder indicates the target stage does not come after the current stage.
	ErrStageOutOfOrder = errors.New("stage out of catalog order")
	// ErrUnauthorized indicates the actor may not perform the operation.
	ErrUnauthorized = errors.New("actor not authorized for record")
	// ErrConflict indicates concurrent writers kept winning the version race.
	ErrConflict = errors.New("record modified concurrently")
	// ErrDuplicateBatch indicates the batch code is already registered.
	ErrDuplicateBatch = errors.New("batch code already exists")
	// ErrInvalidStatus indicates a status change that is not allowed.
	ErrInvalidStatus = errors.New("invalid status change")
	// ErrInvalidInput indicates invalid input for record operations.
	ErrInvalidInput = errors.New("invalid record input")
)
