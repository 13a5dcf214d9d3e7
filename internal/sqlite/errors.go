package sqlite

import (
	"errors"
	"strings"

	"github.com/tracceaqua/tracceaqua/internal/repository"
)

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

// mapWriteErr translates constraint failures into repository errors.
func mapWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrConflict):
		return err
	case isUniqueViolation(err):
		return repository.ErrConflict
	case isForeignKeyViolation(err):
		return repository.ErrForeignKeyViolation
	case isCheckViolation(err):
		return repository.ErrInvalidInput
	}
	return err
}
