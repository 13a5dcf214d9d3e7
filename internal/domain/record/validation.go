package record

import (
	"fmt"
	"strings"

	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

const (
	maxProductNameLen = 200
	maxBatchCodeLen   = 64
	maxNotesLen       = 4000
)

// ValidateCreateInput validates fields required to create a record.
func ValidateCreateInput(req CreateRequest) error {
	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		return fmt.Errorf("%w: productName is required", ErrInvalidInput)
	}
	if len(name) > maxProductNameLen {
		return fmt.Errorf("%w: productName exceeds %d characters", ErrInvalidInput, maxProductNameLen)
	}
	if len(strings.TrimSpace(req.BatchCode)) > maxBatchCodeLen {
		return fmt.Errorf("%w: batchCode exceeds %d characters", ErrInvalidInput, maxBatchCodeLen)
	}
	if !req.SourceType.Valid() {
		return fmt.Errorf("%w: unknown sourceType %q", ErrInvalidInput, req.SourceType)
	}
	if !req.InitialStage.Valid() {
		return fmt.Errorf("%w: unknown initialStage %q", ErrInvalidInput, req.InitialStage)
	}
	if !stage.IsApplicable(req.SourceType, req.InitialStage) {
		return fmt.Errorf("%w: %s is not part of the %s catalog", ErrStageNotApplicable, req.InitialStage, req.SourceType)
	}
	return validateFileHashes(req.FileHashes)
}

// ValidateTransitionInput checks the request fields that do not depend on
// the stored record.
func ValidateTransitionInput(req TransitionRequest) error {
	if strings.TrimSpace(req.RecordID) == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}
	if !req.Stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, req.Stage)
	}
	if len(req.Notes) > maxNotesLen {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidInput, maxNotesLen)
	}
	return validateFileHashes(req.FileHashes)
}

// ValidateStatusChange validates a requested status change.
func ValidateStatusChange(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, to)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: record is %s", ErrNotTransitionable, from)
	}
	if to == StatusActive {
		return fmt.Errorf("%w: record is already ACTIVE", ErrInvalidStatus)
	}
	return nil
}

func validateFileHashes(hashes []string) error {
	for i, h := range hashes {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("%w: fileHashes[%d] is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// mergeHashes appends the entries of add missing from existing, keeping
// first-seen order.
func mergeHashes(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, h := range list {
			h = strings.TrimSpace(h)
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}
