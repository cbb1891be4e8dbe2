package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
// ⭐ SSOT: 도메인 에러는 여기서만 정의, 호출측은 errors.Is로 판별
var (
	ErrValidation       = errors.New("weight validation failed")
	ErrIntegrity        = errors.New("checksum mismatch")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNotFound         = errors.New("not found")
	ErrActiveVersion    = errors.New("cannot delete active version")
	ErrLengthMismatch   = errors.New("length mismatch")
)

// IntegrityError reports a version whose stored checksum does not match
type IntegrityError struct {
	VersionID string
	Expected  string
	Actual    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("version %s: checksum mismatch (stored %s, computed %s)",
		e.VersionID, short(e.Expected), short(e.Actual))
}

// Is makes errors.Is(err, ErrIntegrity) match
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// ValidationError describes one violated weight constraint
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors joins a list into one error wrapping ErrValidation
func ValidationErrors(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}
