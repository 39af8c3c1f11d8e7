package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// timestamps on the wire are ISO-8601
const TimeFormat = time.RFC3339

// User is the entity managed by the backend. Ids are server-assigned and
// unique. Users are mutated only by replacement, never by partial patch.
type User struct {
	Id    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateUserArgs is the create payload. The id is assigned by the server.
type CreateUserArgs struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ApiError is the single normalized error shape surfaced to callers.
// Transport-level failures that never obtained a real http status carry a
// synthetic 500.
type ApiError struct {
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
}

func NewApiError(status int, message string) *ApiError {
	return &ApiError{
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC().Format(TimeFormat),
	}
}

func (self *ApiError) Error() string {
	return fmt.Sprintf("api error (%d): %s", self.Status, self.Message)
}

// NormalizeError maps any failure into an `*ApiError`.
func NormalizeError(err error) *ApiError {
	if err == nil {
		return nil
	}
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewApiError(500, err.Error())
}

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}
