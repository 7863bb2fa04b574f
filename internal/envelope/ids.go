package envelope

import "github.com/google/uuid"

// NewCommandID mints a fresh command id. Every dispatch attempt gets
// one, including re-publishes on retry which reuse the original
// instead of calling this again.
func NewCommandID() string { return uuid.NewString() }

// NewCorrelationID mints a fresh correlation id for callers that do not
// supply their own stable one.
func NewCorrelationID() string { return uuid.NewString() }
