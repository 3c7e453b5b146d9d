package experience

import (
	"encoding/json"
	"fmt"
	"time"
)

// LockStatus is an app-controlled gate on scheduler rotation. On the wire it
// is false (unlocked), true (closed), or an integer n >= 1 meaning "accept up
// to n concurrent clients". The integer form is advisory: the router exposes
// it but does not police connection counts.
type LockStatus struct {
	Closed bool
	Limit  int
}

// Truthy reports whether the lock should hold the scheduler.
func (s LockStatus) Truthy() bool {
	return s.Closed || s.Limit > 0
}

func (s LockStatus) Equal(other LockStatus) bool {
	return s.Closed == other.Closed && s.Limit == other.Limit
}

func (s LockStatus) MarshalJSON() ([]byte, error) {
	if s.Limit > 0 {
		return json.Marshal(s.Limit)
	}
	return json.Marshal(s.Closed)
}

func (s *LockStatus) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*s = LockStatus{Closed: b}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 1 {
			*s = LockStatus{}
			return nil
		}
		*s = LockStatus{Limit: n}
		return nil
	}
	return fmt.Errorf("lock value must be a bool or an int")
}

// Lock couples a status with the time it last changed. A non-nil LastUpdate
// is the "broken seal": the scheduler advances immediately when it observes a
// falsy status that has an update time recorded.
type Lock struct {
	Status     LockStatus
	LastUpdate *time.Time
}

// Set applies a new status. Setting the current value is a no-op and does not
// touch LastUpdate; any actual change stamps it with now.
func (l *Lock) Set(status LockStatus, now time.Time) {
	if l.Status.Equal(status) {
		return
	}
	l.Status = status
	l.LastUpdate = &now
}
