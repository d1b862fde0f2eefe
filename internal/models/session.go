package models

import "time"

// SessionStatus is the lifecycle state of a scheduled tutoring session.
type SessionStatus string

const (
	SessionRequested SessionStatus = "requested"
	SessionConfirmed SessionStatus = "confirmed"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionRequested: {SessionConfirmed, SessionCancelled},
	SessionConfirmed: {SessionCompleted, SessionCancelled},
}

// CanTransition reports whether a session may move from s to next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ScheduledSession is a tutoring session booked by a learner with a teacher.
type ScheduledSession struct {
	ID            string        `json:"id"`
	LearnerID     string        `json:"learnerId"`
	TeacherID     string        `json:"teacherId"`
	ScheduledTime time.Time     `json:"scheduledTime"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type CreateSessionRequest struct {
	ExpertID  string    `json:"expertId" binding:"required"`
	StartTime time.Time `json:"startTime" binding:"required"`
}

type UpdateSessionRequest struct {
	Status SessionStatus `json:"status" binding:"required"`
}
