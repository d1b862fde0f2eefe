package models

import (
	"encoding/json"
	"time"
)

type AssessmentStatus string

const (
	AssessmentPending  AssessmentStatus = "pending"
	AssessmentApproved AssessmentStatus = "approved"
	AssessmentRejected AssessmentStatus = "rejected"
)

// Assessment is a request by a user to be approved as a teacher for a language.
type Assessment struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	Language    string           `json:"language"`
	QuizData    json.RawMessage  `json:"quizData"`
	Status      AssessmentStatus `json:"status"`
	SubmittedAt time.Time        `json:"submittedAt"`
	ReviewedAt  *time.Time       `json:"reviewedAt,omitempty"`
}

type SubmitAssessmentRequest struct {
	Language string          `json:"language" binding:"required"`
	QuizData json.RawMessage `json:"quizData" binding:"required"`
}

type ReviewAssessmentRequest struct {
	Status AssessmentStatus `json:"status" binding:"required,oneof=approved rejected"`
}
