package model

import "time"

// Case is one unit of work for the pipeline: a clinical question about a
// patient entity, plus the unstructured documents that may answer it.
type Case struct {
	Module     Module     `json:"module"`
	CaseID     string     `json:"case_id"`
	EntityType string     `json:"entity_type"`
	Question   string     `json:"question"`
	Documents  []Document `json:"documents"`
}

// Document is a single unstructured source attached to a case.
type Document struct {
	ID       string    `json:"id"`
	Source   string    `json:"source,omitempty"`
	AuthorAt time.Time `json:"authored_at,omitempty"`
	Text     string    `json:"text"`
}
