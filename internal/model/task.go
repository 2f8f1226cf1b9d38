package model

import "time"

// Task is one submitted prediction run and its lifecycle status.
// The server replaces the whole object on every read; clients never
// patch individual fields across the wire.
type Task struct {
	ID          int64      `json:"id"`
	UUID        string     `json:"uuid"`
	UserID      int64      `json:"userId"`
	RunName     string     `json:"runName"`
	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submittedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	SourceFile  string     `json:"sourceFile"`

	// Basename is the absolute working directory of the run on the
	// server. Never serialized to clients.
	Basename string `json:"-"`

	Params    TaskParams `json:"params"`
	Proteomes []Database `json:"proteomes,omitempty"`
	Epitopes  []Epitope  `json:"epitopes,omitempty"`
}

// TaskParams are the pipeline parameters the run was submitted with.
type TaskParams struct {
	ActionType             ActionType `json:"actionType"`
	BepipredThreshold      float64    `json:"bepipredThreshold"`
	MinEpitopeLength       int        `json:"minEpitopeLength"`
	MaxEpitopeLength       int        `json:"maxEpitopeLength"`
	DoBlast                bool       `json:"doBlast"`
	BlastMinIdentityCutoff float64    `json:"blastMinIdentityCutoff,omitempty"`
	BlastMinCoverCutoff    float64    `json:"blastMinCoverCutoff,omitempty"`
	BlastWordSize          int        `json:"blastWordSize,omitempty"`
}

// Default pipeline parameters, applied when the action type is DEFAULT.
const (
	DefaultBepipredThreshold = 0.1512
	DefaultMinEpitopeLength  = 10
	DefaultMaxEpitopeLength  = 30
	DefaultBlastIdentity     = 90
	DefaultBlastCover        = 90
	DefaultBlastWordSize     = 4
)
