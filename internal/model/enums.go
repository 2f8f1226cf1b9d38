package model

// Status of a prediction task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
)

var ValidStatuses = []Status{
	StatusPending, StatusRunning, StatusCompleted, StatusFinished, StatusFailed,
}

// Terminal reports whether the task will not change state anymore.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFinished, StatusFailed:
		return true
	}
	return false
}

// Role of a portal user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Action type for a submission: defaults or user-tuned parameters.
type ActionType string

const (
	ActionDefault    ActionType = "DEFAULT"
	ActionCustomized ActionType = "CUSTOMIZED"
)

// Proteome source types for similarity search.
type SourceType string

const (
	SourceDatabase   SourceType = "database"
	SourceFastaBlast SourceType = "fasta_blast"
)

// Topology prediction methods reported per epitope.
type Method string

const (
	MethodBepiPred3     Method = "BepiPred-3.0"
	MethodEmini         Method = "Emini"
	MethodKolaskar      Method = "Kolaskar"
	MethodChouFasman    Method = "Chou-Fasman"
	MethodKarplusSchulz Method = "Karplus-Schulz"
	MethodParker        Method = "Parker"
)
