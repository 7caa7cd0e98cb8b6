package ir

import "fmt"

// ScopeKind identifies a node type in the run hierarchy.
type ScopeKind string

const (
	ScopeRun    ScopeKind = "run"
	ScopeStep   ScopeKind = "step"
	ScopeSeries ScopeKind = "measurement_series"
)

// Status is the lifecycle status a scope ends with.
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusSkip     Status = "SKIP"
	StatusError    Status = "ERROR"
)

// Result classifies the verdict of a run or step.
type Result string

const (
	ResultPass          Result = "PASS"
	ResultFail          Result = "FAIL"
	ResultNotApplicable Result = "NOT_APPLICABLE"
)

// Outcome is what a scope body produces and what its end record carries.
type Outcome struct {
	Status Status `json:"status"`
	Result Result `json:"result"`
}

// Common outcomes.
var (
	OutcomePass          = Outcome{Status: StatusComplete, Result: ResultPass}
	OutcomeFail          = Outcome{Status: StatusComplete, Result: ResultFail}
	OutcomeSkip          = Outcome{Status: StatusSkip, Result: ResultNotApplicable}
	OutcomeError         = Outcome{Status: StatusError, Result: ResultFail}
	OutcomeNotApplicable = OutcomeSkip
)

// IsError reports whether the outcome is an Error outcome.
func (o Outcome) IsError() bool {
	return o.Status == StatusError
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s/%s", o.Status, o.Result)
}

// Severity is the level of a log record.
type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
)

// DiagnosisType is the verdict class of a diagnosis.
type DiagnosisType string

const (
	DiagnosisPass    DiagnosisType = "PASS"
	DiagnosisFail    DiagnosisType = "FAIL"
	DiagnosisUnknown DiagnosisType = "UNKNOWN"
)

// DUT describes the device under test.
type DUT struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
