package models

// ResultStatus follows the IOF XML v3.0 ResultStatus enumeration.
type ResultStatus string

const (
	StatusOK                 ResultStatus = "OK"
	StatusFinished           ResultStatus = "Finished"
	StatusMissingPunch       ResultStatus = "MissingPunch"
	StatusDisqualified       ResultStatus = "Disqualified"
	StatusDidNotFinish       ResultStatus = "DidNotFinish"
	StatusActive             ResultStatus = "Active"
	StatusInactive           ResultStatus = "Inactive"
	StatusOverTime           ResultStatus = "OverTime"
	StatusSportingWithdrawal ResultStatus = "SportingWithdrawal"
	StatusNotCompeting       ResultStatus = "NotCompeting"
	StatusMoved              ResultStatus = "Moved"
	StatusMovedUp            ResultStatus = "MovedUp"
	StatusDidNotStart        ResultStatus = "DidNotStart"
	StatusDidNotEnter        ResultStatus = "DidNotEnter"
	StatusCancelled          ResultStatus = "Cancelled"
)

var statusSeverity = map[ResultStatus]int{
	StatusOK:                 0,
	StatusFinished:           1,
	StatusNotCompeting:       2,
	StatusActive:             3,
	StatusInactive:           4,
	StatusOverTime:           5,
	StatusMissingPunch:       6,
	StatusDisqualified:       7,
	StatusSportingWithdrawal: 8,
	StatusDidNotFinish:       9,
	StatusDidNotStart:        10,
	StatusMoved:              11,
	StatusMovedUp:            11,
	StatusDidNotEnter:        12,
	StatusCancelled:          13,
}

// Severity orders statuses from best (OK) to worst. Unknown values sort last.
func (s ResultStatus) Severity() int {
	if v, ok := statusSeverity[s]; ok {
		return v
	}
	return len(statusSeverity) + 1
}

// Worse reports whether s is a worse outcome than other.
func (s ResultStatus) Worse(other ResultStatus) bool {
	return s.Severity() > other.Severity()
}

// Ranked reports whether a result with this status gets a position.
func (s ResultStatus) Ranked() bool {
	return s == StatusOK
}

// CategoryStatus follows IOF EventClassStatus. Joined means the category had
// too few entries and was merged into its too-few substitute; Divided means it
// had too many and the overflow moved to its too-many substitute.
type CategoryStatus string

const (
	CategoryNormal           CategoryStatus = "Normal"
	CategoryDivided          CategoryStatus = "Divided"
	CategoryJoined           CategoryStatus = "Joined"
	CategoryInvalidated      CategoryStatus = "Invalidated"
	CategoryInvalidatedNoFee CategoryStatus = "InvalidatedNoFee"
)

type EventForm string

const (
	FormIndividual EventForm = "Individual"
	FormTeam       EventForm = "Team"
	FormRelay      EventForm = "Relay"
)

type Sex string

const (
	SexFemale Sex = "F"
	SexMale   Sex = "M"
)

type PunchingSystem string

const (
	SportIdent PunchingSystem = "SportIdent"
	Emit       PunchingSystem = "Emit"
)

// ControlKind says how a course control is sequenced.
type ControlKind string

const (
	ControlOrdered   ControlKind = "ordered"
	ControlFreeOrder ControlKind = "free"
	ControlOptional  ControlKind = "optional"
)

// StartRequest follows IOF StartTimeAllocationRequest. Empty means no
// request.
type StartRequest string

const (
	StartEarly StartRequest = "EarlyStart"
	StartLate  StartRequest = "LateStart"
)
