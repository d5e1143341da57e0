package api

import "time"

// IterationState is the state of the iteration controller's state machine.
//
//	Uninitialized -> Configured -> MinorCycleRunning -> MajorCycleBoundary -> ... -> Converged|Stopped
//	                               MinorCycleRunning -> MinorCyclePaused -> MinorCycleRunning|MajorCycleBoundary
type IterationState string

const (
	StateUninitialized      IterationState = "Uninitialized"
	StateConfigured         IterationState = "Configured"
	StateMinorCycleRunning  IterationState = "MinorCycleRunning"
	StateMinorCyclePaused   IterationState = "MinorCyclePaused"
	StateMajorCycleBoundary IterationState = "MajorCycleBoundary"
	StateConverged          IterationState = "Converged"
	StateStopped            IterationState = "Stopped"
)

// IsTerminal reports whether no further cycles will run.
func (s IterationState) IsTerminal() bool {
	return s == StateConverged || s == StateStopped
}

// StopCode explains why a run finished.
type StopCode int

const (
	StopNone StopCode = iota
	StopIterationLimit
	StopThreshold
	StopForce
)

func (c StopCode) String() string {
	switch c {
	case StopNone:
		return "none"
	case StopIterationLimit:
		return "iteration limit"
	case StopThreshold:
		return "threshold"
	case StopForce:
		return "force stop"
	default:
		return "unknown"
	}
}

// ActionCode is the per-mapper instruction returned from an interactive pause.
type ActionCode int

const (
	// ActionContinue cleans the mapper normally in the next minor cycle.
	ActionContinue ActionCode = iota
	// ActionSkip skips the mapper's next minor cycle only.
	ActionSkip
	// ActionStop stops cleaning the mapper for the rest of the run.
	ActionStop
)

func (a ActionCode) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionSkip:
		return "skip"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ArtifactKind names one image in an accumulator's artifact set.
type ArtifactKind string

const (
	ArtifactPsf      ArtifactKind = "psf"
	ArtifactResidual ArtifactKind = "residual"
	ArtifactModel    ArtifactKind = "model"
	ArtifactWeight   ArtifactKind = "weight"
	ArtifactRestored ArtifactKind = "image"
)

// CycleType tags a summary record as coming from a minor or a major cycle.
type CycleType string

const (
	CycleMinor CycleType = "minor"
	CycleMajor CycleType = "major"
)

// IterationParams is the strongly-typed setup record for the controller.
type IterationParams struct {
	// Niter is the total number of minor-cycle iterations requested.
	Niter int `yaml:"niter" json:"niter"`
	// CycleNiter caps iterations per minor cycle. 0 means Niter.
	CycleNiter int `yaml:"cycleniter" json:"cycleniter"`
	// LoopGain must be in (0, 1].
	LoopGain float64 `yaml:"loopgain" json:"loopgain"`
	// Threshold is the global stopping threshold.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// CycleFactor scales the PSF sidelobe level into the cycle threshold fraction.
	CycleFactor float64 `yaml:"cyclefactor" json:"cyclefactor"`
	// MinPsfFraction and MaxPsfFraction clamp the cycle threshold fraction.
	MinPsfFraction float64 `yaml:"minpsffraction" json:"minpsffraction"`
	MaxPsfFraction float64 `yaml:"maxpsffraction" json:"maxpsffraction"`
	// Interactive makes the controller wait for a continue at every major cycle boundary.
	Interactive bool `yaml:"interactive" json:"interactive"`
}

// MinorCycleControls are handed to the minor-cycle executor when a minor cycle starts.
type MinorCycleControls struct {
	CycleNiter     int     `json:"cycleniter"`
	CycleThreshold float64 `json:"cyclethreshold"`
	LoopGain       float64 `json:"loopgain"`
}

// InitRecord is a mapper's report at a major cycle boundary, before a minor cycle.
type InitRecord struct {
	MapperID       int     `json:"mapperId"`
	PeakResidual   float64 `json:"peakResidual"`
	MaxPsfSidelobe float64 `json:"maxPsfSidelobe"`
	ModelFlux      float64 `json:"modelFlux"`
}

// ExecRecord is a mapper's report after its part of a minor cycle.
type ExecRecord struct {
	MapperID     int               `json:"mapperId"`
	IterDone     int               `json:"iterDone"`
	PeakResidual float64           `json:"peakResidual"`
	ModelFlux    float64           `json:"modelFlux"`
	UpdatedModel bool              `json:"updatedModel"`
	Rows         []SummaryMinorRow `json:"rows,omitempty"`
}

// SummaryMinorRow is one entry of the minor-cycle audit log.
type SummaryMinorRow struct {
	Iteration      int     `yaml:"iteration" json:"iteration"`
	PeakResidual   float64 `yaml:"peakResidual" json:"peakResidual"`
	ModelFlux      float64 `yaml:"modelFlux" json:"modelFlux"`
	CycleThreshold float64 `yaml:"cycleThreshold" json:"cycleThreshold"`
	MapperID       int     `yaml:"mapperId" json:"mapperId"`
	SubImageID     int     `yaml:"subImageId" json:"subImageId"`
}

// SummaryMajorRow is one entry of the major-cycle audit log.
type SummaryMajorRow struct {
	Cycle          int `yaml:"cycle" json:"cycle"`
	IterationsDone int `yaml:"iterationsDone" json:"iterationsDone"`
}

// SummaryRecord is the persisted form of the summary log: an ordered list
// of (cycleType, mapperId, modelFlux, peakResidual) tuples.
type SummaryRecord struct {
	CycleType    CycleType `yaml:"cycleType" json:"cycleType"`
	MapperID     int       `yaml:"mapperId" json:"mapperId"`
	ModelFlux    float64   `yaml:"modelFlux" json:"modelFlux"`
	PeakResidual float64   `yaml:"peakResidual" json:"peakResidual"`
}

// IterationDetails is a point-in-time snapshot of the controller state.
type IterationDetails struct {
	State                    IterationState `yaml:"state" json:"state"`
	TotalIterationsDone      int            `yaml:"iterDone" json:"iterDone"`
	TotalIterationsRequested int            `yaml:"niter" json:"niter"`
	CycleIterationsDone      int            `yaml:"cycleIterDone" json:"cycleIterDone"`
	MaxCycleIterations       int            `yaml:"cycleniter" json:"cycleniter"`
	LoopGain                 float64        `yaml:"loopgain" json:"loopgain"`
	GlobalThreshold          float64        `yaml:"threshold" json:"threshold"`
	CycleThreshold           float64        `yaml:"cyclethreshold" json:"cyclethreshold"`
	CycleFactor              float64        `yaml:"cyclefactor" json:"cyclefactor"`
	MinPsfFraction           float64        `yaml:"minpsffraction" json:"minpsffraction"`
	MaxPsfFraction           float64        `yaml:"maxpsffraction" json:"maxpsffraction"`
	PeakResidual             float64        `yaml:"peakResidual" json:"peakResidual"`
	ModelFlux                float64        `yaml:"modelFlux" json:"modelFlux"`
	MaxPsfSidelobe           float64        `yaml:"maxPsfSidelobe" json:"maxPsfSidelobe"`
	Interactive              bool           `yaml:"interactive" json:"interactive"`
	StopFlag                 bool           `yaml:"stopFlag" json:"stopFlag"`
	StopCode                 StopCode       `yaml:"stopCode" json:"stopCode"`
	StopReason               string         `yaml:"stopReason" json:"stopReason"`
	MajorCycleCount          int            `yaml:"majorCycles" json:"majorCycles"`
	MinorCycleCount          int            `yaml:"minorCycles" json:"minorCycles"`
}

// IterationSummary holds the full append-only audit log of a run.
type IterationSummary struct {
	Minor   []SummaryMinorRow `yaml:"summaryMinor" json:"summaryMinor"`
	Major   []SummaryMajorRow `yaml:"summaryMajor" json:"summaryMajor"`
	Records []SummaryRecord   `yaml:"records" json:"records"`
}

// StateEvent is published to subscribers on every controller state transition.
type StateEvent struct {
	Previous  IterationState
	Current   IterationState
	StopCode  StopCode
	Timestamp time.Time
}
