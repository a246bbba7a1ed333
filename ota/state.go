package ota

// State is FwUpdateState from spec §3: "Enum {Idle, Downloading, Downloaded,
// Updating}".
type State int

const (
	StateIdle State = iota
	StateDownloading
	StateDownloaded
	StateUpdating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateDownloaded:
		return "downloaded"
	case StateUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// Reason is the reporting-superset enum spec §3 names: "reason enum
// (Ready, InProgress, Downloading, Downloaded, Updated, AwaitRetry, IO,
// IntegrityCheckFailure, FirmwareUpdateFailed, ...)", grounded on
// original_source/include/golioth/ota.h's golioth_ota_reason_t.
type Reason int

const (
	ReasonReady Reason = iota
	ReasonInProgress
	ReasonDownloading
	ReasonDownloaded
	ReasonUpdated
	ReasonAwaitRetry
	ReasonIO
	ReasonIntegrityCheckFailure
	ReasonFirmwareUpdateFailed
	ReasonUpdatedSuccessfully
)

func (r Reason) String() string {
	switch r {
	case ReasonReady:
		return "ready"
	case ReasonInProgress:
		return "in_progress"
	case ReasonDownloading:
		return "downloading"
	case ReasonDownloaded:
		return "downloaded"
	case ReasonUpdated:
		return "updated"
	case ReasonAwaitRetry:
		return "await_retry"
	case ReasonIO:
		return "io"
	case ReasonIntegrityCheckFailure:
		return "integrity_check_failure"
	case ReasonFirmwareUpdateFailed:
		return "firmware_update_failed"
	case ReasonUpdatedSuccessfully:
		return "updated_successfully"
	default:
		return "unknown"
	}
}

// StatusReport is what gets reported to the cloud on every state/reason
// transition (spec §4.8 "Reporting"). Version fields are included
// according to a per-call flag mask, spec §4.8's "version fields (current,
// target) are included according to a per-call flag mask".
type StatusReport struct {
	Package        string
	State          State
	Reason         Reason
	IncludeCurrent bool
	CurrentVersion string
	IncludeTarget  bool
	TargetVersion  string
}
