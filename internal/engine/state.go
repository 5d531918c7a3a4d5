package engine

// State is a step of the check cycle state machine.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateFiltering  State = "filtering"
	StateVerifying  State = "verifying"
	StateGenerating State = "generating"
	StatePublishing State = "publishing"
	StateRecording  State = "recording"
)

// Trigger identifies which surface started a cycle.
type Trigger string

const (
	TriggerLoop     Trigger = "loop"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerCLI      Trigger = "cli"
)
