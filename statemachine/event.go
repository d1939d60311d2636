package statemachine

import "fmt"

// Event drives a transition of Machine.
type Event interface {
	fmt.Stringer
	isEvent()
}

// Events accepted by Machine.Transition. Fail carries the reason of an
// explicit turn failure; FinishClosing completes a shutdown.
type (
	StartProcessing    struct{}
	StartGenerating    struct{}
	GeneratingProgress struct{ Chars int }
	StartToolExecution struct{ Total int }
	ToolCompleted      struct{}
	Complete           struct{}
	Fail               struct{ Reason string }
	StartClosing       struct{}
	FinishClosing      struct{}
)

func (StartProcessing) isEvent()    {}
func (StartGenerating) isEvent()    {}
func (GeneratingProgress) isEvent() {}
func (StartToolExecution) isEvent() {}
func (ToolCompleted) isEvent()      {}
func (Complete) isEvent()           {}
func (Fail) isEvent()               {}
func (StartClosing) isEvent()       {}
func (FinishClosing) isEvent()      {}

func (StartProcessing) String() string { return "StartProcessing" }
func (StartGenerating) String() string { return "StartGenerating" }
func (e GeneratingProgress) String() string {
	return fmt.Sprintf("GeneratingProgress(%d)", e.Chars)
}
func (e StartToolExecution) String() string {
	return fmt.Sprintf("StartToolExecution(%d)", e.Total)
}
func (ToolCompleted) String() string { return "ToolCompleted" }
func (Complete) String() string      { return "Complete" }
func (e Fail) String() string        { return fmt.Sprintf("Error(%s)", e.Reason) }
func (StartClosing) String() string  { return "StartClosing" }
func (FinishClosing) String() string { return "Closed" }
