package jobs

// Sink is the presentation side observing the current job. The Controller
// only calls it from the presentation context, never from a job goroutine.
type Sink interface {
	// SetProgress is called with 0 on Init and then once per step that advances progress.
	SetProgress(value int)
	// SetButtonLabel receives the start label on Init and the cancel label on Start.
	SetButtonLabel(text string)
	// SetStatusText is cleared on Init and set to the terminal message.
	SetStatusText(text string)
	// ShowTransientMessage is a fire-and-forget notice used for cancellations.
	ShowTransientMessage(text string)
}

// Poster hands a closure to the presentation context. Post must not block.
type Poster interface {
	Post(fn func()) bool
}
