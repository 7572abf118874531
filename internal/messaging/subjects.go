package messaging

// Subject constants for the analysis event bus.
// Follow the pattern: analysis.{resource}.{action}
const (
	SubjectBehaviorUpdated     = "analysis.behavior.updated"     // fingerprint batch completed
	SubjectCorrelationsUpdated = "analysis.correlations.updated" // correlation pass completed
	SubjectClusterCreated      = "analysis.cluster.created"      // new cluster detected
	SubjectSuggestionCreated   = "analysis.suggestion.created"   // suggestion published for review
	SubjectPatternFeedback     = "analysis.pattern.feedback"     // inbound reviewer feedback
	SubjectPatternUpdated      = "analysis.pattern.updated"      // pattern confidence changed
)

// StreamName is the JetStream stream capturing all analysis events.
const StreamName = "ANALYSIS_EVENTS"

// StreamSubjects is the subject filter of the analysis stream.
const StreamSubjects = "analysis.>"

// QueueFeedbackWorkers is the queue group for feedback bridge consumers so
// each feedback message is written to the store exactly once per deployment.
const QueueFeedbackWorkers = "analysis-feedback-workers"
