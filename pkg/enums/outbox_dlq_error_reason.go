package enums

// OutboxDLQErrorReason says why a row left the outbox for the dead letter table.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var dlqReasons = []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}

func (r OutboxDLQErrorReason) IsValid() bool { return member(dlqReasons, r) }

func ParseOutboxDLQErrorReason(raw string) (OutboxDLQErrorReason, error) {
	return parse("dlq error reason", dlqReasons, raw)
}
