// Package flowerrors defines the typed error taxonomy shared across the
// graph, resolver, executor, recurrence planner, and tick loop so callers
// can errors.Is/errors.As against a stable set of sentinels instead of
// matching on message text.
package flowerrors

import "errors"

var (
	// ErrWorkflowNotFound is raised by the tick loop when a due schedule's
	// workflow no longer exists. The schedule is skipped, no retry.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEnvironmentMissing names an owner that has no environment row. No
	// code path in this module returns it: the tick loop treats a missing
	// row as an empty environment and runs the workflow.
	ErrEnvironmentMissing = errors.New("environment not found for owner")

	// ErrMissingEnvironmentVariable is raised by the resolver when a
	// referenced {{ENV_VAR}} has no entry in the decrypted environment map.
	ErrMissingEnvironmentVariable = errors.New("environment variable was not found")

	// ErrDecryptionFailed is raised by crypto.DecryptEnvironment when a
	// ciphertext fails to decrypt.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNoStarterBlock is raised by graph.Load when zero or more than one
	// starter block is present.
	ErrNoStarterBlock = errors.New("workflow has no starter block")

	// ErrUnsupportedScheduleType is raised by the recurrence planner for an
	// unrecognized scheduleType.
	ErrUnsupportedScheduleType = errors.New("unsupported schedule type")

	// ErrInvalidCronExpression is raised by the recurrence planner when a
	// cron expression fails to parse.
	ErrInvalidCronExpression = errors.New("invalid cron expression")

	// ErrUnresolvedReference is raised by the resolver when a <block.field>
	// token names a block that has not executed yet.
	ErrUnresolvedReference = errors.New("unresolved block reference")

	// ErrNoMatchingCondition is raised by the condition handler when no
	// branch matches and no else clause is present.
	ErrNoMatchingCondition = errors.New("no matching condition")

	// ErrInvalidRoutingDecision is raised by the router handler when the
	// chosen target id is not one of the router's direct successors.
	ErrInvalidRoutingDecision = errors.New("invalid routing decision")

	// ErrToolExecutionFailed is raised by any tool-backed handler when the
	// tool registry reports failure.
	ErrToolExecutionFailed = errors.New("tool execution failed")

	// ErrExecutionCancelled is raised by the executor when its deadline
	// expires or the caller cancels it.
	ErrExecutionCancelled = errors.New("execution cancelled")

	// ErrScheduleNotFound is raised by a store's UpdateSchedule when the
	// schedule id no longer exists (e.g. deleted between load and update).
	ErrScheduleNotFound = errors.New("schedule not found")
)
