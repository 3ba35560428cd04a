package port

import "context"

// FailureNotifier alerts an operator address about permanent compilation
// failures.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, to, requestID, errorMsg string) error
}
