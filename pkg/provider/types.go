// Package provider holds the tools that actually talk to external
// platforms. Every tool calls into the governor before issuing its HTTP
// request and records the outcome after, so no call can bypass the
// quota ledger.
package provider

import (
	"context"
	"net/http"

	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/store"
)

// Provider identifiers. These are the ledger keys; changing one orphans
// the provider's usage history.
const (
	LinkedIn = "linkedin"
	Reddit   = "reddit"
	Twitter  = "twitter"
)

// Governed is the admission surface a provider tool depends on. The
// concrete *governor.Governor satisfies it; tests substitute a stub.
type Governed interface {
	WaitUntilAllowed(ctx context.Context, provider string) (governor.Decision, error)
	Record(ctx context.Context, provider string, res governor.CallResult) error
}

// ClassifyStatus maps an HTTP response code to a ledger outcome and
// whether the response is a provider-side quota/auth rejection (which
// exhausts the auth source) rather than a transient failure.
func ClassifyStatus(code int) (outcome store.Outcome, quotaRejected bool) {
	switch {
	case code >= 200 && code < 300:
		return store.OutcomeSuccess, false
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return store.OutcomeFailure, true
	default:
		return store.OutcomeFailure, false
	}
}
