package ports

import (
	"context"

	"github.com/stoik/email-risk/internal/domain"
)

// MXResolver resolves the mail exchangers of a domain.
// Resolve never fails: lookup failures are reported in the result.
type MXResolver interface {
	Resolve(ctx context.Context, domainName string) domain.MXResult
}

// BatchMXResolver resolves many domains with bounded concurrency.
// The result is keyed by the lower-cased domain.
type BatchMXResolver interface {
	MXResolver
	ResolveMany(ctx context.Context, domains []string) map[string]domain.MXResult
}
