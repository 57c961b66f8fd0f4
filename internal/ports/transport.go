package ports

import (
	"context"

	"github.com/nebrix/klokpilot/internal/domain"
)

// ChatAPI is the remote chat service surface. Every method is parameterized
// explicitly by session token and outbound proxy ("" means direct) so the
// retry and rotation policy stays free of networking concerns.
//
// Implementations map 401/403 and 5xx responses to *domain.StatusError and
// report an aborted response stream from SubmitTurn as domain.ErrStreamAborted.
type ChatAPI interface {
	FetchIdentity(ctx context.Context, token, proxy string) (domain.Identity, error)
	FetchPoints(ctx context.Context, token, proxy string) (domain.Points, error)
	FetchRateLimit(ctx context.Context, token, proxy string) (domain.RateLimitSnapshot, error)
	ListModels(ctx context.Context, token, proxy string) ([]domain.Model, error)
	SubmitTurn(ctx context.Context, token, proxy string, thread domain.Thread, model string) (string, error)
}
