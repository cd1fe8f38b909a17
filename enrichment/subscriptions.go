package enrichment

import (
	"context"
	"errors"
	"time"

	"encore.dev/pubsub"

	"github.com/datagen24/cowrie-enrichment/invalidation"
)

// Subscribe to cache invalidation events so a stale provider entry purged on
// one instance (or via the /invalidate/key and /invalidate/pattern
// endpoints) is also dropped from this instance's cache hierarchy.
var _ = pubsub.NewSubscription(
	invalidation.CacheInvalidateTopic,
	"enrichment-invalidate",
	pubsub.SubscriptionConfig[*invalidation.InvalidationEvent]{
		Handler: HandleInvalidateEvent,
	},
)

// HandleInvalidateEvent drops the named keys, or every key matching the
// given pattern, from the composed cache. Matches invalidation.TriggeredBy
// "enrichment" as well as third-party triggers (an operator invalidating a
// known-bad IP via the shared invalidation API should still reach this
// service's cache).
func HandleInvalidateEvent(ctx context.Context, event *invalidation.InvalidationEvent) error {
	if svc == nil {
		return nil
	}

	for _, key := range event.MatchedKeys {
		service, rest := splitServiceKey(key)
		if service == "" {
			continue
		}
		svc.cache.Delete(ctx, service, rest)
	}

	if event.Pattern != "" {
		svc.cache.DeletePattern(ctx, event.Pattern)
	}

	return nil
}

// PublishInvalidation broadcasts the invalidation of the given provider/key
// pairs so every other enrichment instance drops them too.
func (s *Service) PublishInvalidation(ctx context.Context, keys []string, pattern string) error {
	event := &invalidation.InvalidationEvent{
		Pattern:     pattern,
		MatchedKeys: keys,
		TriggeredBy: "enrichment",
		Timestamp:   time.Now(),
	}
	_, err := invalidation.CacheInvalidateTopic.Publish(ctx, event)
	return err
}

// splitServiceKey reverses tierKey's "service:key" join.
func splitServiceKey(full string) (service, key string) {
	for i := 0; i < len(full); i++ {
		if full[i] == ':' {
			return full[:i], full[i+1:]
		}
	}
	return "", ""
}

// InvalidateRequest names a single provider cache entry to drop, by the
// service namespace (network-reputation, url-host-abuse, ip-context,
// file-scanner) and its key (source IP or file hash).
type InvalidateRequest struct {
	Service string `json:"service"`
	Key     string `json:"key"`
}

// InvalidateResponse confirms the local delete and whether the broadcast to
// other instances succeeded.
type InvalidateResponse struct {
	Deleted     bool `json:"deleted"`
	Broadcasted bool `json:"broadcasted"`
}

// Invalidate drops a single cached provider entry locally and broadcasts the
// invalidation to every other enrichment instance.
//
//encore:api public method=POST path=/enrichment/invalidate
func Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	if svc == nil {
		return nil, errors.New("enrichment service not initialized")
	}
	svc.cache.Delete(ctx, req.Service, req.Key)

	broadcasted := true
	if err := svc.PublishInvalidation(ctx, []string{req.Service + ":" + req.Key}, ""); err != nil {
		broadcasted = false
	}

	return &InvalidateResponse{Deleted: true, Broadcasted: broadcasted}, nil
}
