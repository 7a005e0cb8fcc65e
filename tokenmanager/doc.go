// Package tokenmanager keeps one OAuth2 access token valid for many concurrent callers.
//
// A Manager wraps a tokenstore.Store and an Exchanger (normally an
// *oauth2client.Client). Callers ask for a token with GetValidToken; while the
// cached token is outside the refresh margin it is returned without any I/O.
// Once it turns stale, exactly one exchange runs against the identity provider
// and every concurrent caller waits for that result.
//
// Basic usage:
//
//	client, err := oauth2client.NewClient(cfg)
//	if err != nil {
//	    return err
//	}
//
//	manager := tokenmanager.New(client, tokenstore.New(tokenstore.Record{}),
//	    tokenmanager.WithRefreshMargin(5*time.Minute),
//	    tokenmanager.WithLoggingEnabled(),
//	)
//	if err := manager.Start(ctx); err != nil {
//	    return err // no token, do not serve
//	}
//	defer manager.Shutdown(context.Background())
//
//	token, err := manager.GetValidToken(ctx)
//
// # Refresh behavior
//
// Start performs a synchronous first exchange and launches a background task
// that refreshes ahead of the margin. If a refresh fails the previously
// obtained token keeps being served until its hard expiry, and the next
// attempt is delayed by a bounded exponential backoff. A rate limiter caps how
// often the provider is contacted regardless of caller load.
//
// Refresh credentials rotated by the provider replace the stored one; when the
// provider does not rotate, the current credential is kept.
//
// # gRPC
//
// UnaryClientInterceptor and StreamClientInterceptor attach the token to
// outgoing gRPC calls as "authorization: Bearer <token>" metadata.
package tokenmanager
