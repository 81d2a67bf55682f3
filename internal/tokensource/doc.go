// Package tokensource exposes extracted Antigravity credentials as an
// oauth2.TokenSource.
//
// The desktop application refreshes its own OAuth token and writes it to the
// local state database. Nothing here talks to an authorization server. Each
// Token call that finds the cached token expired re-reads the database
// through an Extractor. The expiry is synthetic, so re-extraction happens
// once per lifetime window:
//
//	ts := tokensource.NewTokenSource(extractor)
//	client := oauth2.NewClient(ctx, ts)
//
// # Extraction Timeout
//
// oauth2.TokenSource.Token has no context parameter, so each extraction runs
// under its own bounded context:
//
//	ts := tokensource.NewTokenSource(
//		extractor,
//		tokensource.WithTimeout(5*time.Second),
//	)
package tokensource
