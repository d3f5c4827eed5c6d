// Package auth authenticates callers of the toolgate control API.
//
// A [Chain] asks its authenticators in turn; each votes Yes, No or Abstain.
// [Middleware] runs the chain and puts the identity and its tenant into the
// request context, [RateLimit] throttles tool invocations per service tier,
// and [RequireScope] guards administrative routes.
package auth
