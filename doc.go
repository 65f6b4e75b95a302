// Package prep implements the Per-Resource Events Protocol (PREP) as a
// net/http middleware. A client that issues a GET with an Accept-Events
// header receives the resource representation and, in the same response body,
// a live stream of subsequent modification notifications, multiplexed inside
// nested multipart envelopes (multipart/mixed wrapping multipart/digest).
//
// The middleware attaches a per-request *Session to the request context.
// Handlers retrieve it with SessionFrom and drive the protocol with
// Session.Configure (declare the notification offer), Session.Send (negotiate
// and take over the response as a notification stream) and Session.Trigger
// (fan a notification out to every matching open stream after a mutation).
//
// Subscriptions are bucketed by (resource path, negotiated event profile);
// the profile is the canonical outcome of matching the client's structured
// Accept-Events parameters against the server's declared offer.
package prep
