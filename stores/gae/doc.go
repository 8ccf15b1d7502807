//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of the authcore
// store interfaces. Datastore namespaces give each tenant its own keyspace.
//
// # Datastore Kinds
//
//   - User: accounts, keyed by user id
//   - UserEmail: claims an email for a user, keyed by normalized email
//   - UserGoogleSub: claims a google subject for a user
//   - PendingRegistration: registrations awaiting OTP verification, keyed by email
//   - OTPRecord: login and reset codes
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewStore(client, "tenant-123")
package gae
