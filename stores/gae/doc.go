//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of linkauth.Store.
// It is designed for deployment on Google Cloud Platform and supports multi-tenancy
// through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - Account: Local accounts
//   - Username: One entity per username, keyed by the username, enforcing uniqueness
//   - Identity: Identity records keyed by "provider:external id"
//   - LinkAudit: Append-only link audit entries
//
// Uniqueness is enforced with get-then-put inside Datastore transactions.
// Competing transactions on the same key fail to commit and are retried by
// the client, and the retry then observes the winner's entity.
//
// # Namespacing
//
// Pass a namespace when creating the store to isolate data between tenants:
//
//	store := gae.NewStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewStore(client, "")  // default namespace
//	provisioner := linkauth.NewProvisioner(store)
package gae
