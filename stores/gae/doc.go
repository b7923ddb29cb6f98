//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore backed Storage for coachauth clients.
// It suits fleets of headless clients that must share a session across restarts and hosts.
//
// # Datastore Kinds
//
//   - StorageScope: parent key grouping the items of one client
//   - StorageItem: a single key/value pair, keyed by item name
//
// # Namespacing
//
// Items live in the given Datastore namespace, and under a scope within it:
//
//	storage := gae.NewStorage(client, "tenant-123", "reporting-bot")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	storage := gae.NewStorage(client, "", "default")
//	authClient, _ := coachauth.NewAuthClient(baseURL, storage.WithContext(ctx))
package gae
