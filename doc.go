// Package mailstore implements a mail store and delivery routing engine:
// virtual identities (domains, users, aliases), mailbox folders and flags,
// the message lifecycle from draft through send or receipt to trash and
// purge, content-addressed attachments, and an eventually consistent
// search index.
//
// The engine is storage agnostic. Persistence lives behind the store.Store
// interface with in-memory, PostgreSQL and MongoDB backends, and attachment
// blobs behind store.FileStore with S3 and GCS backends.
//
// Basic usage:
//
//	svc, err := mailstore.NewService(
//		mailstore.WithStore(memory.New()),
//		mailstore.WithFileStore(files),
//	)
//	if err != nil { ... }
//	if err := svc.Connect(ctx); err != nil { ... }
//	defer svc.Close(ctx)
//
//	mb := svc.Client(userID)
//	draft, err := mb.CreateDraft(ctx, mailstore.DraftData{
//		To:      []string{"pat@example.com"},
//		Subject: "hello",
//		Body:    "hi there",
//	})
//	if err != nil { ... }
//	if _, err := mb.Send(ctx, draft.GetID()); err != nil { ... }
//
// Inbound mail enters through Service.AcceptInbound, which resolves the
// envelope recipients through the alias directory and files one copy per
// local mailbox. Filing is idempotent on the delivery attempt id, so an
// upstream MTA may safely retry.
package mailstore
