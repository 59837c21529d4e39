// Package sending implements the per-recipient campaign sending pipeline.
//
// A CampaignSender is initialized once per campaign run. Init loads a
// consistent snapshot of the campaign, its send configuration, lists, field
// schemas, template and attachments. After that the sender is read-only and
// Send may be called concurrently for many recipients. Each Send runs
// blacklist check, content resolution, rendering, delivery policy,
// throttling, dispatch and outcome recording strictly in that order.
//
// Collaborators (storage, templating, link rewriting, transports) are
// consumed through the interfaces in interfaces.go. Implementations live in
// repository/postgres, mailing, storage and transport.
package sending
