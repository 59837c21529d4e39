// Package domain defines the core business types for campaign delivery.
//
// Types in this package are pure value objects with no database
// dependencies and no HTTP concerns. They are the shared language between
// the sending service, repositories, renderers, and transports.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure helper functions over these types are allowed
//   - Constants and enums belong here
package domain
