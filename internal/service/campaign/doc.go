// Package campaign turns a campaign's audience into paced send batches.
//
// Resolver expands the recipient configuration (or a send-time override)
// into eligible contacts. Scheduler splits them into time-sliced queue
// entries and activates the campaign. Service ties both together behind a
// per-campaign lock and also handles one-off test sends.
//
// Store implementations live in repository/postgres and repository/memory.
package campaign
