// Package postgres provides a PostgreSQL implementation of store.Store
// using pgx/v5.
//
// Runs, checkpoints, events, transition records and all billing
// entities live in stepwise_-prefixed tables created by embedded SQL
// migrations. Tenant transactions map to real database transactions:
// InTenant opens one, pins the organization with set_config, and every
// billing write inside it commits or rolls back atomically.
package postgres
