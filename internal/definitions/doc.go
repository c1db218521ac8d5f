// Package definitions provides the business boundary for Beacon's alert trigger
// definitions. It defines the Service (trigger hierarchy, group propagation,
// orphan lifecycle), the dampening normalizer, the condition partitioner, the
// Store interface (persistence) and the domain models.
package definitions
