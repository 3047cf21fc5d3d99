// Package routing is the decision engine for alert dispatch. It defines the
// Engine (priority validation, claim, preference resolution, channel
// selection and dispatch), the PreferenceStore and Guard persistence
// interfaces, the Dispatcher contract channel adapters implement, and the
// domain models they exchange.
package routing
