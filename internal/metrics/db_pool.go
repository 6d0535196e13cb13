package metrics

import "database/sql"

// UpdateDBPoolStats publishes sql.DBStats as pool gauges.
func UpdateDBPoolStats(stats sql.DBStats) {
	DBConnectionPoolSize.WithLabelValues("active").Set(float64(stats.InUse))
	DBConnectionPoolSize.WithLabelValues("idle").Set(float64(stats.Idle))
	DBConnectionPoolSize.WithLabelValues("max").Set(float64(stats.MaxOpenConnections))
}

// UpdateConversationSessions publishes the live session count.
func UpdateConversationSessions(n int) {
	ConversationSessions.Set(float64(n))
}
