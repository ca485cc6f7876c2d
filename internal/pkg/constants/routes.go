package constants

// API route paths.
const (
	APIv1Prefix = "/api/v1"

	RouteWebhookIntake = "/webhooks/:provider/:endpoint"

	RouteQueueStats      = "/queue/stats"
	RouteProcessingStats = "/processing/stats"
	RouteDailyStats      = "/stats/daily"

	RouteValidationRun   = "/validation/run"
	RouteValidationTrail = "/validation/:walletType/:walletID/trail"
	RouteDiscrepancies   = "/validation/discrepancies"

	RouteConstraintCheck = "/safety/constraints"
	RouteRepair          = "/safety/repair"

	RouteSweep       = "/retry/sweep"
	RouteSweepReport = "/retry/report"
)
