package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/custodix/walletcore/internal/api/v1"
	"github.com/custodix/walletcore/internal/pkg/constants"
	"github.com/custodix/walletcore/internal/pkg/middleware"
)

type ApiRouter struct {
	server *apiv1.Server
}

func NewApiRouter(server *apiv1.Server) *ApiRouter {
	return &ApiRouter{server: server}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	v1 := app.Group(constants.APIv1Prefix)

	// Provider-facing intake: rate limited, authenticated per provider by
	// webhook signature, never by the operator key.
	v1.Post(constants.RouteWebhookIntake, limiter.New(), h.server.PostWebhook)

	// Operator surface.
	ops := v1.Group("", middleware.APIKeyAuthMiddleware())
	ops.Get(constants.RouteQueueStats, h.server.GetQueueStats)
	ops.Get(constants.RouteProcessingStats, h.server.GetProcessingStats)
	ops.Get(constants.RouteDailyStats, h.server.GetDailyStats)

	ops.Post(constants.RouteValidationRun, h.server.PostValidationRun)
	ops.Get(constants.RouteValidationTrail, h.server.GetValidationTrail)
	ops.Get(constants.RouteDiscrepancies, h.server.GetDiscrepancies)

	ops.Get(constants.RouteConstraintCheck, h.server.GetConstraintCheck)
	ops.Post(constants.RouteRepair, h.server.PostRepair)

	ops.Post(constants.RouteSweep, h.server.PostSweep)
	ops.Get(constants.RouteSweepReport, h.server.GetSweepReport)
}
