package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/custodix/walletcore/internal/api/v1"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter mounts every route group on the app.
func InstallRouter(app *fiber.App, server *apiv1.Server) {
	setup(app, NewApiRouter(server))
}

func setup(app *fiber.App, routers ...Router) {
	for _, r := range routers {
		r.InstallRouter(app)
	}
}
