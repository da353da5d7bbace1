// handlers/pass_routes.go
package handlers

import (
	"scout-pass-system/middleware"
	"scout-pass-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupPassRoutes registers every route of the pass engine.
// The gateway forwards paths like /api/v1/passes/s/... -> /s/...
func SetupPassRoutes(
	app *fiber.App,
	passService *services.PassService,
	claimService *services.ClaimService,
	ledgerService *services.LedgerService,
	leaderboardService *services.LeaderboardService,
	sweeperService *services.SweeperService,
	conversionService *services.ConversionService,
) {
	// 🌐 Public claim landing: no user context, gateway token only.
	app.Get("/claim/:code", passService.LandingLookup)
	app.Post("/claim/:code", claimService.ClaimPass)

	// ⏰ Cron triggers + billing webhook, invoked by the dispatcher with
	// the gateway token; all idempotent.
	app.Post("/internal/sweep", sweeperService.TriggerSweep)
	app.Post("/internal/conversion-check", conversionService.TriggerConversionCheck)
	app.Post("/webhooks/billing", conversionService.BillingWebhook)

	// 🔐 Referrer routes: require user context from the gateway.
	secured := app.Group("/s", middleware.UserContextMiddleware())
	secured.Post("/passes/generate", passService.GeneratePasses)
	secured.Get("/passes", passService.ListPasses)
	secured.Post("/passes/:id/share", passService.SharePass)
	secured.Get("/rewards", ledgerService.GetUserRewards)
	secured.Get("/leaderboard", leaderboardService.GetLeaderboard)

	// 🔐 Admin routes.
	admin := secured.Group("/admin", middleware.RequireRole("admin"))
	admin.Post("/passes/:id/revoke", passService.RevokePass)
	admin.Post("/rewards/:id/settle", ledgerService.SettleReward)
	admin.Post("/rewards/:id/expire", ledgerService.ExpireReward)
	admin.Post("/leaderboard/rebuild", leaderboardService.RebuildLeaderboard)
}
