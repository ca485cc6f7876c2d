// Package apiv1 exposes the webhook intake endpoint and the operator API:
// queue and processing statistics, validation runs, constraint checks,
// emergency repair and manual retry sweeps.
package apiv1

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/internal/pkg/dbsafety"
	"github.com/custodix/walletcore/internal/pkg/env"
	"github.com/custodix/walletcore/internal/pkg/retryengine"
	"github.com/custodix/walletcore/internal/pkg/statistics"
	"github.com/custodix/walletcore/internal/pkg/validator"
	"github.com/custodix/walletcore/internal/pkg/webhookqueue"
)

// Server bundles the services behind the HTTP surface.
type Server struct {
	queue     *webhookqueue.Queue
	processor *webhookqueue.Processor
	validator *validator.Service
	safety    *dbsafety.Service
	retry     *retryengine.Manager
}

func NewServer(queue *webhookqueue.Queue, processor *webhookqueue.Processor, v *validator.Service, safety *dbsafety.Service, retry *retryengine.Manager) *Server {
	return &Server{
		queue:     queue,
		processor: processor,
		validator: v,
		safety:    safety,
		retry:     retry,
	}
}

// PostWebhook accepts one provider callback and enqueues it durably. The
// provider gets a 202 with the event ID on acceptance. While queue storage is
// unavailable we answer 503 so the provider's own retry logic re-delivers
// instead of the event being silently dropped.
func (s *Server) PostWebhook(c *fiber.Ctx) error {
	if settings := models.GetAppSettings(); settings != nil && !settings.IsIntakeEnabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "intake_disabled",
			"message": "Webhook intake is disabled",
		})
	}

	provider := c.Params("provider")
	endpoint := c.Params("endpoint")
	payload := c.Body()
	signature := c.Get("X-Webhook-Signature")

	if secret := env.GetEnv("WEBHOOK_SECRET_"+provider, ""); secret != "" {
		if !webhookqueue.VerifySignature(payload, signature, secret) {
			log.Warnf("[Intake] Signature mismatch for %s/%s from %s", provider, endpoint, c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Signature verification failed",
			})
		}
	}

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	ok, eventID, latency, err := s.queue.Enqueue(c.Context(), webhookqueue.EnqueueInput{
		Provider:   provider,
		Endpoint:   endpoint,
		Payload:    payload,
		Headers:    headers,
		ClientIP:   c.IP(),
		Signature:  signature,
		Priority:   webhookqueue.PriorityNormal,
		MaxRetries: 5,
	})
	if err != nil {
		if errors.Is(err, webhookqueue.ErrStorageUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "storage_unavailable",
				"message": "Intake temporarily unavailable, retry later",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted":   ok,
		"event_id":   eventID,
		"latency_ms": latency.Milliseconds(),
	})
}

// GetQueueStats reports queue depth per status and breaker state.
func (s *Server) GetQueueStats(c *fiber.Ctx) error {
	stats, err := s.queue.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "storage_unavailable",
			"message": err.Error(),
		})
	}
	return c.JSON(stats)
}

// GetProcessingStats reports processor throughput counters.
func (s *Server) GetProcessingStats(c *fiber.Ctx) error {
	return c.JSON(s.processor.Stats())
}

// GetDailyStats serves the cached daily throughput aggregates.
func (s *Server) GetDailyStats(c *fiber.Ctx) error {
	return c.JSON(statistics.GetStatistics())
}

// PostValidationRun validates every wallet and returns the batch result.
func (s *Server) PostValidationRun(c *fiber.Ctx) error {
	batch, err := s.validator.ValidateAllWallets(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	}
	return c.JSON(batch)
}

// GetValidationTrail walks one wallet's recent audit trail.
func (s *Server) GetValidationTrail(c *fiber.Ctx) error {
	walletType := c.Params("walletType")
	if walletType != models.WalletTypeUser && walletType != models.WalletTypeInternal {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": "walletType must be user or internal",
		})
	}
	walletID, err := strconv.ParseUint(c.Params("walletID"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": "walletID must be numeric",
		})
	}
	depth := c.QueryInt("depth", 0)

	result, err := s.validator.ValidateAgainstAuditTrail(c.Context(), walletType, uint(walletID), depth)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	}
	return c.JSON(result)
}

// GetDiscrepancies lists every balance component diverging from the ledger.
func (s *Server) GetDiscrepancies(c *fiber.Ctx) error {
	discrepancies, err := s.validator.DetectDiscrepancies(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"count":         len(discrepancies),
		"discrepancies": discrepancies,
	})
}

// GetConstraintCheck runs the application-level constraint mirror.
func (s *Server) GetConstraintCheck(c *fiber.Ctx) error {
	violations, err := s.safety.CheckConstraints(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "check_failed",
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"count":      len(violations),
		"violations": violations,
	})
}

type repairRequest struct {
	WalletType string `json:"wallet_type"`
	WalletID   uint   `json:"wallet_id"`
	RepairType string `json:"repair_type"`
	DryRun     *bool  `json:"dry_run"`
}

// PostRepair runs an emergency balance repair. Dry-run unless the request
// explicitly sets dry_run to false.
func (s *Server) PostRepair(c *fiber.Ctx) error {
	var req repairRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_request",
			"message": "Malformed repair request",
		})
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	report, err := s.safety.EmergencyBalanceRepair(c.Context(), req.WalletType, req.WalletID, req.RepairType, dryRun)
	if err != nil {
		switch {
		case errors.Is(err, dbsafety.ErrUnknownRepairType):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		case errors.Is(err, dbsafety.ErrNothingToRepair):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "nothing_to_repair",
				"message": err.Error(),
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "repair_failed",
				"message": err.Error(),
			})
		}
	}
	return c.JSON(report)
}

// PostSweep triggers one retry sweep immediately.
func (s *Server) PostSweep(c *fiber.Ctx) error {
	return c.JSON(s.retry.TriggerSweep(c.Context()))
}

// GetSweepReport returns the most recent sweep report.
func (s *Server) GetSweepReport(c *fiber.Ctx) error {
	report := s.retry.LastReport()
	if report == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "No sweep has run yet",
		})
	}
	return c.JSON(report)
}
