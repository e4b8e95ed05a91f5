package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/generation"
)

// GenerationController 是管理接口依赖的生命周期操作，由 generation.Manager 实现。
type GenerationController interface {
	Install(ctx context.Context, version string, manifest []string) error
	Activate(ctx context.Context, version string) error
	Active() string
	Snapshot() []generation.Status
}

// RegisterGenerationRoutes 暴露 /-/generations 管理接口：查询状态、按配置的 Manifest 安装、激活。
func RegisterGenerationRoutes(app *fiber.App, ctrl GenerationController, manifest []string) {
	if app == nil || ctrl == nil {
		return
	}

	app.Get("/-/generations", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"active":      ctrl.Active(),
			"generations": ctrl.Snapshot(),
		})
	})

	app.Post("/-/generations/:version/install", func(c fiber.Ctx) error {
		version := strings.Clone(strings.TrimSpace(c.Params("version")))
		if err := cache.ValidatePartitionName(version); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_version"})
		}
		if err := ctrl.Install(c.Context(), version, manifest); err != nil {
			if errors.Is(err, generation.ErrPrepopulationFailure) {
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
					"error":  "prepopulation_failure",
					"detail": err.Error(),
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "install_failed"})
		}
		return c.JSON(fiber.Map{"version": version, "state": stateOf(ctrl, version)})
	})

	app.Post("/-/generations/:version/activate", func(c fiber.Ctx) error {
		version := strings.Clone(strings.TrimSpace(c.Params("version")))
		err := ctrl.Activate(c.Context(), version)
		switch {
		case err == nil:
			return c.JSON(fiber.Map{"active": version})
		case errors.Is(err, generation.ErrNotInstalled):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not_installed"})
		case errors.Is(err, generation.ErrActivationInProgress):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "activation_in_progress"})
		case ctrl.Active() == version:
			// 切换已生效，只是旧分区清理失败。
			return c.JSON(fiber.Map{"active": version, "cleanup_error": err.Error()})
		default:
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "activation_failed"})
		}
	})
}

func stateOf(ctrl GenerationController, version string) string {
	for _, status := range ctrl.Snapshot() {
		if status.Version == version {
			return status.State.String()
		}
	}
	return ""
}
