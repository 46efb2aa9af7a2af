// Command promo-sweep expires ended promotions and lapsed product sales once
// and exits. Run it from an external scheduler.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/kart-promotions/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		return appkg.RunSweep(ctx, lg, m, cfg)
	})
}
