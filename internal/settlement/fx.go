package settlement

import (
	"context"

	"github.com/craftora/payline/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement",
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLocker),
	fx.Provide(New),
	fx.Invoke(Run),
)

// ProvideLocker returns a redis leader lock when redis is configured, nil
// otherwise; single-replica deployments run fine without one.
func ProvideLocker(cfg config.Config) *Locker {
	if cfg.RedisAddr == "" {
		return nil
	}
	return NewLocker(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}))
}

func Run(lc fx.Lifecycle, settler *Settler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				settler.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
