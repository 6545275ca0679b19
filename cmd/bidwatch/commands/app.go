package commands

import (
	"bidwatch/internal/captcha"
	"bidwatch/internal/components/chrono"
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/config"
	"bidwatch/internal/dedup"
	"bidwatch/internal/pipeline"
	"bidwatch/internal/publish"
	"bidwatch/internal/registry"
	"bidwatch/internal/render"
	"bidwatch/internal/store"
	"bidwatch/pkg/serviceutil"
	"context"
	"time"
)

// app holds what every command shares: the config, the clock and the store.
type app struct {
	cfg   config.Config
	time  chrono.StandardTime
	store store.Store
	cache *dedup.Cache
	tel   telemetry.API
}

func loadApp(ctx context.Context, tel telemetry.API) app {
	cfg, err := config.Load(*configPath)
	if err != nil {
		serviceutil.Fatal("failed to load config", err)
	}

	clock, err := chrono.NewStandardTime(cfg.Registry.Timezone)
	if err != nil {
		serviceutil.Fatal("failed to load timezone", err)
	}

	db, err := store.Open(ctx, cfg.Storage, telemetry.NewScopedAPI("store", tel))
	if err != nil {
		serviceutil.Fatal("failed to open store", err)
	}

	return app{
		cfg:   cfg,
		time:  clock,
		store: db,
		cache: dedup.NewCache(db, telemetry.NewScopedAPI("dedup", tel)),
		tel:   tel,
	}
}

func (a app) close() {
	err := a.store.Close()
	if err != nil {
		a.tel.ReportWarning("app.close", err)
	}
}

func (a app) coordinator(ctx context.Context) *registry.Coordinator {
	err := a.cfg.Captcha.Validate()
	if err != nil {
		serviceutil.Fatal("invalid captcha config", err)
	}

	tel := telemetry.NewScopedAPI("registry", a.tel)

	client, err := registry.NewClient(registry.ClientOptions{
		BaseUrl:                 a.cfg.Registry.BaseUrl,
		Timeout:                 a.cfg.Registry.Timeout(),
		RequestsPerSecond:       a.cfg.Registry.RequestsPerSecond,
		DisableCloudflareBypass: a.cfg.Registry.DisableCloudflareBypass,
	}, tel)
	if err != nil {
		serviceutil.Fatal("failed to create registry client", err)
	}

	solver := captcha.NewTwoCaptcha(captcha.Options{
		ApiKey:       a.cfg.Captcha.ApiKey,
		BaseUrl:      a.cfg.Captcha.BaseUrl,
		PollInterval: time.Duration(a.cfg.Captcha.PollIntervalSeconds) * time.Second,
		Timeout:      time.Duration(a.cfg.Captcha.TimeoutSeconds) * time.Second,
		Numeric:      a.cfg.Captcha.Numeric,
	}, a.tel)

	session := registry.NewSessionManager(ctx, client, solver, a.store, a.time, tel)
	return registry.NewCoordinator(session, registry.NewFetcher(client, tel), a.cfg.Registry.Retries(), tel)
}

func (a app) publisher(team config.TeamConfig, dryRun bool) pipeline.Publisher {
	if dryRun {
		return publish.NewLog(team.Name, a.tel)
	}
	switch team.Publisher.Kind {
	case config.PublisherX:
		return publish.NewX(publish.XOptions{Credentials: team.Publisher.X}, a.tel)
	case config.PublisherEmail:
		return publish.NewEmail(publish.EmailOptions{
			Smtp: team.Publisher.Email.Smtp,
			To:   team.Publisher.Email.To,
		}, a.tel)
	case config.PublisherLog:
		return publish.NewLog(team.Name, a.tel)
	}
	serviceutil.Fatal("unknown publisher kind", nil, "team", team.Name, "kind", team.Publisher.Kind)
	return nil
}

func (a app) driver(ctx context.Context, dryRun bool) *pipeline.Driver {
	teams := make([]pipeline.Team, len(a.cfg.Teams))
	for i, team := range a.cfg.Teams {
		teams[i] = pipeline.Team{
			Name:       team.Name,
			RegionCode: team.RegionCode,
			ClubCode:   team.ClubCode,
			Publisher:  a.publisher(team, dryRun),
		}
	}

	renderer := render.NewRenderer(render.Options{
		BaseUrl:  a.cfg.Registry.BaseUrl,
		Width:    a.cfg.Render.Width,
		Height:   a.cfg.Render.Height,
		Timeout:  time.Duration(a.cfg.Render.TimeoutSeconds) * time.Second,
		ExecPath: a.cfg.Render.ExecPath,
	}, a.time.Location(), a.tel)

	cache := a.cache
	if dryRun {
		cache = dedup.NewCache(store.NewMemory(), telemetry.NewScopedAPI("dedup", a.tel))
	}

	return pipeline.NewDriver(
		a.coordinator(ctx),
		cache,
		renderer,
		teams,
		a.time,
		telemetry.NewScopedAPI("pipeline", a.tel),
	)
}
