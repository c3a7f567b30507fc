package main

import (
	"github.com/rs/zerolog"
	"github.com/ryvie/ryvie-launcher/internal/config"
	"github.com/ryvie/ryvie-launcher/internal/dns"
	"github.com/ryvie/ryvie-launcher/internal/mesh"
	"github.com/ryvie/ryvie-launcher/internal/probe"
	"github.com/ryvie/ryvie-launcher/internal/record"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
)

// app holds the components shared by all commands.
type app struct {
	cfg    *config.Config
	store  *record.Store
	prober *probe.Prober
	mesh   *mesh.Controller
}

func newApp(cfg *config.Config) *app {
	mdns := dns.NewResolver(dns.Config{})

	return &app{
		cfg:   cfg,
		store: record.NewStore(cfg.RecordPath(), cfg.Local.AppURL),
		prober: probe.New(probe.Config{
			URL:           cfg.Probe.URL,
			Timeout:       cfg.ProbeTimeout(),
			PublicTimeout: cfg.PublicTimeout(),
			DialContext:   mdns.DialContext,
		}),
		mesh: mesh.New(mesh.Options{
			ManagementURL:   cfg.Mesh.ManagementURL,
			InstallDir:      cfg.Mesh.InstallDir,
			InstallerURL:    cfg.Mesh.InstallerURL,
			InstallerSHA256: cfg.Mesh.InstallerSHA256,
			MaxInstallSize:  cfg.Mesh.MaxInstallSize.Bytes(),
			DownloadTimeout: cfg.DownloadTimeout(),
			InstallTimeout:  cfg.InstallTimeout(),
			ConnectTimeout:  cfg.ConnectTimeout(),
			CommandTimeout:  cfg.CommandTimeout(),
		}),
	}
}

// newResolver builds a resolver over the app's prober and store. m may be
// nil to skip mesh setup.
func (a *app) newResolver(m resolver.Mesh, observers ...resolver.Observer) *resolver.Resolver {
	observers = append(observers, &resolver.LoggingObserver{Level: zerolog.InfoLevel})

	return resolver.New(resolver.Config{
		Prober:      a.prober,
		Store:       a.store,
		Mesh:        m,
		LocalAppURL: a.cfg.Local.AppURL,
		Observers:   observers,
	})
}
