package cli

import (
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/config"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/events"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/execx"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/metrics"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/registry"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/supervisor"
)

// app holds the collaborators one command invocation shares.
type app struct {
	cfg     config.Config
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	sup     *supervisor.Supervisor
	bus     *events.Bus
	reg     *registry.Registry
}

func newApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	fs := afero.NewOsFs()
	runner := execx.NewOSRunner(cfg.ExecTimeout)
	sup := supervisor.New(fs, runner, logger, m, supervisor.Config{
		StateDir: filepath.Join(cfg.StateDir, "run"),
	})
	bus := events.NewBus(cfg.BufferSize, logger, m)

	if cfg.NatsURL != "" {
		fwd, err := events.NewNATSForwarder(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			// Events still reach local subscribers.
			logger.Warnw("NATS forwarding disabled", "url", cfg.NatsURL, "error", err)
		} else {
			bus.SetForwarder(fwd)
		}
	}

	reg := registry.NewDefault(services.Deps{
		Runner:     runner,
		FS:         fs,
		Logger:     logger,
		Metrics:    m,
		Supervisor: sup,
		Bus:        bus,
		StateDir:   cfg.StateDir,
		BufferSize: cfg.BufferSize,
	}, cfg.ServiceSettings())

	logger.Debugw("Loaded configuration", "state_dir", cfg.StateDir, "config", viper.ConfigFileUsed())
	return &app{cfg: cfg, logger: logger, metrics: m, sup: sup, bus: bus, reg: reg}, nil
}

// close releases attached processes and flushes the forwarder. Detached
// monitors keep running.
func (a *app) close() {
	a.sup.Close()
	if err := a.bus.Close(); err != nil {
		a.logger.Debugw("Event bus close failed", "error", err)
	}
	_ = a.logger.Sync()
}
