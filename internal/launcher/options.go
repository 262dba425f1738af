package launcher

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/loykin/launchpad/internal/history"
	"github.com/loykin/launchpad/internal/pathguard"
	"github.com/loykin/launchpad/internal/process"
)

// DefaultProbeDelay is how long after a spawn the diagnostic liveness probe runs.
const DefaultProbeDelay = 3 * time.Second

type Option func(*Launcher)

func WithGuard(g *pathguard.Guard) Option { return func(l *Launcher) { l.guard = g } }

func WithSpawner(s process.Spawner) Option { return func(l *Launcher) { l.spawner = s } }

func WithClock(c clockwork.Clock) Option { return func(l *Launcher) { l.clock = c } }

func WithLogger(log *slog.Logger) Option { return func(l *Launcher) { l.log = log } }

// WithProbeDelay sets the delay of the post-spawn liveness log line.
// Zero or negative disables the probe.
func WithProbeDelay(d time.Duration) Option { return func(l *Launcher) { l.probeDelay = d } }

// WithProbe replaces the liveness check used by the diagnostic probe.
func WithProbe(alive func(pid int) bool) Option { return func(l *Launcher) { l.alive = alive } }

// WithHistory adds sinks that receive launch and exit events.
func WithHistory(sinks ...history.Sink) Option {
	return func(l *Launcher) { l.sinks = append(l.sinks, sinks...) }
}
