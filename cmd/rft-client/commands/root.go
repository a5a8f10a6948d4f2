package commands

import (
	"context"
	"fmt"
	"io/ioutil"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/skycoin/rft/pkg/config"
	"github.com/skycoin/rft/pkg/metrics"
	"github.com/skycoin/rft/pkg/sender"
	"github.com/skycoin/rft/pkg/transferlog"
	"github.com/skycoin/rft/pkg/udt"
	"github.com/skycoin/rft/pkg/util/pathutil"
)

const configEnv = "RFT_CONFIG"

type runCfg struct {
	syslogAddr  string
	tag         string
	profileMode string
	configPath  string

	// Values bound to flags. They override the config file only when set.
	flags config.Config

	cmd          *cobra.Command
	profileStop  func()
	logger       *logging.Logger
	masterLogger *logging.MasterLogger
	conf         *config.Config
	file         *os.File
	tp           udt.Transport
	registry     *prometheus.Registry
	logStore     transferlog.Store
	entry        *transferlog.Entry
	err          error
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cfg := &runCfg{flags: *config.DefaultConfig()}
	cmd := &cobra.Command{
		Use:   "rft-client -f FILE -h HOST",
		Short: "Sends a file over UDP with go-back-n retransmission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.cmd = cmd
			ctx, cancel := signalContext()
			defer cancel()

			return cfg.startProfiler().
				startLogger().
				readConfig().
				openFile().
				serveMetrics().
				dial().
				transfer(ctx).
				close()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cfg.bindFlags(cmd)
	return cmd
}

func (cfg *runCfg) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	// -h is the destination host, so help is only reachable as --help.
	f.Bool("help", false, "help for rft-client")

	f.StringVarP(&cfg.flags.File, "file", "f", "", "file to send (required)")
	f.StringVarP(&cfg.flags.Host, "host", "h", "", "receiver hostname or address (required)")
	f.Uint16VarP(&cfg.flags.Port, "port", "p", config.DefaultPort, "receiver port")
	f.IntVarP(&cfg.flags.LogLevel, "debug", "d", config.DefaultLogLevel, "verbosity from 0 (fatal) to 5 (trace)")

	f.IntVar(&cfg.flags.Sender.WindowSize, "window", cfg.flags.Sender.WindowSize, "maximum number of unacknowledged datagrams")
	f.DurationVar((*time.Duration)(&cfg.flags.Sender.Timeout), "timeout", config.DefaultTimeout, "retransmission timeout")
	f.IntVar(&cfg.flags.Sender.PayloadSize, "payload", cfg.flags.Sender.PayloadSize, "payload bytes per datagram")
	f.IntVar(&cfg.flags.Sender.EndMarkerRepeats, "end-repeats", cfg.flags.Sender.EndMarkerRepeats, "times the end marker is sent")
	f.DurationVar((*time.Duration)(&cfg.flags.Sender.IdleWait), "idle-wait", 0, "sleep after a cycle with no activity")

	f.Float64Var(&cfg.flags.Loss.Drop, "drop", 0, "probability of dropping a datagram")
	f.Float64Var(&cfg.flags.Loss.Corrupt, "corrupt", 0, "probability of corrupting a datagram")
	f.Float64Var(&cfg.flags.Loss.Duplicate, "dup", 0, "probability of duplicating a datagram")
	f.Float64Var(&cfg.flags.Loss.Reorder, "reorder", 0, "probability of reordering a datagram")
	f.Int64Var(&cfg.flags.Loss.Seed, "seed", 0, "seed of the loss simulation")

	f.StringVar(&cfg.flags.MetricsAddr, "metrics", "", "address to serve prometheus metrics on, disabled if empty")
	f.StringVar(&cfg.flags.TransferLog, "log-store", config.DefaultTransferLog, "transfer log store: memory, file:<dir> or boltdb:<path>")

	f.StringVar(&cfg.syslogAddr, "syslog", "none", "syslog server address. E.g. localhost:514")
	f.StringVar(&cfg.tag, "tag", "rft-client", "logging tag")
	f.StringVar(&cfg.configPath, "config", "", "path to a JSON config file, $"+configEnv+" is used if empty")
	f.StringVar(&cfg.profileMode, "profile", "none", "enable profiling with pprof. Mode:  none or one of: [cpu, mem, mutex, block, trace]")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

func (cfg *runCfg) startProfiler() *runCfg {
	var option func(*profile.Profile)
	switch cfg.profileMode {
	case "none", "":
		cfg.profileStop = func() {}
		return cfg
	case "cpu":
		option = profile.CPUProfile
	case "mem":
		option = profile.MemProfile
	case "mutex":
		option = profile.MutexProfile
	case "block":
		option = profile.BlockProfile
	case "trace":
		option = profile.TraceProfile
	default:
		cfg.profileStop = func() {}
		cfg.err = errors.Errorf("unknown profile mode %q", cfg.profileMode)
		return cfg
	}
	cfg.profileStop = profile.Start(profile.ProfilePath("./logs/"+cfg.tag), option, profile.Quiet).Stop
	return cfg
}

func (cfg *runCfg) startLogger() *runCfg {
	cfg.masterLogger = logging.NewMasterLogger()
	cfg.logger = cfg.masterLogger.PackageLogger(cfg.tag)
	if !terminal.IsTerminal(int(os.Stderr.Fd())) {
		cfg.masterLogger.DisableColors()
	}

	if cfg.syslogAddr != "none" {
		hook, err := logrus_syslog.NewSyslogHook("udp", cfg.syslogAddr, syslog.LOG_INFO, cfg.tag)
		if err != nil {
			cfg.logger.Error("Unable to connect to syslog daemon:", err)
		} else {
			cfg.masterLogger.AddHook(hook)
			cfg.masterLogger.Out = ioutil.Discard
			logging.AddHook(hook)
		}
	}
	return cfg
}

// readConfig layers the config file, if any, under the flags that were set
// explicitly, then validates the result.
func (cfg *runCfg) readConfig() *runCfg {
	if cfg.err != nil {
		return cfg
	}

	conf := config.DefaultConfig()
	if path := pathutil.FindConfigPath(cfg.configPath, configEnv, pathutil.ClientDefaults()); path != "" {
		cfg.logger.Infof("Reading config from %s", path)
		fileConf, err := config.ReadFile(path)
		if err != nil {
			cfg.err = err
			return cfg
		}
		conf = fileConf
	}
	cfg.overrideFromFlags(conf)
	cfg.conf = conf

	level := logLevel(conf.LogLevel)
	cfg.masterLogger.SetLevel(level)
	logging.SetLevel(level)

	if err := conf.Validate(); err != nil {
		if errors.Cause(err) == config.ErrUsage && cfg.cmd != nil {
			cfg.cmd.Usage() //nolint:errcheck,gosec
		}
		cfg.err = err
	}
	return cfg
}

func (cfg *runCfg) overrideFromFlags(conf *config.Config) {
	changed := func(name string) bool {
		return cfg.cmd != nil && cfg.cmd.Flags().Changed(name)
	}
	fl := &cfg.flags

	if changed("file") {
		conf.File = fl.File
	}
	if changed("host") {
		conf.Host = fl.Host
	}
	if changed("port") {
		conf.Port = fl.Port
	}
	if changed("debug") {
		conf.LogLevel = fl.LogLevel
	}
	if changed("window") {
		conf.Sender.WindowSize = fl.Sender.WindowSize
	}
	if changed("timeout") {
		conf.Sender.Timeout = fl.Sender.Timeout
	}
	if changed("payload") {
		conf.Sender.PayloadSize = fl.Sender.PayloadSize
	}
	if changed("end-repeats") {
		conf.Sender.EndMarkerRepeats = fl.Sender.EndMarkerRepeats
	}
	if changed("idle-wait") {
		conf.Sender.IdleWait = fl.Sender.IdleWait
	}
	if changed("drop") {
		conf.Loss.Drop = fl.Loss.Drop
	}
	if changed("corrupt") {
		conf.Loss.Corrupt = fl.Loss.Corrupt
	}
	if changed("dup") {
		conf.Loss.Duplicate = fl.Loss.Duplicate
	}
	if changed("reorder") {
		conf.Loss.Reorder = fl.Loss.Reorder
	}
	if changed("seed") {
		conf.Loss.Seed = fl.Loss.Seed
	}
	if changed("metrics") {
		conf.MetricsAddr = fl.MetricsAddr
	}
	if changed("log-store") {
		conf.TransferLog = fl.TransferLog
	}
}

// openFile runs before any socket is created: an unreadable input aborts the
// transfer without network activity.
func (cfg *runCfg) openFile() *runCfg {
	if cfg.err != nil {
		return cfg
	}
	f, err := os.Open(cfg.conf.File)
	if err != nil {
		cfg.err = errors.Wrap(err, "failed to open input")
		return cfg
	}
	cfg.file = f
	return cfg
}

func (cfg *runCfg) serveMetrics() *runCfg {
	if cfg.err != nil || cfg.conf.MetricsAddr == "" {
		return cfg
	}
	cfg.registry = prometheus.NewRegistry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cfg.registry, promhttp.HandlerOpts{}))
	go func() {
		cfg.logger.Infof("Serving metrics on %s", cfg.conf.MetricsAddr)
		if err := http.ListenAndServe(cfg.conf.MetricsAddr, mux); err != nil {
			cfg.logger.WithError(err).Error("Metrics server stopped.")
		}
	}()
	return cfg
}

func (cfg *runCfg) dial() *runCfg {
	if cfg.err != nil {
		return cfg
	}
	conn, err := udt.Dial(cfg.conf.Host, cfg.conf.Port)
	if err != nil {
		cfg.err = err
		return cfg
	}
	cfg.tp = conn
	if cfg.conf.Loss.Enabled() {
		cfg.logger.Warnf("Simulating an unreliable channel: %+v", cfg.conf.Loss)
		cfg.tp = udt.NewLossy(conn, cfg.conf.Loss)
	}
	return cfg
}

func (cfg *runCfg) transfer(ctx context.Context) *runCfg {
	if cfg.err != nil {
		return cfg
	}

	store, err := cfg.conf.TransferLogStore()
	if err != nil {
		cfg.err = err
		return cfg
	}
	cfg.logStore = store
	cfg.entry = transferlog.NewEntry(cfg.conf.Host, cfg.conf.Port, cfg.conf.File)

	s, err := sender.New(cfg.conf.SenderConfig(), cfg.file, cfg.tp, nil)
	if err != nil {
		cfg.err = err
		return cfg
	}
	s.Logger = cfg.masterLogger.PackageLogger("sender")
	if cfg.registry != nil {
		s.Metrics = metrics.NewPrometheus("rft", cfg.registry)
	}

	cfg.logger.Infof("Sending %s to %s:%d", cfg.conf.File, cfg.conf.Host, cfg.conf.Port)
	cfg.err = s.Run(ctx)

	cfg.entry.Finish(s.Stats(), cfg.err)
	if err := cfg.logStore.Record(cfg.entry); err != nil {
		cfg.logger.WithError(err).Error("Failed to record transfer.")
	}
	if cfg.err == nil {
		st := s.Stats()
		cfg.logger.Infof("Transfer %s done in %s: %d bytes, %d datagrams, %d retransmissions",
			cfg.entry.ID, cfg.entry.Duration(), st.BytesRead, st.DatagramsSent, st.Retransmissions)
	}
	return cfg
}

// close releases whatever the chain acquired and returns the first error.
func (cfg *runCfg) close() error {
	defer cfg.profileStop()

	if cfg.tp != nil {
		if err := cfg.tp.Close(); err != nil && cfg.logger != nil {
			cfg.logger.WithError(err).Warn("Failed to close transport.")
		}
	}
	if cfg.file != nil {
		cfg.file.Close() //nolint:errcheck,gosec
	}
	if cfg.logStore != nil {
		if err := cfg.logStore.Close(); err != nil && cfg.logger != nil {
			cfg.logger.WithError(err).Warn("Failed to close transfer log.")
		}
	}
	if cfg.err != nil && cfg.logger != nil {
		cfg.logger.WithError(cfg.err).Error("Transfer failed.")
	}
	return cfg.err
}

// logLevel maps verbosity 0..5 onto fatal..trace.
func logLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.FatalLevel
	case v >= 5:
		return logrus.TraceLevel
	default:
		return logrus.Level(v + 1)
	}
}
