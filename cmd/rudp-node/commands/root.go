package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"log/syslog"
	"net/http"
	_ "net/http/pprof" // no_lint
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	httpmetrics "github.com/skycoin/rudp/internal/metrics"
	"github.com/skycoin/rudp/internal/pathutil"
	"github.com/skycoin/rudp/pkg/node"
	"github.com/skycoin/rudp/pkg/socket"
)

const configEnv = "RUDP_CONFIG"
const defaultShutdownTimeout = node.Duration(10 * time.Second)

type runCfg struct {
	syslogAddr   string
	tag          string
	cfgFromStdin bool
	profileMode  string
	port         string
	args         []string

	profileStop  func()
	logger       *logging.Logger
	masterLogger *logging.MasterLogger
	conf         node.Config
	node         *node.Node
	served       <-chan error
	httpSrv      *http.Server
}

var cfg *runCfg

var rootCmd = &cobra.Command{
	Use:   "rudp-node [config-path]",
	Short: "Reliable UDP echo and probe node",
	Run: func(_ *cobra.Command, args []string) {
		cfg.args = args

		cfg.startProfiler().
			startLogger().
			readConfig().
			runNode().
			waitOsSignals().
			stopNode()
	},
	Version: node.Version,
}

func init() {
	cfg = &runCfg{}
	rootCmd.Flags().StringVarP(&cfg.syslogAddr, "syslog", "", "none", "syslog server address. E.g. localhost:514")
	rootCmd.Flags().StringVarP(&cfg.tag, "tag", "", "rudp", "logging tag")
	rootCmd.Flags().BoolVarP(&cfg.cfgFromStdin, "stdin", "i", false, "read config from STDIN")
	rootCmd.Flags().StringVarP(&cfg.profileMode, "profile", "p", "none", "enable profiling with pprof. Mode:  none or one of: [cpu, mem, mutex, block, trace, http]")
	rootCmd.Flags().StringVarP(&cfg.port, "port", "", "6060", "port for http-mode of pprof")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func (cfg *runCfg) startProfiler() *runCfg {
	var option func(*profile.Profile)
	switch cfg.profileMode {
	case "none":
		cfg.profileStop = func() {}
		return cfg
	case "http":
		go func() {
			log.Println(http.ListenAndServe(fmt.Sprintf("localhost:%v", cfg.port), nil))
		}()
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
		log.Fatalf("Unknown profile mode %q", cfg.profileMode)
	}
	cfg.profileStop = profile.Start(profile.ProfilePath("./logs/"+cfg.tag), option).Stop
	return cfg
}

func (cfg *runCfg) startLogger() *runCfg {
	cfg.masterLogger = node.NewTaggedMasterLogger("["+cfg.tag+"]", logrus.InfoLevel)
	cfg.logger = cfg.masterLogger.PackageLogger(cfg.tag)

	if cfg.syslogAddr != "none" {
		hook, err := logrus_syslog.NewSyslogHook("udp", cfg.syslogAddr, syslog.LOG_INFO, cfg.tag)
		if err != nil {
			cfg.logger.Error("Unable to connect to syslog daemon:", err)
		} else {
			cfg.masterLogger.AddHook(hook)
			cfg.masterLogger.Out = ioutil.Discard
		}
	}
	return cfg
}

func (cfg *runCfg) readConfig() *runCfg {
	var rdr io.Reader
	if !cfg.cfgFromStdin {
		configPath, err := pathutil.FindConfigPath(cfg.args, 0, configEnv, pathutil.NodeDefaults())
		if err != nil {
			cfg.logger.Fatalf("Failed to find config: %s", err)
		}
		f, err := os.Open(configPath) // nolint: gosec
		if err != nil {
			cfg.logger.Fatalf("Failed to open config: %s", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				cfg.logger.WithError(err).Warn("Failed to close config file")
			}
		}()
		rdr = f
	} else {
		cfg.logger.Info("Reading config from STDIN")
		rdr = bufio.NewReader(os.Stdin)
	}

	cfg.conf = node.DefaultConfig()
	if err := json.NewDecoder(rdr).Decode(&cfg.conf); err != nil {
		cfg.logger.Fatalf("Failed to decode config: %s", err)
	}

	if cfg.conf.LogLevel != "" {
		lvl, err := logging.LevelFromString(cfg.conf.LogLevel)
		if err != nil {
			cfg.logger.Fatalf("Invalid log level: %s", err)
		}
		cfg.masterLogger.SetLevel(lvl)
	}
	if cfg.conf.LogFile != "" {
		cfg.masterLogger.Out = &lumberjack.Logger{
			Filename:   cfg.conf.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		}
	}
	return cfg
}

func (cfg *runCfg) runNode() *runCfg {
	sock, err := socket.Listen("udp", cfg.conf.ListenAddr)
	if err != nil {
		cfg.logger.Fatal("Failed to listen: ", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	n, err := node.New(&cfg.conf, sock, cfg.masterLogger, reg)
	if err != nil {
		cfg.logger.Fatal("Failed to initialize node: ", err)
	}
	cfg.node = n
	cfg.served = serve(n)

	if cfg.conf.HTTPAddr != "" {
		cfg.httpSrv = &http.Server{
			Addr:    cfg.conf.HTTPAddr,
			Handler: n.Handler(reg, httpmetrics.NewPrometheus(reg, "rudp_api")),
		}
		go func() {
			cfg.logger.Infof("Serving HTTP on %s", cfg.conf.HTTPAddr)
			if err := cfg.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				cfg.logger.Fatal("Failed to serve HTTP: ", err)
			}
		}()
	}

	if cfg.conf.ShutdownTimeout == 0 {
		cfg.conf.ShutdownTimeout = defaultShutdownTimeout
	}
	return cfg
}

func serve(n *node.Node) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- n.Serve(context.Background())
		close(ch)
	}()
	return ch
}

func (cfg *runCfg) stopNode() *runCfg {
	defer cfg.profileStop()

	if cfg.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.conf.ShutdownTimeout))
		defer cancel()
		if err := cfg.httpSrv.Shutdown(ctx); err != nil {
			cfg.logger.WithError(err).Warn("Failed to shut down HTTP server")
		}
	}
	if err := cfg.node.Close(); err != nil {
		cfg.logger.Fatal("Failed to close node: ", err)
	}
	if err := <-cfg.served; err != nil {
		cfg.logger.WithError(err).Warn("Node stopped with error")
	}
	return cfg
}

func (cfg *runCfg) waitOsSignals() *runCfg {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)
	select {
	case <-ch:
	case err := <-cfg.served:
		cfg.logger.Fatal("Node stopped serving: ", err)
	}
	go func() {
		select {
		case <-time.After(time.Duration(cfg.conf.ShutdownTimeout)):
			cfg.logger.Fatal("Timeout reached: terminating")
		case s := <-ch:
			cfg.logger.Fatalf("Received signal %s: terminating", s)
		}
	}()
	return cfg
}
