package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	backendMemory    = "memory"
	backendSQLite    = "sqlite"
	backendBroker    = "broker"
	backendFirestore = "firestore"
	backendPostgres  = "postgres"
)

type Config struct {
	backend             string
	bind                string
	commandBurst        int
	commandRate         float64
	firestoreCollection string
	firestoreEmulator   string
	firestoreProject    string
	pollInterval        time.Duration
	port                int
	postgresURL         string
	prefix              string
	profile             bool
	roomTimeout         time.Duration
	sqlitePath          string
	tlsCert             string
	tlsKey              string
	verbose             bool
	version             bool

	logger *zap.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid poll interval (must be positive): %s", c.pollInterval)
	}
	if c.commandRate <= 0 || c.commandBurst < 1 {
		return errors.New("--command-rate must be positive and --command-burst at least 1")
	}

	switch c.backend {
	case backendMemory, backendBroker:
	case backendSQLite:
		if c.sqlitePath == "" {
			return errors.New("--sqlite-path is required with --backend=sqlite")
		}
	case backendFirestore:
		if c.firestoreProject == "" {
			return errors.New("--firestore-project is required with --backend=firestore")
		}
	case backendPostgres:
		if c.postgresURL == "" {
			return errors.New("--postgres-url is required with --backend=postgres")
		}
	default:
		return fmt.Errorf("unknown backend %q (must be one of memory, sqlite, broker, firestore, postgres)", c.backend)
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SANTABOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "santabox",
		Short:         "Secret Santa rooms: collect wishlists, draw matches, reveal only your own.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cfg.logger = logger

			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.backend, "backend", backendMemory, "storage backend: memory, sqlite, broker, firestore, or postgres (env: SANTABOX_BACKEND)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SANTABOX_BIND)")
	fs.IntVar(&cfg.commandBurst, "command-burst", 5, "websocket commands a client may send in a burst (env: SANTABOX_COMMAND_BURST)")
	fs.Float64Var(&cfg.commandRate, "command-rate", 1, "sustained websocket commands per second per client (env: SANTABOX_COMMAND_RATE)")
	fs.StringVar(&cfg.firestoreCollection, "firestore-collection", "rooms", "top-level firestore collection (env: SANTABOX_FIRESTORE_COLLECTION)")
	fs.StringVar(&cfg.firestoreEmulator, "firestore-emulator-host", "", "host:port of a firestore emulator (env: SANTABOX_FIRESTORE_EMULATOR_HOST)")
	fs.StringVar(&cfg.firestoreProject, "firestore-project", "", "google cloud project id (env: SANTABOX_FIRESTORE_PROJECT)")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", 5*time.Second, "how often rooms re-read backends without change notification (env: SANTABOX_POLL_INTERVAL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SANTABOX_PORT)")
	fs.StringVar(&cfg.postgresURL, "postgres-url", "", "postgres connection string (env: SANTABOX_POSTGRES_URL)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SANTABOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SANTABOX_PROFILE)")
	fs.DurationVar(&cfg.roomTimeout, "room-timeout", 60*time.Minute, "time before idle rooms are unloaded from memory (env: SANTABOX_ROOM_TIMEOUT)")
	fs.StringVar(&cfg.sqlitePath, "sqlite-path", "santabox.db", "sqlite database file (env: SANTABOX_SQLITE_PATH)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SANTABOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SANTABOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SANTABOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SANTABOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("santabox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
