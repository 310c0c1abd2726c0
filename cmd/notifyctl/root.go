package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/notifysync/notifysync/internal/config"
	"github.com/notifysync/notifysync/internal/notification"
	"github.com/notifysync/notifysync/internal/notify"
	"github.com/notifysync/notifysync/internal/provider/resilience"
	"github.com/notifysync/notifysync/internal/registration"
	"github.com/notifysync/notifysync/internal/store"
	"github.com/notifysync/notifysync/internal/transport"
)

// options holds the global flags and the configuration they override.
type options struct {
	envFile     string
	baseURL     string
	userID      string
	token       string
	storePath   string
	deviceToken string
	platform    string
	verbose     bool

	cfg config.ClientConfig
}

func newRootCmd() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:           "notifyctl",
		Short:         "Drive a notifysync backend from the command line",
		Long:          "notifyctl registers this machine as a push device and manages the in-app notification feed of one user.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&o.baseURL, "base-url", "", "backend API root (NOTIFYSYNC_BASE_URL)")
	flags.StringVar(&o.userID, "user", "", "user id (NOTIFYSYNC_USER_ID)")
	flags.StringVar(&o.token, "token", "", "bearer token (NOTIFYSYNC_BEARER_TOKEN)")
	flags.StringVar(&o.storePath, "store", "", "registration store file (NOTIFYSYNC_STORE_PATH)")
	flags.StringVar(&o.deviceToken, "device-token", "", "push token to register (NOTIFYSYNC_DEVICE_TOKEN)")
	flags.StringVar(&o.platform, "platform", "", "ios or android (NOTIFYSYNC_PLATFORM)")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "log client activity to stderr")

	cmd.AddCommand(
		newRegisterCmd(o),
		newUnregisterCmd(o),
		newStatusCmd(o),
		newFeedCmd(o),
		newReadCmd(o),
		newDeleteCmd(o),
		newPrefsCmd(o),
		newWatchCmd(o),
	)

	return cmd
}

// load reads configuration and applies flags that were set explicitly.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return err
	}
	o.cfg = cfg.Client

	flags := cmd.Flags()
	override := func(name string, dst *string, value string) {
		if flags.Changed(name) {
			*dst = value
		}
	}
	override("base-url", &o.cfg.BaseURL, o.baseURL)
	override("user", &o.cfg.UserID, o.userID)
	override("token", &o.cfg.BearerToken, o.token)
	override("store", &o.cfg.StorePath, o.storePath)
	override("device-token", &o.cfg.DeviceToken, o.deviceToken)
	override("platform", &o.cfg.Platform, o.platform)

	if o.cfg.UserID == "" {
		return errors.New("a user id is required (--user or NOTIFYSYNC_USER_ID)")
	}
	if o.cfg.BearerToken == "" {
		return errors.New("a bearer token is required (--token or NOTIFYSYNC_BEARER_TOKEN)")
	}
	return nil
}

func (o *options) logger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.WarnLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// session is one started aggregator backed by the on-disk registration store.
type session struct {
	agg    *notify.Aggregator
	store  *store.SQLite
	logger zerolog.Logger
}

// sessionOptions tune the aggregator for the command being run.
type sessionOptions struct {
	autoRegister bool
}

func (o *options) open(cmd *cobra.Command, so sessionOptions) (*session, error) {
	ctx := cmd.Context()
	logger := o.logger(cmd)

	st, err := store.OpenSQLite(ctx, o.cfg.StorePath)
	if err != nil {
		return nil, err
	}

	health := resilience.NewRegistry()
	rc := resilience.DefaultClientConfig(transport.ClientName)
	rc.Timeout = o.cfg.RequestTimeout
	rc.Registry = health

	backend := transport.NewClient(transport.ClientConfig{
		BaseURL: o.cfg.BaseURL,
		Credentials: transport.StaticCredentials{
			UserID:      o.cfg.UserID,
			BearerToken: o.cfg.BearerToken,
		},
		HTTPClient: resilience.NewClient(rc),
		UserAgent:  "notifyctl/" + Version,
		Logger:     logger.With().Str("component", "transport").Logger(),
	})

	// A command-line client has no OS prompt, so permission is taken as granted.
	messaging := registration.NewStaticMessaging(registration.StaticMessagingConfig{
		Token:      o.cfg.DeviceToken,
		Physical:   true,
		Permission: registration.PermissionGranted,
	})

	delay := time.Duration(-1)
	if so.autoRegister {
		delay = o.cfg.AutoRegisterDelay
	}

	hostname, _ := os.Hostname() //nolint:errcheck // device name is cosmetic

	agg := notify.New(notify.Config{
		Backend:   backend,
		Store:     st,
		Messaging: messaging,
		Build: registration.BuildInfo{
			OS:         o.cfg.Platform,
			Sandbox:    o.cfg.Sandbox,
			DeviceName: hostname,
			AppVersion: Version,
		},
		PageSize:          o.cfg.PageSize,
		PollInterval:      o.cfg.PollInterval,
		AutoRegisterDelay: delay,
		SyncBadge:         o.cfg.SyncBadge,
		Health:            health,
		Logger:            logger,
	})

	if err := agg.Start(ctx); err != nil {
		agg.Stop()
		_ = st.Close() //nolint:errcheck // already failing
		return nil, err
	}

	return &session{agg: agg, store: st, logger: logger}, nil
}

func (s *session) Close() {
	s.agg.Stop()
	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("closing registration store failed")
	}
}

// requireFeed returns the initial fetch error, if any.
func (s *session) requireFeed() error {
	return s.agg.Snapshot().Feed.LastError
}

func parseCategory(raw string) (*notification.Category, error) {
	if raw == "" {
		return nil, nil
	}
	c := notification.Category(raw)
	if !c.Valid() {
		return nil, fmt.Errorf("unknown category %q", raw)
	}
	return &c, nil
}
