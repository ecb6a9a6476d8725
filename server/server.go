package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-martini/martini"
	"github.com/hellofresh/health-go/v5"
	"github.com/martini-contrib/binding"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/russross/wimslti/grades"
	"github.com/russross/wimslti/lti"
	"github.com/russross/wimslti/notify"
	"github.com/russross/wimslti/provision"
	"github.com/russross/wimslti/store"
	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
	"github.com/sirupsen/logrus"
)

// App holds everything the request handlers and sweeps share.
type App struct {
	Store     *store.Store
	Engine    *provision.Engine
	Relay     *grades.Relay
	Verifier  *lti.Verifier
	ClientFor wims.ClientFunc
	PublicURL string
	Log       logrus.FieldLogger

	relayJob *sweep
	pruneJob *sweep
}

func main() {
	root = os.Getenv("WIMSLTIROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logrus.Fatalf("WIMSLTIROOT is not set, and cannot find user's home directory")
		}
		root = filepath.Join(home, "wimslti")
	}

	var configPath string
	flag.StringVar(&configPath, "config", filepath.Join(root, "wimslti.cfg"), "path to the config file")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	Config = cfg
	if err := setupLogging(&Config); err != nil {
		logrus.Fatalf("setting up logging: %v", err)
	}
	logrus.WithField("root", root).Info("WIMSLTIROOT set")

	st, err := store.Open(Config.Server.SQLite3Path)
	if err != nil {
		logrus.Fatalf("error opening database: %v", err)
	}
	defer st.Close()

	var sender notify.Sender
	if Config.Mail.Enabled {
		sender = notify.NewMailer(Config.Mail.Host, Config.Mail.Port, Config.Mail.Username, Config.Mail.Password, Config.Mail.From)
	}
	teacherRoles, _ := Config.teacherRoles()
	timeout := Config.wimsTimeout()

	app := NewApp(st, sender, func(srv *WimsServer) wims.Client { return wims.New(srv, timeout) }, logrus.StandardLogger())
	app.Engine.TeacherRoles = teacherRoles

	scheduler, err := app.schedule(Config.Server.RelaySchedule, Config.Server.PruneSchedule)
	if err != nil {
		logrus.Fatalf("scheduling sweeps: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	m, err := app.Martini()
	if err != nil {
		logrus.Fatalf("setting up routes: %v", err)
	}

	// note: this will work behind a TLS proxy, but LMSes sign the public
	// https URL, so publicURL must name what they see
	addr := ":" + strconv.Itoa(Config.Server.Port)
	logrus.Infof("accepting http connections on %s", addr)
	if err := http.ListenAndServe(addr, m); err != nil {
		logrus.Fatalf("ListenAndServe: %v", err)
	}
}

// NewApp wires the engines around a store.
func NewApp(st *store.Store, sender notify.Sender, clientFor wims.ClientFunc, log logrus.FieldLogger) *App {
	app := &App{
		Store:     st,
		Engine:    &provision.Engine{Store: st, Notifier: sender, Log: log},
		Relay:     grades.New(st, log),
		ClientFor: clientFor,
		PublicURL: Config.Server.PublicURL,
		Log:       log,
	}
	app.Verifier = &lti.Verifier{Secrets: lti.SecretFunc(app.consumerSecret)}
	app.relayJob = &sweep{name: "relay", log: log, run: func(ctx context.Context) (int, error) {
		return app.Relay.Sweep(ctx, app.ClientFor)
	}}
	app.pruneJob = &sweep{name: "prune", log: log, run: func(ctx context.Context) (int, error) {
		return app.Engine.PruneClasses(ctx, app.ClientFor)
	}}
	return app
}

func (a *App) consumerSecret(key string) (string, error) {
	lms, err := a.Store.LmsByKey(key)
	if errors.Is(err, store.ErrNotFound) {
		return "", lti.ErrUnknownConsumer
	}
	if err != nil {
		return "", err
	}
	return lms.OAuthSecret, nil
}

// Martini builds the router and middleware stack.
func (a *App) Martini() (*martini.Martini, error) {
	r := martini.NewRouter()
	m := martini.New()
	m.Logger(log.New(logrus.StandardLogger().WriterLevel(logrus.DebugLevel), "", 0))
	m.Use(martini.Recovery())
	m.Use(counter)
	m.MapTo(r, (*martini.Routes)(nil))
	m.Action(r.Handle)

	healthCheck, err := health.New(
		health.WithComponent(health.Component{Name: "wimslti", Version: CurrentVersion.Version}),
		health.WithChecks(health.Config{
			Name:    "sqlite",
			Timeout: 5 * time.Second,
			Check: func(ctx context.Context) error {
				return a.Store.DB().PingContext(ctx)
			},
		}),
	)
	if err != nil {
		return nil, err
	}

	// launches answer with redirects or plain text, so they skip gzip and render
	for _, pattern := range []string{"/lti/:server_id", "/lti/:server_id/sheets/:activity_id", "/lti/:server_id/exams/:activity_id"} {
		r.Get(pattern, LaunchGet)
	}
	r.Post("/lti/:server_id", a.launchHandler(""))
	r.Post("/lti/:server_id/sheets/:activity_id", a.launchHandler(KindSheet))
	r.Post("/lti/:server_id/exams/:activity_id", a.launchHandler(KindExam))

	r.Get("/health", healthCheck.HandlerFunc)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	rendered := []martini.Handler{mgzip.All(), render.Renderer(render.Options{IndentJSON: false})}
	with := func(handlers ...martini.Handler) []martini.Handler {
		return append(append([]martini.Handler{}, rendered...), handlers...)
	}

	// version
	r.Get("/v2/version", with(func(render render.Render) {
		render.JSON(http.StatusOK, &CurrentVersion)
	})...)

	// admin session
	r.Post("/v2/admin/session", with(binding.Bind(AdminLogin{}), PostAdminSession)...)
	r.Delete("/v2/admin/session", with(DeleteAdminSession)...)

	// listings
	r.Get("/v2/lms", with(adminOnly, a.GetLmsList)...)
	r.Get("/v2/lms/:lms_id/servers", with(adminOnly, a.GetLmsServers)...)
	r.Get("/v2/servers/:server_id/lms/:lms_id/classes", with(adminOnly, a.GetClasses)...)
	r.Get("/v2/classes/:class_id/activities", with(adminOnly, a.GetClassActivities)...)

	// sweeps on demand
	r.Post("/v2/admin/relay", with(adminOnly, a.PostRelay)...)
	r.Post("/v2/admin/prune", with(adminOnly, a.PostPrune)...)

	return m, nil
}

// martini service: require an admin session
func adminOnly(w http.ResponseWriter, r *http.Request) {
	if _, err := GetSession(r); err != nil {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "authentication failed: %v", err)
	}
}

func loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	entry := logrus.WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Info(msg)
	}
	http.Error(w, msg, status)
	return fmt.Errorf("%s", msg)
}

func parseID(w http.ResponseWriter, name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing %s from URL: %v", name, err)
	}
	if id < 1 {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "invalid ID in URL: %s must be 1 or greater", name)
	}
	return id, nil
}

// loggedHTTPDBError reports a store failure, mapping a missing row to 404.
func loggedHTTPDBError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		loggedHTTPErrorf(w, http.StatusNotFound, "%s not found", what)
		return
	}
	loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
}
