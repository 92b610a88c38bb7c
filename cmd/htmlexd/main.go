// Command htmlexd is the demo fixture server: it serves a seed HTML
// document carrying htmlex attributes, dispatches engine events over
// plain HTTP endpoints that stand in for a browser's own event
// listeners, and streams engine signal-bus activity to connected
// clients over server-sent events. It exists to give the engine
// packages a concrete host to run under, the way the teacher's own
// cmd binary hosts its application package.
package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"

	"github.com/monstercameron/htmlex-go/cache"
	"github.com/monstercameron/htmlex-go/config"
	"github.com/monstercameron/htmlex-go/domupdate"
	"github.com/monstercameron/htmlex-go/fetchclient"
	"github.com/monstercameron/htmlex-go/hooks"
	"github.com/monstercameron/htmlex-go/jobs"
	"github.com/monstercameron/htmlex-go/logging"
	"github.com/monstercameron/htmlex-go/poll"
	"github.com/monstercameron/htmlex-go/registry"
	"github.com/monstercameron/htmlex-go/scheduler"
	"github.com/monstercameron/htmlex-go/secure"
	"github.com/monstercameron/htmlex-go/signalbus"
	"github.com/monstercameron/htmlex-go/ssr"
	"github.com/monstercameron/htmlex-go/urlstate"
)

const seedDocument = `<!doctype html>
<html>
<head><title>htmlex-go fixture</title></head>
<body>
  <div id="todos"></div>
  <button target="#todos(innerHTML)" get="/api/todos">Load todos</button>
  <div id="status" subscribe="step-done">waiting</div>
</body>
</html>`

func main() {
	var (
		listenAddr = pflag.String("listen", "", "override the listen address")
		devMode    = pflag.Bool("dev", false, "relax security headers for local development")
	)
	pflag.Parse()

	opts := []config.Option{}
	if *listenAddr != "" {
		opts = append(opts, config.WithListenAddr(*listenAddr))
	}
	if *devMode {
		opts = append(opts, config.WithDevMode(true))
	}
	cfg := config.Load(opts...)

	log := logging.System()

	doc, err := domupdate.ParseDocument(strings.NewReader(seedDocument))
	if err != nil {
		log.Errorf("parse seed document: %v", err)
		os.Exit(1)
	}

	base, err := url.Parse("http://" + cfg.ListenAddr)
	if err != nil {
		log.Errorf("parse base url: %v", err)
		os.Exit(1)
	}

	bus := signalbus.New()
	sched := scheduler.New()
	hist := urlstate.NewHistory(base)
	hookReg := hooks.NewRegistry()

	httpClient := &http.Client{Timeout: cfg.DefaultTimeout}
	fetch := fetchclient.New(httpClient, cache.New(), doc, bus, sched, hookReg, hist, base)

	engine := registry.New(doc, fetch, bus, sched)

	// A Redis-backed jobs.Runtime gives every poll binding a durable,
	// restart-surviving tick chain via poll.AsynqDriver instead of the
	// default in-memory ticker; see buffkit.go's own
	// cfg.RedisURL-conditional runtime construction.
	var jobsRuntime *jobs.Runtime
	if cfg.RedisURL != "" {
		rt, err := jobs.NewRuntime(cfg.RedisURL)
		if err != nil {
			log.Errorf("jobs runtime: %v", err)
			os.Exit(1)
		}
		jobsRuntime = rt
		engine.PollDriver = func(id string) poll.Driver {
			return poll.NewAsynqDriver(rt, id)
		}
		if err := rt.Start(); err != nil {
			log.Errorf("jobs runtime start: %v", err)
			os.Exit(1)
		}
	}

	engine.Initialize()

	broker := ssr.NewBroker()
	defer broker.Shutdown()
	broker.AttachToBus(bus, "step-done")

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(secure.Middleware(secure.Options{DevMode: cfg.DevMode}))

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		out, err := doc.Render()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(out))
	})

	r.Get("/events", broker.ServeHTTP)

	r.Get("/api/todos", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<fragment target="#todos(innerHTML)"><ul><li>buy milk</li><li>write tests</li></ul></fragment>`))
	})

	// fire dispatches an event against an element identified by a CSS
	// selector, the headless substitute for a browser delivering a
	// real DOM event to a listener.
	r.Post("/fire", func(w http.ResponseWriter, req *http.Request) {
		sel := req.URL.Query().Get("selector")
		evt := req.URL.Query().Get("event")
		if sel == "" || evt == "" {
			http.Error(w, "selector and event query params required", http.StatusBadRequest)
			return
		}
		sel2, err := doc.Query(sel)
		if err != nil || sel2.Length() == 0 {
			http.Error(w, "no matching element", http.StatusNotFound)
			return
		}
		if err := engine.Fire(req.Context(), sel2.Nodes[0], evt, sel2.Nodes[0]); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("htmlexd listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if jobsRuntime != nil {
		_ = jobsRuntime.Stop()
	}
	logging.Sync()
}
