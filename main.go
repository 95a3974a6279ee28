package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driftcanvas/blob"
	"driftcanvas/config"
	"driftcanvas/events"
	"driftcanvas/handlers/api/assets"
	"driftcanvas/handlers/api/canvases"
	"driftcanvas/handlers/api/generate"
	"driftcanvas/handlers/api/quota"
	"driftcanvas/handlers/auth"
	appMiddleware "driftcanvas/middleware"
	"driftcanvas/providers"
	"driftcanvas/schema"
	"driftcanvas/stores"
	"driftcanvas/telemetry"
	"driftcanvas/uploads"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(store stores.Store, gateway *uploads.Gateway, registry *providers.Registry, publisher events.Publisher, throttle *appMiddleware.Throttle, cfg config.Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(appMiddleware.Correlation)
	r.Use(throttle.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-Correlation-Id", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AuthJWT)

			r.Route("/canvases", func(r chi.Router) {
				r.Get("/", canvases.HandleListCanvases(store))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", canvases.HandleGetCanvas(store))
					r.Put("/", canvases.HandleSaveCanvas(store, publisher))
					r.Delete("/", canvases.HandleDeleteCanvas(store))
				})
			})

			r.Route("/assets", func(r chi.Router) {
				r.Post("/", assets.HandleUpload(gateway, cfg.MaxUploadBytes))
				r.Get("/", assets.HandleListAssets(gateway))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", assets.HandleGetAsset(gateway))
					r.Delete("/", assets.HandleDeleteAsset(gateway))
					r.Get("/file", assets.HandleGetFile(gateway))
					r.Get("/thumbnail", assets.HandleGetThumbnail(gateway))
				})
			})

			r.Route("/generate", func(r chi.Router) {
				r.Post("/image", generate.HandleGenerateImage(registry, gateway, publisher))
				r.Post("/video", generate.HandleGenerateVideo(registry, gateway, publisher))
			})

			r.Get("/quota", quota.HandleGetQuota(gateway))
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	return r
}

func setupSocketIO() *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	ioo := socketio.NewServer(nil, opts)

	ioo.On("connection", func(clients ...any) {
		socket := clients[0].(*socketio.Socket)
		me := socket.Id()
		myRoom := socketio.Room(me)
		ioo.To(myRoom).Emit("init-collab")
		socket.On("join-project", func(datas ...any) {
			room := socketio.Room(datas[0].(string))
			logrus.WithFields(logrus.Fields{"socket": me, "project": room}).Debug("Socket joined project")
			socket.Join(room)
			ioo.In(room).FetchSockets()(func(usersInRoom []*socketio.RemoteSocket, _ error) {
				if len(usersInRoom) <= 1 {
					ioo.To(myRoom).Emit("first-in-project")
				} else {
					socket.Broadcast().To(room).Emit("collaborator-joined", me)
				}

				// Inform everyone in the project about the current member set.
				members := []socketio.SocketId{}
				for _, user := range usersInRoom {
					members = append(members, user.Id())
				}
				ioo.In(room).Emit(
					"project-user-change",
					members,
				)
			})
		})
		socket.On("project-broadcast", func(datas ...any) {
			projectID := datas[0].(string)
			logrus.WithFields(logrus.Fields{"socket": me, "project": projectID}).Debug("Relay project update")
			socket.Broadcast().To(socketio.Room(projectID)).Emit("project-update", datas[1:]...)
		})
		socket.On("project-volatile-broadcast", func(datas ...any) {
			projectID := datas[0].(string)
			socket.Volatile().Broadcast().To(socketio.Room(projectID)).Emit("project-update", datas[1:]...)
		})
		socket.On("disconnecting", func(datas ...any) {
			for _, currentRoom := range socket.Rooms().Keys() {
				ioo.In(currentRoom).FetchSockets()(func(usersInRoom []*socketio.RemoteSocket, _ error) {
					remaining := []socketio.SocketId{}
					for _, userInRoom := range usersInRoom {
						if userInRoom.Id() != me {
							remaining = append(remaining, userInRoom.Id())
						}
					}
					if len(remaining) > 0 {
						ioo.In(currentRoom).Emit(
							"project-user-change",
							remaining,
						)
					}
				})
			}
		})
		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})
	return ioo
}

func waitForShutdown(ioo *socketio.Server, cleanup func()) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down")
	ioo.Close(nil)
	cleanup()
	os.Exit(0)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if _, err := telemetry.InitTracer("driftcanvas"); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize tracing")
	}

	cfg := config.FromEnv()
	auth.InitAuth()

	store := stores.GetStore()
	blobs := blob.GetStore()
	publisher := events.NewPublisherFromEnv()

	validator, err := schema.NewValidator()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to compile schemas")
	}

	limiter := uploads.NewRateLimiter(cfg.UploadsPerMinute, cfg.UploadsPerHour)
	limiter.Start()

	gateway := uploads.NewGateway(cfg, store, store, blobs, limiter, publisher, validator)
	registry := providers.FromEnv()
	throttle := appMiddleware.NewThrottle(cfg.RequestsPerSecond, cfg.RequestBurst)

	r := setupRouter(store, gateway, registry, publisher, throttle, cfg)

	ioo := setupSocketIO()
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, func() {
		limiter.Stop()
		throttle.Stop()
		if err := publisher.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close event publisher")
		}
		if closer, ok := store.(interface{ Close() }); ok {
			closer.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	})
}
