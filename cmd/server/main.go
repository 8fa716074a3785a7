//	@title			IMHO API
//	@version		1.0
//	@description	Self-hosted image host: authenticated uploads, shareable URLs, per-user management.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-Auth-Key
//	@description				Per-user API key, e.g. **ky-user-...**

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/SnowBall-Bqiu/IMHO/docs"
	"github.com/SnowBall-Bqiu/IMHO/internal/auditlog"
	"github.com/SnowBall-Bqiu/IMHO/internal/config"
	"github.com/SnowBall-Bqiu/IMHO/internal/db"
	"github.com/SnowBall-Bqiu/IMHO/internal/keystore"
	"github.com/SnowBall-Bqiu/IMHO/internal/ledger"
	appMiddleware "github.com/SnowBall-Bqiu/IMHO/internal/middleware"
	"github.com/SnowBall-Bqiu/IMHO/internal/session"
	"github.com/SnowBall-Bqiu/IMHO/internal/storage"
	"github.com/SnowBall-Bqiu/IMHO/internal/upload"
	"github.com/SnowBall-Bqiu/IMHO/internal/urls"
	"github.com/SnowBall-Bqiu/IMHO/internal/validate"
)

func main() {
	cfg := config.Load()

	audit, err := auditlog.New(cfg.LogDir)
	if err != nil {
		log.Fatalf("audit log init failed: %v", err)
	}
	defer audit.Close()
	if err := audit.Purge(cfg.LogRetentionDays); err != nil {
		log.Printf("audit log purge failed: %v", err)
	}

	keys, err := buildKeystore(cfg)
	if err != nil {
		log.Fatalf("keystore init failed: %v", err)
	}

	store, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	ldg, err := ledger.New(cfg.RecordsDir, ledger.WithLockTimeout(cfg.LockTimeout))
	if err != nil {
		log.Fatalf("ledger init failed: %v", err)
	}

	resolver := urls.NewResolver(cfg.BaseURL, cfg.ReturnURLMap)
	policy := validate.Policy{MaxFileSize: cfg.MaxFileSize, Types: cfg.SupportedTypes}
	sessions := session.NewManager(cfg.SessionSecret, cfg.SessionTTL, keys)

	// Wire dependencies: service → handler
	uploadSvc := upload.NewService(policy, store, ldg, resolver, audit)
	uploadHandler := upload.NewHandler(uploadSvc)
	sessionHandler := session.NewHandler(sessions, keys, cfg.SessionTTL)
	keyHandler := keystore.NewHandler(keys)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI — available at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Public file serving (disk-backed installs; object-storage installs
	// usually serve straight from the bucket).
	r.Get("/i/{filename}", uploadHandler.ServeFile)

	// HTTP API, key-authenticated
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Auth-Key"},
			MaxAge:         300,
		}))
		r.With(appMiddleware.RequireAPIKey(keys)).Post("/api/upload", uploadHandler.APIUpload)
	})

	// Web channel: login once, session token afterwards
	r.Post("/login", sessionHandler.Login)
	r.Post("/logout", sessionHandler.Logout)
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.RequireSession(sessions, keys))
		r.Post("/upload", uploadHandler.WebUpload)
		r.Get("/files", uploadHandler.ListFiles)
		r.Post("/delete", uploadHandler.Delete)

		r.Route("/admin", func(r chi.Router) {
			r.Use(appMiddleware.RequireAdmin)
			r.Get("/keys", keyHandler.ListKeys)
			r.Post("/keys", keyHandler.CreateKey)
			r.Post("/keys/disable", keyHandler.DisableKey)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Minute, // uploads can be slow on bad links
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("server listening on :%s (env=%s, storage=%s, keystore=%s)",
			cfg.Port, cfg.AppEnv, cfg.StorageBackend, cfg.KeystoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}

	log.Println("server stopped")
}

// buildKeystore selects the key store backend. The memory backend is seeded
// with the bootstrap admin key from configuration.
func buildKeystore(cfg *config.Config) (keystore.Store, error) {
	switch cfg.KeystoreBackend {
	case "postgres":
		pool, err := db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		return keystore.NewPostgresStore(pool), nil
	default:
		store := keystore.NewMemoryStore()
		if cfg.AdminAPIKey != "" {
			store.Seed(cfg.AdminAPIKey, "admin", "admin", keystore.RoleAdmin)
		} else {
			log.Println("WARNING: no ADMIN_API_KEY set; the memory keystore starts empty")
		}
		return store, nil
	}
}

// buildStorage selects the stored-file backend.
func buildStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewMinioStorage(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	default:
		return storage.NewDiskStorage(cfg.UploadDir)
	}
}
