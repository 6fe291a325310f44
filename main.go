package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RjRaju143/Remote-Commander/internal/auth"
	"github.com/RjRaju143/Remote-Commander/internal/config"
	"github.com/RjRaju143/Remote-Commander/internal/database"
	"github.com/RjRaju143/Remote-Commander/internal/handlers"
	"github.com/RjRaju143/Remote-Commander/internal/logging"
	"github.com/RjRaju143/Remote-Commander/internal/middleware"
	"github.com/RjRaju143/Remote-Commander/internal/shell"
	"github.com/RjRaju143/Remote-Commander/internal/vault"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		case "--generate-key":
			fmt.Println(vault.GenerateKey())
			return
		}
	}

	config.Load()
	logging.Init(config.Cfg.LogPath)

	// The vault must be usable before any credential-bearing endpoint is
	// served; a missing key is a configuration error, not a runtime one.
	v, err := vault.Open(config.Cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Encryption key init: %v (generate one with --generate-key)", err)
	}
	handlers.Vault = v

	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	connectTimeout, err := time.ParseDuration(config.Cfg.ConnectTimeout)
	if err != nil {
		connectTimeout = shell.DefaultConnectTimeout
	}
	idleTimeout, err := time.ParseDuration(config.Cfg.ShellIdleTimeout)
	if err != nil {
		idleTimeout = 30 * time.Minute
	}

	registry := shell.NewRegistry()
	shellHandler := handlers.NewShell(registry, connectTimeout)
	log.Printf("Shell registry initialized (connect_timeout=%s, idle_timeout=%s)", connectTimeout, idleTimeout)

	sessionStore := auth.NewSessionStore()
	handlers.SessionStore = sessionStore

	// Background cleanup of expired logins and abandoned shell sessions.
	jobs := cron.New()
	jobs.AddFunc("@every 10m", sessionStore.Cleanup)
	jobs.AddFunc("@every 1m", func() {
		if n := registry.CleanupIdle(idleTimeout); n > 0 {
			log.Printf("Cleaned up %d idle shell sessions", n)
		}
	})
	jobs.Start()
	defer jobs.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", shellHandler.Health)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", handlers.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			// Servers
			r.Get("/servers", handlers.ListServers)
			r.Post("/servers", handlers.CreateServer)
			r.Get("/servers/{id}", handlers.GetServer)
			r.Put("/servers/{id}", handlers.UpdateServer)
			r.Delete("/servers/{id}", handlers.DeleteServer)
			r.Get("/servers/{id}/key", handlers.DownloadServerKey)
			r.Post("/servers/{id}/key/generate", handlers.GenerateServerKey)

			// Grants
			r.Get("/servers/{id}/grants", handlers.ListGrants)
			r.Put("/servers/{id}/grants", handlers.PutGrant)
			r.Delete("/servers/{id}/grants/{userId}", handlers.DeleteGrant)

			// Shell bridge: WebSocket push and HTTP polling transports
			r.Post("/shell/connect", shellHandler.Connect)
			r.Get("/shell/ws", shellHandler.WebSocket)
			r.Get("/shell/{sessionID}", shellHandler.Poll)
			r.Post("/shell/{sessionID}/input", shellHandler.Input)
			r.Post("/shell/{sessionID}/resize", shellHandler.Resize)
			r.Post("/shell/{sessionID}/disconnect", shellHandler.Disconnect)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/users", handlers.ListUsers)
				r.Post("/users", handlers.CreateUser)
				r.Delete("/users/{userId}", handlers.DeleteUser)
			})
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: rcmd --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:     *username,
			PasswordHash: hash,
			Role:         "admin",
		}
		if err := database.CreateUser(database.DB, user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(database.DB, *username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(database.DB, user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'.\n", *username)
	}
}
