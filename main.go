package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MerlinStacks/productdesigner-sub001/handlers"
	"github.com/MerlinStacks/productdesigner-sub001/internal/fonts"
	"github.com/MerlinStacks/productdesigner-sub001/internal/storage"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store/memory"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store/postgres"
	"github.com/MerlinStacks/productdesigner-sub001/internal/surface"
	canvassurface "github.com/MerlinStacks/productdesigner-sub001/internal/surface/canvas"
	"github.com/MerlinStacks/productdesigner-sub001/middleware"
	"github.com/MerlinStacks/productdesigner-sub001/services"
)

var (
	dbPool            *pgxpool.Pool
	docStore          store.DocumentStore
	blobStorage       storage.BlobStorage
	fontResolver      *fonts.Resolver
	checkoutRecorder  *services.CheckoutRecorder
	submissionService *services.SubmissionService
	previewService    *services.PreviewService
	designService     *services.DesignService
	uploadService     *services.UploadService
	publicBaseURL     string
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	publicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost:3333"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Println("DATABASE_URL not set, using in-memory design store")
		docStore = memory.New()
	} else {
		poolConfig, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			log.Fatal("Failed to parse database URL:", err)
		}

		poolConfig.MaxConns = 25
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute
		poolConfig.HealthCheckPeriod = time.Minute

		dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			log.Fatal("Failed to create connection pool:", err)
		}

		if err := dbPool.Ping(ctx); err != nil {
			log.Fatal("Failed to ping database:", err)
		}

		log.Println("Successfully connected to Postgres")
		docStore = postgres.New(dbPool)
	}

	fontDir := os.Getenv("FONT_DIR")
	if fontDir == "" {
		fontDir = "./assets/fonts"
	}
	fontResolver = fonts.NewResolver(fontDir)

	bucket := os.Getenv("FIREBASE_STORAGE_BUCKET")
	if bucket != "" {
		fb, err := storage.NewFirebaseStorage(ctx, "./serviceAccountKey.json", bucket)
		if err != nil {
			log.Printf("Warning: Could not initialize Firebase storage: %v", err)
		} else {
			blobStorage = fb
			log.Println("Firebase storage initialized successfully")
		}
	}
	if blobStorage == nil {
		local, err := storage.NewLocalStorage("./assets/uploads", publicBaseURL+"/assets/uploads")
		if err != nil {
			log.Fatal("Failed to set up local upload storage:", err)
		}
		blobStorage = local
		log.Println("Using local upload storage under ./assets/uploads")
	}

	newSurface := func() surface.Surface {
		return canvassurface.New(fontResolver)
	}

	checkoutRecorder = services.NewCheckoutRecorder()
	submissionService = services.NewSubmissionService(docStore, checkoutRecorder)
	previewService = services.NewPreviewService(fontResolver, newSurface)
	designService = services.NewDesignService(docStore, newSurface)
	uploadService = services.NewUploadService(blobStorage, submissionService)

	middleware.InitPrometheus()
}

func main() {
	defer func() {
		if dbPool != nil {
			log.Println("Closing database connection pool...")
			dbPool.Close()
		}
	}()

	designHandler := handlers.NewDesignHandler(designService, previewService, publicBaseURL)
	sessionHandler := handlers.NewSessionHandler(submissionService, previewService, checkoutRecorder)
	uploadHandler := handlers.NewUploadHandler(uploadService)

	r := mux.NewRouter()

	r.HandleFunc("/api/v1/sessions/ws/{sessionID}", sessionHandler.JoinLive)

	standardRouter := r.PathPrefix("/").Subrouter()

	go middleware.CleanupVisitors()
	go submissionService.CleanupSessions()

	standardRouter.Use(middleware.RateLimitMiddleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))

	assetsDir := "./assets"
	fs := http.FileServer(http.Dir(assetsDir))
	standardRouter.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", fs))
	log.Printf("Serving static files from %s at /assets/", assetsDir)

	standardRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if dbPool != nil {
			if err := dbPool.Ping(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "product-designer-api"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER
	// -------------------------------------------------------------------------
	api := standardRouter.PathPrefix("/api/v1").Subrouter()

	// Customer-facing routes, no auth: the widget runs on the merchant's
	// public product page.
	api.HandleFunc("/designs/{designID}/sessions", sessionHandler.StartSession).Methods("POST")
	api.HandleFunc("/sessions/{sessionID}", sessionHandler.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{sessionID}", sessionHandler.EndSession).Methods("DELETE")
	api.HandleFunc("/sessions/{sessionID}/fields/{index}", sessionHandler.SetFieldValue).Methods("PUT")
	api.HandleFunc("/sessions/{sessionID}/fields/{index}/image", uploadHandler.UploadImage).Methods("POST")
	api.HandleFunc("/sessions/{sessionID}/validate", sessionHandler.ValidateSession).Methods("POST")
	api.HandleFunc("/sessions/{sessionID}/submit", sessionHandler.Submit).Methods("POST")
	api.HandleFunc("/sessions/{sessionID}/checkout", sessionHandler.GetCheckout).Methods("GET")
	api.HandleFunc("/sessions/{sessionID}/fulfillment", sessionHandler.GetFulfillment).Methods("GET")
	api.HandleFunc("/sessions/{sessionID}/preview", sessionHandler.GetPreview).Methods("GET")

	// -------------------------------------------------------------------------
	// PROTECTED AUTHORING ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.MerchantAuthMiddleware)

	protected.HandleFunc("/designs/{designID}/open", designHandler.OpenDesign).Methods("POST")
	protected.HandleFunc("/designs/{designID}", designHandler.GetDesign).Methods("GET")
	protected.HandleFunc("/designs/{designID}/close", designHandler.CloseDesign).Methods("POST")
	protected.HandleFunc("/designs/{designID}/save-status", designHandler.GetSaveStatus).Methods("GET")
	protected.HandleFunc("/designs/{designID}/preview", designHandler.GetDesignPreview).Methods("GET")
	protected.HandleFunc("/designs/{designID}/share-qr", designHandler.GetShareQR).Methods("GET")
	protected.HandleFunc("/designs/{designID}/objects", designHandler.AddObject).Methods("POST")
	protected.HandleFunc("/designs/{designID}/objects/{index}", designHandler.UpdateObject).Methods("PUT")
	protected.HandleFunc("/designs/{designID}/objects/{index}", designHandler.DeleteObject).Methods("DELETE")
	protected.HandleFunc("/designs/{designID}/objects/{index}/move", designHandler.MoveObject).Methods("POST")
	protected.HandleFunc("/designs/{designID}/objects/{index}/transform", designHandler.SetTransform).Methods("PUT")
	protected.HandleFunc("/designs/{designID}/objects/{index}/visibility", designHandler.SetVisibility).Methods("PUT")
	protected.HandleFunc("/designs/{designID}/objects/{index}/lock", designHandler.SetLock).Methods("PUT")
	protected.HandleFunc("/designs/{designID}/active-object", designHandler.SetActiveObject).Methods("PUT")
	protected.HandleFunc("/designs/{designID}/active-object", designHandler.DeleteActiveObject).Methods("DELETE")
	protected.HandleFunc("/designs/{designID}/templates", designHandler.SaveTemplate).Methods("POST")
	protected.HandleFunc("/designs/{designID}/templates/load", designHandler.LoadTemplate).Methods("POST")
	protected.HandleFunc("/templates", designHandler.ListTemplates).Methods("GET")

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
