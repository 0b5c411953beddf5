package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mdelaney/choreplan/internal/backup"
	"github.com/mdelaney/choreplan/internal/chore"
	"github.com/mdelaney/choreplan/internal/export"
	"github.com/mdelaney/choreplan/internal/handler"
	"github.com/mdelaney/choreplan/internal/middleware"
	"github.com/mdelaney/choreplan/internal/push"
	"github.com/mdelaney/choreplan/internal/store"
	ws "github.com/mdelaney/choreplan/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	materializer  *chore.Materializer
	categoryH     *handler.CategoryHandler
	choreH        *handler.ChoreHandler
	occurrenceH   *handler.OccurrenceHandler
	exportH       *handler.ExportHandler
	syncH         *handler.SyncHandler
	pushH         *handler.PushHandler
	backupManager *backup.Manager
	pushService   *push.Service
	pushScheduler *push.Scheduler
	logger        *slog.Logger
}

func New(db *sql.DB, s3Cfg backup.S3Config, pushCfg push.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	categoryStore := store.NewCategoryStore(db)
	choreStore := store.NewChoreStore(db)
	occurrenceStore := store.NewOccurrenceStore(db)
	settingsStore := store.NewSettingsStore(db)
	snapshotStore := store.NewSnapshotStore(db)
	pushStore := store.NewPushStore(db)

	materializer := chore.NewMaterializer(choreStore, occurrenceStore, logger.With("component", "materializer"))
	exporter := export.NewService(db, categoryStore, choreStore, occurrenceStore)

	backupMgr := backup.NewManager(s3Cfg, exporter, snapshotStore, settingsStore, logger, func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "sync_status",
			Entity: ws.EntitySnapshot,
			Action: string(s.State),
			Extra: map[string]any{
				"error": s.Error,
			},
		})
	})

	// Push notifications stay off without VAPID keys.
	var pushSvc *push.Service
	var pushSched *push.Scheduler
	var pushH *handler.PushHandler
	if pushCfg.VAPIDPublicKey != "" && pushCfg.VAPIDPrivateKey != "" {
		pushSvc = push.NewService(pushCfg.VAPIDPublicKey, pushCfg.VAPIDPrivateKey)
		pushSched = push.NewScheduler(pushSvc, pushStore, occurrenceStore, choreStore, logger)
		pushH = handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler"))
	}

	return &Server{
		db:            db,
		hub:           hub,
		materializer:  materializer,
		categoryH:     handler.NewCategoryHandler(categoryStore, hub),
		choreH:        handler.NewChoreHandler(materializer, hub, logger.With("component", "chore")),
		occurrenceH:   handler.NewOccurrenceHandler(materializer, hub, logger.With("component", "occurrence")),
		exportH:       handler.NewExportHandler(exporter, materializer, hub, logger.With("component", "export")),
		syncH:         handler.NewSyncHandler(backupMgr, snapshotStore, settingsStore, materializer, hub, logger.With("component", "sync")),
		pushH:         pushH,
		backupManager: backupMgr,
		pushService:   pushSvc,
		pushScheduler: pushSched,
		logger:        logger,
	}
}

// Materializer returns the occurrence materializer for startup tasks.
func (s *Server) Materializer() *chore.Materializer {
	return s.materializer
}

// BackupManager returns the snapshot sync manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// PushScheduler returns the reminder scheduler, nil when push is not configured.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Category API routes
	mux.HandleFunc("GET /api/categories", s.categoryH.List)
	mux.HandleFunc("POST /api/categories", s.categoryH.Create)
	mux.HandleFunc("PUT /api/categories/{id}", s.categoryH.Update)
	mux.HandleFunc("DELETE /api/categories/{id}", s.categoryH.Delete)

	// Chore API routes
	mux.HandleFunc("GET /api/chores", s.choreH.List)
	mux.HandleFunc("POST /api/chores", s.choreH.Create)
	mux.HandleFunc("GET /api/chores/{id}", s.choreH.Get)
	mux.HandleFunc("PUT /api/chores/{id}", s.choreH.Update)
	mux.HandleFunc("PUT /api/chores/{id}/future", s.choreH.Future)
	mux.HandleFunc("POST /api/chores/{id}/pause", s.choreH.TogglePause)
	mux.HandleFunc("DELETE /api/chores/{id}", s.choreH.Delete)

	// Occurrence API routes
	mux.HandleFunc("GET /api/occurrences", s.occurrenceH.List)
	mux.HandleFunc("POST /api/occurrences/generate", s.occurrenceH.Generate)
	mux.HandleFunc("PUT /api/occurrences/{id}", s.occurrenceH.Edit)
	mux.HandleFunc("PUT /api/occurrences/{id}/status", s.occurrenceH.SetStatus)

	// Export / import
	mux.HandleFunc("GET /api/export", s.exportH.Export)
	mux.HandleFunc("POST /api/import", s.exportH.Import)

	// Remote sync
	mux.HandleFunc("GET /api/sync/status", s.syncH.Status)
	mux.HandleFunc("GET /api/sync/settings", s.syncH.Settings)
	mux.HandleFunc("POST /api/sync/enable", s.syncH.Enable)
	mux.HandleFunc("POST /api/sync/disable", s.syncH.Disable)
	mux.HandleFunc("POST /api/sync/now", s.syncH.SyncNow)
	mux.HandleFunc("GET /api/sync/snapshots", s.syncH.Snapshots)
	mux.HandleFunc("POST /api/sync/restore", s.syncH.Restore)

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDPublicKey)
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.List)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
