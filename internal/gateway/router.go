package gateway

import (
	"net/http"
	"strings"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/metrics"
	"assoc-messaging/internal/middleware"
	"assoc-messaging/internal/websocket"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the gateway's HTTP surface:
//
//	/api/v1/...        REST, bearer token required
//	<WebSocketPath>    push connection, token in the "token" query parameter
//	<PublicPrefix>     uploaded files
//	/metrics, /healthz
func NewRouter(cfg config.Config, h *Handler, svc Service, hub *websocket.Hub, m *metrics.Metrics) http.Handler {
	r := mux.NewRouter()
	authMW := func(next http.Handler) http.Handler {
		return middleware.AuthMiddleware(next, cfg.Auth.JWTSecretKey)
	}

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(m.Middleware, authMW)

	apiRouter.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations", h.CreateConversation).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{id}", h.DeleteConversation).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/conversations/{id}/messages", h.ListMessages).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations/{id}/messages", h.SendMessage).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{id}/join", h.JoinConversation).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{id}/leave", h.LeaveConversation).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{id}/typing", h.UpdateTyping).Methods(http.MethodPost)
	apiRouter.HandleFunc("/messages/{id}", h.DeleteMessage).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/messages/{id}/read", h.MarkRead).Methods(http.MethodPost)
	apiRouter.HandleFunc("/presence", h.UpdatePresence).Methods(http.MethodPut)
	apiRouter.HandleFunc("/presence", h.GetPresence).Methods(http.MethodGet)
	apiRouter.HandleFunc("/upload", h.UploadFile).Methods(http.MethodPost)
	apiRouter.HandleFunc("/files/{id}/url", h.FileURL).Methods(http.MethodGet)

	wsPath := cfg.Gateway.WebSocketPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Handle(wsPath, authMW(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, ok := caller(w, req)
		if !ok {
			return
		}
		websocket.ServeWs(hub, svc, id.UserID, w, req, cfg.WebSocket)
	}))).Methods(http.MethodGet)

	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if cfg.Storage.LocalPath != "" && cfg.Storage.PublicPrefix != "" {
		staticPath := strings.TrimSuffix(cfg.Storage.PublicPrefix, "/") + "/"
		r.PathPrefix(staticPath).Handler(http.StripPrefix(staticPath, http.FileServer(http.Dir(cfg.Storage.LocalPath))))
		logrus.WithFields(logrus.Fields{"prefix": staticPath, "dir": cfg.Storage.LocalPath}).Info("serving uploaded files")
	}

	cors := cfg.Gateway.CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cors.AllowedOrigins),
		handlers.AllowedMethods(cors.AllowedMethods),
		handlers.AllowedHeaders(cors.AllowedHeaders),
		handlers.ExposedHeaders(cors.ExposedHeaders),
		handlers.MaxAge(cors.MaxAge),
	}
	if cors.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(logrus.StandardLogger()),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(handlers.CORS(corsOptions...)(r))
}
