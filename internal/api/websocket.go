package api

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"openflow/internal/pubsub"
	"openflow/internal/service"
	"openflow/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func (d Dependencies) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, d.CORSOrigins)
		},
	}
}

// originAllowed accepts same-host origins, clients that send none, and the
// configured CORS origins unless those are a wildcard. The session cookie
// must not be usable from arbitrary sites.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return !slices.Contains(allowed, "*") && slices.Contains(allowed, origin)
}

func (d Dependencies) wsHandler(w http.ResponseWriter, r *http.Request) {
	if d.Hub == nil {
		d.Log.Error("WebSocket hub not initialized")
		WriteError(w, http.StatusInternalServerError, "internal", "WebSocket hub not initialized", d.Log)
		return
	}

	userID, err := d.JWT.Authenticate(r)
	if err != nil {
		if token := r.URL.Query().Get("token"); token != "" {
			userID, err = d.JWT.Verify(token)
		}
	}
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated", d.Log)
		return
	}

	conn, err := d.upgrader().Upgrade(w, r, nil)
	if err != nil {
		d.Log.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	d.Log.Info("WebSocket connected", zap.String("user_id", userID), zap.String("remote", r.RemoteAddr))

	// The request context ends with this handler; the connection outlives it.
	wsConn := ws.NewConn(context.WithoutCancel(r.Context()), conn, d.Hub, userID)
	d.Hub.Register(wsConn)

	go wsConn.WritePump()
	go wsConn.ReadPump()
}

// FormChannelAuthorizer lets a user subscribe only to channels of forms
// they own.
func FormChannelAuthorizer(forms *service.FormService) ws.Authorizer {
	return func(ctx context.Context, userID, channel string) bool {
		formID, ok := pubsub.FormIDFromChannel(channel)
		if !ok {
			return false
		}
		return forms.Owns(ctx, userID, formID)
	}
}
