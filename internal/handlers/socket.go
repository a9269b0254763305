package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/metrics"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/presence"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/services"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/utils"
	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
)

const (
	socketNamespace = "/"

	// Client -> server events
	eventJoinRoom     = "join-room"
	eventSendMessage  = "send-message"
	eventMarkRead     = "mark-read"
	eventTypingStart  = "typing-start"
	eventTypingStop   = "typing-stop"
	eventFileUploaded = "file-uploaded"

	// Every connection also joins its user's own room, so events can target a
	// user on whichever instance holds their sockets
	userRoomPrefix = "user:"

	typingThrottleDuration = 3 * time.Second
	socketOpTimeout        = 15 * time.Second
)

// socketHub is the part of the socket.io server the gateway broadcasts through
type socketHub interface {
	BroadcastToRoom(namespace string, room, event string, args ...interface{}) bool
	ForEach(namespace string, room string, f socketio.EachFunc) bool
}

// socketSession is what an authenticated connection carries in its context
type socketSession struct {
	UserID string
	Role   models.Role
}

type joinRoomPayload struct {
	RoomOrContextID string `json:"roomOrContextId"`
}

type sendMessagePayload struct {
	RoomID       string `json:"roomId"`
	Content      string `json:"content"`
	Kind         string `json:"kind"`
	AttachmentID string `json:"attachmentId"`
	ReplyTo      string `json:"replyTo"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type fileUploadedPayload struct {
	RoomID   string `json:"roomId"`
	FileMeta struct {
		AttachmentID string `json:"attachmentId"`
	} `json:"fileMeta"`
}

type roomCreatedEvent struct {
	Room *models.Room `json:"room"`
}

type roomJoinedEvent struct {
	Room           *models.Room     `json:"room"`
	RecentMessages []models.Message `json:"recentMessages"`
}

type userTypingEvent struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type presenceEvent struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type errorEvent struct {
	Message string `json:"message"`
}

// GatewayDeps are the collaborators of the realtime gateway
type GatewayDeps struct {
	Rooms       *services.RoomService
	Store       *services.ChatStore
	Coordinator *services.Coordinator
	Users       services.UserDirectory
	Presence    presence.Tracker
	// SendAllowed throttles send-message per user; nil allows everything
	SendAllowed func(userID string) bool
}

// Gateway authenticates socket connections, keeps them subscribed to their
// rooms and routes client events into the coordinator.
type Gateway struct {
	GatewayDeps
	hub socketHub

	// userLocks orders a user's presence transitions with the flag writes
	// and broadcasts that follow them
	userLocks *services.RoomLocks

	typingMu   sync.Mutex
	lastTyping map[string]time.Time
}

func NewGateway(deps GatewayDeps) *Gateway {
	return &Gateway{
		GatewayDeps: deps,
		userLocks:   services.NewRoomLocks(),
		lastTyping:  make(map[string]time.Time),
	}
}

func userRoom(userID string) string {
	return userRoomPrefix + userID
}

// SubscribeRoom joins both participants' local connections to a room created
// after they connected, and announces it to their user rooms so clients on
// other instances can send join-room.
func (g *Gateway) SubscribeRoom(room *models.Room) {
	if g.hub == nil || room == nil {
		return
	}
	for _, party := range []string{room.PartyAID, room.PartyBID} {
		// ForEach holds the room table lock, so join after collecting
		var conns []socketio.Conn
		g.hub.ForEach(socketNamespace, userRoom(party), func(c socketio.Conn) {
			conns = append(conns, c)
		})
		for _, c := range conns {
			c.Join(room.ID)
		}
		g.hub.BroadcastToRoom(socketNamespace, userRoom(party), services.EventRoomCreated, roomCreatedEvent{Room: room})
	}
}

// BroadcastToRoom satisfies services.Broadcaster
func (g *Gateway) BroadcastToRoom(roomID, event string, payload interface{}) error {
	if g.hub == nil {
		return errors.New("socket server not attached")
	}
	if !g.hub.BroadcastToRoom(socketNamespace, roomID, event, payload) {
		return fmt.Errorf("broadcast %s to room %s failed", event, roomID)
	}
	return nil
}

// NewSocketServer builds the socket.io server, attaches it to the gateway and
// registers every event handler. With a redis adapter configured, room
// broadcasts reach subscribers on other instances too.
func NewSocketServer(g *Gateway, allowedOrigin string, adapter *socketio.RedisAdapterOptions) (*socketio.Server, error) {
	checkOrigin := func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
	}

	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&websocket.Transport{CheckOrigin: checkOrigin},
			&polling.Transport{CheckOrigin: checkOrigin},
		},
	})

	if adapter != nil {
		if _, err := server.Adapter(adapter); err != nil {
			return nil, fmt.Errorf("socket redis adapter: %w", err)
		}
	}

	g.hub = server

	server.OnConnect(socketNamespace, g.onConnect)
	server.OnEvent(socketNamespace, eventJoinRoom, g.onJoinRoom)
	server.OnEvent(socketNamespace, eventSendMessage, g.onSendMessage)
	server.OnEvent(socketNamespace, eventMarkRead, g.onMarkRead)
	server.OnEvent(socketNamespace, eventTypingStart, func(s socketio.Conn, p roomPayload) {
		g.onTyping(s, p, true)
	})
	server.OnEvent(socketNamespace, eventTypingStop, func(s socketio.Conn, p roomPayload) {
		g.onTyping(s, p, false)
	})
	server.OnEvent(socketNamespace, eventFileUploaded, g.onFileUploaded)
	server.OnDisconnect(socketNamespace, g.onDisconnect)
	server.OnError(socketNamespace, func(s socketio.Conn, e error) {
		id := ""
		if s != nil {
			id = s.ID()
		}
		logger.Warn().Err(e).Str("socket_id", id).Msg("Socket error")
	})

	return server, nil
}

// SocketHandler mounts the socket.io server on gin
func SocketHandler(server *socketio.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		server.ServeHTTP(c.Writer, c.Request)
	}
}

func socketToken(s socketio.Conn) string {
	if token, ok := utils.BearerToken(s.RemoteHeader().Get("Authorization")); ok {
		return token
	}
	u := s.URL()
	query := u.Query()
	if token := query.Get("token"); token != "" {
		return token
	}
	return query.Get("auth_token")
}

func sessionOf(s socketio.Conn) (*socketSession, bool) {
	sess, ok := s.Context().(*socketSession)
	return sess, ok && sess != nil && sess.UserID != ""
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), socketOpTimeout)
}

func (g *Gateway) emitError(s socketio.Conn, err error) {
	s.Emit(services.EventError, errorEvent{Message: services.Reason(err)})
}

// onConnect rejects the connection unless it carries a valid bearer token for a
// known user. Accepted connections are subscribed to all of the user's rooms.
func (g *Gateway) onConnect(s socketio.Conn) error {
	s.SetContext(nil)

	token := socketToken(s)
	if token == "" {
		metrics.SocketAuthFailures.Inc()
		logger.Warn().Str("socket_id", s.ID()).Msg("Socket connection rejected: no token")
		return errors.New("authentication required")
	}

	claims, err := utils.ValidateToken(token)
	if err != nil {
		metrics.SocketAuthFailures.Inc()
		logger.Warn().Str("socket_id", s.ID()).Msg("Socket connection rejected: invalid token")
		return errors.New("invalid token")
	}

	ctx, cancel := opContext()
	defer cancel()

	role, err := g.Users.RoleOf(ctx, claims.UserID)
	if err != nil {
		metrics.SocketAuthFailures.Inc()
		logger.Warn().Err(err).Str("socket_id", s.ID()).Str("user_id", claims.UserID).Msg("Socket connection rejected: unknown user")
		return errors.New("unknown user")
	}

	sess := &socketSession{UserID: claims.UserID, Role: role}
	s.SetContext(sess)

	roomIDs, err := g.Rooms.RoomIDsForUser(ctx, sess.UserID)
	if err != nil {
		logger.Error().Err(err).Str("user_id", sess.UserID).Msg("Failed to load rooms for socket")
	}

	unlock := g.userLocks.Lock(sess.UserID)
	defer unlock()

	first, err := g.Presence.Connect(ctx, sess.UserID, s.ID())
	if err != nil {
		logger.Warn().Err(err).Str("user_id", sess.UserID).Msg("Presence connect failed")
	}
	if first {
		if err := g.Rooms.SetPresence(ctx, sess.UserID, true); err != nil {
			logger.Warn().Err(err).Str("user_id", sess.UserID).Msg("Failed to persist online presence")
		}
		// Announce before joining so the user's own connection is not notified
		for _, id := range roomIDs {
			g.hub.BroadcastToRoom(socketNamespace, id, services.EventUserOnline, presenceEvent{UserID: sess.UserID, RoomID: id})
		}
	}

	for _, id := range roomIDs {
		s.Join(id)
	}
	s.Join(userRoom(sess.UserID))

	metrics.SocketConnections.Inc()
	logger.Info().Str("socket_id", s.ID()).Str("user_id", sess.UserID).Int("rooms", len(roomIDs)).Msg("Socket authenticated")
	return nil
}

// onJoinRoom accepts either a room id or an appointment id and re-checks access every time
func (g *Gateway) onJoinRoom(s socketio.Conn, p joinRoomPayload) {
	sess, ok := sessionOf(s)
	if !ok {
		g.emitError(s, services.ErrAccessDenied)
		return
	}
	target := strings.TrimSpace(p.RoomOrContextID)
	if target == "" {
		g.emitError(s, services.ErrNotFound)
		return
	}

	ctx, cancel := opContext()
	defer cancel()

	room, err := g.Rooms.GetRoomFor(ctx, target, sess.UserID)
	if errors.Is(err, services.ErrNotFound) {
		room, err = g.Rooms.ResolveOrCreateContextualRoom(ctx, target, sess.UserID)
	}
	if err != nil {
		g.emitError(s, err)
		return
	}

	recent, err := g.Store.ListMessages(ctx, room.ID, 1, services.DefaultPageSize)
	if err != nil {
		g.emitError(s, err)
		return
	}

	s.Join(room.ID)
	s.Emit(services.EventRoomJoined, roomJoinedEvent{Room: room, RecentMessages: recent})
}

func (g *Gateway) onSendMessage(s socketio.Conn, p sendMessagePayload) {
	sess, ok := sessionOf(s)
	if !ok {
		g.emitError(s, services.ErrAccessDenied)
		return
	}
	if g.SendAllowed != nil && !g.SendAllowed(sess.UserID) {
		metrics.RateLimitHits.WithLabelValues("socket_send").Inc()
		s.Emit(services.EventError, errorEvent{Message: "Rate limit exceeded. Please slow down."})
		return
	}

	ctx, cancel := opContext()
	defer cancel()

	_, err := g.Coordinator.SendMessage(ctx, services.SendInput{
		RoomID:       p.RoomID,
		SenderID:     sess.UserID,
		SenderRole:   sess.Role,
		Kind:         models.MessageKind(p.Kind),
		Content:      p.Content,
		AttachmentID: p.AttachmentID,
		ReplyToID:    p.ReplyTo,
	})
	if err != nil {
		g.emitError(s, err)
	}
}

func (g *Gateway) onMarkRead(s socketio.Conn, p roomPayload) {
	sess, ok := sessionOf(s)
	if !ok {
		g.emitError(s, services.ErrAccessDenied)
		return
	}

	ctx, cancel := opContext()
	defer cancel()

	if _, err := g.Coordinator.MarkRead(ctx, p.RoomID, sess.UserID); err != nil {
		g.emitError(s, err)
	}
}

// onTyping relays typing state to the other subscribers of a room the
// connection already joined. Nothing is stored and the sender never gets it back.
func (g *Gateway) onTyping(s socketio.Conn, p roomPayload, isTyping bool) {
	sess, ok := sessionOf(s)
	if !ok || p.RoomID == "" || !joined(s, p.RoomID) {
		return
	}

	key := sess.UserID + "|" + p.RoomID
	g.typingMu.Lock()
	if isTyping {
		if last, seen := g.lastTyping[key]; seen && time.Since(last) < typingThrottleDuration {
			g.typingMu.Unlock()
			return
		}
		g.lastTyping[key] = time.Now()
	} else {
		delete(g.lastTyping, key)
	}
	g.typingMu.Unlock()

	evt := userTypingEvent{UserID: sess.UserID, RoomID: p.RoomID, IsTyping: isTyping}
	g.hub.ForEach(socketNamespace, p.RoomID, func(c socketio.Conn) {
		if c.ID() == s.ID() {
			return
		}
		if other, ok := sessionOf(c); ok && other.UserID == sess.UserID {
			return
		}
		c.Emit(services.EventUserTyping, evt)
	})
}

func (g *Gateway) onFileUploaded(s socketio.Conn, p fileUploadedPayload) {
	sess, ok := sessionOf(s)
	if !ok {
		g.emitError(s, services.ErrAccessDenied)
		return
	}

	ctx, cancel := opContext()
	defer cancel()

	if _, err := g.Coordinator.AnnounceAttachment(ctx, p.RoomID, sess.UserID, p.FileMeta.AttachmentID); err != nil {
		g.emitError(s, err)
	}
}

// onDisconnect is best effort: a crashed process leaves presence flags stale
// until the user's next clean disconnect.
func (g *Gateway) onDisconnect(s socketio.Conn, reason string) {
	sess, ok := sessionOf(s)
	if !ok {
		return
	}
	metrics.SocketConnections.Dec()

	ctx, cancel := opContext()
	defer cancel()

	g.typingMu.Lock()
	for key := range g.lastTyping {
		if strings.HasPrefix(key, sess.UserID+"|") {
			delete(g.lastTyping, key)
		}
	}
	g.typingMu.Unlock()

	unlock := g.userLocks.Lock(sess.UserID)
	defer unlock()

	last, err := g.Presence.Disconnect(ctx, sess.UserID, s.ID())
	if err != nil {
		logger.Warn().Err(err).Str("user_id", sess.UserID).Msg("Presence disconnect failed")
		return
	}

	logger.Info().Str("socket_id", s.ID()).Str("user_id", sess.UserID).Str("reason", reason).Bool("offline", last).Msg("Socket disconnected")
	if !last {
		return
	}

	// A shared tracker may already hold a newer connection from another instance
	if online, err := g.Presence.IsOnline(ctx, sess.UserID); err == nil && online {
		logger.Debug().Str("user_id", sess.UserID).Msg("User reconnected elsewhere, keeping presence online")
		return
	}

	if err := g.Rooms.SetPresence(ctx, sess.UserID, false); err != nil {
		logger.Warn().Err(err).Str("user_id", sess.UserID).Msg("Failed to persist offline presence")
	}
	roomIDs, err := g.Rooms.RoomIDsForUser(ctx, sess.UserID)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", sess.UserID).Msg("Failed to load rooms for offline broadcast")
		return
	}
	for _, id := range roomIDs {
		g.hub.BroadcastToRoom(socketNamespace, id, services.EventUserOffline, presenceEvent{UserID: sess.UserID, RoomID: id})
	}
}

func joined(s socketio.Conn, roomID string) bool {
	for _, r := range s.Rooms() {
		if r == roomID {
			return true
		}
	}
	return false
}
