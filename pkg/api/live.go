package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/debounce"
	"github.com/owasp/nest/pkg/realtime"
	"github.com/owasp/nest/pkg/report"
	"github.com/owasp/nest/pkg/search"
	"github.com/owasp/nest/pkg/urlsync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 32
)

// Client message types.
const (
	MsgInput = "input"
	MsgPage  = "page"
	MsgSort  = "sort"
	MsgOrder = "order"
	MsgRetry = "retry"
)

// Server message types.
const (
	MsgInit   = "init"
	MsgState  = "state"
	MsgURL    = "url"
	MsgTitle  = "title"
	MsgScroll = "scroll"
	MsgToast  = "toast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts non-browser clients and browsers on the same host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), strings.Split(r.Host, ":")[0])
}

// ClientMessage is sent by the browser on user interaction.
type ClientMessage struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
	Page  int    `json:"page,omitempty"`
	Sort  string `json:"sort,omitempty"`
	Order string `json:"order,omitempty"`
}

// StatePayload is the controller state as seen by the browser.
type StatePayload struct {
	Query      string          `json:"query"`
	Page       int             `json:"page"`
	SortBy     string          `json:"sort_by"`
	Order      search.Order    `json:"order"`
	TotalPages int             `json:"total_pages"`
	Items      []core.Document `json:"items"`
	IsLoaded   bool            `json:"is_loaded"`
	Phase      string          `json:"phase"`
}

type ServerMessage struct {
	Type    string                `json:"type"`
	Session string                `json:"session,omitempty"`
	Index   *core.IndexDefinition `json:"index,omitempty"`
	State   *StatePayload         `json:"state,omitempty"`
	URL     string                `json:"url,omitempty"`
	Title   string                `json:"title,omitempty"`
	Toast   *report.Toast         `json:"toast,omitempty"`
}

func newStatePayload(st search.State[core.Document]) *StatePayload {
	items := st.Items
	if items == nil {
		items = []core.Document{}
	}
	return &StatePayload{
		Query:      st.Query,
		Page:       st.Page,
		SortBy:     st.SortBy,
		Order:      st.Order,
		TotalPages: st.TotalPages,
		Items:      items,
		IsLoaded:   st.IsLoaded,
		Phase:      st.Phase.String(),
	}
}

// session is one browser tab showing a listing page.
type session struct {
	id   string
	def  core.IndexDefinition
	conn *websocket.Conn
	ctrl *search.Controller[core.Document]
	deb  *debounce.Debouncer
	url  *urlsync.URL

	mu     sync.Mutex
	send   chan ServerMessage
	closed bool
}

// HandleLive upgrades the connection and runs a live search session until
// the client goes away.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	def, opts, rerr := s.resolve(r)
	if rerr != nil {
		s.writeError(w, rerr.status, rerr.error, rerr.message)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket upgrade: %v", err)
		return
	}

	sess := &session{
		id:   uuid.NewString(),
		def:  def,
		conn: conn,
		deb:  debounce.New(s.debounce),
		url:  pageURL(def.Name, r),
		send: make(chan ServerMessage, sendBuffer),
	}
	sess.ctrl = search.NewController[core.Document](s.fetcher, opts,
		search.WithURL(urlsync.Funcs{ReadFunc: sess.url.Read, WriteFunc: sess.writeURL}),
		search.WithView(sess),
		search.WithReporter(report.Multi{s.reporter, report.Func(sess.toast)}),
	)
	sess.ctrl.OnChange(func(st search.State[core.Document]) {
		sess.push(ServerMessage{Type: MsgState, State: newStatePayload(st)})
	})

	ctx, cancel := context.WithCancel(report.WithTag(context.Background(), "session", sess.id))
	defer cancel()

	logger.Debugf("session %s opened on %s", sess.id, def.Name)
	sess.push(ServerMessage{Type: MsgInit, Session: sess.id, Index: &def})

	done := make(chan struct{})
	go func() {
		sess.writePump()
		close(done)
	}()

	if s.hub != nil {
		id, events := s.hub.Register()
		defer s.hub.Unregister(id)
		go sess.follow(events)
	}

	if err := sess.ctrl.Initialize(ctx); err != nil {
		logger.Warnf("session %s: %v", sess.id, err)
	}

	sess.readPump()

	sess.deb.Stop()
	sess.ctrl.Close()
	sess.ctrl.Wait()
	sess.close()
	<-done
	logger.Debugf("session %s closed", sess.id)
}

func (sess *session) readPump() {
	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("session %s: %v", sess.id, err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debugf("session %s: malformed message: %v", sess.id, err)
			continue
		}
		sess.handle(msg)
	}
}

func (sess *session) handle(msg ClientMessage) {
	var err error
	switch msg.Type {
	case MsgInput:
		query := msg.Query
		sess.deb.Trigger(func() {
			if err := sess.ctrl.HandleSearch(query); err != nil {
				logger.Debugf("session %s: %v", sess.id, err)
			}
		})
	case MsgPage:
		sess.deb.Flush()
		err = sess.ctrl.HandlePageChange(msg.Page)
	case MsgSort:
		if !sess.def.Sortable(msg.Sort) {
			sess.push(ServerMessage{Type: MsgToast, Toast: &report.Toast{
				Title:       "Invalid sort",
				Description: "This list cannot be sorted that way.",
				Variant:     "destructive",
			}})
			return
		}
		err = sess.ctrl.HandleSortChange(msg.Sort)
	case MsgOrder:
		var order search.Order
		if order, err = search.ParseOrder(msg.Order); err == nil {
			err = sess.ctrl.HandleOrderChange(order)
		}
	case MsgRetry:
		err = sess.ctrl.Retry()
	default:
		logger.Debugf("session %s: unknown message type %q", sess.id, msg.Type)
	}
	if err != nil {
		logger.Debugf("session %s: %s: %v", sess.id, msg.Type, err)
	}
}

// follow re-runs the last request whenever the session's index changes.
func (sess *session) follow(events <-chan realtime.IndexEvent) {
	for ev := range events {
		if ev.Index != sess.def.Name {
			continue
		}
		logger.Debugf("session %s: %s %s, refreshing", sess.id, ev.Index, ev.Kind)
		if err := sess.ctrl.Retry(); err != nil {
			return
		}
	}
}

func (sess *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues msg for the client. Messages are dropped once the session is
// closed or when the client does not keep up.
func (sess *session) push(msg ServerMessage) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	select {
	case sess.send <- msg:
	default:
		logger.Warnf("session %s: dropping %s message", sess.id, msg.Type)
	}
}

func (sess *session) close() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.closed {
		sess.closed = true
		close(sess.send)
	}
}

func (sess *session) writeURL(st urlsync.State) {
	sess.url.Write(st)
	sess.push(ServerMessage{Type: MsgURL, URL: sess.url.RequestURI()})
}

func (sess *session) toast(_ context.Context, err error) {
	t := report.ToastFor(err)
	sess.push(ServerMessage{Type: MsgToast, Toast: &t})
}

func (sess *session) SetTitle(title string) {
	sess.push(ServerMessage{Type: MsgTitle, Title: title})
}

func (sess *session) ScrollToTop() {
	sess.push(ServerMessage{Type: MsgScroll})
}
