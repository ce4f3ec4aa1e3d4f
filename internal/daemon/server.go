package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/operchat/echat/internal/bus"
	"github.com/operchat/echat/internal/localstore"
	"github.com/operchat/echat/internal/outbox"
	"github.com/operchat/echat/internal/push"
	"github.com/operchat/echat/internal/realtime"
	"github.com/operchat/echat/internal/repo"
	"github.com/operchat/echat/internal/sync"
)

// Server is the local HTTP API the ctl tool and UI frontends talk to. It
// binds to loopback only; the daemon owns all backend and realtime traffic.
type Server struct {
	echo    *echo.Echo
	addr    string
	logger  *zap.Logger
	repo    *repo.Repo
	fetcher *sync.Fetcher
	router  *sync.Router
	sender  *outbox.Sender
	bus     *bus.Bus
	machine *realtime.Machine
	drafts  *localstore.DraftWriter
	db      *localstore.DB
}

// NewServer builds the Echo server with recovery and all routes registered.
func NewServer(addr string, logger *zap.Logger, r *repo.Repo, f *sync.Fetcher, rt *sync.Router, s *outbox.Sender, b *bus.Bus, m *realtime.Machine, drafts *localstore.DraftWriter, db *localstore.DB) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	srv := &Server{
		echo:    e,
		addr:    addr,
		logger:  logger.Named("http"),
		repo:    r,
		fetcher: f,
		router:  rt,
		sender:  s,
		bus:     b,
		machine: m,
		drafts:  drafts,
		db:      db,
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	v1 := s.echo.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/events", s.handleEvents)

	v1.GET("/conversations/:entity", s.handleListConversations)
	v1.POST("/conversations/:entity/refresh", s.handleRefresh)
	v1.POST("/conversations/:entity/more", s.handleLoadMore)
	v1.POST("/conversations/:entity/search", s.handleSearch)
	v1.POST("/filters/assigned", s.handleAssignedUser)

	v1.POST("/open", s.handleOpen)
	v1.GET("/active", s.handleActive)
	v1.POST("/active/refresh", s.handleRefreshActive)
	v1.POST("/active/more", s.handleMoreMessages)
	v1.PUT("/active/draft", s.handleDraft)

	v1.POST("/messages", s.handleSend)
	v1.POST("/messages/resend", s.handleResend)
	v1.POST("/files", s.handleSendFile)
	v1.POST("/push", s.handlePush)
}

// Start starts the HTTP server (blocks until shutdown).
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func entityParam(c echo.Context) (repo.EntityType, error) {
	entity, err := repo.EntityFromString(c.Param("entity"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return entity, nil
}

func (s *Server) handleStatus(c echo.Context) error {
	type listStatus struct {
		Loading bool          `json:"loading"`
		Err     string        `json:"error,omitempty"`
		Meta    repo.PageMeta `json:"meta"`
		Count   int           `json:"count"`
	}
	lists := make(map[string]listStatus, len(repo.Entities))
	for _, entity := range repo.Entities {
		st := s.fetcher.ListState(entity)
		lists[entity.String()] = listStatus{
			Loading: st.Loading,
			Err:     st.Err,
			Meta:    s.repo.Meta(entity),
			Count:   len(s.repo.List(entity)),
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"realtime": s.machine.Current(),
		"lists":    lists,
	})
}

func (s *Server) handleListConversations(c echo.Context) error {
	entity, err := entityParam(c)
	if err != nil {
		return err
	}
	st := s.fetcher.ListState(entity)
	return c.JSON(http.StatusOK, map[string]any{
		"conversations": s.repo.List(entity),
		"meta":          s.repo.Meta(entity),
		"loading":       st.Loading,
		"error":         st.Err,
	})
}

func (s *Server) handleRefresh(c echo.Context) error {
	entity, err := entityParam(c)
	if err != nil {
		return err
	}
	if err := s.fetcher.FetchList(c.Request().Context(), entity); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleLoadMore(c echo.Context) error {
	entity, err := entityParam(c)
	if err != nil {
		return err
	}
	if err := s.fetcher.LoadMore(c.Request().Context(), entity); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSearch(c echo.Context) error {
	entity, err := entityParam(c)
	if err != nil {
		return err
	}
	var body struct {
		Query string `json:"query"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.fetcher.SetSearch(c.Request().Context(), entity, body.Query); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAssignedUser(c echo.Context) error {
	var body struct {
		UserID int `json:"user_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.db.SetSetting(localstore.SettingAssignedUserID, strconv.Itoa(body.UserID)); err != nil {
		s.logger.Warn("persisting assigned user failed", zap.Error(err))
	}
	if err := s.fetcher.SetAssignedUser(c.Request().Context(), body.UserID); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleOpen(c echo.Context) error {
	var body struct {
		Entity    string `json:"entity"`
		ID        int    `json:"id"`
		ContactID int    `json:"contact_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entity, err := repo.EntityFromString(body.Entity)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sel := repo.Selection{Entity: entity, ID: body.ID, ContactID: body.ContactID}
	if err := s.fetcher.Open(c.Request().Context(), sel); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleActive(c echo.Context) error {
	active, ok := s.repo.Active()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no open conversation")
	}
	sel, _ := s.repo.ActiveSelection()
	return c.JSON(http.StatusOK, map[string]any{
		"selection":          sel,
		"conversation":       active,
		"messages":           s.repo.ActiveMessages(),
		"meta":               s.repo.ActiveMessagesMeta(),
		"conversation_error": s.fetcher.ConversationError(),
		"messages_error":     s.fetcher.MessagesError(),
	})
}

func (s *Server) handleRefreshActive(c echo.Context) error {
	if err := s.fetcher.RefreshActive(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMoreMessages(c echo.Context) error {
	if err := s.fetcher.LoadMoreMessages(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDraft(c echo.Context) error {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sel, ok := s.repo.ActiveSelection()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no open conversation")
	}
	s.repo.SetDraft(sel.Entity, sel.ID, body.Text)
	s.drafts.Queue(sel, body.Text)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSend(c echo.Context) error {
	var body struct {
		Text        string `json:"text"`
		MessengerID int    `json:"messenger_id"`
		FileURL     string `json:"file_url"`
		ReplyToID   int    `json:"reply_to_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := s.sender.Send(c.Request().Context(), outbox.SendParams{
		Text:        body.Text,
		MessengerID: repo.Messenger(body.MessengerID),
		FileURL:     body.FileURL,
		ReplyToID:   body.ReplyToID,
	})
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResend(c echo.Context) error {
	var body struct {
		UID string `json:"uid"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.sender.Resend(c.Request().Context(), body.UID); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSendFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file field")
	}
	messengerID, _ := strconv.Atoi(c.FormValue("messenger_id"))
	replyToID, _ := strconv.Atoi(c.FormValue("reply_to_id"))
	caption := c.FormValue("caption")

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer func() { _ = f.Close() }()

	err = s.sender.SendFile(c.Request().Context(), fh.Filename, f, caption, repo.Messenger(messengerID), replyToID)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// handlePush accepts a notification payload delivered out-of-band (e.g. the
// mobile shell forwarding an FCM push) and routes it exactly like a realtime
// event.
func (s *Server) handlePush(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<16))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := push.Parse(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sel, _ := n.Target()
	msgID, _ := n.MessageID()
	s.router.HandleNewMessage(c.Request().Context(), sel, msgID)
	return c.NoContent(http.StatusNoContent)
}

// handleEvents streams bus events as server-sent events until the client
// disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	prefix := c.QueryParam("prefix")
	events, cancel := s.bus.Subscribe(prefix, 64)
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			data, err := json.Marshal(map[string]any{
				"kind":      evt.Kind,
				"timestamp": evt.Timestamp,
				"payload":   evt.Payload,
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
