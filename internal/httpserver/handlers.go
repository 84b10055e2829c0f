package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/hospital-callbot/internal/agent"
	"github.com/chadiek/hospital-callbot/internal/analyzer"
	"github.com/chadiek/hospital-callbot/internal/media"
	"github.com/chadiek/hospital-callbot/internal/middleware"
	"github.com/chadiek/hospital-callbot/internal/registry"
)

// Calls is the call lifecycle the webhooks drive.
type Calls interface {
	HandleStream(ctx context.Context, s *media.Stream) error
	RemoteStatus(callSid, status string)
}

// Index answers queries about live and finished calls.
type Index interface {
	LiveCalls() []agent.Status
	LiveStatus(id string) (agent.Status, bool)
	Summaries(ctx context.Context) ([]registry.Summary, error)
	Summary(ctx context.Context, id string) (registry.Summary, error)
	Issues(ctx context.Context, id string) ([]analyzer.Issue, error)
	Report(ctx context.Context) (analyzer.BugReport, error)
}

type Handlers struct {
	Calls Calls
	Index Index
	// BaseURL is the public origin Twilio reaches us on. Empty means derive
	// it from the request.
	BaseURL string
	Logger  *slog.Logger
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/twilio/voice", h.voice)
	e.POST("/twilio/status", h.status)
	e.GET("/media-stream", h.mediaStream)
	e.GET("/calls", h.listCalls)
	e.GET("/calls/:id", h.getCall)
	e.GET("/report", h.report)
}

func (h Handlers) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// voice answers an outbound call with TwiML connecting it to the media
// stream. Scenario and call id ride along as stream parameters.
func (h Handlers) voice(c echo.Context) error {
	params, _ := c.Get(middleware.ParamsKey).(map[string]string)
	scenarioID := c.QueryParam("scenario")
	callID := c.QueryParam("call_id")
	h.log().Info("call answered", "call_sid", params["CallSid"], "call_id", callID, "scenario", scenarioID)

	stream := &twiml.VoiceStream{Url: streamURL(absoluteURL(c, h.BaseURL, "/media-stream"))}
	for _, p := range []struct{ name, value string }{{"scenario", scenarioID}, {"call_id", callID}} {
		if p.value != "" {
			stream.InnerElements = append(stream.InnerElements, &twiml.VoiceParameter{Name: p.name, Value: p.value})
		}
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	response, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

func (h Handlers) status(c echo.Context) error {
	params, _ := c.Get(middleware.ParamsKey).(map[string]string)
	sid, st := params["CallSid"], params["CallStatus"]
	h.log().Info("call status", "call_sid", sid, "status", st)
	if sid != "" {
		h.Calls.RemoteStatus(sid, st)
	}
	return c.String(http.StatusOK, "OK")
}

// mediaStream upgrades to the Twilio media websocket and runs the call on
// it until either side ends.
func (h Handlers) mediaStream(c echo.Context) error {
	conn, err := media.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already answered the client.
		h.log().Warn("media stream upgrade failed", "err", err)
		return nil
	}
	s, err := media.Accept(conn, h.log())
	if err != nil {
		h.log().Warn("media stream rejected", "err", err)
		_ = conn.Close()
		return nil
	}
	if err := h.Calls.HandleStream(c.Request().Context(), s); err != nil {
		h.log().Error("call failed", "call_sid", s.Start().CallSid, "err", err)
	}
	return nil
}

type callList struct {
	Live     []agent.Status     `json:"live"`
	Finished []registry.Summary `json:"finished"`
}

func (h Handlers) listCalls(c echo.Context) error {
	sums, err := h.Index.Summaries(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, callList{Live: h.Index.LiveCalls(), Finished: sums})
}

type callDetail struct {
	Live    *agent.Status     `json:"live,omitempty"`
	Summary *registry.Summary `json:"summary,omitempty"`
	Issues  []analyzer.Issue  `json:"issues,omitempty"`
}

func (h Handlers) getCall(c echo.Context) error {
	id := c.Param("id")
	if st, ok := h.Index.LiveStatus(id); ok {
		return c.JSON(http.StatusOK, callDetail{Live: &st})
	}
	ctx := c.Request().Context()
	sum, err := h.Index.Summary(ctx, id)
	if errors.Is(err, registry.ErrUnknownCall) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown call %q", id))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	issues, err := h.Index.Issues(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, callDetail{Summary: &sum, Issues: issues})
}

// report serves the bug report over every indexed call, as markdown unless
// ?format=json.
func (h Handlers) report(c echo.Context) error {
	rep, err := h.Index.Report(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if c.QueryParam("format") == "json" {
		return c.JSON(http.StatusOK, rep)
	}
	var buf bytes.Buffer
	if err := analyzer.RenderMarkdown(&buf, rep); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", buf.Bytes())
}

// absoluteURL builds a public absolute URL for path.
// Priority: configured base > X-Forwarded-* headers > request Host heuristic.
func absoluteURL(c echo.Context, base, path string) string {
	if base == "" {
		proto := c.Request().Header.Get("X-Forwarded-Proto")
		host := c.Request().Header.Get("X-Forwarded-Host")
		if proto != "" && host != "" {
			base = fmt.Sprintf("%s://%s", proto, host)
		}
	}
	if base == "" {
		host := c.Request().Host
		proto := "https"
		if strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:") {
			proto = "http"
		}
		base = fmt.Sprintf("%s://%s", proto, host)
	}
	return strings.TrimRight(base, "/") + path
}

func streamURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}
