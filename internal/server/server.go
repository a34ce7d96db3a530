// Package server serves the brochure site: CMS pages rendered into the site
// layout, embedded assets, the appointment endpoint and the chat socket.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wingheights/wingsite"
	"github.com/wingheights/wingsite/internal/assets"
	"github.com/wingheights/wingsite/internal/cms"
	"github.com/wingheights/wingsite/internal/config"
	"github.com/wingheights/wingsite/internal/render"
	"github.com/wingheights/wingsite/internal/site"
)

// maxTrackedIPs bounds the rate limiter's per-IP table.
const maxTrackedIPs = 10000

// Content is the CMS surface the page handler needs. *cms.Client implements
// it.
type Content interface {
	Navigation(ctx context.Context) ([]wingsite.NavigationItem, error)
	FindPage(ctx context.Context, path string) (*wingsite.Page, error)
	Media(ctx context.Context, id int) (wingsite.MediaFile, error)
}

// Options wires the server's collaborators. Appointments and Chat are
// optional.
type Options struct {
	Content      Content
	Renderer     *render.Renderer
	Appointments AppointmentSubmitter
	Chat         *ChatBridge
	Logger       *zap.Logger
}

// Server is the site's HTTP handler.
type Server struct {
	config   *config.Config
	content  Content
	renderer *render.Renderer
	chat     *ChatBridge
	layout   *template.Template
	logger   *zap.Logger
	now      func() time.Time

	handler     http.Handler
	limiterDone <-chan struct{}
}

// LayoutData is the model of the page layout template.
type LayoutData struct {
	SiteTitle   string
	Description string
	View        render.View
	Menu        []site.MenuEntry
	Breadcrumbs []*site.Node
	Notice      string // Inline notice when content could not be loaded
	NotFound    bool
	Chat        ChatWidget
	Year        int
}

// ChatWidget controls how the chat button is rendered.
type ChatWidget struct {
	Enabled bool
	Tooltip string
}

// New creates a server. ctx bounds the lifetime of the rate limiter's
// cleanup goroutine.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Content == nil {
		return nil, errors.New("server: content source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer := opts.Renderer
	if renderer == nil {
		r, err := render.New(cfg.CMS.URL, logger)
		if err != nil {
			return nil, err
		}
		renderer = r
	}

	layout, err := template.New("layout").Funcs(template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}).ParseFS(assets.TemplatesFS(), "*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	s := &Server{
		config:   cfg,
		content:  opts.Content,
		renderer: renderer,
		chat:     opts.Chat,
		layout:   layout,
		logger:   logger.Named("server"),
		now:      time.Now,
	}

	limit, done := RateLimitMiddleware(ctx, cfg.GetRateLimitRPS(), cfg.GetRateLimitBurst(), maxTrackedIPs, s.logger)
	s.limiterDone = done

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.serveHealth)
	mux.HandleFunc("GET /assets/", s.serveAsset)
	mux.Handle("POST /api/submit-insurance-quote", limit(NewAppointmentHandler(opts.Appointments, logger)))
	mux.Handle("GET /chat/ws", limit(http.HandlerFunc(s.serveChat)))
	mux.HandleFunc("GET /{path...}", s.servePage)

	var h http.Handler = mux
	h = WithCompression(h)
	h = SecurityHeadersMiddleware(cfg.CMS.URL)(h)
	h = LoggingMiddleware(s.logger)(h)
	h = RecoverMiddleware(s.logger)(h)
	s.handler = h
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Done is closed once the rate limiter has stopped, after the context given
// to New is cancelled.
func (s *Server) Done() <-chan struct{} {
	return s.limiterDone
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveAsset serves embedded client assets.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/assets/")

	var (
		data        []byte
		err         error
		contentType string
	)
	switch path {
	case "site.js":
		data, err = assets.GetClientJS()
		contentType = "application/javascript; charset=utf-8"
	case "site.css":
		data, err = assets.GetClientCSS()
		contentType = "text/css; charset=utf-8"
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request) {
	if !s.chat.Enabled() {
		writeJSONError(w, http.StatusServiceUnavailable, ChatDisabledTooltip)
		return
	}
	s.chat.ServeHTTP(w, r)
}

// servePage resolves the page for the request path and renders it inside the
// layout. Navigation and page are fetched concurrently. A navigation failure
// only costs the menu; a page failure decides the status code.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	urlPath := "/" + strings.Trim(r.PathValue("path"), "/")

	var (
		g      errgroup.Group
		items  []wingsite.NavigationItem
		navErr error
		page   *wingsite.Page
	)
	g.Go(func() error {
		items, navErr = s.content.Navigation(ctx)
		return nil
	})
	g.Go(func() error {
		p, err := s.content.FindPage(ctx, urlPath)
		page = p
		return err
	})
	pageErr := g.Wait()

	if navErr != nil {
		s.logger.Warn("navigation unavailable", zap.Error(navErr))
		items = nil
	}
	tree := site.Normalize(items, site.WithHome())

	data := LayoutData{
		SiteTitle:   s.config.Title,
		Description: s.config.Description,
		Menu:        tree.Menu(urlPath),
		Breadcrumbs: tree.Breadcrumbs(urlPath),
		Chat:        ChatWidget{Enabled: s.chat.Enabled(), Tooltip: ChatDisabledTooltip},
		Year:        s.now().Year(),
	}

	status := http.StatusOK
	switch {
	case errors.Is(pageErr, wingsite.ErrPageNotFound):
		status = http.StatusNotFound
		data.NotFound = true
		data.View = render.View{Title: "Page not found"}
		s.logger.Debug("page not found", zap.String("path", urlPath))
	case cms.IsUnavailable(pageErr):
		status = http.StatusServiceUnavailable
		data.Notice = cms.UserFriendlyMessage(pageErr)
		data.View = render.View{Title: "Service unavailable"}
		s.logger.Error("page unavailable", zap.String("path", urlPath), zap.Error(pageErr))
	default:
		page.Blocks = render.ResolveMedia(ctx, page.Blocks, s.content, s.logger)
		view, err := s.renderer.Page(page)
		if err != nil {
			status = http.StatusInternalServerError
			data.Notice = "This page could not be displayed. Please try again later."
			data.View = render.View{Title: page.Title}
			s.logger.Error("page render failed", zap.String("path", urlPath), zap.Error(err))
		} else {
			data.View = view
		}
	}

	s.writeLayout(w, status, data)
}

func (s *Server) writeLayout(w http.ResponseWriter, status int, data LayoutData) {
	var buf bytes.Buffer
	if err := s.layout.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("layout failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
