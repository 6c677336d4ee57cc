package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"icarus/internal/gallery"
	"icarus/internal/models"
	"icarus/internal/quota"
	"icarus/internal/render"
	"icarus/internal/replicate"
	"icarus/internal/session"
	"net/http"

	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// Generator runs one text-to-image generation.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest, apiKey string) replicate.Result
}

// ImageRenderer fetches and decodes generated images.
type ImageRenderer interface {
	Render(ctx context.Context, urls []string, style models.Style) []render.Image
}

type Server struct {
	sessions  *session.Manager
	quota     *quota.Service
	generator Generator
	renderer  ImageRenderer
	sharedKey string
	logger    zerolog.Logger
	templates *template.Template
}

func NewServer(sessions *session.Manager, quotaService *quota.Service, generator Generator, renderer ImageRenderer, sharedKey string, logger zerolog.Logger) (*Server, error) {
	tmpl, err := template.New("base.html").Funcs(template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return &Server{
		sessions:  sessions,
		quota:     quotaService,
		generator: generator,
		renderer:  renderer,
		sharedKey: sharedKey,
		logger:    logger,
		templates: tmpl,
	}, nil
}

type PageData struct {
	Title   string
	Form    FormData
	Styles  []models.Style
	Usage   quota.Usage
	Blocked quota.Decision
	Warning string
	Error   string
	Success string

	Images        []ImageView
	ShowGallery   bool
	Gallery       []models.GalleryEntry
	Selected      models.GalleryEntry
	SelectedIndex int
}

// SubmitDisabled reports whether the shared key is selected while the
// quota gate is closed.
func (d PageData) SubmitDisabled() bool {
	return d.Form.KeySource == models.KeyShared && !d.Blocked.Allowed
}

type ImageView struct {
	Src      template.URL
	Download template.URL
	Filename string
	Caption  string
	Width    int
	Height   int
	Error    string
}

// HandleIndex renders the form together with the held result or, when
// there is none, the example gallery.
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	st, usage, ok := s.beginCycle(w, r)
	if !ok {
		return
	}

	form := defaultForm()
	if r.URL.Query().Get("key") == string(models.KeyOwn) {
		form.KeySource = models.KeyOwn
	}

	data := s.newPage(form, usage)
	s.finishPage(w, r, st, data, http.StatusOK)
}

// HandleGenerate processes one form submission.
func (s *Server) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, usage, ok := s.beginCycle(w, r)
	if !ok {
		return
	}

	form, userKey := parseForm(r)
	data := s.newPage(form, usage)

	apiKey := userKey
	if form.KeySource == models.KeyShared {
		if !data.Blocked.Allowed {
			data.Warning = data.Blocked.Message()
			s.finishPage(w, r, st, data, http.StatusTooManyRequests)
			return
		}
		apiKey = s.sharedKey
	}

	req, err := form.Validate(userKey)
	if err != nil {
		data.Warning = err.Error()
		s.finishPage(w, r, st, data, http.StatusBadRequest)
		return
	}

	result := s.generator.Generate(r.Context(), req, apiKey)
	if result.Failed() {
		s.logger.Warn().Err(result.Err).Str("reason", string(result.Err.Reason)).Msg("generation failed")
		data.Error = "Error: " + result.Err.Error()
		s.finishPage(w, r, st, data, http.StatusBadGateway)
		return
	}
	if len(result.URLs) == 0 {
		data.Warning = "The model returned no images. Please try a different prompt."
		s.finishPage(w, r, st, data, http.StatusOK)
		return
	}

	st.SetResult(result.URLs, string(req.Style))
	data.Success = "Image generated!"

	if form.KeySource == models.KeyShared {
		usage, err := s.quota.RecordSuccess(r.Context(), st.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("session", st.ID).Msg("failed to record usage")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		st.UserRequests = usage.UserCount
		data.Usage = usage
		data.Blocked = usage.Decision()
	}

	s.finishPage(w, r, st, data, http.StatusOK)
}

// beginCycle loads the session and resets stale counters. The session copy
// of the user count is refreshed from the store.
func (s *Server) beginCycle(w http.ResponseWriter, r *http.Request) (*session.State, quota.Usage, bool) {
	st, err := s.sessions.Load(r)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load session")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, quota.Usage{}, false
	}

	usage, err := s.quota.Begin(r.Context(), st.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("session", st.ID).Msg("failed to load usage counters")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, quota.Usage{}, false
	}
	st.UserRequests = usage.UserCount

	return st, usage, true
}

func (s *Server) newPage(form FormData, usage quota.Usage) PageData {
	return PageData{
		Title:   "Icarus Text-to-Image Generator",
		Form:    form,
		Styles:  models.Styles,
		Usage:   usage,
		Blocked: usage.Decision(),
	}
}

// finishPage shows the held result or the gallery, saves the session and
// writes the page.
func (s *Server) finishPage(w http.ResponseWriter, r *http.Request, st *session.State, data PageData, status int) {
	if st.HasResult() {
		style := models.Style(st.GeneratedStyle)
		for _, img := range s.renderer.Render(r.Context(), st.GeneratedImages, style) {
			data.Images = append(data.Images, newImageView(img, style))
		}
	} else {
		data.ShowGallery = true
		data.Gallery = gallery.Entries()
		data.Selected, data.SelectedIndex = gallery.Select(r.URL.Query().Get("gallery"))
	}

	if err := s.sessions.Save(w, r, st); err != nil {
		s.logger.Error().Err(err).Str("session", st.ID).Msg("failed to save session")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.renderTemplate(w, data, status)
}

func newImageView(img render.Image, style models.Style) ImageView {
	if img.Err != nil {
		return ImageView{Error: img.Message()}
	}
	return ImageView{
		Src:      template.URL(img.DataURI()),
		Download: template.URL(img.DownloadURI()),
		Filename: img.Filename,
		Caption:  fmt.Sprintf("Generated Image (%s)", style),
		Width:    img.Width,
		Height:   img.Height,
	}
}

func (s *Server) renderTemplate(w http.ResponseWriter, data PageData, status int) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error().Err(err).Msg("template execution error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
