package web

import (
	"icarus/internal/models"
	"net/http"
	"strconv"
	"strings"
)

const defaultDimension = 1024

// formError is a validation failure shown to the user as is.
type formError string

func (e formError) Error() string { return string(e) }

const (
	errMissingKey   formError = "Please enter your Replicate API Key."
	errUnknownStyle formError = "Please choose one of the listed art styles."
	errWidth        formError = "Width must be a positive multiple of 8. Examples: 1024, 1280, 1920"
	errHeight       formError = "Height must be a positive multiple of 8. Examples: 1024, 1280, 1920"
)

// FormData holds the submitted values as entered, so the form can be shown
// again unchanged after a validation error.
type FormData struct {
	KeySource models.KeySource
	Style     string
	Width     string
	Height    string
	Prompt    string
}

func defaultForm() FormData {
	return FormData{
		KeySource: models.KeyShared,
		Style:     string(models.StylePhotography),
		Width:     strconv.Itoa(defaultDimension),
		Height:    strconv.Itoa(defaultDimension),
	}
}

// parseForm reads the submission. The user's own key is returned
// separately and never echoed back into the page.
func parseForm(r *http.Request) (FormData, string) {
	form := FormData{
		KeySource: models.KeyShared,
		Style:     r.FormValue("style"),
		Width:     strings.TrimSpace(r.FormValue("width")),
		Height:    strings.TrimSpace(r.FormValue("height")),
		Prompt:    r.FormValue("prompt"),
	}
	if models.KeySource(r.FormValue("api_option")) == models.KeyOwn {
		form.KeySource = models.KeyOwn
	}
	if form.Width == "" {
		form.Width = strconv.Itoa(defaultDimension)
	}
	if form.Height == "" {
		form.Height = strconv.Itoa(defaultDimension)
	}
	return form, strings.TrimSpace(r.FormValue("api_key"))
}

// Validate turns the form into a generation request. The prompt may be
// empty.
func (f FormData) Validate(userKey string) (models.GenerationRequest, error) {
	if f.KeySource == models.KeyOwn && userKey == "" {
		return models.GenerationRequest{}, errMissingKey
	}

	style, ok := models.ParseStyle(f.Style)
	if !ok {
		return models.GenerationRequest{}, errUnknownStyle
	}

	width, ok := parseDimension(f.Width)
	if !ok {
		return models.GenerationRequest{}, errWidth
	}
	height, ok := parseDimension(f.Height)
	if !ok {
		return models.GenerationRequest{}, errHeight
	}

	return models.GenerationRequest{
		Prompt: f.Prompt,
		Style:  style,
		Width:  width,
		Height: height,
	}, nil
}

func parseDimension(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n%8 != 0 {
		return 0, false
	}
	return n, true
}
