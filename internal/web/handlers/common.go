// Package handlers implements the operator and kiosk HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/logger"
)

// errInvalidRequestBody is a shared error message for unreadable request bodies.
const errInvalidRequestBody = "invalid request body"

var errNoImage = errors.New("no image in request")

// Clock returns the current time. Handlers take it so tests can pin the time.
type Clock func() time.Time

func weblog() *logger.Logger { return logger.Component("web") }

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// readImage returns the "image" field of a multipart form, or the raw body
// for any other content type.
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(constants.MaxUploadBytes); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, errNoImage
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		if len(data) == 0 {
			return nil, errNoImage
		}
		return data, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, errNoImage
	}
	return data, nil
}

// parseDayRange reads from/to query parameters. Missing bounds default to the
// last DefaultReportDays business days ending today.
func parseDayRange(r *http.Request, today string) (string, string, error) {
	q := r.URL.Query()
	to := q.Get("to")
	if to == "" {
		to = today
	}
	toDay, err := time.Parse(constants.DayLayout, to)
	if err != nil {
		return "", "", fmt.Errorf("invalid to date %q", to)
	}
	from := q.Get("from")
	if from == "" {
		from = toDay.AddDate(0, 0, -(constants.DefaultReportDays - 1)).Format(constants.DayLayout)
	}
	fromDay, err := time.Parse(constants.DayLayout, from)
	if err != nil {
		return "", "", fmt.Errorf("invalid from date %q", from)
	}
	if fromDay.After(toDay) {
		return "", "", errors.New("from date is after to date")
	}
	if toDay.Sub(fromDay) > constants.MaxReportDays*24*time.Hour {
		return "", "", fmt.Errorf("date range exceeds %d days", constants.MaxReportDays)
	}
	return from, to, nil
}
