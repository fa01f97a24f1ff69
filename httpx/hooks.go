package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// AfterHook runs after every attempt with its outcome.
type AfterHook func(req *http.Request, resp *http.Response, err error, dur time.Duration, attempt int)

// LogHook logs one line per attempt: Debug for responses below 400, Warn otherwise.
func LogHook(logger *slog.Logger) AfterHook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(req *http.Request, resp *http.Response, err error, dur time.Duration, attempt int) {
		attrs := []slog.Attr{
			slog.String("method", req.Method),
			slog.String("url", redactURL(req)),
			slog.Duration("duration", dur),
			slog.Int("attempt", attempt),
		}
		level := slog.LevelDebug
		switch {
		case err != nil:
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("error", err.Error()))
		case resp != nil:
			attrs = append(attrs, slog.Int("status", resp.StatusCode))
			if resp.StatusCode >= 400 {
				level = slog.LevelWarn
			}
		}
		logger.LogAttrs(req.Context(), level, "http attempt", attrs...)
	}
}

func redactURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	u := *req.URL
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
