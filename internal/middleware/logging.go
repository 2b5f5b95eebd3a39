package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, and duration of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			method := r.Method

			next.ServeHTTP(w, r)

			duration := time.Since(start)
			logger.WithFields(logrus.Fields{
				"method":   method,
				"path":     path,
				"duration": duration,
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogSessionConnect logs a WebSocket client joining a game session.
func LogSessionConnect(logger *logrus.Logger, remoteAddr string, gameID string) {
	logger.WithFields(logrus.Fields{
		"remote":  remoteAddr,
		"game_id": gameID,
	}).Info("session socket connected")
}

// LogSessionDisconnect logs a WebSocket client leaving a game session.
func LogSessionDisconnect(logger *logrus.Logger, remoteAddr string, gameID string, err error) {
	fields := logrus.Fields{
		"remote":  remoteAddr,
		"game_id": gameID,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("session socket disconnected")
}
