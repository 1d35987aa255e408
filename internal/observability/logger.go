package observability

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Logger emits one JSON object per line to stdout.
type Logger struct {
	base       *log.Logger
	service    string
	env        string
	production bool
}

func NewLogger(service, env string) *Logger {
	return &Logger{
		base:       log.New(os.Stdout, "", 0),
		service:    service,
		env:        env,
		production: env == "production",
	}
}

// Production reports whether detail should be withheld from clients.
func (l *Logger) Production() bool {
	return l.production
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.write("info", message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.write("error", message, fields)
}

func (l *Logger) write(level, message string, fields map[string]any) {
	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"message":   message,
		"service":   l.service,
		"env":       l.env,
	}
	for k, v := range fields {
		payload[k] = v
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		l.base.Println(`{"level":"error","message":"failed to encode log"}`)
		return
	}

	l.base.Println(string(encoded))
}
