package notifier

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is the kind of notice
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notice is a short message for the moderator
type Notice struct {
	Level   Level
	Title   string
	Message string
	At      time.Time
}

// Sink delivers notices somewhere the moderator will see them
type Sink interface {
	Notify(n Notice) error
}

// Notifier fans notices out to its sinks
type Notifier struct {
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
}

// New creates a notifier. A nil *Notifier drops everything.
func New(logger *zap.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sinks: sinks, logger: logger, now: time.Now}
}

func (n *Notifier) Success(title, message string) { n.send(LevelSuccess, title, message) }
func (n *Notifier) Error(title, message string)   { n.send(LevelError, title, message) }
func (n *Notifier) Warning(title, message string) { n.send(LevelWarning, title, message) }
func (n *Notifier) Info(title, message string)    { n.send(LevelInfo, title, message) }

func (n *Notifier) send(level Level, title, message string) {
	if n == nil {
		return
	}
	notice := Notice{Level: level, Title: title, Message: message, At: n.now()}
	for _, s := range n.sinks {
		if err := s.Notify(notice); err != nil {
			// A broken sink must not fail the operation that raised the notice.
			n.logger.Warn("notice not delivered", zap.String("title", title), zap.Error(err))
		}
	}
}

// LogSink writes notices to a zap logger
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Notify(n Notice) error {
	fields := []zap.Field{zap.String("title", n.Title), zap.String("message", n.Message)}
	switch n.Level {
	case LevelError:
		s.Logger.Error("notice", fields...)
	case LevelWarning:
		s.Logger.Warn("notice", fields...)
	default:
		s.Logger.Info("notice", fields...)
	}
	return nil
}

// WriterSink prints notices as single lines, e.g. to stderr
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Notify(n Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if n.Message == "" {
		_, err = fmt.Fprintf(s.w, "[%s] %s\n", n.Level, n.Title)
	} else {
		_, err = fmt.Fprintf(s.w, "[%s] %s: %s\n", n.Level, n.Title, n.Message)
	}
	return err
}

// Recorder keeps every notice in memory
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

// Notices returns a copy of what was recorded so far
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Last returns the most recent notice
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}
