package service

import "log/slog"

type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifySuccess NotifyLevel = "success"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// Notifier receives user-facing messages. Fire and forget; no acknowledgement.
type Notifier interface {
	Notify(level NotifyLevel, message string)
}

// ProgressSink receives workflow progress for rendering an indicator.
type ProgressSink interface {
	Progress(current, total int, stage string)
}

// LogNotifier forwards notifications to the structured log.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(level NotifyLevel, message string) {
	if n.Log == nil {
		return
	}
	switch level {
	case NotifyError:
		n.Log.Error(message)
	case NotifyWarning:
		n.Log.Warn(message)
	default:
		n.Log.Info(message)
	}
}

// LogProgress forwards progress updates to the structured log.
type LogProgress struct {
	Log *slog.Logger
}

func (p LogProgress) Progress(current, total int, stage string) {
	if p.Log == nil {
		return
	}
	p.Log.Info("progress", "current", current, "total", total, "stage", stage)
}
