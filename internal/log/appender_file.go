package log

import "gopkg.in/natefinch/lumberjack.v2"

func (m *MultiWriter) AddFileAppender(options FileAppenderOptions) *MultiWriter {
	return m.Add(&lumberjack.Logger{
		Filename:   options.Filename,
		MaxSize:    options.MaxSize,    // megabytes
		MaxBackups: options.MaxBackups, // number of backups
		MaxAge:     options.MaxAge,     // days
		Compress:   options.Compress,
	})
}
