package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar para mantener nombres consistentes en todos los logs.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func Provider(v string) zap.Field  { return zap.String("provider", v) }
func UserID(v string) zap.Field    { return zap.String("user_id", v) }
func OAuthClient(v string) zap.Field { return zap.String("client_id", v) }
func Grant(v string) zap.Field     { return zap.String("grant_type", v) }

func Err(err error) zap.Field { return zap.Error(err) }
