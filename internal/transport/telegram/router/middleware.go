package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "coefbot/pkg/logx"
)

// ErrAccessDenied is returned by handlers wrapped in MWAccess for users
// outside the allow-list.
var ErrAccessDenied = errors.New("access denied")

// DeniedText is shown to users outside the allow-list.
const DeniedText = "🚫 You do not have access to this bot."

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			switch {
			case errors.Is(err, ErrAccessDenied):
				logger.Info("request denied", fields...)
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWAccess enforces the allow-list. Admin routes additionally require the
// user to be an admin.
func MWAccess(acl func() ACL, need Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			a := acl()
			ok := a.Allowed(req.FromID)
			if need == AccessAdmin {
				ok = a.Admin(req.FromID)
			}
			if ok {
				return next(ctx, req)
			}
			if req.IsCallback() {
				req.Answer(DeniedText, true)
			} else {
				_, _ = req.Adapter.SendText(ctx, req.Chat, DeniedText, nil)
			}
			return ErrAccessDenied
		}
	}
}
