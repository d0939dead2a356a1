package authapi

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"unisession/cmd/identity"
	"unisession/cmd/security/token"
)

// Audit records are log lines under the "audit" group. Emails are reduced
// to a fingerprint.

func (h *Handler) auditSuccess(ctx context.Context, action string, s *identity.CanonicalSession, path string, ip net.IP, ua string) {
	attrs := []slog.Attr{slog.String("path", path)}
	if s != nil {
		attrs = append(attrs, slog.String("subject_id", s.SubjectID), slog.String("source", string(s.Source)))
	}
	h.audit(ctx, slog.LevelInfo, action+".success", ip, ua, attrs...)
}

func (h *Handler) auditFailure(ctx context.Context, action, email string, err error, ip net.IP, ua string) {
	h.audit(ctx, slog.LevelWarn, action+".failed", ip, ua,
		slog.String("identifier", identifierFingerprint(email)),
		slog.String("reason", identity.Code(err)),
	)
}

func (h *Handler) auditRateLimited(ctx context.Context, action string, ip net.IP, ua string) {
	h.audit(ctx, slog.LevelWarn, action+".rate_limited", ip, ua)
}

func (h *Handler) audit(ctx context.Context, level slog.Level, action string, ip net.IP, ua string, attrs ...slog.Attr) {
	if h == nil || h.log == nil {
		return
	}
	all := make([]slog.Attr, 0, len(attrs)+3)
	all = append(all, slog.String("action", action))
	if ip != nil {
		all = append(all, slog.String("ip", ip.String()))
	}
	if ua = strings.TrimSpace(ua); ua != "" {
		all = append(all, slog.String("user_agent", ua))
	}
	all = append(all, attrs...)
	h.log.LogAttrs(ctx, level, "auth.audit", slog.Attr{Key: "audit", Value: slog.GroupValue(all...)})
}

func identifierFingerprint(email string) string {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return ""
	}
	return token.Fingerprint(email)
}
