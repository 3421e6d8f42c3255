package observability

import (
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// storeOutcomes are answers the store gives about the data, not failures of
// the store. A reused refresh token is counted by the auth metrics instead.
var storeOutcomes = []error{
	pgx.ErrNoRows,
	user.ErrNotFound,
	user.ErrSessionNotFound,
	user.ErrSessionRevoked,
	user.ErrSessionExpired,
	user.ErrSessionMismatch,
}

// ObserveDB times one logical store operation. Status is ok, rejected (a
// domain outcome) or error; only errors feed db_errors_total.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := dbStatus(err)
	if status == "error" {
		p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}
	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	return err
}

func dbStatus(err error) string {
	if err == nil {
		return "ok"
	}
	for _, outcome := range storeOutcomes {
		if errors.Is(err, outcome) {
			return "rejected"
		}
	}
	return "error"
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "unique_violation"
		case "40001":
			return "serialization_failure"
		case "40P01":
			return "deadlock"
		case "57014":
			return "query_canceled"
		default:
			return "pg_" + pgErr.Code
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	default:
		return "unknown"
	}
}
