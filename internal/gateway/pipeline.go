package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/signalgw/internal/rpc"
)

// defaultCallTimeout bounds an RPC call issued on behalf of an HTTP
// request absent a more specific deadline.
const defaultCallTimeout = 30 * time.Second

// errorBody is the JSON shape for every non-2xx response, per the
// gateway's request/response conventions.
type errorBody struct {
	Error string `json:"error"`
	Code  *int   `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, code *int, logger *slog.Logger) {
	writeJSON(w, status, errorBody{Error: message, Code: code}, logger)
}

// handleRPCError maps an RPC Client call's error into an HTTP
// response per the error taxonomy in the gateway's design: RpcError
// carries the daemon's code and maps to 4xx/5xx, TransportLost is
// 503, Cancelled is 499, Overloaded is 503 with Retry-After. It logs
// the failure tagged with the request id withLogging attached to r's
// context, so an RPC failure can be correlated with its access log line.
func handleRPCError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	logger.Warn("rpc call failed", "request_id", requestIDFrom(r.Context()), "error", err)

	var rpcErr *rpc.Error
	switch {
	case errors.As(err, &rpcErr):
		status := http.StatusInternalServerError
		if rpcErr.Code < 0 {
			// signal-cli's negative codes are typically request-shape
			// problems (unknown recipient, malformed number, etc).
			status = http.StatusBadRequest
		}
		code := rpcErr.Code
		writeError(w, status, rpcErr.Message, &code, logger)
	case errors.Is(err, rpc.ErrTransportLost):
		writeError(w, http.StatusServiceUnavailable, "signal-cli connection unavailable", nil, logger)
	case errors.Is(err, rpc.ErrOverloaded):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "too many in-flight requests", nil, logger)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, 499, "request cancelled", nil, logger)
	case errors.Is(err, context.Canceled):
		writeError(w, 499, "request cancelled", nil, logger)
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), nil, logger)
	}
}

// callTimeout returns a context bounded by defaultCallTimeout, tied
// to the request's own context so client disconnects still cancel
// the in-flight RPC call.
func callTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), defaultCallTimeout)
}
