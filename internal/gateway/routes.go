package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nugget/signalgw/internal/buildinfo"
)

func timeNow() time.Time { return time.Now() }

func msSince(t time.Time) float64 { return float64(time.Since(t).Microseconds()) / 1000.0 }

// registerRoutes builds the full route table: a handful of endpoints
// with response shapes particular enough to warrant dedicated
// handlers, plus a static table-driven mapping for the long tail that
// translates path+method+body into exactly one RPC call each, per the
// gateway's request pipeline contract.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v2/send", s.handleSend)
	mux.HandleFunc("POST /v1/send", s.handleSend)

	mux.HandleFunc("GET /v1/receive/{number}", s.handleReceiveWS)
	mux.HandleFunc("GET /v1/events/{number}", s.handleEventsSSE)

	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/about", s.handleAbout)
	mux.HandleFunc("GET /v1/openapi.yml", s.handleOpenAPI)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /v1/qrcodelink", s.handleQRCodeLink)
	mux.HandleFunc("GET /v1/qrcodelink/raw", s.handleQRCodeLinkRaw)

	mux.HandleFunc("POST /v1/webhooks", s.handleWebhookCreate)
	mux.HandleFunc("GET /v1/webhooks", s.handleWebhookList)
	mux.HandleFunc("DELETE /v1/webhooks/{id}", s.handleWebhookDelete)

	for _, rt := range catalogRoutes {
		mux.HandleFunc(rt.pattern, s.handleCatalogRoute(rt))
	}
}

// catalogRoute is one entry in the static bulk-endpoint table: an
// HTTP method+path pattern mapped to exactly one signal-cli RPC
// method. {number} in the pattern names the account; any other path
// parameter is merged into the RPC params under its own name.
type catalogRoute struct {
	pattern   string // e.g. "POST /v1/groups/{number}"
	rpcMethod string
}

var catalogRoutes = []catalogRoute{
	// Remote delete / typing / receipts / reactions
	{"POST /v1/messages/{number}/{timestamp}", "remoteDelete"},
	{"PUT /v1/typing-indicator/{number}", "sendTyping"},
	{"DELETE /v1/typing-indicator/{number}", "sendTyping"},
	{"POST /v1/receipts/{number}", "sendReceipt"},
	{"POST /v1/reactions/{number}", "sendReaction"},
	{"DELETE /v1/reactions/{number}", "sendReaction"},

	// Groups
	{"POST /v1/groups/{number}", "updateGroup"},
	{"GET /v1/groups/{number}", "listGroups"},
	{"GET /v1/groups/{number}/{groupid}", "getGroup"},
	{"DELETE /v1/groups/{number}/{groupid}", "quitGroup"},
	{"POST /v1/groups/{number}/{groupid}/admins", "updateGroupAdmins"},
	{"DELETE /v1/groups/{number}/{groupid}/admins", "updateGroupAdmins"},
	{"POST /v1/groups/{number}/{groupid}/members", "updateGroupMembers"},
	{"DELETE /v1/groups/{number}/{groupid}/members", "updateGroupMembers"},
	{"POST /v1/groups/{number}/{groupid}/block", "blockGroup"},
	{"POST /v1/groups/{number}/{groupid}/join", "joinGroup"},
	{"POST /v1/groups/{number}/{groupid}/quit", "quitGroup"},

	// Contacts
	{"GET /v1/contacts/{number}", "listContacts"},
	{"PUT /v1/contacts/{number}/{recipient}", "updateContact"},
	{"DELETE /v1/contacts/{number}/{recipient}", "removeContact"},
	{"POST /v1/contacts/{number}/sync", "syncContacts"},

	// Accounts
	{"POST /v1/register/{number}", "register"},
	{"POST /v1/register/{number}/verify/{token}", "verify"},
	{"DELETE /v1/unregister/{number}", "unregister"},
	{"POST /v1/accounts/{number}/rate-limit-challenge", "submitRateLimitChallenge"},
	{"PUT /v1/accounts/{number}/settings", "updateConfiguration"},
	{"POST /v1/accounts/{number}/pin", "setPin"},
	{"DELETE /v1/accounts/{number}/pin", "removePin"},
	{"PUT /v1/accounts/{number}/username", "updateUsername"},
	{"DELETE /v1/accounts/{number}/username", "deleteUsername"},
	{"POST /v1/accounts/{number}/local-data-wipe", "deleteLocalAccountData"},

	// Devices
	{"GET /v1/devices/{number}", "listDevices"},
	{"POST /v1/devices/{number}/link", "addDevice"},
	{"DELETE /v1/devices/{number}/{deviceid}", "removeDevice"},

	// Identities
	{"GET /v1/identities/{number}", "listIdentities"},
	{"PUT /v1/identities/{number}/trust/{numberToTrust}", "trust"},

	// Profile
	{"PUT /v1/profiles/{number}", "updateProfile"},

	// Polls
	{"POST /v1/polls/{number}", "createPoll"},
	{"POST /v1/polls/{number}/{pollid}/vote", "votePoll"},
	{"POST /v1/polls/{number}/{pollid}/close", "closePoll"},

	// Sticker packs
	{"GET /v1/sticker-packs/{number}", "listStickerPacks"},
	{"POST /v1/sticker-packs/{number}", "installStickerPack"},

	// Attachments
	{"GET /v1/attachments", "listAttachments"},
	{"GET /v1/attachments/{attachmentid}", "getAttachment"},
	{"DELETE /v1/attachments/{attachmentid}", "deleteAttachment"},

	// Registration status
	{"GET /v1/search/{number}", "getUserStatus"},
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Number     string   `json:"number"`
		Recipients []string `json:"recipients"`
		Message    string   `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil, s.logger)
		return
	}
	if body.Number == "" || len(body.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "number and recipients are required", nil, s.logger)
		return
	}

	acct := s.accounts.Account(body.Number)
	ctx, cancel := callTimeout(r)
	defer cancel()

	start := timeNow()
	ts, err := acct.Send(ctx, body.Recipients[0], body.Message)
	s.metrics.RecordRPCCall("send", msSince(start))
	if err != nil {
		s.metrics.RecordRPCError("send")
		handleRPCError(w, r, err, s.logger)
		return
	}
	s.metrics.MessagesSent.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"timestamp": ts}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.RuntimeInfo()
	info["daemon_ready"] = boolString(s.supervisor.Ready())
	writeJSON(w, http.StatusOK, info, s.logger)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	// OpenAPI document generation is a thin collaborator the gateway's
	// design explicitly scopes out; this returns a minimal JSON stub
	// carrying only the OpenAPI version and the gateway's title and
	// version, not a generated document.
	writeJSON(w, http.StatusOK, map[string]any{
		"openapi": "3.0.0",
		"info":    map[string]string{"title": "signalgw", "version": buildinfoVersion()},
	}, s.logger)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.metrics.WriteText()))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func buildinfoVersion() string {
	return buildinfo.Info()["version"]
}

// handleCatalogRoute returns an http.HandlerFunc that translates the
// request into rt.rpcMethod per the static route table: path values
// other than {number} are merged into the RPC params, the JSON body
// (if any) is merged on top, and the RPC result is returned verbatim.
func (s *Server) handleCatalogRoute(rt catalogRoute) http.HandlerFunc {
	paramNames := pathParamNames(rt.pattern)
	scoped := false
	for _, n := range paramNames {
		if n == "number" {
			scoped = true
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		number := r.PathValue("number")
		if scoped && number == "" {
			writeError(w, http.StatusBadRequest, "account number is required", nil, s.logger)
			return
		}

		params := map[string]any{}
		for _, key := range paramNames {
			if key == "number" {
				continue
			}
			params[key] = r.PathValue(key)
		}

		if r.ContentLength != 0 && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body", nil, s.logger)
				return
			}
			for k, v := range body {
				params[k] = v
			}
		}
		if r.Method == http.MethodDelete {
			switch rt.rpcMethod {
			case "sendTyping":
				params["stop"] = true
			case "sendReaction":
				params["remove"] = true
			}
		}

		ctx, cancel := callTimeout(r)
		defer cancel()

		start := timeNow()
		var result json.RawMessage
		var err error
		if scoped {
			err = s.accounts.Account(number).Call(ctx, rt.rpcMethod, params, &result)
		} else {
			err = s.accounts.RawCall(ctx, rt.rpcMethod, params, &result)
		}
		s.metrics.RecordRPCCall(rt.rpcMethod, msSince(start))
		if err != nil {
			s.metrics.RecordRPCError(rt.rpcMethod)
			handleRPCError(w, r, err, s.logger)
			return
		}

		if len(result) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(result)
	}
}

// pathParamNames extracts the {name} segments from a ServeMux pattern
// such as "POST /v1/groups/{number}/{groupid}".
func pathParamNames(pattern string) []string {
	var names []string
	start := -1
	for i, c := range pattern {
		switch c {
		case '{':
			start = i + 1
		case '}':
			if start >= 0 {
				names = append(names, pattern[start:i])
				start = -1
			}
		}
	}
	return names
}
