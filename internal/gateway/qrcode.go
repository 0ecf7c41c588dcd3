package gateway

import (
	"net/http"

	"github.com/skip2/go-qrcode"
)

// qrCodeSize is the PNG edge length, in pixels, for rendered link QR
// codes — large enough to scan reliably from a phone camera at arm's
// length.
const qrCodeSize = 256

// handleQRCodeLink begins a device-linking flow and renders the
// returned tsdevice:// URI as a scannable PNG QR code.
func (s *Server) handleQRCodeLink(w http.ResponseWriter, r *http.Request) {
	deviceName := r.URL.Query().Get("device_name")
	if deviceName == "" {
		deviceName = "signalgw"
	}

	number := r.URL.Query().Get("number")
	acct := s.accounts.Account(number)

	ctx, cancel := callTimeout(r)
	defer cancel()

	uri, err := acct.StartLink(ctx, deviceName)
	if err != nil {
		handleRPCError(w, r, err, s.logger)
		return
	}

	png, err := qrcode.Encode(uri, qrcode.Medium, qrCodeSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render QR code", nil, s.logger)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// handleQRCodeLinkRaw is identical to handleQRCodeLink but returns the
// bare device-link URI instead of a rendered image, for clients that
// want to do their own QR rendering.
func (s *Server) handleQRCodeLinkRaw(w http.ResponseWriter, r *http.Request) {
	deviceName := r.URL.Query().Get("device_name")
	if deviceName == "" {
		deviceName = "signalgw"
	}

	number := r.URL.Query().Get("number")
	acct := s.accounts.Account(number)

	ctx, cancel := callTimeout(r)
	defer cancel()

	uri, err := acct.StartLink(ctx, deviceName)
	if err != nil {
		handleRPCError(w, r, err, s.logger)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(uri))
}
