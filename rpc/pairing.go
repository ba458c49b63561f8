package rpc

import (
	qrcode "github.com/skip2/go-qrcode"
)

// PairingQRCode renders serverURL as a PNG QR code so an operator can
// point a second device at the same relay without retyping the URL.
// getServerUrl calls this and base64-encodes the result into its reply's
// qrCodePng field when the request sets IncludeQRCode.
func PairingQRCode(serverURL string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(serverURL, qrcode.Medium, size)
}
