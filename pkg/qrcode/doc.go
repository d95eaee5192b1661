// Package qrcode renders payment URIs as QR code images, either raw PNG
// bytes or a base64 data URI for embedding in API responses.
//
// It is a thin wrapper around github.com/skip2/go-qrcode with input
// validation and sentinel errors suitable for errors.Is.
package qrcode
