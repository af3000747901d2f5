// Package imaging applies Low-Data Mode's JPEG recompression: trading image
// fidelity for upload size when a user has opted into metered-connection
// savings. Nothing else in this codebase touches pixel data, so this stays
// a single small package rather than living inside indexservice or
// coordinator.
package imaging

import (
	"bytes"
	"image/jpeg"
)

// StandardQuality is the JPEG quality used for a normal upload.
const StandardQuality = 92

// LowDataQuality is the JPEG quality substituted when low_data_mode is on.
const LowDataQuality = 60

// RecompressJPEG decodes data as a JPEG and re-encodes it at quality. If
// data does not decode as a JPEG — a capture saved under a .jpg name that
// isn't actually one, or an already-corrupt file the auditor will flag on
// its own pass — the original bytes are returned unchanged rather than
// failing the upload outright.
func RecompressJPEG(data []byte, quality int) []byte {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return data
	}

	return buf.Bytes()
}
