package remote

import "bytes"

// ContentKind is the detected format of an artifact.
type ContentKind string

const (
	KindJPEG     ContentKind = "jpeg"
	KindPNG      ContentKind = "png"
	KindGIF      ContentKind = "gif"
	KindBMP      ContentKind = "bmp"
	KindPDF      ContentKind = "pdf"
	KindZIP      ContentKind = "zip"
	KindCompound ContentKind = "compound" // legacy OLE2 office documents
	KindText     ContentKind = "text"
	KindBinary   ContentKind = "binary"
)

// textSniffLen bounds how much of the payload is inspected for text.
const textSniffLen = 512

var signatures = []struct {
	magic []byte
	kind  ContentKind
}{
	{[]byte{0xFF, 0xD8, 0xFF}, KindJPEG},
	{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, KindPNG},
	{[]byte("GIF87a"), KindGIF},
	{[]byte("GIF89a"), KindGIF},
	{[]byte("%PDF-"), KindPDF},
	{[]byte{'P', 'K', 0x03, 0x04}, KindZIP},
	{[]byte{'P', 'K', 0x05, 0x06}, KindZIP},
	{[]byte{'P', 'K', 0x07, 0x08}, KindZIP},
	{[]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, KindCompound},
	{[]byte("BM"), KindBMP},
}

// Classify inspects the leading bytes of data.
func Classify(data []byte) ContentKind {
	if len(data) == 0 {
		return KindBinary
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.magic) {
			return sig.kind
		}
	}

	head := data
	if len(head) > textSniffLen {
		head = head[:textSniffLen]
	}
	for _, c := range head {
		if c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		if c < 0x20 || c > 0x7E {
			return KindBinary
		}
	}
	return KindText
}

// IsImage reports whether the provider treats the kind as an image resource.
func (k ContentKind) IsImage() bool {
	switch k {
	case KindJPEG, KindPNG, KindGIF, KindBMP:
		return true
	}
	return false
}

// ResourceType is the provider resource type used for the upload route.
func (k ContentKind) ResourceType() string {
	if k.IsImage() {
		return "image"
	}
	return "raw"
}

// MIMEType returns the content type declared for object-store uploads.
func (k ContentKind) MIMEType() string {
	switch k {
	case KindJPEG:
		return "image/jpeg"
	case KindPNG:
		return "image/png"
	case KindGIF:
		return "image/gif"
	case KindBMP:
		return "image/bmp"
	case KindPDF:
		return "application/pdf"
	case KindZIP:
		return "application/zip"
	case KindCompound:
		return "application/x-ole-storage"
	case KindText:
		return "text/plain; charset=us-ascii"
	}
	return "application/octet-stream"
}
