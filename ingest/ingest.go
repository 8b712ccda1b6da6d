// Package ingest extracts the uploaded image from a predict request.
package ingest

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	jsoniter "github.com/json-iterator/go"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Tutortoise/object-detection-service/models"
)

const (
	FileField = "image"
	DataField = "image_data"

	MsgNoImage     = "No image provided. Send either file or JSON with image_data"
	MsgNoImageData = "No image_data field in JSON"
	MsgBadData     = "Failed to process image data"
	MsgBadFile     = "Failed to process uploaded image"
	MsgBadJSON     = "Failed to parse JSON body"
	MsgBadForm     = "Failed to parse multipart form"

	SourceFile = "file"
	SourceJSON = "json"

	dataURLMarker = "base64,"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Upload is a decoded request image normalized to opaque RGB.
type Upload struct {
	Image  *image.NRGBA
	Format string
	Source string
	Bytes  int
}

type jsonPayload struct {
	ImageData *string `json:"image_data"`
}

// FromRequest reads the image from a multipart "image" file field or from the
// "image_data" field of a JSON body. maxMemory bounds the multipart parser's
// in-memory buffer; callers limit the body size itself.
func FromRequest(r *http.Request, maxMemory int64) (*Upload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		upload, err := fromMultipart(r, maxMemory)
		if !errors.Is(err, http.ErrMissingFile) {
			return upload, err
		}
	}

	if isJSON(mediaType) {
		return fromJSON(r.Body)
	}

	return nil, models.NewMissingInput(MsgNoImage)
}

func fromMultipart(r *http.Request, maxMemory int64) (*Upload, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, models.NewDecodeFailure(MsgBadForm, err)
	}

	file, _, err := r.FormFile(FileField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, err
		}
		return nil, models.NewDecodeFailure(MsgBadForm, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, models.NewDecodeFailure(MsgBadFile, err)
	}

	img, format, err := decodeImage(data)
	if err != nil {
		return nil, models.NewDecodeFailure(MsgBadFile, err)
	}
	return &Upload{Image: img, Format: format, Source: SourceFile, Bytes: len(data)}, nil
}

func fromJSON(body io.Reader) (*Upload, error) {
	var payload jsonPayload
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, models.NewDecodeFailure(MsgBadJSON, err)
	}
	if payload.ImageData == nil {
		return nil, models.NewMissingInput(MsgNoImageData)
	}

	data, err := decodeBase64(StripDataURL(*payload.ImageData))
	if err != nil {
		return nil, models.NewDecodeFailure(MsgBadData, err)
	}

	img, format, err := decodeImage(data)
	if err != nil {
		return nil, models.NewDecodeFailure(MsgBadData, err)
	}
	return &Upload{Image: img, Format: format, Source: SourceJSON, Bytes: len(data)}, nil
}

// StripDataURL drops a "data:<type>;base64," header, if present.
func StripDataURL(s string) string {
	if _, after, ok := strings.Cut(s, dataURLMarker); ok {
		return after
	}
	return s
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

func decodeImage(data []byte) (*image.NRGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return ToRGB(img), format, nil
}

// ToRGB copies img into an NRGBA raster with every pixel made opaque. Alpha is
// discarded rather than composited, so the stored colour values are kept.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func isJSON(mediaType string) bool {
	if mediaType == "application/json" {
		return true
	}
	return strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")
}
